package page

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/convoflow/pkg/messages"
	"github.com/hrygo/convoflow/pkg/transport"
)

type sentMessage struct {
	chatID string
	text   string
	opts   *transport.SendOptions
}

type testSender struct {
	sent []sentMessage
}

func newTestSender() *testSender { return &testSender{} }

func (s *testSender) SendMessage(_ context.Context, chatID string, text string, opts *transport.SendOptions) error {
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, opts: opts})
	return nil
}

func TestSortMiddleware_DescendingStable(t *testing.T) {
	list := []MiddlewareConfig{
		{Name: "a", Priority: 1},
		{Name: "b", Priority: 5},
		{Name: "c", Priority: 5},
	}
	sorted := sortMiddleware(list)
	assert.Equal(t, "b", sorted[0].Name)
	assert.Equal(t, "c", sorted[1].Name)
	assert.Equal(t, "a", sorted[2].Name)
}

func TestRegisterPages_AdoptsFirstPageAsInitialWhenUnset(t *testing.T) {
	nav := New(newTestSender())
	nav.RegisterPages([]*Page{{ID: "a"}, {ID: "b"}}, "")

	p, ok := nav.ResolveInitialPage()
	require.True(t, ok)
	assert.Equal(t, "a", p.ID)
}

func TestRegisterPages_FallsBackWhenInitialIsDangling(t *testing.T) {
	nav := New(newTestSender())
	nav.RegisterPages([]*Page{{ID: "a"}, {ID: "b"}}, "missing")

	p, ok := nav.ResolveInitialPage()
	require.True(t, ok)
	assert.Equal(t, "a", p.ID)
}

func TestResolveNextPageID_FallsBackToRegistrationOrder(t *testing.T) {
	nav := New(newTestSender())
	nav.RegisterPages([]*Page{{ID: "a"}, {ID: "b"}, {ID: "c"}}, "a")

	next, ok := nav.ResolveNextPageID(&Context{}, "a")
	require.True(t, ok)
	assert.Equal(t, "b", next)

	_, ok = nav.ResolveNextPageID(&Context{}, "c")
	assert.False(t, ok)
}

func TestResolveNextPageID_UsesPageNextWhenPresent(t *testing.T) {
	nav := New(newTestSender())
	nav.RegisterPages([]*Page{
		{ID: "a", Next: func(*Context) (string, bool) { return "c", true }},
		{ID: "b"},
		{ID: "c"},
	}, "a")

	next, ok := nav.ResolveNextPageID(&Context{}, "a")
	require.True(t, ok)
	assert.Equal(t, "c", next)
}

func TestValidatePageValue_AbsentValidatorsAreValid(t *testing.T) {
	nav := New(newTestSender())
	result, err := nav.ValidatePageValue(&Context{}, &Page{ID: "a"}, "anything")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidatePageValue_CustomValidatorErrorBecomesInvalid(t *testing.T) {
	nav := New(newTestSender())
	p := &Page{ID: "a", Validator: func(*Context, any) (ValidationResult, error) {
		return ValidationResult{}, errors.New("bad input")
	}}
	result, err := nav.ValidatePageValue(&Context{}, p, "x")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "bad input", result.Message)
}

func TestRenderPage_MiddlewareRedirectAvoidsSelfLoop(t *testing.T) {
	sender := newTestSender()
	nav := New(sender)

	redirectToSelf := MiddlewareConfig{Name: "loop", Handler: func(ctx *Context, p *Page) (MiddlewareResult, error) {
		return MiddlewareResult{Allow: false, RedirectTo: p.ID}, nil
	}}
	pageA := &Page{ID: "a", MiddlewareRefs: []MiddlewareRef{{Inline: &redirectToSelf}}}
	nav.RegisterPages([]*Page{pageA}, "a")

	effective, rejected, err := nav.RenderPage(context.Background(), &Context{ChatID: "1"}, pageA, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", effective)
	assert.True(t, rejected)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, messages.Default.DefaultRejectionMessage, sender.sent[0].text)
}

func TestRenderPage_RedirectsToDifferentPage(t *testing.T) {
	sender := newTestSender()
	nav := New(sender)

	redirect := MiddlewareConfig{Name: "redir", Handler: func(ctx *Context, p *Page) (MiddlewareResult, error) {
		return MiddlewareResult{Allow: false, RedirectTo: "a"}, nil
	}}
	pageA := &Page{ID: "a", Content: Static("welcome back", nil)}
	pageB := &Page{ID: "b", MiddlewareRefs: []MiddlewareRef{{Inline: &redirect}}}
	nav.RegisterPages([]*Page{pageA, pageB}, "a")

	effective, rejected, err := nav.RenderPage(context.Background(), &Context{ChatID: "1"}, pageB, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", effective)
	assert.False(t, rejected)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "welcome back", sender.sent[0].text)
}

func TestRenderPage_SendsContentWhenAllowed(t *testing.T) {
	sender := newTestSender()
	nav := New(sender)
	pageA := &Page{ID: "a", Content: Static("hello", nil)}
	nav.RegisterPages([]*Page{pageA}, "a")

	effective, rejected, err := nav.RenderPage(context.Background(), &Context{ChatID: "1"}, pageA, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", effective)
	assert.False(t, rejected)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "hello", sender.sent[0].text)
}
