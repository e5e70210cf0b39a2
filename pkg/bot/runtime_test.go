package bot

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/convoflow/pkg/metrics"
	"github.com/hrygo/convoflow/pkg/page"
	"github.com/hrygo/convoflow/pkg/persistence"
	"github.com/hrygo/convoflow/pkg/transport"
)

type fakeClient struct {
	listeners map[string]transport.Listener
	sent      []sentCall
}

type sentCall struct {
	chatID string
	text   string
}

func newFakeClient() *fakeClient {
	return &fakeClient{listeners: make(map[string]transport.Listener)}
}

func (f *fakeClient) SendMessage(_ context.Context, chatID string, text string, _ *transport.SendOptions) error {
	f.sent = append(f.sent, sentCall{chatID: chatID, text: text})
	return nil
}

func (f *fakeClient) On(event string, listener transport.Listener) {
	f.listeners[event] = listener
}

func (f *fakeClient) StopPolling(context.Context) error { return nil }

func (f *fakeClient) deliver(t *testing.T, chatID int64, text string) {
	t.Helper()
	listener, ok := f.listeners["message"]
	require.True(t, ok, "message listener not registered")
	err := listener(context.Background(), &transport.Message{
		Chat: transport.Chat{ID: chatID},
		From: &transport.User{ID: 99},
		Text: text,
	})
	require.NoError(t, err)
}

type fakeDB struct {
	users      map[int64]*persistence.User
	stepStates map[string]*persistence.StepState
	forms      []persistence.FormEntry
}

func newFakeDB() *fakeDB {
	return &fakeDB{users: map[int64]*persistence.User{}, stepStates: map[string]*persistence.StepState{}}
}

func (f *fakeDB) UpsertUser(_ context.Context, telegramID int64, profile persistence.UserProfile) (*persistence.User, error) {
	if u, ok := f.users[telegramID]; ok {
		u.ChatID = profile.ChatID
		return u, nil
	}
	u := &persistence.User{ID: "user-1", TelegramID: telegramID, ChatID: profile.ChatID}
	f.users[telegramID] = u
	return u, nil
}

func (f *fakeDB) FindStepState(_ context.Context, userID, slug string) (*persistence.StepState, error) {
	return f.stepStates[userID+"|"+slug], nil
}

func (f *fakeDB) CreateStepState(_ context.Context, input persistence.StepStateInput) (*persistence.StepState, error) {
	ss := &persistence.StepState{
		ID: "step-1", UserID: input.UserID, ChatID: input.ChatID, Slug: input.Slug,
		CurrentPage: input.CurrentPage, Answers: input.Answers,
	}
	f.stepStates[input.UserID+"|"+input.Slug] = ss
	return ss, nil
}

func (f *fakeDB) UpdateStepState(_ context.Context, id string, patch persistence.StepStatePatch) (*persistence.StepState, error) {
	for _, ss := range f.stepStates {
		if ss.ID != id {
			continue
		}
		if patch.ChatID != nil {
			ss.ChatID = *patch.ChatID
		}
		if patch.CurrentPageSet {
			ss.CurrentPage = *patch.CurrentPage
		}
		if patch.Answers != nil {
			ss.Answers = patch.Answers
		}
		if patch.History != nil {
			ss.History = patch.History
		}
		return ss, nil
	}
	return nil, assertErr("step state not found")
}

func (f *fakeDB) UpsertFormEntry(_ context.Context, entry persistence.FormEntry) error {
	f.forms = append(f.forms, entry)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func buildTestOptions(db *fakeDB) Options {
	pageA := &page.Page{ID: "A", Content: page.Static("Welcome to A", nil)}
	pageB := &page.Page{ID: "B", Content: page.Static("Welcome to B", nil)}
	return Options{
		ID:       "bot-1",
		Slug:     "onboarding",
		Pages:    []*page.Page{pageA, pageB},
		Database: db,
	}
}

func TestScenario1_InitialEntryNoPage(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()
	New(buildTestOptions(db), client)

	client.deliver(t, 1, "hi")

	require.Len(t, client.sent, 1)
	assert.Equal(t, "Welcome to A", client.sent[0].text)

	step := db.stepStates["user-1|onboarding"]
	require.NotNil(t, step)
	assert.Equal(t, "A", step.CurrentPage)
	assert.Empty(t, step.History)
}

func TestScenario2_AcceptedInputAdvances(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()
	New(buildTestOptions(db), client)

	client.deliver(t, 1, "hi")
	client.deliver(t, 1, "foo")

	step := db.stepStates["user-1|onboarding"]
	require.NotNil(t, step)
	assert.Equal(t, "foo", step.Answers["A"])
	require.Len(t, step.History, 1)
	assert.Equal(t, "A", step.History[0].PageID)
	assert.Equal(t, "foo", step.History[0].Value)
	assert.Equal(t, "B", step.CurrentPage)

	require.Len(t, client.sent, 2)
	assert.Equal(t, "Welcome to B", client.sent[1].text)
}

func TestScenario3_SchemaRejectionDoesNotAdvance(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()

	opts := buildTestOptions(db)
	opts.Pages[0].Schema = lengthAtLeast(2)
	New(opts, client)

	client.deliver(t, 1, "hi")
	client.deliver(t, 1, "x")

	step := db.stepStates["user-1|onboarding"]
	require.NotNil(t, step)
	assert.Empty(t, step.Answers)
	assert.Empty(t, step.History)
	assert.Equal(t, "A", step.CurrentPage)

	require.Len(t, client.sent, 3)
	assert.Equal(t, "schema: value too short", client.sent[1].text)
	assert.Equal(t, "Welcome to A", client.sent[2].text)
}

type lengthSchema struct{ min int }

func lengthAtLeast(min int) *lengthSchema { return &lengthSchema{min: min} }

func (s *lengthSchema) Validate(value any) error {
	str, _ := value.(string)
	if len(str) < s.min {
		return assertErr("schema: value too short")
	}
	return nil
}

func TestScenario4_MiddlewareRedirectAvoidsAdvance(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()

	opts := buildTestOptions(db)
	redirect := page.MiddlewareConfig{Name: "gate", Handler: func(ctx *page.Context, p *page.Page) (page.MiddlewareResult, error) {
		return page.MiddlewareResult{Allow: false, RedirectTo: "A"}, nil
	}}
	opts.Pages[1].MiddlewareRefs = []page.MiddlewareRef{{Inline: &redirect}}
	New(opts, client)

	client.deliver(t, 1, "hi")
	client.deliver(t, 1, "foo")

	step := db.stepStates["user-1|onboarding"]
	require.NotNil(t, step)
	assert.Equal(t, "A", step.CurrentPage)

	for _, sent := range client.sent {
		assert.NotEqual(t, "Welcome to B", sent.text)
	}
}

func TestScenario6_SessionHydrationOnRestart(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()
	db.stepStates["user-1|onboarding"] = &persistence.StepState{
		ID: "step-1", UserID: "user-1", ChatID: "1", Slug: "onboarding",
		CurrentPage: "C", Answers: map[string]any{"C": "prev"},
	}
	db.users[99] = &persistence.User{ID: "user-1", TelegramID: 99, ChatID: "1"}

	pageA := &page.Page{ID: "A", Content: page.Static("A", nil)}
	pageB := &page.Page{ID: "B", Content: page.Static("B", nil)}
	var capturedValue any
	pageC := &page.Page{ID: "C", Content: page.Static("C", nil), Validator: func(ctx *page.Context, value any) (page.ValidationResult, error) {
		capturedValue = ctx.Session.Data["C"]
		return page.ValidationResult{Valid: true}, nil
	}}
	New(Options{ID: "bot-1", Slug: "onboarding", Pages: []*page.Page{pageA, pageB, pageC}, Database: db}, client)

	ctx := context.Background()
	listener := client.listeners["message"]
	require.NotNil(t, listener)
	err := listener(ctx, &transport.Message{Chat: transport.Chat{ID: 1}, From: &transport.User{ID: 99}, Text: "new"})
	require.NoError(t, err)

	assert.Equal(t, "prev", capturedValue)
}

func TestGoToPage_PushesChatBypassingValidation(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()

	opts := buildTestOptions(db)
	opts.Pages[1].Schema = lengthAtLeast(99) // would reject anything via normal message flow
	rt := New(opts, client)

	ctx := context.Background()
	err := rt.GoToPage(ctx, "1", "B", NavOptions{
		User:  &transport.User{ID: 99},
		State: map[string]any{"seed": "value"},
	})
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	assert.Equal(t, "Welcome to B", client.sent[0].text)

	step := db.stepStates["user-1|onboarding"]
	require.NotNil(t, step)
	assert.Equal(t, "B", step.CurrentPage)

	sess, err := rt.session.GetSession(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B", sess.PageID)
	assert.Equal(t, "value", sess.Data["seed"])
}

func TestGoToInitialPage_ResetStateClearsPriorData(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()
	rt := New(buildTestOptions(db), client)

	ctx := context.Background()
	require.NoError(t, rt.GoToPage(ctx, "1", "B", NavOptions{
		User:  &transport.User{ID: 99},
		State: map[string]any{"stale": "data"},
	}))

	require.NoError(t, rt.GoToInitialPage(ctx, "1", NavOptions{
		User:       &transport.User{ID: 99},
		ResetState: true,
		State:      map[string]any{"fresh": "data"},
	}))

	sess, err := rt.session.GetSession(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "A", sess.PageID)
	assert.Equal(t, map[string]any{"fresh": "data"}, sess.Data)

	step := db.stepStates["user-1|onboarding"]
	require.NotNil(t, step)
	assert.Equal(t, "A", step.CurrentPage)
}

func TestGoToPage_UnknownPageReturnsError(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()
	rt := New(buildTestOptions(db), client)

	err := rt.GoToPage(context.Background(), "1", "missing", NavOptions{})
	assert.Error(t, err)
}

func TestRenderPageTimed_RecordsMiddlewareRejectionMetric(t *testing.T) {
	client := newFakeClient()
	db := newFakeDB()

	opts := buildTestOptions(db)
	reject := page.MiddlewareConfig{Name: "deny", Handler: func(ctx *page.Context, p *page.Page) (page.MiddlewareResult, error) {
		return page.MiddlewareResult{Allow: false}, nil
	}}
	opts.Pages[0].MiddlewareRefs = []page.MiddlewareRef{{Inline: &reject}}
	reg := prometheus.NewRegistry()
	opts.Metrics = metrics.NewCollectors(reg)
	New(opts, client)

	client.deliver(t, 1, "hi")

	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() == "convoflow_middleware_rejections_total" {
			for _, m := range fam.Metric {
				total += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), total)
}
