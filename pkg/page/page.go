// Package page implements the Page Navigator: the page registry,
// keyboard registry, and page-middleware resolution/rendering pipeline
// a BotRuntime drives at each step.
package page

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hrygo/convoflow/pkg/messages"
	"github.com/hrygo/convoflow/pkg/persistence"
	"github.com/hrygo/convoflow/pkg/session"
	"github.com/hrygo/convoflow/pkg/transport"
)

// Context is the value passed to content factories, validators,
// middleware handlers, and next-page resolvers at every step.
type Context struct {
	ChatID    string
	Message   *transport.Message
	Session   *session.State
	StepState *persistence.StepState
	Value     any
	Services  map[string]any
}

// Content is what a Page sends when rendered.
type Content struct {
	Text    string
	Options *transport.SendOptions
}

// ContentProvider resolves a Page's content: a static or lazy factory
// of {text, options?}.
type ContentProvider func(ctx *Context) (Content, error)

// Static returns a ContentProvider that always yields the same content.
func Static(text string, opts *transport.SendOptions) ContentProvider {
	return func(*Context) (Content, error) {
		return Content{Text: text, Options: opts}, nil
	}
}

// SchemaValidator is a declarative validator attached to a Page; a
// non-nil error's message is used verbatim as the rejection message.
type SchemaValidator interface {
	Validate(value any) error
}

// ValidationResult is CustomValidator's normalized return shape: either
// a plain valid flag, or a fuller {valid, message?, redirectTo?,
// saveValue?}.
type ValidationResult struct {
	Valid      bool
	Message    string
	RedirectTo string
	SaveValue  any
	HasSave    bool
}

// CustomValidator is a Page's optional imperative validator.
type CustomValidator func(ctx *Context, value any) (ValidationResult, error)

// NextResolver computes the page to advance to after a valid
// submission. ok false means "no explicit next; fall back to
// registration order".
type NextResolver func(ctx *Context) (pageID string, ok bool)

// MiddlewareResult is a PageMiddleware's normalized return shape: either
// a plain allow flag, or a fuller {allow, optional trimmed message,
// optional trimmed redirectTo}.
type MiddlewareResult struct {
	Allow      bool
	Message    string
	RedirectTo string
}

// MiddlewareFunc is a page-middleware handler.
type MiddlewareFunc func(ctx *Context, p *Page) (MiddlewareResult, error)

// MiddlewareConfig is one named, prioritized page-middleware entry.
type MiddlewareConfig struct {
	Name     string
	Priority int
	Handler  MiddlewareFunc
}

// MiddlewareRef is how a Page references a page-middleware: either by
// the name of a globally-registered MiddlewareConfig, or inline.
type MiddlewareRef struct {
	Name   string
	Inline *MiddlewareConfig
}

// Page is one node in the conversation graph.
type Page struct {
	ID             string
	Content        ContentProvider
	Schema         SchemaValidator
	Validator      CustomValidator
	OnValid        func(ctx *Context, value any) error
	Next           NextResolver
	MiddlewareRefs []MiddlewareRef
	KeyboardIDs    []string

	// resolved is the page's sorted middleware list, recomputed on every
	// RegisterPages call.
	resolved []MiddlewareConfig
}

// Keyboard is a resolvable reply markup source.
type Keyboard struct {
	ID         string
	Resolve    func(ctx *Context) (any, error)
	Persistent bool
}

// Navigator owns the page registry, keyboard registry, and
// page-middleware resolution cache.
type Navigator struct {
	sender Sender

	pages         []*Page
	pageIndex     map[string]*Page
	namedMW       map[string]MiddlewareConfig
	keyboards     []*Keyboard
	keyboardIndex map[string]*Keyboard
	initialPageID string
}

// Sender is the narrow transport capability RenderPage needs: sending
// the resolved content to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID string, text string, opts *transport.SendOptions) error
}

// New constructs an empty Navigator bound to sender.
func New(sender Sender) *Navigator {
	return &Navigator{
		sender:        sender,
		pageIndex:     make(map[string]*Page),
		namedMW:       make(map[string]MiddlewareConfig),
		keyboardIndex: make(map[string]*Keyboard),
	}
}

// RegisterNamedMiddleware makes page-middleware configs addressable by
// name from Page.MiddlewareRefs.
func (n *Navigator) RegisterNamedMiddleware(cfgs []MiddlewareConfig) {
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			continue
		}
		n.namedMW[cfg.Name] = cfg
	}
}

// RegisterKeyboards upserts keyboards by id; at most one non-persistent
// keyboard per id is meaningful, later registrations replace earlier
// ones.
func (n *Navigator) RegisterKeyboards(list []*Keyboard) {
	for _, kb := range list {
		if kb == nil || kb.ID == "" {
			continue
		}
		if _, exists := n.keyboardIndex[kb.ID]; !exists {
			n.keyboards = append(n.keyboards, kb)
		} else {
			for i, existing := range n.keyboards {
				if existing.ID == kb.ID {
					n.keyboards[i] = kb
					break
				}
			}
		}
		n.keyboardIndex[kb.ID] = kb
	}
}

// RegisterPages upserts pages by id; empty ids are rejected with a
// warning. Each page's sorted middleware list is (re)computed.
// initialPageID is adopted from the first registered page if unset or
// dangling.
func (n *Navigator) RegisterPages(list []*Page, initialPageID string) {
	for _, p := range list {
		if p == nil || p.ID == "" {
			slog.Warn("page: rejecting page with empty id")
			continue
		}
		p.resolved = n.resolveMiddlewareRefs(p.MiddlewareRefs)

		if _, exists := n.pageIndex[p.ID]; !exists {
			n.pages = append(n.pages, p)
		} else {
			for i, existing := range n.pages {
				if existing.ID == p.ID {
					n.pages[i] = p
					break
				}
			}
		}
		n.pageIndex[p.ID] = p
	}

	n.initialPageID = initialPageID
	if n.initialPageID == "" {
		if len(n.pages) > 0 {
			n.initialPageID = n.pages[0].ID
		}
		return
	}
	if _, ok := n.pageIndex[n.initialPageID]; !ok {
		slog.Warn("page: initial page id is dangling, falling back to first page", "initial_page_id", n.initialPageID)
		if len(n.pages) > 0 {
			n.initialPageID = n.pages[0].ID
		}
	}
}

func (n *Navigator) resolveMiddlewareRefs(refs []MiddlewareRef) []MiddlewareConfig {
	out := make([]MiddlewareConfig, 0, len(refs))
	for _, ref := range refs {
		if ref.Inline != nil {
			out = append(out, *ref.Inline)
			continue
		}
		if cfg, ok := n.namedMW[ref.Name]; ok {
			out = append(out, cfg)
			continue
		}
		slog.Warn("page: middleware reference not found", "name", ref.Name)
	}
	return sortMiddleware(out)
}

func sortMiddleware(list []MiddlewareConfig) []MiddlewareConfig {
	out := append([]MiddlewareConfig(nil), list...)
	// insertion sort: stable, descending priority, small N per page.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Priority < out[j].Priority {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// ResolvePage looks up a page by id.
func (n *Navigator) ResolvePage(id string) (*Page, bool) {
	p, ok := n.pageIndex[id]
	return p, ok
}

// ResolveInitialPage returns the bot's starting page.
func (n *Navigator) ResolveInitialPage() (*Page, bool) {
	return n.ResolvePage(n.initialPageID)
}

// ValidatePageValue runs page's declarative schema (if any), then its
// custom validator (if any); absence of both is always valid.
func (n *Navigator) ValidatePageValue(ctx *Context, p *Page, value any) (result ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = ValidationResult{Valid: false, Message: fmt.Sprintf("%v", r)}
			err = nil
		}
	}()

	if p.Schema != nil {
		if verr := p.Schema.Validate(value); verr != nil {
			return ValidationResult{Valid: false, Message: verr.Error()}, nil
		}
	}

	if p.Validator != nil {
		res, verr := p.Validator(ctx, value)
		if verr != nil {
			msg := verr.Error()
			if msg == "" {
				msg = "validation failed"
			}
			return ValidationResult{Valid: false, Message: msg}, nil
		}
		return res, nil
	}

	return ValidationResult{Valid: true}, nil
}

// ResolveNextPageID follows page.Next if present and non-empty,
// otherwise advances to the next page in registration order. ok is
// false when there is nothing further to render.
func (n *Navigator) ResolveNextPageID(ctx *Context, currentPageID string) (pageID string, ok bool) {
	if current, found := n.pageIndex[currentPageID]; found && current.Next != nil {
		if next, has := current.Next(ctx); has && next != "" {
			return next, true
		}
	}

	for i, p := range n.pages {
		if p.ID == currentPageID && i+1 < len(n.pages) {
			return n.pages[i+1].ID, true
		}
	}
	return "", false
}

// ResolveKeyboard picks page-specific non-persistent keyboards first,
// else the first persistent keyboard that resolves non-empty markup.
func (n *Navigator) ResolveKeyboard(ctx *Context, pageKeyboardIDs []string) (any, error) {
	for _, id := range pageKeyboardIDs {
		kb, ok := n.keyboardIndex[id]
		if !ok || kb.Persistent {
			continue
		}
		markup, err := kb.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		if markup != nil {
			return markup, nil
		}
	}
	for _, kb := range n.keyboards {
		if !kb.Persistent {
			continue
		}
		markup, err := kb.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		if markup != nil {
			return markup, nil
		}
	}
	return nil, nil
}

// RenderPage runs p's middleware chain; the first non-allow result
// controls (redirect, else rejection message). If allowed, it resolves
// content and a keyboard and sends them. It returns the id of the page
// actually rendered after any redirect (so the caller can persist the
// final position) and whether that render terminated in a middleware
// rejection rather than a page's own content.
func (n *Navigator) RenderPage(ctx context.Context, pctx *Context, p *Page, pageKeyboardIDs []string) (string, bool, error) {
	return n.renderPage(ctx, pctx, p, pageKeyboardIDs, make(map[string]bool))
}

func (n *Navigator) renderPage(ctx context.Context, pctx *Context, p *Page, pageKeyboardIDs []string, visited map[string]bool) (string, bool, error) {
	if visited[p.ID] {
		slog.Warn("page: self-redirect detected, falling through to rejection", "page_id", p.ID)
		id, err := n.sendRejection(ctx, pctx, p, "")
		return id, true, err
	}
	visited[p.ID] = true

	for _, mw := range p.resolved {
		result, err := runMiddleware(mw, pctx, p)
		if err != nil {
			return "", false, err
		}
		if result.Allow {
			continue
		}

		if result.RedirectTo != "" && result.RedirectTo != p.ID {
			target, ok := n.pageIndex[result.RedirectTo]
			if !ok {
				slog.Warn("page: middleware redirect target not found", "target", result.RedirectTo)
				id, err := n.sendRejection(ctx, pctx, p, result.Message)
				return id, true, err
			}
			return n.renderPage(ctx, pctx, target, pageKeyboardIDs, visited)
		}

		id, err := n.sendRejection(ctx, pctx, p, result.Message)
		return id, true, err
	}

	if p.Content == nil {
		return p.ID, false, nil
	}

	content, err := p.Content(pctx)
	if err != nil {
		return "", false, fmt.Errorf("page: resolve content for %s: %w", p.ID, err)
	}

	markup, err := n.ResolveKeyboard(pctx, pageKeyboardIDs)
	if err != nil {
		return "", false, fmt.Errorf("page: resolve keyboard for %s: %w", p.ID, err)
	}

	opts := content.Options
	if markup != nil {
		opts = transport.Merge(opts, &transport.SendOptions{ReplyMarkup: markup})
	}

	if err := n.sender.SendMessage(ctx, pctx.ChatID, content.Text, opts); err != nil {
		return "", false, fmt.Errorf("page: send %s: %w", p.ID, err)
	}
	return p.ID, false, nil
}

func (n *Navigator) sendRejection(ctx context.Context, pctx *Context, p *Page, message string) (string, error) {
	text := message
	if text == "" {
		text = messages.Default.DefaultRejectionMessage
	}
	if err := n.sender.SendMessage(ctx, pctx.ChatID, text, nil); err != nil {
		return "", fmt.Errorf("page: send rejection for %s: %w", p.ID, err)
	}
	return p.ID, nil
}

func runMiddleware(mw MiddlewareConfig, pctx *Context, p *Page) (result MiddlewareResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = MiddlewareResult{Allow: false, Message: fmt.Sprintf("%v", r)}
			err = nil
		}
	}()

	res, merr := mw.Handler(pctx, p)
	if merr != nil {
		return MiddlewareResult{Allow: false, Message: merr.Error()}, nil
	}
	return res, nil
}
