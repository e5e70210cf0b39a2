// Package registry implements the Bot Registry / Builder: normalization
// of BotOptions and safe construction/replacement of BotRuntimes keyed
// by both id and token.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/convoflow/pkg/bot"
	"github.com/hrygo/convoflow/pkg/messages"
	"github.com/hrygo/convoflow/pkg/middleware"
	"github.com/hrygo/convoflow/pkg/page"
	"github.com/hrygo/convoflow/pkg/transport"
)

// ClientFactory constructs the transport.Client a new runtime should
// own, given the bot's token. Tests substitute a fake; production code
// wires pkg/transport/telegram.New.
type ClientFactory func(token string) (transport.Client, error)

// poller is satisfied by transport.Client implementations that need an
// explicit event loop (e.g. long polling). It is not part of the
// transport.Client interface itself because test doubles have nothing
// to run.
type poller interface {
	Run(ctx context.Context)
}

// Registry owns the set of live BotRuntimes, indexed by both bot id and
// token. Exactly one runtime exists per id and per non-empty token; bots
// registered without a token are indexed by id only.
type Registry struct {
	newClient ClientFactory

	mu        sync.Mutex
	byID      map[string]*entry
	idByToken map[string]string
}

type entry struct {
	runtime *bot.Runtime
	options bot.Options
}

// New constructs an empty Registry. newClient builds the transport
// client each registered bot's runtime will own.
func New(newClient ClientFactory) *Registry {
	return &Registry{
		newClient: newClient,
		byID:      make(map[string]*entry),
		idByToken: make(map[string]string),
	}
}

// RegisterBot normalizes opts and registers the resulting runtime.
func (r *Registry) RegisterBot(opts bot.Options) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	normalized, err := r.normalizeLocked(opts)
	if err != nil {
		return "", fmt.Errorf("registry: %w", err)
	}
	return normalized.ID, r.registerNormalizedLocked(normalized)
}

// RegisterBots registers each of opts in order, stopping at the first
// configuration error. Bots already registered before the failing
// entry remain registered; the returned ids cover only the prefix that
// succeeded.
func (r *Registry) RegisterBots(opts []bot.Options) ([]string, error) {
	ids := make([]string, 0, len(opts))
	for i, o := range opts {
		id, err := r.RegisterBot(o)
		if err != nil {
			return ids, fmt.Errorf("registry: register bot %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// normalizeLocked implements normalizeBotOptions: copies sequences/maps,
// defaults empty collections, defaults slug to "default", and resolves
// id in order opts.id, non-empty slug, token, "bot-<index>".
func (r *Registry) normalizeLocked(opts bot.Options) (bot.Options, error) {
	out := opts

	out.Pages = append([]*page.Page(nil), opts.Pages...)
	out.Handlers = append([]bot.Handler(nil), opts.Handlers...)
	out.Middlewares = append([]middleware.Config[bot.HandlerContext](nil), opts.Middlewares...)
	out.Keyboards = append([]*page.Keyboard(nil), opts.Keyboards...)
	out.PageMiddlewares = append([]page.MiddlewareConfig(nil), opts.PageMiddlewares...)

	out.Services = make(map[string]any, len(opts.Services))
	for k, v := range opts.Services {
		out.Services[k] = v
	}

	if out.Slug == "" {
		out.Slug = "default"
	}

	if out.ID == "" {
		switch {
		case opts.Slug != "":
			out.ID = opts.Slug
		case opts.Token != "":
			out.ID = opts.Token
		default:
			out.ID = fmt.Sprintf("bot-%d", len(r.byID))
		}
	}

	if out.ID == "" {
		return bot.Options{}, fmt.Errorf("%s: provide id, slug, or token", messages.Default.BotIDResolutionFailed)
	}
	return out, nil
}

// registerNormalizedLocked implements registerNormalized: replaces any
// runtime with a colliding id or token before constructing the new one.
func (r *Registry) registerNormalizedLocked(opts bot.Options) error {
	if existing, ok := r.byID[opts.ID]; ok {
		slog.Warn("registry: replacing runtime with duplicate id", "id", opts.ID)
		r.removeLocked(opts.ID, existing)
	}
	if priorID, ok := r.idByToken[opts.Token]; ok && opts.Token != "" && priorID != opts.ID {
		if existing, ok := r.byID[priorID]; ok {
			slog.Warn("registry: replacing runtime with duplicate token", "token_holder", priorID, "new_id", opts.ID)
			r.removeLocked(priorID, existing)
		}
	}

	client, err := r.newClient(opts.Token)
	if err != nil {
		return fmt.Errorf("build transport client: %w", err)
	}

	runtime := bot.New(opts, client)
	if p, ok := client.(poller); ok {
		go p.Run(context.Background())
	}
	r.byID[opts.ID] = &entry{runtime: runtime, options: opts}
	if opts.Token != "" {
		r.idByToken[opts.Token] = opts.ID
	}
	return nil
}

func (r *Registry) removeLocked(id string, e *entry) {
	delete(r.byID, id)
	for token, mappedID := range r.idByToken {
		if mappedID == id {
			delete(r.idByToken, token)
		}
	}
	if err := e.runtime.StopPolling(context.Background()); err != nil {
		slog.Warn("registry: stop polling failed during replace", "id", id, "error", err)
	}
}

// GetBotInstance returns the runtime registered for id, or nil if
// absent.
func (r *Registry) GetBotInstance(id string) *bot.Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil
	}
	return e.runtime
}

// GetBotRuntime is an alias of GetBotInstance, matching the operator
// surface's naming alongside GetBotInstance.
func (r *Registry) GetBotRuntime(id string) *bot.Runtime {
	return r.GetBotInstance(id)
}

// GetRegisteredBotIds returns the ids of every currently registered bot,
// in no particular order.
func (r *Registry) GetRegisteredBotIds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

// GoToPage programmatically pushes chatID (registered under botID) to
// pageID, delegating into the owning runtime's GoToPage.
func (r *Registry) GoToPage(ctx context.Context, botID, chatID, pageID string, opts bot.NavOptions) error {
	rt := r.GetBotInstance(botID)
	if rt == nil {
		return fmt.Errorf("registry: bot %q not registered", botID)
	}
	return rt.GoToPage(ctx, chatID, pageID, opts)
}

// GoToInitialPage programmatically pushes chatID (registered under
// botID) to its bot's initial page, delegating into the owning
// runtime's GoToInitialPage.
func (r *Registry) GoToInitialPage(ctx context.Context, botID, chatID string, opts bot.NavOptions) error {
	rt := r.GetBotInstance(botID)
	if rt == nil {
		return fmt.Errorf("registry: bot %q not registered", botID)
	}
	return rt.GoToInitialPage(ctx, chatID, opts)
}

// GetBotOptions returns a defensive copy of the normalized options
// stored for id: every nested sequence/map is a fresh instance so a
// caller's mutations can't leak into the registry.
func (r *Registry) GetBotOptions(id string) (bot.Options, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return bot.Options{}, false
	}
	return copyOptions(e.options), true
}

// ListRegisteredBots returns defensive copies of every registered bot's
// options.
func (r *Registry) ListRegisteredBots() []bot.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bot.Options, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, copyOptions(e.options))
	}
	return out
}

func copyOptions(opts bot.Options) bot.Options {
	out := opts
	out.Pages = append([]*page.Page(nil), opts.Pages...)
	out.Handlers = append([]bot.Handler(nil), opts.Handlers...)
	out.Middlewares = append([]middleware.Config[bot.HandlerContext](nil), opts.Middlewares...)
	out.Keyboards = append([]*page.Keyboard(nil), opts.Keyboards...)
	out.PageMiddlewares = append([]page.MiddlewareConfig(nil), opts.PageMiddlewares...)
	out.Services = make(map[string]any, len(opts.Services))
	for k, v := range opts.Services {
		out.Services[k] = v
	}
	return out
}

// Shutdown stops every registered runtime's polling concurrently.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var g errgroup.Group
	for id, e := range r.byID {
		id, e := id, e
		g.Go(func() error {
			if err := e.runtime.StopPolling(ctx); err != nil {
				slog.Warn("registry: stop polling failed during shutdown", "id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
