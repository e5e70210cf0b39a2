package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hrygo/convoflow/pkg/chatlock"
	"github.com/hrygo/convoflow/pkg/messages"
	"github.com/hrygo/convoflow/pkg/middleware"
	"github.com/hrygo/convoflow/pkg/page"
	"github.com/hrygo/convoflow/pkg/persistence"
	"github.com/hrygo/convoflow/pkg/session"
	"github.com/hrygo/convoflow/pkg/transport"
)

// HandlerContext is the value an operator Handler's middleware pipeline
// is built over.
type HandlerContext struct {
	Ctx  context.Context
	Args []any
}

// Runtime composes Session Manager, Persistence Gateway, Page
// Navigator, and Middleware Pipeline over a transport.Client. A Runtime
// exclusively owns all four; the registry exclusively owns the set of
// Runtimes.
type Runtime struct {
	options Options
	client  transport.Client
	session *session.Manager
	gateway persistence.Gateway
	nav     *page.Navigator
	log     *slog.Logger
	msgs    messages.Table
	chats   *chatlock.Table
}

// New constructs a Runtime over client, wires the "message" listener,
// and attaches every configured Handler's middleware pipeline.
func New(opts Options, client transport.Client) *Runtime {
	storage := opts.SessionStorage
	if storage == nil {
		storage = session.NewMemoryStorage()
	}

	var gw persistence.Gateway
	if opts.Database != nil {
		gw = persistence.NewDefaultGateway(opts.Database)
	} else {
		gw = persistence.NewNoopGateway()
	}

	msgs := messages.Default
	if opts.Messages != nil {
		msgs = *opts.Messages
	}

	nav := page.New(client)
	nav.RegisterNamedMiddleware(namedFrom(opts.PageMiddlewares))
	nav.RegisterKeyboards(opts.Keyboards)
	nav.RegisterPages(opts.Pages, opts.InitialPageID)

	r := &Runtime{
		options: opts,
		client:  client,
		session: session.New(storage),
		gateway: gw,
		nav:     nav,
		log:     slog.With("bot_id", opts.ID, "slug", opts.Slug),
		msgs:    msgs,
		chats:   chatlock.New(0),
	}

	r.log.Info(msgs.RuntimeInitialized)
	r.chats.StartSweeper()
	client.On("message", r.handleMessageSerialized)

	globalSorted := middleware.SortConfigs(opts.Middlewares)
	for _, h := range opts.Handlers {
		r.attachHandler(h, globalSorted)
	}

	return r
}

// namedFrom extracts the named subset of page-middleware configs;
// anonymous entries are only reachable inline from a Page.
func namedFrom(cfgs []page.MiddlewareConfig) []page.MiddlewareConfig {
	out := make([]page.MiddlewareConfig, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Name != "" {
			out = append(out, cfg)
		}
	}
	return out
}

func (r *Runtime) attachHandler(h Handler, globalSorted []middleware.Config[HandlerContext]) {
	if h.Event == "" {
		r.log.Warn(r.msgs.InvalidHandler)
		return
	}
	if h.Listener == nil {
		r.log.Warn(r.msgs.HandlerMissingListener, "event", h.Event)
		return
	}

	merged := middleware.MergeConfigs(globalSorted, middleware.SortConfigs(h.Middlewares))

	pipeline := middleware.BuildPipeline(middleware.Options[HandlerContext]{
		Middlewares: merged,
		ContextFactory: func(raw ...any) (HandlerContext, error) {
			if len(raw) == 0 {
				return HandlerContext{}, fmt.Errorf("bot: handler invoked with no context")
			}
			ctx, ok := raw[0].(context.Context)
			if !ok {
				return HandlerContext{}, fmt.Errorf("bot: first handler argument must be a context.Context")
			}
			return HandlerContext{Ctx: ctx, Args: raw[1:]}, nil
		},
		Handler: func(hc HandlerContext) error {
			return h.Listener(hc.Ctx, hc.Args...)
		},
		OnError: func(_ HandlerContext, err error) {
			r.log.Error(r.msgs.MiddlewareError, "event", h.Event, "error", err)
		},
	})

	r.client.On(h.Event, func(ctx context.Context, args ...any) error {
		return pipeline(append([]any{ctx}, args...)...)
	})
}

// StopPolling stops the runtime's transport client and the chat-lock
// idle sweeper.
func (r *Runtime) StopPolling(ctx context.Context) error {
	r.chats.Stop()
	return r.client.StopPolling(ctx)
}

// handleMessageSerialized cooperatively serializes handleMessage per
// chatID before running the state-machine step, so concurrent callbacks
// for the same chat never interleave.
func (r *Runtime) handleMessageSerialized(ctx context.Context, args ...any) error {
	msg, ok := firstMessage(args)
	if !ok {
		return r.handleMessage(ctx, args...)
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	unlock := r.chats.Lock(chatID)
	defer unlock()
	return r.handleMessage(ctx, args...)
}

// handleMessage is the per-message state-machine step (session load,
// hydrate, validate, persist, advance, render — twelve steps in total).
// Every error is caught here: the runtime logs and drops the message
// rather than retrying or propagating.
func (r *Runtime) handleMessage(ctx context.Context, args ...any) error {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(r.msgs.MessageHandlingError, "error", fmt.Sprintf("panic: %v", rec))
		}
	}()

	msg, ok := firstMessage(args)
	if !ok {
		return nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if r.options.Metrics != nil {
		r.options.Metrics.MessagesProcessed.WithLabelValues(r.options.ID).Inc()
	}

	// Step 1.
	sess, err := r.session.GetSession(ctx, chatID)
	if err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "load_session", "error", err)
		return nil
	}
	if msg.From != nil {
		sess.User = msg.From
	}

	// Step 2.
	if sess.Data == nil {
		sess.Data = make(map[string]any)
	}
	dbState, err := r.gateway.EnsureDatabaseState(ctx, chatID, sess, msg, sess.PageID, r.options.Slug)
	if err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "ensure_database_state", "error", err)
		return nil
	}

	// Step 3: hydrate from persisted step state.
	changed := r.hydrateSession(sess, dbState.StepState)
	if changed {
		if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
			r.log.Error(r.msgs.MessageHandlingError, "step", "save_hydrated_session", "error", err)
		}
	}

	// Step 4: no current page yet -> render initial page.
	if sess.PageID == "" {
		r.enterInitialPage(ctx, chatID, msg, sess, dbState)
		return nil
	}

	// Step 5.
	currentPage, ok := r.nav.ResolvePage(sess.PageID)
	if !ok {
		r.log.Warn(r.msgs.PageNotFound, "page_id", sess.PageID)
		r.resetToInitial(ctx, chatID, sess, dbState)
		return nil
	}

	// Step 6.
	value := transport.ExtractValue(msg)
	pctx := r.buildPageContext(chatID, msg, sess, dbState.StepState, value)
	vr, err := r.nav.ValidatePageValue(pctx, currentPage, value)
	if err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "validate", "error", err)
		return nil
	}

	// Step 7.
	if !vr.Valid {
		if r.options.Metrics != nil {
			r.options.Metrics.ValidationFailures.WithLabelValues(r.options.ID, currentPage.ID).Inc()
		}
		text := vr.Message
		if text == "" {
			text = r.msgs.ValidationFailed
		}
		if err := r.client.SendMessage(ctx, chatID, text, nil); err != nil {
			r.log.Error(r.msgs.MessageHandlingError, "step", "send_validation_error", "error", err)
		}
		if _, err := r.renderPageTimed(ctx, pctx, currentPage); err != nil {
			r.log.Error(r.msgs.MessageHandlingError, "step", "re-render", "error", err)
		}
		return nil
	}

	savedValue := value
	if vr.HasSave {
		savedValue = vr.SaveValue
	}

	// Step 8.
	sess.Data[currentPage.ID] = savedValue
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "save_session", "error", err)
	}
	updatedStep, err := r.gateway.PersistStepProgress(ctx, dbState.StepState, currentPage.ID, savedValue)
	if err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "persist_step_progress", "error", err)
		return nil
	}
	dbState.StepState = updatedStep

	// Step 9.
	if currentPage.OnValid != nil {
		if err := currentPage.OnValid(pctx, savedValue); err != nil {
			r.log.Error(r.msgs.MessageHandlingError, "step", "on_valid", "error", err)
		}
	}

	// Step 10.
	if updatedStep, err := r.gateway.SyncSessionState(ctx, dbState.StepState, sess.Data); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "sync_session_state", "error", err)
	} else {
		dbState.StepState = updatedStep
	}

	// Step 11.
	nextID, hasNext := r.nav.ResolveNextPageID(pctx, currentPage.ID)
	if !hasNext {
		r.clearCurrentPage(ctx, chatID, sess, dbState)
		return nil
	}

	// Step 12.
	nextPage, ok := r.nav.ResolvePage(nextID)
	if !ok {
		r.log.Warn(r.msgs.NextPageNotFound, "page_id", nextID)
		r.clearCurrentPage(ctx, chatID, sess, dbState)
		return nil
	}

	sess.PageID = nextPage.ID
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "save_session", "error", err)
	}
	if updatedStep, err := r.gateway.UpdateStepStateCurrentPage(ctx, dbState.StepState, nextPage.ID, true); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "update_current_page", "error", err)
	} else {
		dbState.StepState = updatedStep
	}

	nextCtx := r.buildPageContext(chatID, msg, sess, dbState.StepState, nil)
	effective, err := r.renderPageTimed(ctx, nextCtx, nextPage)
	if err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "render", "error", err)
		return nil
	}
	r.persistEffectivePage(ctx, chatID, sess, dbState, effective)
	return nil
}

// NavOptions configures a programmatic page push via GoToPage and
// GoToInitialPage: the session mutations and synthetic message context
// an operator-driven jump renders against, independent of any message
// the transport actually delivered.
type NavOptions struct {
	// ResetState discards the session's existing Data map before State
	// is applied, rather than merging into it.
	ResetState bool
	// State is merged into (or, with ResetState, becomes) the
	// session's Data map.
	State map[string]any
	// Message stands in for the transport message EnsureDatabaseState
	// and the target page's ContentProvider would otherwise see; nil
	// if the push isn't attached to any particular inbound message.
	Message *transport.Message
	// Metadata is exposed to the target page through page.Context's
	// Services bag under the reserved "nav_metadata" key.
	Metadata map[string]any
	// User overrides the session's user record for this push. Message.From
	// is used instead when User is nil and Message is non-nil.
	User *transport.User
}

const navMetadataServiceKey = "nav_metadata"

// GoToPage programmatically pushes chatID to pageID, bypassing
// transport delivery and page input validation: the page's middleware
// chain still runs (so guards and redirects still apply) and its
// content is rendered as if the chat had just arrived there.
func (r *Runtime) GoToPage(ctx context.Context, chatID string, pageID string, opts NavOptions) error {
	target, ok := r.nav.ResolvePage(pageID)
	if !ok {
		return fmt.Errorf("bot: page %q not found", pageID)
	}
	return r.goTo(ctx, chatID, target, opts)
}

// GoToInitialPage is GoToPage against the registered initial page.
func (r *Runtime) GoToInitialPage(ctx context.Context, chatID string, opts NavOptions) error {
	target, ok := r.nav.ResolveInitialPage()
	if !ok {
		return fmt.Errorf("bot: no initial page registered")
	}
	return r.goTo(ctx, chatID, target, opts)
}

func (r *Runtime) goTo(ctx context.Context, chatID string, target *page.Page, opts NavOptions) error {
	unlock := r.chats.Lock(chatID)
	defer unlock()

	sess, err := r.session.GetSession(ctx, chatID)
	if err != nil {
		return fmt.Errorf("bot: load session: %w", err)
	}
	if sess.Data == nil || opts.ResetState {
		sess.Data = make(map[string]any)
	}
	for k, v := range opts.State {
		sess.Data[k] = v
	}
	if opts.User != nil {
		sess.User = opts.User
	} else if opts.Message != nil && opts.Message.From != nil {
		sess.User = opts.Message.From
	}

	dbState, err := r.gateway.EnsureDatabaseState(ctx, chatID, sess, opts.Message, sess.PageID, r.options.Slug)
	if err != nil {
		return fmt.Errorf("bot: ensure database state: %w", err)
	}

	sess.PageID = target.ID
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		return fmt.Errorf("bot: save session: %w", err)
	}
	updated, err := r.gateway.UpdateStepStateCurrentPage(ctx, dbState.StepState, target.ID, true)
	if err != nil {
		return fmt.Errorf("bot: update current page: %w", err)
	}
	dbState.StepState = updated

	pctx := r.buildPageContext(chatID, opts.Message, sess, dbState.StepState, nil)
	if opts.Metadata != nil {
		services := make(map[string]any, len(r.options.Services)+1)
		for k, v := range r.options.Services {
			services[k] = v
		}
		services[navMetadataServiceKey] = opts.Metadata
		pctx.Services = services
	}

	effective, err := r.renderPageTimed(ctx, pctx, target)
	if err != nil {
		return fmt.Errorf("bot: render page: %w", err)
	}
	r.persistEffectivePage(ctx, chatID, sess, dbState, effective)
	return nil
}

func (r *Runtime) hydrateSession(sess *session.State, stepState *persistence.StepState) bool {
	if stepState == nil {
		return false
	}
	changed := false
	if stepState.CurrentPage != "" && stepState.CurrentPage != sess.PageID {
		sess.PageID = stepState.CurrentPage
		changed = true
	}
	for k, v := range stepState.Answers {
		if _, exists := sess.Data[k]; !exists {
			sess.Data[k] = v
			changed = true
		}
	}
	return changed
}

func (r *Runtime) enterInitialPage(ctx context.Context, chatID string, msg *transport.Message, sess *session.State, dbState *persistence.DBState) {
	initial, ok := r.nav.ResolveInitialPage()
	if !ok {
		r.log.Warn(r.msgs.NoInitialPage)
		return
	}

	sess.PageID = initial.ID
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "save_session", "error", err)
	}
	if updated, err := r.gateway.UpdateStepStateCurrentPage(ctx, dbState.StepState, initial.ID, true); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "update_current_page", "error", err)
	} else {
		dbState.StepState = updated
	}

	pctx := r.buildPageContext(chatID, msg, sess, dbState.StepState, nil)
	effective, err := r.renderPageTimed(ctx, pctx, initial)
	if err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "render_initial", "error", err)
		return
	}
	r.persistEffectivePage(ctx, chatID, sess, dbState, effective)
}

func (r *Runtime) resetToInitial(ctx context.Context, chatID string, sess *session.State, dbState *persistence.DBState) {
	initial, ok := r.nav.ResolveInitialPage()
	if ok {
		sess.PageID = initial.ID
	} else {
		sess.PageID = ""
	}
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "save_session", "error", err)
	}
}

func (r *Runtime) clearCurrentPage(ctx context.Context, chatID string, sess *session.State, dbState *persistence.DBState) {
	sess.PageID = ""
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "save_session", "error", err)
	}
	if _, err := r.gateway.UpdateStepStateCurrentPage(ctx, dbState.StepState, "", false); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "update_current_page", "error", err)
	}
}

func (r *Runtime) persistEffectivePage(ctx context.Context, chatID string, sess *session.State, dbState *persistence.DBState, effective string) {
	if effective == "" || effective == sess.PageID {
		return
	}
	sess.PageID = effective
	if err := r.session.SaveSession(ctx, chatID, sess); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "save_session", "error", err)
	}
	if updated, err := r.gateway.UpdateStepStateCurrentPage(ctx, dbState.StepState, effective, true); err != nil {
		r.log.Error(r.msgs.MessageHandlingError, "step", "update_current_page", "error", err)
	} else {
		dbState.StepState = updated
	}
}

func (r *Runtime) buildPageContext(chatID string, msg *transport.Message, sess *session.State, step *persistence.StepState, value any) *page.Context {
	return &page.Context{
		ChatID:    chatID,
		Message:   msg,
		Session:   sess,
		StepState: step,
		Value:     value,
		Services:  r.options.Services,
	}
}

func (r *Runtime) renderPageTimed(ctx context.Context, pctx *page.Context, p *page.Page) (string, error) {
	start := time.Now()
	effective, rejected, err := r.nav.RenderPage(ctx, pctx, p, p.KeyboardIDs)
	if r.options.Metrics != nil {
		r.options.Metrics.RenderLatency.WithLabelValues(r.options.ID, p.ID).Observe(time.Since(start).Seconds())
		if rejected {
			r.options.Metrics.MiddlewareRejects.WithLabelValues(r.options.ID, p.ID).Inc()
		}
	}
	return effective, err
}

func firstMessage(args []any) (*transport.Message, bool) {
	if len(args) == 0 {
		return nil, false
	}
	msg, ok := args[0].(*transport.Message)
	if !ok || msg == nil {
		return nil, false
	}
	return msg, true
}
