// Package bot implements the BotRuntime: the per-message state machine
// composing the Session Manager, Persistence Gateway, Page Navigator,
// and Middleware Pipeline over a transport.Client.
package bot

import (
	"github.com/hrygo/convoflow/pkg/messages"
	"github.com/hrygo/convoflow/pkg/metrics"
	"github.com/hrygo/convoflow/pkg/middleware"
	"github.com/hrygo/convoflow/pkg/page"
	"github.com/hrygo/convoflow/pkg/persistence"
	"github.com/hrygo/convoflow/pkg/session"
	"github.com/hrygo/convoflow/pkg/transport"
)

// Handler is an operator-registered transport event listener with its
// own middleware list.
type Handler struct {
	Event       string
	Listener    transport.Listener
	Middlewares []middleware.Config[HandlerContext]
}

// Options is the BotOptions entity. Registry normalizes a
// caller-provided Options before constructing a Runtime from it.
type Options struct {
	ID            string
	Token         string
	Slug          string
	InitialPageID string

	Pages           []*page.Page
	Handlers        []Handler
	Middlewares     []middleware.Config[HandlerContext]
	Keyboards       []*page.Keyboard
	PageMiddlewares []page.MiddlewareConfig

	Services map[string]any

	SessionStorage session.Storage
	Database       persistence.Database
	Metrics        *metrics.Collectors

	// Messages overrides the default log/user-facing phrase table used by
	// the runtime. The zero value is replaced with messages.Default on
	// construction. The page-middleware rejection text sent by the
	// navigator always comes from messages.Default, not from this table.
	Messages *messages.Table
}
