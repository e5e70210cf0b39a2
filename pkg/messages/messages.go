// Package messages centralizes the log and error phrases emitted by the
// conversation runtime so operators can override the wording in one
// place. Each entry is a format string consumed with log/slog's
// key-value attributes at the point of use — the indirection here
// exists only for the phrases themselves, not for the logging call
// sites.
package messages

// Table holds the overridable phrases. NewDefaultTable returns the
// built-in wording; callers may copy and mutate it before passing it to a
// BotRuntime (bot.Options.Messages). The PageNavigator takes no table:
// it reads DefaultRejectionMessage from Default.
type Table struct {
	RuntimeInitialized      string
	BotIDResolutionFailed   string
	InvalidHandler          string
	HandlerMissingListener  string
	PageNotFound            string
	NextPageNotFound        string
	MessageHandlingError    string
	MiddlewareError         string
	NoInitialPage           string
	ValidationFailed        string
	DefaultRejectionMessage string
}

// Default is the package-level table used when a caller does not supply
// its own. It is intentionally mutable (not a const map) so a process
// can localize it once at startup; the table is swappable, nothing
// more — no pluralization or locale-negotiation machinery is provided.
var Default = NewDefaultTable()

// NewDefaultTable returns the built-in English phrasing.
func NewDefaultTable() Table {
	return Table{
		RuntimeInitialized:      "bot runtime initialized",
		BotIDResolutionFailed:   "could not resolve a bot id",
		InvalidHandler:          "invalid handler configuration",
		HandlerMissingListener:  "handler is missing a listener",
		PageNotFound:            "page not found",
		NextPageNotFound:        "next page not found",
		MessageHandlingError:    "error handling message",
		MiddlewareError:         "middleware error",
		NoInitialPage:           "no initial page configured",
		ValidationFailed:        "input validation failed",
		DefaultRejectionMessage: "this action is not available right now.",
	}
}
