// Package transport declares the capability the conversation runtime
// consumes to talk to a chat platform. The wire transport is an external
// collaborator: the runtime only ever sees this interface, never a
// concrete bot-API client, so a test double and the real long-polling
// Telegram adapter (pkg/transport/telegram) are interchangeable.
package transport

import "context"

// Client is the injected capability a BotRuntime owns exclusively.
type Client interface {
	// SendMessage delivers text to chatID. opts may be nil.
	SendMessage(ctx context.Context, chatID string, text string, opts *SendOptions) error

	// On registers a listener for a transport event ("message" is the
	// only event the runtime itself wires up automatically; operator
	// Handlers may register for any other event tag the client emits).
	On(event string, listener Listener)

	// StopPolling requests the client stop delivering new events. It may
	// be called more than once; implementations must make repeat calls
	// safe no-ops.
	StopPolling(ctx context.Context) error
}

// Listener is invoked for each event delivered by a Client. args is
// event-specific; for "message" it is a single *Message.
type Listener func(ctx context.Context, args ...any) error

// SendOptions mirrors a chat platform's per-message send options:
// parse_mode, reply_markup, disable_web_page_preview.
type SendOptions struct {
	ParseMode             string
	ReplyMarkup           any
	DisableWebPagePreview bool
}

// Merge returns a copy of opts with any zero fields filled in from
// overlay, except ReplyMarkup: overlay's ReplyMarkup only applies when
// opts didn't already set one — an explicit per-message payload wins
// over an injected page keyboard.
func Merge(opts *SendOptions, overlay *SendOptions) *SendOptions {
	out := &SendOptions{}
	if opts != nil {
		*out = *opts
	}
	if overlay == nil {
		return out
	}
	if out.ParseMode == "" {
		out.ParseMode = overlay.ParseMode
	}
	if out.ReplyMarkup == nil {
		out.ReplyMarkup = overlay.ReplyMarkup
	}
	if !out.DisableWebPagePreview {
		out.DisableWebPagePreview = overlay.DisableWebPagePreview
	}
	return out
}

// User identifies the sender of a Message.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// Contact is a shared contact card.
type Contact struct {
	PhoneNumber string
	FirstName   string
	LastName    string
	UserID      int64
}

// Location is a shared geolocation.
type Location struct {
	Latitude  float64
	Longitude float64
}

// PhotoSize describes one resolution of a sent photo.
type PhotoSize struct {
	FileID string
	Width  int
	Height int
}

// Document is a generic file attachment.
type Document struct {
	FileID   string
	FileName string
	MimeType string
}

// Chat identifies the conversation a Message belongs to.
type Chat struct {
	ID int64
}

// Message is the platform-neutral shape ExtractValue operates over:
// text, caption, contact, location, photo, document, in that priority
// order, falling back to the whole message when none are set. Raw
// retains the platform-specific payload for handlers that need it (e.g.
// inline keyboard callback data).
type Message struct {
	Chat     Chat
	From     *User
	Text     string
	Caption  string
	Contact  *Contact
	Location *Location
	Photo    []PhotoSize
	Document *Document
	Raw      any
}

// ExtractValue picks the submitted value out of a Message: in priority
// order, text, caption, contact, location, photo, document; else the
// whole message.
func ExtractValue(msg *Message) any {
	switch {
	case msg.Text != "":
		return msg.Text
	case msg.Caption != "":
		return msg.Caption
	case msg.Contact != nil:
		return msg.Contact
	case msg.Location != nil:
		return msg.Location
	case len(msg.Photo) > 0:
		return msg.Photo
	case msg.Document != nil:
		return msg.Document
	default:
		return msg
	}
}
