// Package telegram adapts the Telegram Bot API (long polling) to the
// transport.Client capability the conversation runtime consumes. It is
// supporting infrastructure an operator may wire in; the runtime itself
// never imports this package, only pkg/transport.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/convoflow/pkg/transport"
)

const (
	// DefaultParseMode is the default rendering mode for
	// Markdown-formatted prompts.
	DefaultParseMode = "Markdown"
	// defaultUpdateTimeoutSeconds is the long-poll wait time per request.
	defaultUpdateTimeoutSeconds = 60
)

// Config holds the settings needed to construct a Client.
type Config struct {
	BotToken string
	// UpdateTimeoutSeconds overrides the long-poll wait time; 0 uses the
	// default.
	UpdateTimeoutSeconds int
}

// Client implements transport.Client over a long-polling tgbotapi.BotAPI.
type Client struct {
	bot *tgbotapi.BotAPI
	cfg Config

	mu        sync.Mutex
	listeners map[string][]transport.Listener
	cancel    context.CancelFunc
	stopped   bool
}

// New creates a Telegram-backed transport.Client.
func New(cfg Config) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Client{
		bot:       bot,
		cfg:       cfg,
		listeners: make(map[string][]transport.Listener),
	}, nil
}

// On registers a listener for an event. "message" is delivered for every
// incoming text/caption/media message; "edited_message" for edited
// messages; "callback_query" for inline keyboard presses.
func (c *Client) On(event string, listener transport.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], listener)
}

// Run starts long polling and blocks until ctx is cancelled or StopPolling
// is called. Call it from its own goroutine.
func (c *Client) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	timeout := c.cfg.UpdateTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultUpdateTimeoutSeconds
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout

	updates := c.bot.GetUpdatesChan(u)
	for {
		select {
		case <-runCtx.Done():
			c.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.dispatch(runCtx, update)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		c.emit(ctx, "message", toMessage(update.Message))
	case update.EditedMessage != nil:
		c.emit(ctx, "edited_message", toMessage(update.EditedMessage))
	case update.CallbackQuery != nil:
		c.emit(ctx, "callback_query", update.CallbackQuery)
	}
}

func (c *Client) emit(ctx context.Context, event string, args ...any) {
	c.mu.Lock()
	listeners := append([]transport.Listener(nil), c.listeners[event]...)
	c.mu.Unlock()

	for _, l := range listeners {
		if err := l(ctx, args...); err != nil {
			slog.Error("telegram: listener error", "event", event, "error", err)
		}
	}
}

// SendMessage sends text to chatID, translating transport.SendOptions into
// tgbotapi fields.
func (c *Client) SendMessage(ctx context.Context, chatID string, text string, opts *transport.SendOptions) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = DefaultParseMode
	if opts != nil {
		if opts.ParseMode != "" {
			msg.ParseMode = opts.ParseMode
		}
		msg.DisableWebPagePreview = opts.DisableWebPagePreview
		if opts.ReplyMarkup != nil {
			msg.ReplyMarkup = opts.ReplyMarkup
		}
	}

	slog.Debug("telegram: sending message", "chat_id", chatID)
	_, err = c.bot.Send(msg)
	return err
}

// StopPolling requests the update loop stop. Safe to call more than once.
func (c *Client) StopPolling(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	c.bot.StopReceivingUpdates()
	return nil
}

func toMessage(m *tgbotapi.Message) *transport.Message {
	out := &transport.Message{
		Chat: transport.Chat{ID: m.Chat.ID},
		Text: m.Text,
		Raw:  m,
	}
	if m.From != nil {
		out.From = &transport.User{
			ID:           m.From.ID,
			Username:     m.From.UserName,
			FirstName:    m.From.FirstName,
			LastName:     m.From.LastName,
			LanguageCode: m.From.LanguageCode,
		}
	}
	if m.Caption != "" {
		out.Caption = m.Caption
	}
	if m.Contact != nil {
		out.Contact = &transport.Contact{
			PhoneNumber: m.Contact.PhoneNumber,
			FirstName:   m.Contact.FirstName,
			LastName:    m.Contact.LastName,
			UserID:      m.Contact.UserID,
		}
	}
	if m.Location != nil {
		out.Location = &transport.Location{
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
		}
	}
	if len(m.Photo) > 0 {
		photos := make([]transport.PhotoSize, len(m.Photo))
		for i, p := range m.Photo {
			photos[i] = transport.PhotoSize{FileID: p.FileID, Width: p.Width, Height: p.Height}
		}
		out.Photo = photos
	}
	if m.Document != nil {
		out.Document = &transport.Document{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
		}
	}
	return out
}

var _ transport.Client = (*Client)(nil)
