// Package demo wires a minimal two-step conversation (name, then
// favorite color) used by convoflowd when no embedding application
// supplies its own page graph. It exists to give the daemon binary
// something runnable out of the box; real deployments register their
// own bot.Options through the library packages directly.
package demo

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/convoflow/pkg/keyboard"
	"github.com/hrygo/convoflow/pkg/page"
	"github.com/hrygo/convoflow/pkg/validate"
)

const (
	PageWelcome = "welcome"
	PageName    = "name"
	PageColor   = "color"
	PageDone    = "done"
)

// Pages returns the demo conversation's page graph.
func Pages() []*page.Page {
	return []*page.Page{
		{
			ID:      PageWelcome,
			Content: page.Static("Welcome! Send anything to begin.", nil),
			Next:    func(_ *page.Context) (string, bool) { return PageName, true },
		},
		{
			ID:      PageName,
			Content: page.Static("What's your name?", nil),
			Schema:  validate.Rules{validate.Required(), validate.MaxLength(64)},
			Next:    func(_ *page.Context) (string, bool) { return PageColor, true },
		},
		{
			ID:          PageColor,
			Content:     page.Static("What's your favorite color? (red, green, blue)", nil),
			Schema:      &validate.Schema{Tag: "oneof=red green blue"},
			KeyboardIDs: []string{"colors"},
			Next:        func(_ *page.Context) (string, bool) { return PageDone, true },
		},
		{
			ID: PageDone,
			Content: func(ctx *page.Context) (page.Content, error) {
				name, _ := ctx.Session.Data[PageName].(string)
				color, _ := ctx.Session.Data[PageColor].(string)
				return page.Content{Text: fmt.Sprintf("Nice to meet you, %s! %s is a great color.", name, color)}, nil
			},
		},
	}
}

// Keyboards returns the demo's reply keyboards.
func Keyboards() []*page.Keyboard {
	return []*page.Keyboard{
		keyboard.Static("colors", colorMarkup(), false),
	}
}

func colorMarkup() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("red"),
			tgbotapi.NewKeyboardButton("green"),
			tgbotapi.NewKeyboardButton("blue"),
		),
	)
	markup.OneTimeKeyboard = true
	return markup
}
