// Package keyboard provides constructors for page.Keyboard values.
package keyboard

import "github.com/hrygo/convoflow/pkg/page"

// Static returns a Keyboard whose markup never changes.
func Static(id string, markup any, persistent bool) *page.Keyboard {
	return &page.Keyboard{
		ID:         id,
		Persistent: persistent,
		Resolve: func(*page.Context) (any, error) {
			return markup, nil
		},
	}
}

// Empty returns a Keyboard that always resolves to no markup; useful as
// a named placeholder. A page that lists it still receives the first
// persistent keyboard that resolves non-empty markup, if any.
func Empty(id string) *page.Keyboard {
	return &page.Keyboard{
		ID: id,
		Resolve: func(*page.Context) (any, error) {
			return nil, nil
		},
	}
}
