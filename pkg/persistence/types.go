// Package persistence implements the Persistence Gateway: idempotent
// upsert of User and StepState, append-only history, per-page FormEntry
// upserts, and session-mirror sync, against a pluggable Database
// capability.
package persistence

import (
	"time"

	"github.com/hrygo/convoflow/pkg/jsonval"
)

// User is a chat platform account linked to a conversation history.
type User struct {
	ID           string
	TelegramID   int64
	ChatID       string
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HistoryEntry is one append-only record of a page submission.
type HistoryEntry struct {
	PageID    string
	Value     jsonval.Value
	Timestamp time.Time
}

// StepState is the per-user, per-slug record holding current position,
// answers, and history.
type StepState struct {
	ID          string
	UserID      string
	ChatID      string
	Slug        string
	CurrentPage string // empty means "no current page"
	Answers     map[string]jsonval.Value
	History     []HistoryEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FormEntry mirrors the most recent submission for (stepStateID,
// pageID). UserID is carried for operator query locality.
type FormEntry struct {
	ID          string
	UserID      string
	StepStateID string
	Slug        string
	PageID      string
	Payload     jsonval.Value
	CreatedAt   time.Time
}

// UserProfile is the subset of User fields an upsert may refresh.
type UserProfile struct {
	ChatID       string
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// StepStateInput is the data needed to create a new StepState.
type StepStateInput struct {
	UserID      string
	ChatID      string
	Slug        string
	CurrentPage string
	Answers     map[string]jsonval.Value
}

// StepStatePatch is a sparse update: nil fields are left untouched.
// CurrentPage is the exception: CurrentPageSet alone distinguishes
// "don't touch" from "set", and a set CurrentPage pointing at "" clears.
type StepStatePatch struct {
	ChatID         *string
	CurrentPage    *string // applied only when CurrentPageSet; pointer-to-"" means clear
	CurrentPageSet bool
	Answers        map[string]jsonval.Value // nil = don't touch
	History        []HistoryEntry           // nil = don't touch
}
