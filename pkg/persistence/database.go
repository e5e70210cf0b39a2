package persistence

import "context"

// Database is the external capability the gateway is built on: five
// operations expressed as idiomatic Go methods. Uniqueness is enforced
// by the implementation on User.TelegramID, (StepState.UserID, Slug),
// and (FormEntry.StepStateID, FormEntry.PageID).
type Database interface {
	// UpsertUser updates profile by TelegramID if a User exists, or
	// creates one. Returns the resulting record.
	UpsertUser(ctx context.Context, telegramID int64, profile UserProfile) (*User, error)

	// FindStepState looks up a StepState by (userID, slug). Returns nil,
	// nil when absent.
	FindStepState(ctx context.Context, userID, slug string) (*StepState, error)

	// CreateStepState inserts a new StepState.
	CreateStepState(ctx context.Context, input StepStateInput) (*StepState, error)

	// UpdateStepState applies a sparse patch to an existing StepState by
	// ID and returns the updated record.
	UpdateStepState(ctx context.Context, id string, patch StepStatePatch) (*StepState, error)

	// UpsertFormEntry creates or overwrites the FormEntry for
	// (stepStateID, pageID).
	UpsertFormEntry(ctx context.Context, entry FormEntry) error
}
