package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/convoflow/pkg/jsonval"
	"github.com/hrygo/convoflow/pkg/session"
	"github.com/hrygo/convoflow/pkg/transport"
)

// Gateway is the Persistence Gateway capability the bot runtime drives
// at each state-machine step.
type Gateway interface {
	// EnsureDatabaseState upserts the User for the message/session's
	// Telegram identity and ensures a StepState exists for (user, slug).
	EnsureDatabaseState(ctx context.Context, chatID string, sess *session.State, msg *transport.Message, currentPageID string, slug string) (*DBState, error)

	// PersistStepProgress records an accepted page submission.
	PersistStepProgress(ctx context.Context, stepState *StepState, pageID string, value any) (*StepState, error)

	// SyncSessionState mirrors session-only data (not tied to a page id)
	// into StepState.Answers so it survives a restart.
	SyncSessionState(ctx context.Context, stepState *StepState, sessionData map[string]any) (*StepState, error)

	// UpdateStepStateCurrentPage moves the persisted cursor. hasPageID
	// false clears it (treated as "go to no page").
	UpdateStepStateCurrentPage(ctx context.Context, stepState *StepState, pageID string, hasPageID bool) (*StepState, error)
}

// DBState is the pair of records EnsureDatabaseState resolves.
type DBState struct {
	User      *User
	StepState *StepState
}

// DefaultGateway is the concrete Gateway backed by a Database capability.
// Grounded on plugin/chat_apps/store/db.go's validate-then-query shape
// and slog logging at each boundary.
type DefaultGateway struct {
	db Database
}

// NewDefaultGateway constructs a Gateway over db.
func NewDefaultGateway(db Database) *DefaultGateway {
	return &DefaultGateway{db: db}
}

func (g *DefaultGateway) EnsureDatabaseState(ctx context.Context, chatID string, sess *session.State, msg *transport.Message, currentPageID string, slug string) (*DBState, error) {
	tgUser := resolveTelegramUser(sess, msg)
	if tgUser == nil {
		return nil, fmt.Errorf("persistence: no telegram user available for chat %s", chatID)
	}

	user, err := g.db.UpsertUser(ctx, tgUser.ID, UserProfile{
		ChatID:       chatID,
		Username:     tgUser.Username,
		FirstName:    tgUser.FirstName,
		LastName:     tgUser.LastName,
		LanguageCode: tgUser.LanguageCode,
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: upsert user: %w", err)
	}

	step, err := g.db.FindStepState(ctx, user.ID, slug)
	if err != nil {
		return nil, fmt.Errorf("persistence: find step state: %w", err)
	}

	resolvedPage := currentPageID
	if resolvedPage == "" {
		resolvedPage = sess.PageID
	}

	if step == nil {
		step, err = g.db.CreateStepState(ctx, StepStateInput{
			UserID:      user.ID,
			ChatID:      chatID,
			Slug:        slug,
			CurrentPage: resolvedPage,
			Answers:     jsonval.Serialize(sess.Data).(map[string]jsonval.Value),
		})
		if err != nil {
			return nil, fmt.Errorf("persistence: create step state: %w", err)
		}
		slog.Info("persistence: created step state", "user_id", user.ID, "slug", slug)
		return &DBState{User: user, StepState: step}, nil
	}

	patch := StepStatePatch{}
	dirty := false
	if step.ChatID != chatID {
		patch.ChatID = &chatID
		dirty = true
	}
	if currentPageID != "" && step.CurrentPage != currentPageID {
		pid := currentPageID
		patch.CurrentPage = &pid
		patch.CurrentPageSet = true
		dirty = true
	}
	if !dirty {
		// Idempotent: identical inputs perform no writes.
		return &DBState{User: user, StepState: step}, nil
	}

	step, err = g.db.UpdateStepState(ctx, step.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("persistence: update step state: %w", err)
	}
	return &DBState{User: user, StepState: step}, nil
}

func (g *DefaultGateway) PersistStepProgress(ctx context.Context, stepState *StepState, pageID string, value any) (*StepState, error) {
	if stepState == nil {
		return nil, nil
	}

	serialized := jsonval.Serialize(value)
	answers := cloneAnswers(stepState.Answers)
	answers[pageID] = serialized

	history := append(append([]HistoryEntry(nil), stepState.History...), HistoryEntry{
		PageID:    pageID,
		Value:     serialized,
		Timestamp: time.Now().UTC(),
	})

	updated, err := g.db.UpdateStepState(ctx, stepState.ID, StepStatePatch{
		Answers: answers,
		History: history,
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: persist step progress: %w", err)
	}

	if err := g.db.UpsertFormEntry(ctx, FormEntry{
		UserID:      stepState.UserID,
		StepStateID: stepState.ID,
		Slug:        stepState.Slug,
		PageID:      pageID,
		Payload:     serialized,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("persistence: upsert form entry: %w", err)
	}

	return updated, nil
}

func (g *DefaultGateway) SyncSessionState(ctx context.Context, stepState *StepState, sessionData map[string]any) (*StepState, error) {
	if stepState == nil {
		return nil, nil
	}

	serialized, ok := jsonval.Serialize(sessionData).(map[string]jsonval.Value)
	if !ok {
		serialized = map[string]jsonval.Value{}
	}

	if jsonval.DeepEqual(stepState.Answers, serialized) {
		return stepState, nil
	}

	updated, err := g.db.UpdateStepState(ctx, stepState.ID, StepStatePatch{Answers: serialized})
	if err != nil {
		return nil, fmt.Errorf("persistence: sync session state: %w", err)
	}
	return updated, nil
}

func (g *DefaultGateway) UpdateStepStateCurrentPage(ctx context.Context, stepState *StepState, pageID string, hasPageID bool) (*StepState, error) {
	if stepState == nil {
		return nil, nil
	}
	target := ""
	if hasPageID {
		target = pageID
	}
	if stepState.CurrentPage == target {
		return stepState, nil
	}

	updated, err := g.db.UpdateStepState(ctx, stepState.ID, StepStatePatch{
		CurrentPage:    &target,
		CurrentPageSet: true,
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: update current page: %w", err)
	}
	return updated, nil
}

func resolveTelegramUser(sess *session.State, msg *transport.Message) *transport.User {
	if msg != nil && msg.From != nil {
		return msg.From
	}
	if sess != nil {
		return sess.User
	}
	return nil
}

func cloneAnswers(in map[string]jsonval.Value) map[string]jsonval.Value {
	out := make(map[string]jsonval.Value, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Gateway = (*DefaultGateway)(nil)
