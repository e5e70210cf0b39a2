package persistence

import (
	"context"

	"github.com/hrygo/convoflow/pkg/session"
	"github.com/hrygo/convoflow/pkg/transport"
)

// NoopGateway is the default Gateway when a bot is configured without a
// database handle: every operation is a pass-through that fabricates
// in-memory records so the bot runtime can run purely off session
// state.
type NoopGateway struct{}

// NewNoopGateway returns a Gateway that persists nothing.
func NewNoopGateway() *NoopGateway { return &NoopGateway{} }

func (NoopGateway) EnsureDatabaseState(_ context.Context, chatID string, sess *session.State, msg *transport.Message, currentPageID string, slug string) (*DBState, error) {
	tgUser := resolveTelegramUser(sess, msg)
	user := &User{ID: chatID, ChatID: chatID}
	if tgUser != nil {
		user.TelegramID = tgUser.ID
		user.Username = tgUser.Username
		user.FirstName = tgUser.FirstName
		user.LastName = tgUser.LastName
		user.LanguageCode = tgUser.LanguageCode
	}

	page := currentPageID
	if page == "" && sess != nil {
		page = sess.PageID
	}

	return &DBState{
		User: user,
		StepState: &StepState{
			ID:          chatID + ":" + slug,
			UserID:      user.ID,
			ChatID:      chatID,
			Slug:        slug,
			CurrentPage: page,
			Answers:     map[string]interface{}{},
		},
	}, nil
}

func (NoopGateway) PersistStepProgress(_ context.Context, stepState *StepState, _ string, _ any) (*StepState, error) {
	return stepState, nil
}

func (NoopGateway) SyncSessionState(_ context.Context, stepState *StepState, _ map[string]any) (*StepState, error) {
	return stepState, nil
}

func (NoopGateway) UpdateStepStateCurrentPage(_ context.Context, stepState *StepState, pageID string, hasPageID bool) (*StepState, error) {
	if stepState == nil {
		return nil, nil
	}
	updated := *stepState
	if hasPageID {
		updated.CurrentPage = pageID
	} else {
		updated.CurrentPage = ""
	}
	return &updated, nil
}

var _ Gateway = (*NoopGateway)(nil)
