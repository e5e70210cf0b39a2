package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SQLDatabase is the default Database backed by database/sql. It
// targets both modernc.org/sqlite and lib/pq behind a single
// driver-agnostic placeholder convention ($1-style, which
// modernc.org/sqlite's driver also accepts).
type SQLDatabase struct {
	db *sql.DB
}

// NewSQLDatabase wraps an already-open *sql.DB. Callers own opening and
// closing the handle; EnsureSchema creates this package's tables.
func NewSQLDatabase(db *sql.DB) *SQLDatabase {
	return &SQLDatabase{db: db}
}

// EnsureSchema creates the users, step_states, and form_entries tables
// if they do not already exist.
func (s *SQLDatabase) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			telegram_id   BIGINT NOT NULL UNIQUE,
			chat_id       TEXT NOT NULL,
			username      TEXT NOT NULL DEFAULT '',
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			language_code TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS step_states (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			chat_id      TEXT NOT NULL,
			slug         TEXT NOT NULL,
			current_page TEXT NOT NULL DEFAULT '',
			answers      TEXT NOT NULL DEFAULT '{}',
			history      TEXT NOT NULL DEFAULT '[]',
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL,
			UNIQUE(user_id, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS form_entries (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			step_state_id TEXT NOT NULL,
			slug          TEXT NOT NULL,
			page_id       TEXT NOT NULL,
			payload       TEXT NOT NULL DEFAULT 'null',
			created_at    TIMESTAMP NOT NULL,
			UNIQUE(step_state_id, page_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "persistence: ensure schema")
		}
	}
	return nil
}

func (s *SQLDatabase) UpsertUser(ctx context.Context, telegramID int64, profile UserProfile) (*User, error) {
	now := time.Now().UTC()

	existing, err := s.findUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_, err := s.db.ExecContext(ctx, `
			UPDATE users SET chat_id = $1, username = $2, first_name = $3,
				last_name = $4, language_code = $5, updated_at = $6
			WHERE id = $7`,
			profile.ChatID, profile.Username, profile.FirstName, profile.LastName,
			profile.LanguageCode, now, existing.ID)
		if err != nil {
			return nil, errors.Wrap(err, "persistence: update user")
		}
		existing.ChatID = profile.ChatID
		existing.Username = profile.Username
		existing.FirstName = profile.FirstName
		existing.LastName = profile.LastName
		existing.LanguageCode = profile.LanguageCode
		existing.UpdatedAt = now
		return existing, nil
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, telegram_id, chat_id, username, first_name, last_name, language_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, telegramID, profile.ChatID, profile.Username, profile.FirstName,
		profile.LastName, profile.LanguageCode, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: insert user")
	}

	return &User{
		ID: id, TelegramID: telegramID, ChatID: profile.ChatID,
		Username: profile.Username, FirstName: profile.FirstName, LastName: profile.LastName,
		LanguageCode: profile.LanguageCode, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *SQLDatabase) findUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, telegram_id, chat_id, username, first_name, last_name, language_code, created_at, updated_at
		FROM users WHERE telegram_id = $1`, telegramID)

	u := &User{}
	err := row.Scan(&u.ID, &u.TelegramID, &u.ChatID, &u.Username, &u.FirstName,
		&u.LastName, &u.LanguageCode, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "persistence: find user by telegram id")
	}
	return u, nil
}

func (s *SQLDatabase) FindStepState(ctx context.Context, userID, slug string) (*StepState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, slug, current_page, answers, history, created_at, updated_at
		FROM step_states WHERE user_id = $1 AND slug = $2`, userID, slug)
	return scanStepState(row)
}

func (s *SQLDatabase) CreateStepState(ctx context.Context, input StepStateInput) (*StepState, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	answers := input.Answers
	if answers == nil {
		answers = map[string]interface{}{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: marshal answers")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_states (id, user_id, chat_id, slug, current_page, answers, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, input.UserID, input.ChatID, input.Slug, input.CurrentPage, string(answersJSON), "[]", now, now)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: insert step state")
	}

	return &StepState{
		ID: id, UserID: input.UserID, ChatID: input.ChatID, Slug: input.Slug,
		CurrentPage: input.CurrentPage, Answers: answers, History: nil,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *SQLDatabase) UpdateStepState(ctx context.Context, id string, patch StepStatePatch) (*StepState, error) {
	current, err := s.findStepStateByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Errorf("persistence: step state %s not found", id)
	}

	if patch.ChatID != nil {
		current.ChatID = *patch.ChatID
	}
	if patch.CurrentPageSet {
		current.CurrentPage = *patch.CurrentPage
	}
	if patch.Answers != nil {
		current.Answers = patch.Answers
	}
	if patch.History != nil {
		current.History = patch.History
	}
	current.UpdatedAt = time.Now().UTC()

	answersJSON, err := json.Marshal(current.Answers)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: marshal answers")
	}
	historyJSON, err := json.Marshal(current.History)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: marshal history")
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE step_states SET chat_id = $1, current_page = $2, answers = $3,
			history = $4, updated_at = $5
		WHERE id = $6`,
		current.ChatID, current.CurrentPage, string(answersJSON), string(historyJSON), current.UpdatedAt, id)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: update step state")
	}
	return current, nil
}

func (s *SQLDatabase) findStepStateByID(ctx context.Context, id string) (*StepState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, slug, current_page, answers, history, created_at, updated_at
		FROM step_states WHERE id = $1`, id)
	return scanStepState(row)
}

func scanStepState(row *sql.Row) (*StepState, error) {
	var (
		ss                     StepState
		answersJSON, historyJSON string
	)
	err := row.Scan(&ss.ID, &ss.UserID, &ss.ChatID, &ss.Slug, &ss.CurrentPage,
		&answersJSON, &historyJSON, &ss.CreatedAt, &ss.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "persistence: scan step state")
	}

	if err := json.Unmarshal([]byte(answersJSON), &ss.Answers); err != nil {
		return nil, errors.Wrap(err, "persistence: unmarshal answers")
	}
	if err := json.Unmarshal([]byte(historyJSON), &ss.History); err != nil {
		return nil, errors.Wrap(err, "persistence: unmarshal history")
	}
	return &ss, nil
}

func (s *SQLDatabase) UpsertFormEntry(ctx context.Context, entry FormEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return errors.Wrap(err, "persistence: marshal form entry payload")
	}

	now := entry.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_entries (id, user_id, step_state_id, slug, page_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (step_state_id, page_id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`,
		uuid.NewString(), entry.UserID, entry.StepStateID, entry.Slug, entry.PageID, string(payloadJSON), now)
	if err != nil {
		return errors.Wrap(err, "persistence: upsert form entry")
	}
	return nil
}

var _ Database = (*SQLDatabase)(nil)
