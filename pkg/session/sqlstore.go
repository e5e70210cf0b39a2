package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hrygo/convoflow/pkg/transport"
)

// SQLStorage mirrors session state into the same database as the
// persistence gateway, so operators who don't want to rely solely on
// syncSessionState for restart survival can opt into durable sessions.
type SQLStorage struct {
	db *sql.DB
}

// NewSQLStorage wraps an already-open *sql.DB. Callers own migrations;
// EnsureSchema creates the table this store needs if it is missing.
func NewSQLStorage(db *sql.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

// EnsureSchema creates the chat_session table if it does not exist. It
// uses syntax compatible with both modernc.org/sqlite and lib/pq.
func (s *SQLStorage) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_session (
	chat_id TEXT PRIMARY KEY,
	page_id TEXT,
	data    TEXT NOT NULL,
	user_id TEXT,
	username TEXT,
	first_name TEXT,
	last_name TEXT,
	language_code TEXT
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "session: create chat_session table")
	}
	return nil
}

func (s *SQLStorage) Get(ctx context.Context, chatID string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT page_id, data, user_id, username, first_name, last_name, language_code
		 FROM chat_session WHERE chat_id = $1`, chatID)

	var (
		pageID, userID, username, firstName, lastName, langCode sql.NullString
		data                                                     string
	)
	err := row.Scan(&pageID, &data, &userID, &username, &firstName, &lastName, &langCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "session: query %s", chatID)
	}

	return decodeState(pageID.String, data, userID, username, firstName, lastName, langCode), nil
}

func (s *SQLStorage) Set(ctx context.Context, chatID string, state *State) error {
	payload, err := json.Marshal(state.Data)
	if err != nil {
		return errors.Wrap(err, "session: marshal data")
	}

	var userID sql.NullString
	var username, firstName, lastName, langCode string
	if state.User != nil {
		userID = sql.NullString{String: strconv.FormatInt(state.User.ID, 10), Valid: true}
		username = state.User.Username
		firstName = state.User.FirstName
		lastName = state.User.LastName
		langCode = state.User.LanguageCode
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_session (chat_id, page_id, data, user_id, username, first_name, last_name, language_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chat_id) DO UPDATE SET
			page_id = excluded.page_id,
			data = excluded.data,
			user_id = excluded.user_id,
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			language_code = excluded.language_code
	`, chatID, nullableString(state.PageID), string(payload), userID, username, firstName, lastName, langCode)
	if err != nil {
		slog.Error("session: failed to persist session", "chat_id", chatID, "error", err)
		return errors.Wrapf(err, "session: upsert %s", chatID)
	}
	return nil
}

func (s *SQLStorage) Delete(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_session WHERE chat_id = $1`, chatID)
	if err != nil {
		return errors.Wrapf(err, "session: delete %s", chatID)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// decodeState reconstructs a *State from raw columns, accepting legacy
// bare-map payloads (no wrapper) by lifting them into Data, and
// rejecting array-shaped payloads: Data must decode to an object, never
// an array.
func decodeState(pageID string, rawData string, userID, username, firstName, lastName, langCode sql.NullString) *State {
	st := &State{PageID: pageID, Data: make(map[string]any)}

	var probe any
	if err := json.Unmarshal([]byte(rawData), &probe); err == nil {
		if m, ok := probe.(map[string]any); ok {
			st.Data = m
		}
		// Array-shaped payloads are rejected; st.Data stays the empty map
		// initialized above.
	}

	if userID.Valid {
		id, err := strconv.ParseInt(userID.String, 10, 64)
		if err == nil {
			st.User = &transport.User{
				ID:           id,
				Username:     username.String,
				FirstName:    firstName.String,
				LastName:     lastName.String,
				LanguageCode: langCode.String,
			}
		}
	}
	return st
}

var (
	_ Storage = (*SQLStorage)(nil)
	_ Deleter = (*SQLStorage)(nil)
)
