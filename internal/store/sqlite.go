// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists conversation transcripts with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/otto/internal/transcript"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps the pragmas below in force for every query
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			conversation_key TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (conversation_key, position),
			FOREIGN KEY (conversation_key) REFERENCES conversations(key) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
			ON messages(conversation_key, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveConversation upserts the conversation row and rewrites its messages in
// one transaction. Messages are stored in transcript order.
func (s *SQLiteStore) SaveConversation(ctx context.Context, key string, st transcript.State) error {
	if key == "" {
		return ErrEmptyKey
	}

	// Messages still streaming are saved as finished text
	msgs := transcript.FinalizeStreaming(st.Messages)
	now := s.now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (key, title, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, key, titleOf(msgs), string(st.Status), st.Error, now, now)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_key, position, id, role, content, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			key, i, m.ID, string(m.Role), m.Content, string(payload),
			m.Timestamp.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("saved conversation", "key", key, "messages", len(msgs), "status", st.Status)
	return nil
}

// LoadConversation retrieves the state saved under key.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) LoadConversation(ctx context.Context, key string) (transcript.State, error) {
	var st transcript.State
	var status string

	err := s.db.QueryRowContext(ctx,
		`SELECT status, error FROM conversations WHERE key = ?`, key,
	).Scan(&status, &st.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.State{}, ErrNotFound
	}
	if err != nil {
		return transcript.State{}, fmt.Errorf("querying conversation: %w", err)
	}
	st.Status = transcript.Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM messages
		WHERE conversation_key = ?
		ORDER BY position ASC
	`, key)
	if err != nil {
		return transcript.State{}, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return transcript.State{}, fmt.Errorf("scanning message row: %w", err)
		}
		var m transcript.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return transcript.State{}, fmt.Errorf("decoding message: %w", err)
		}
		st.Messages = append(st.Messages, m)
	}

	if err := rows.Err(); err != nil {
		return transcript.State{}, fmt.Errorf("iterating message rows: %w", err)
	}

	return st, nil
}

// ListConversations retrieves conversations ordered by most recent update.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	query := `
		SELECT c.key, c.title, c.status, c.error, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_key = c.key)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.key ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var status, createdAtStr, updatedAtStr string

		if err := rows.Scan(&c.Key, &c.Title, &status, &c.Error, &createdAtStr, &updatedAtStr, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		c.Status = transcript.Status(status)

		c.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		convs = append(convs, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

// DeleteConversation removes a conversation and its messages.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "key", key)
	return nil
}
