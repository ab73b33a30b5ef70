package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"feedback-relay/internal/domain"
)

// SQLiteStore persists conversation states in a single SQLite table. It is
// meant for single-host deployments that must survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and creates the schema on
// first use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// One connection: SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Shutdown closes the database when the owning injector shuts down.
func (s *SQLiteStore) Shutdown() error {
	return s.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversation_state (
		user_id       TEXT PRIMARY KEY,
		mode          TEXT NOT NULL,
		last_question TEXT NOT NULL DEFAULT '',
		updated_at    TEXT NOT NULL
	);
	`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (domain.ConversationState, bool, error) {
	var mode, lastQuestion string
	err := s.db.QueryRowContext(ctx,
		`SELECT mode, last_question FROM conversation_state WHERE user_id = ?`,
		userID,
	).Scan(&mode, &lastQuestion)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConversationState{}, false, nil
	}
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: get %s: %w", userID, err)
	}
	return domain.ConversationState{
		UserID:       userID,
		Mode:         domain.Mode(mode),
		LastQuestion: lastQuestion,
	}, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, state domain.ConversationState) error {
	if strings.TrimSpace(state.UserID) == "" {
		return errors.New("repository: Set: user ID is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_state (user_id, mode, last_question, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET mode = excluded.mode,
		     last_question = excluded.last_question,
		     updated_at = excluded.updated_at`,
		state.UserID, string(state.Mode), state.LastQuestion, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("repository: set %s: %w", state.UserID, err)
	}
	return nil
}
