// Package history keeps a transcript of completed session actions in
// SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one completed action.
type Entry struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Action    string        `json:"action"`
	Code      string        `json:"code"`
	Tests     string        `json:"tests,omitempty"`
	Output    string        `json:"output"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store persists entries.  It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.  ":memory:" gives a
// private in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running history migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			action      TEXT NOT NULL,
			code        TEXT NOT NULL DEFAULT '',
			tests       TEXT NOT NULL DEFAULT '',
			output      TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_ms  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_session_id
			ON entries(session_id, id);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e and fills in its ID.  A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (session_id, action, code, tests, output, duration_ns, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Action, e.Code, e.Tests, e.Output, int64(e.Duration), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording %s entry: %w", e.Action, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// List returns a session's entries oldest first.  limit <= 0 returns
// all of them.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, action, code, tests, output, duration_ns, created_ms
		 FROM entries WHERE session_id = ?
		 ORDER BY id ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e          Entry
			durationNS int64
			createdMS  int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Action, &e.Code, &e.Tests, &e.Output, &durationNS, &createdMS); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationNS)
		e.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Sessions returns the distinct session IDs with at least one entry,
// most recent activity first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM entries GROUP BY session_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
