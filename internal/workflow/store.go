package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store defines persistence for workflow state and transition history.
// Abstracted so tools and the session registry do not care whether the
// workflow lives in SQLite or in memory.
type Store interface {
	Save(ctx context.Context, state *State) error
	// Load returns nil (not an error) when the session has no workflow.
	Load(ctx context.Context, sessionID string) (*State, error)
	Delete(ctx context.Context, sessionID string) error
	RecordTransition(ctx context.Context, state *State, rec TransitionRecord) error
	History(ctx context.Context, sessionID string, limit int) ([]TransitionRecord, error)
}

// ─── In-memory store ─────────────────────────────────────────────────────────

// MemStore keeps workflows in process memory. Used when the database
// cannot be opened and in tests.
type MemStore struct {
	mu      sync.Mutex
	states  map[string][]byte
	history map[string][]TransitionRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		states:  make(map[string][]byte),
		history: make(map[string][]TransitionRecord),
	}
}

// Save stores a serialized copy of state.
func (s *MemStore) Save(_ context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling workflow: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = data
	return nil
}

// Load returns a fresh copy of the session's workflow, or nil.
func (s *MemStore) Load(_ context.Context, sessionID string) (*State, error) {
	s.mu.Lock()
	data, ok := s.states[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing workflow for session %q: %w", sessionID, err)
	}
	return &state, nil
}

// Delete removes the session's workflow and history.
func (s *MemStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	delete(s.history, sessionID)
	return nil
}

// RecordTransition appends rec to the session's history.
func (s *MemStore) RecordTransition(_ context.Context, state *State, rec TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[state.SessionID] = append(s.history[state.SessionID], rec)
	return nil
}

// History returns up to limit most recent records, oldest first.
func (s *MemStore) History(_ context.Context, sessionID string, limit int) ([]TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[sessionID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]TransitionRecord(nil), h...), nil
}

// ─── SQLite store ────────────────────────────────────────────────────────────

// SQLiteStore persists workflows in a local SQLite database so a session
// survives a server restart.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path, applies pragmas,
// and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("workflow store: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workflow store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("workflow store: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflows (
			session_id   TEXT PRIMARY KEY,
			id           TEXT NOT NULL,
			current_role TEXT NOT NULL,
			active       INTEGER NOT NULL DEFAULT 1,
			state_json   TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transitions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			from_role   TEXT NOT NULL,
			to_role     TEXT NOT NULL,
			sent_back   INTEGER NOT NULL DEFAULT 0,
			record_json TEXT NOT NULL,
			at          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the workflow for state.SessionID.
func (s *SQLiteStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (session_id, id, current_role, active, state_json, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			id           = excluded.id,
			current_role = excluded.current_role,
			active       = excluded.active,
			state_json   = excluded.state_json,
			started_at   = excluded.started_at,
			updated_at   = excluded.updated_at`,
		state.SessionID, state.ID, string(state.CurrentRole), boolToInt(state.Active),
		string(data), state.StartedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving workflow %s: %w", state.ID, err)
	}
	return nil
}

// Load reads the session's workflow, or returns nil when there is none.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*State, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM workflows WHERE session_id = ?`, sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow for session %q: %w", sessionID, err)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("parsing workflow for session %q: %w", sessionID, err)
	}
	return &state, nil
}

// Delete removes the session's workflow and its transition history.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting transitions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	return tx.Commit()
}

// RecordTransition appends one history row.
func (s *SQLiteStore) RecordTransition(ctx context.Context, state *State, rec TransitionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling transition: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transitions (workflow_id, session_id, from_role, to_role, sent_back, record_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		state.ID, state.SessionID, string(rec.From), string(rec.To), boolToInt(rec.SentBack), string(data), rec.At,
	)
	if err != nil {
		return fmt.Errorf("recording transition %s -> %s: %w", rec.From, rec.To, err)
	}
	return nil
}

// History returns up to limit most recent transitions, oldest first.
// limit <= 0 returns everything.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]TransitionRecord, error) {
	query := `SELECT record_json FROM (
			SELECT id, record_json FROM transitions WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		var rec TransitionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("parsing history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
