// Package session persists run state to a SQLite file so an interrupted run
// can be inspected and resumed. One row per unit tracks the latest lifecycle
// state; a second table keeps the full attempt history for auditing memory
// escalations.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/gridfan/internal/lifecycle"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	input_root  TEXT NOT NULL,
	output_root TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS units (
	name         TEXT PRIMARY KEY,
	state        TEXT NOT NULL,
	memory_bytes INTEGER NOT NULL,
	exit_code    INTEGER,
	updated_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	unit         TEXT NOT NULL REFERENCES units(name),
	attempt      TEXT NOT NULL,
	memory_bytes INTEGER NOT NULL,
	submitted_at TEXT NOT NULL,
	UNIQUE(unit, attempt)
);
`

// Store is a file-backed session. A nil *Store is a valid no-op store, which
// lets callers skip persistence without branching at every call site.
type Store struct {
	db *sql.DB
}

// Open creates or opens the session database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing session schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun registers the run this session belongs to. Reopening an existing
// session with the same run id is a no-op.
func (s *Store) RecordRun(ctx context.Context, id, inputRoot, outputRoot string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_root, output_root, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, inputRoot, outputRoot, now())
	return err
}

// RecordUnit registers a unit in the Planned state. Re-registering an existing
// unit is a no-op so resumed runs keep their prior state.
func (s *Store) RecordUnit(ctx context.Context, unit string, memoryBytes int64) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO units (name, state, memory_bytes, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		unit, string(lifecycle.Planned), memoryBytes, now())
	return err
}

// RecordAttempt appends one submission to the unit's attempt history and
// moves the unit to Submitted with the attempt's memory size.
func (s *Store) RecordAttempt(ctx context.Context, unit, attempt string, memoryBytes int64) error {
	if s == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (unit, attempt, memory_bytes, submitted_at) VALUES (?, ?, ?, ?)`,
		unit, attempt, memoryBytes, now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE units SET state = ?, memory_bytes = ?, updated_at = ? WHERE name = ?`,
		string(lifecycle.Submitted), memoryBytes, now(), unit)
	return err
}

// RecordState updates a unit's lifecycle state and, for terminal states, the
// exit code that produced it.
func (s *Store) RecordState(ctx context.Context, unit string, state lifecycle.State, exitCode int) error {
	if s == nil {
		return nil
	}
	var err error
	if state.Terminal() {
		_, err = s.db.ExecContext(ctx,
			`UPDATE units SET state = ?, exit_code = ?, updated_at = ? WHERE name = ?`,
			string(state), exitCode, now(), unit)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE units SET state = ?, updated_at = ? WHERE name = ?`,
			string(state), now(), unit)
	}
	return err
}

// UnitState is one row of the units table.
type UnitState struct {
	Name        string
	State       lifecycle.State
	MemoryBytes int64
}

// NonTerminal returns the units an interrupted run left unfinished, with the
// memory size of their last attempt.
func (s *Store) NonTerminal(ctx context.Context) ([]UnitState, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, state, memory_bytes FROM units
		 WHERE state NOT IN (?, ?) ORDER BY name`,
		string(lifecycle.Succeeded), string(lifecycle.PermanentlyFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []UnitState
	for rows.Next() {
		var u UnitState
		var state string
		if err := rows.Scan(&u.Name, &state, &u.MemoryBytes); err != nil {
			return nil, err
		}
		u.State = lifecycle.State(state)
		units = append(units, u)
	}
	return units, rows.Err()
}

// Succeeded returns the names of units a previous run already completed, so
// a resumed session submits only the unfinished remainder.
func (s *Store) Succeeded(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM units WHERE state = ? ORDER BY name`,
		string(lifecycle.Succeeded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AttemptCount reports how many submissions the unit has had.
func (s *Store) AttemptCount(ctx context.Context, unit string) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE unit = ?`, unit).Scan(&n)
	return n, err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
