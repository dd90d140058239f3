// Package store keeps a SQLite history of matching and solving runs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kwv/starmesh/match"

	_ "modernc.org/sqlite"
)

// Run kinds.
const (
	KindMatch    = "match"
	KindSolve    = "solve"
	KindRegister = "register"
)

// Store wraps SQLite-backed persistence for run history.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the watcher and the HTTP handlers share it
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            frame_id TEXT NOT NULL,
            reference TEXT,
            pair_matched INTEGER,
            inliers INTEGER,
            residual_x REAL,
            residual_y REAL,
            converged BOOLEAN DEFAULT FALSE,
            suspect BOOLEAN DEFAULT FALSE,
            trials INTEGER,
            error_message TEXT,
            duration_ms INTEGER,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_frame_id ON runs(frame_id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Run is one persisted pipeline invocation.
type Run struct {
	ID          int64
	Kind        string
	FrameID     string
	Reference   string
	Diagnostics match.Diagnostics
	Error       string
	Duration    time.Duration
	CreatedAt   time.Time
}

// RecordRun inserts rec and returns its row ID. A zero CreatedAt is set to now.
// Recording on a nil store is a no-op.
func (s *Store) RecordRun(rec Run) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if rec.Kind == "" || rec.FrameID == "" {
		return 0, errors.New("run needs a kind and a frame ID")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	d := rec.Diagnostics
	res, err := s.DB.Exec(`INSERT INTO runs (kind, frame_id, reference, pair_matched, inliers, residual_x, residual_y, converged, suspect, trials, error_message, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Kind, rec.FrameID, rec.Reference, d.PairMatched, d.Inliers, d.ResidualX, d.ResidualY,
		d.Converged, d.Suspect, d.TrialsUsed, rec.Error, rec.Duration.Milliseconds(), rec.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	return res.LastInsertId()
}

// RecordFrame records the outcome of one sequence frame.
func (s *Store) RecordFrame(reference string, r match.FrameResult) (int64, error) {
	rec := Run{Kind: KindRegister, FrameID: r.FrameID, Reference: reference, Duration: r.Duration}
	if r.Result != nil {
		rec.Diagnostics = r.Result.Diagnostics
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return s.RecordRun(rec)
}

const selectRuns = `SELECT id, kind, frame_id, reference, pair_matched, inliers, residual_x, residual_y, converged, suspect, trials, error_message, duration_ms, created_at FROM runs`

// RecentRuns returns the latest runs up to limit, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	return s.query(selectRuns+` ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
}

// RunsForFrame returns every run recorded for frameID, newest first.
func (s *Store) RunsForFrame(frameID string) ([]Run, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	return s.query(selectRuns+` WHERE frame_id=? ORDER BY created_at DESC, id DESC;`, frameID)
}

func (s *Store) query(q string, args ...any) ([]Run, error) {
	rows, err := s.DB.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Run
	for rows.Next() {
		var rec Run
		var reference, errorMsg sql.NullString
		var durationMs, created int64
		d := &rec.Diagnostics
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.FrameID, &reference, &d.PairMatched, &d.Inliers,
			&d.ResidualX, &d.ResidualY, &d.Converged, &d.Suspect, &d.TrialsUsed, &errorMsg, &durationMs, &created); err != nil {
			return nil, err
		}
		rec.Reference = reference.String
		rec.Error = errorMsg.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.Unix(0, created)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
