// Package journal keeps an SQLite audit trail of prune runs and every
// deletion they attempted.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/verprune/verprune/internal/gc"
	"github.com/verprune/verprune/internal/logging"
	"github.com/verprune/verprune/internal/objectstore"

	_ "modernc.org/sqlite" // SQLite driver
)

// StatusPlanned marks deletions recorded by a dry run.
const StatusPlanned = "planned"

// Journal is an SQLite-backed run journal. Safe for concurrent use.
type Journal struct {
	db        *sql.DB
	logger    *logging.Logger
	closeOnce sync.Once

	insertStmt *sql.Stmt
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, logger: logging.Global().WithComponent("journal")}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: initialize schema: %w", err)
	}
	j.insertStmt, err = db.Prepare(`
		INSERT INTO deletions (run_id, path, encoded_path, file_id, version_ts, reason, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: prepare insert: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	_, err := j.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		dry_run INTEGER NOT NULL,
		paths INTEGER NOT NULL DEFAULT 0,
		versions INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		not_found INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS deletions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		encoded_path TEXT NOT NULL,
		file_id TEXT NOT NULL,
		version_ts INTEGER NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		error TEXT,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deletions_run ON deletions(run_id);
	`)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		if j.insertStmt != nil {
			j.insertStmt.Close()
		}
		err = j.db.Close()
	})
	return err
}

// RunStats are the totals stored when a run finishes.
type RunStats struct {
	Paths    int
	Versions int
	Deleted  int
	NotFound int
	Failed   int
}

// RunRecord is a stored run.
type RunRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a crash
	DryRun     bool
	Stats      RunStats
	Error      string
}

// Deletion is a stored deletion attempt.
type Deletion struct {
	Path        string
	EncodedPath string
	FileID      string
	Timestamp   int64
	Reason      string
	Status      string
	Error       string
}

// Run records the deletions of one run. It implements gc.Recorder.
type Run struct {
	j    *Journal
	id   string
	mu   sync.Mutex
	lost int
}

// StartRun records the start of a run.
func (j *Journal) StartRun(ctx context.Context, runID string, startedAt time.Time, dryRun bool) (*Run, error) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, dry_run) VALUES (?, ?, ?)`,
		runID, startedAt.UnixMilli(), dryRun)
	if err != nil {
		return nil, fmt.Errorf("journal: start run: %w", err)
	}
	return &Run{j: j, id: runID}, nil
}

// RecordDeletion stores the outcome of a deletion. Write errors are logged
// and counted but never fail the deletion.
func (r *Run) RecordDeletion(task gc.Task, res objectstore.DeleteResult) {
	var errText sql.NullString
	if res.Err != nil && res.Status == objectstore.DeleteFailed {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	r.insert(task, res.Status.String(), errText)
}

// RecordPlanned stores a deletion a dry run would have made.
func (r *Run) RecordPlanned(task gc.Task) {
	r.insert(task, StatusPlanned, sql.NullString{})
}

func (r *Run) insert(task gc.Task, status string, errText sql.NullString) {
	_, err := r.j.insertStmt.Exec(r.id, task.Path, task.EncodedPath, task.FileID,
		task.Timestamp, task.Reason, status, errText, time.Now().UnixMilli())
	if err != nil {
		r.mu.Lock()
		r.lost++
		r.mu.Unlock()
		r.j.logger.Warnf("journal write failed", map[string]any{
			"runId":  r.id,
			"fileId": task.FileID,
			"error":  err.Error(),
		})
	}
}

// Lost returns the number of records that could not be written.
func (r *Run) Lost() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

// Finish records the end of the run with its totals.
func (r *Run) Finish(ctx context.Context, finishedAt time.Time, stats RunStats, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := r.j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, paths = ?, versions = ?, deleted = ?, not_found = ?, failed = ?, error = ?
		WHERE run_id = ?`,
		finishedAt.UnixMilli(), stats.Paths, stats.Versions, stats.Deleted, stats.NotFound, stats.Failed, errText, r.id)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, dry_run, paths, versions, deleted, not_found, failed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			started  int64
			finished sql.NullInt64
			errText  sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &started, &finished, &rec.DryRun,
			&rec.Stats.Paths, &rec.Stats.Versions, &rec.Stats.Deleted, &rec.Stats.NotFound, &rec.Stats.Failed,
			&errText); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			rec.FinishedAt = time.UnixMilli(finished.Int64)
		}
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Deletions returns the deletions recorded for runID in insertion order.
func (j *Journal) Deletions(ctx context.Context, runID string) ([]Deletion, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT path, encoded_path, file_id, version_ts, reason, status, error
		FROM deletions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: list deletions: %w", err)
	}
	defer rows.Close()

	var out []Deletion
	for rows.Next() {
		var (
			d       Deletion
			reason  sql.NullString
			errText sql.NullString
		)
		if err := rows.Scan(&d.Path, &d.EncodedPath, &d.FileID, &d.Timestamp, &reason, &d.Status, &errText); err != nil {
			return nil, fmt.Errorf("journal: scan deletion: %w", err)
		}
		d.Reason = reason.String
		d.Error = errText.String
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ gc.Recorder = (*Run)(nil)
