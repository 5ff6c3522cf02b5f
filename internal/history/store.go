// Package history persists scan runs and per-file results in SQLite and
// answers the queries built on top of them: recent-healthy skips, trends,
// run comparison, resume adoption, export, and maintenance.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tdorsey/corruptvideofileinspector/internal/log"
	"github.com/tdorsey/corruptvideofileinspector/internal/persistence/sqlite"
	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

const schemaVersion = 1

var (
	// ErrAlreadyFinalized is returned when FinalizeRun hits a run that is no
	// longer in the running state.
	ErrAlreadyFinalized = errors.New("history: run already finalized")
	// ErrCounterMismatch is returned when the orchestrator's summary counters
	// disagree with what was actually persisted.
	ErrCounterMismatch = errors.New("history: summary counters disagree with persisted results")
	// ErrNotFound is returned for lookups of runs that do not exist.
	ErrNotFound = errors.New("history: scan not found")
)

// Store is the scan history database. All writes for a run go through a
// single Store instance; readers may share it.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (or creates) the history database and applies migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: dbPath, logger: log.WithComponent("history")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history store: migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}

	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		directory TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		discovered INTEGER NOT NULL DEFAULT 0,
		eligible INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		healthy INTEGER NOT NULL DEFAULT 0,
		corrupt INTEGER NOT NULL DEFAULT 0,
		suspicious INTEGER NOT NULL DEFAULT 0,
		deep_needed INTEGER NOT NULL DEFAULT 0,
		deep_completed INTEGER NOT NULL DEFAULT 0,
		skipped_ineligible INTEGER NOT NULL DEFAULT 0,
		skipped_recent_healthy INTEGER NOT NULL DEFAULT 0,
		skipped_resumed INTEGER NOT NULL DEFAULT 0,
		was_resumed BOOLEAN NOT NULL DEFAULT 0,
		scan_time_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_scans_dir_started ON scans(directory, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);

	CREATE TABLE IF NOT EXISTS scan_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id INTEGER NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mtime_nanos INTEGER NOT NULL,
		verdict TEXT NOT NULL,
		confidence REAL NOT NULL,
		scan_mode TEXT NOT NULL,
		needs_deep BOOLEAN NOT NULL DEFAULT 0,
		deep_completed BOOLEAN NOT NULL DEFAULT 0,
		indicators TEXT,
		diagnostics TEXT,
		container TEXT,
		duration_seconds REAL,
		inspect_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_scan ON scan_results(scan_id);
	CREATE INDEX IF NOT EXISTS idx_results_path ON scan_results(file_path);
	CREATE INDEX IF NOT EXISTS idx_results_verdict ON scan_results(verdict);
	CREATE INDEX IF NOT EXISTS idx_results_scan_verdict ON scan_results(scan_id, verdict);

	CREATE TABLE IF NOT EXISTS resume_entries (
		scan_id INTEGER NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mtime_nanos INTEGER NOT NULL,
		processed_at TEXT NOT NULL,
		PRIMARY KEY (scan_id, file_path)
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}

// RunParams describes the run being opened.
type RunParams struct {
	RunID     string
	Directory string
	Mode      model.ScanMode
	StartedAt time.Time
	Resumed   bool
}

// OpenRun inserts a new running scan row and returns its id.
func (s *Store) OpenRun(ctx context.Context, p RunParams) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO scans (run_id, directory, mode, status, started_at, was_resumed)
	VALUES (?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Directory, string(p.Mode), string(model.StatusRunning),
		p.StartedAt.UTC().Format(time.RFC3339), p.Resumed,
	)
	if err != nil {
		return 0, fmt.Errorf("open run: %w", err)
	}
	return res.LastInsertId()
}

// AppendResult persists one final per-file result and, in the same
// transaction, bumps the run counters and records the resume checkpoint.
// Skipped files never reach this method.
func (s *Store) AppendResult(ctx context.Context, scanID int64, r model.InspectionResult) error {
	indicators, err := json.Marshal(r.Indicators)
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}

	var container string
	var duration float64
	if r.Probe != nil {
		container = r.Probe.Container
		duration = r.Probe.Duration
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO scan_results (
		scan_id, file_path, file_size, mtime_nanos,
		verdict, confidence, scan_mode, needs_deep, deep_completed,
		indicators, diagnostics, container, duration_seconds,
		inspect_time_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scanID, r.Identity.Path, r.Identity.Size, r.Identity.MTimeNanos,
		string(r.Verdict), r.Confidence, string(r.Mode), r.NeedsDeep, r.DeepCompleted,
		string(indicators), r.Diagnostics, container, duration,
		r.InspectTime.Milliseconds(), r.Timestamp.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
	UPDATE scans SET
		processed = processed + 1,
		healthy = healthy + ?,
		corrupt = corrupt + ?,
		suspicious = suspicious + ?,
		deep_needed = deep_needed + ?,
		deep_completed = deep_completed + ?
	WHERE id = ?`,
		b2i(r.Verdict == model.VerdictHealthy),
		b2i(r.Verdict == model.VerdictCorrupt),
		b2i(r.Verdict == model.VerdictSuspicious),
		b2i(r.NeedsDeep), b2i(r.DeepCompleted), scanID,
	); err != nil {
		return fmt.Errorf("bump counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO resume_entries (scan_id, file_path, file_size, mtime_nanos, processed_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(scan_id, file_path) DO UPDATE SET
		file_size = excluded.file_size,
		mtime_nanos = excluded.mtime_nanos,
		processed_at = excluded.processed_at`,
		scanID, r.Identity.Path, r.Identity.Size, r.Identity.MTimeNanos,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record resume entry: %w", err)
	}

	return tx.Commit()
}

// FinalizeRun closes the run: it verifies the orchestrator's counters against
// the persisted rows, writes the terminal status, and clears resume entries
// on clean completion. Cancelled and failed runs keep their entries so a
// later run can pick up where this one stopped.
func (s *Store) FinalizeRun(ctx context.Context, scanID int64, summary model.ScanSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = ?`, scanID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != string(model.StatusRunning) {
		return ErrAlreadyFinalized
	}

	var processed, healthy, corrupt, suspicious int
	err = tx.QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(verdict = 'healthy'), 0),
		COALESCE(SUM(verdict = 'corrupt'), 0),
		COALESCE(SUM(verdict = 'suspicious'), 0)
	FROM scan_results WHERE scan_id = ?`, scanID).
		Scan(&processed, &healthy, &corrupt, &suspicious)
	if err != nil {
		return fmt.Errorf("recount results: %w", err)
	}

	finalStatus := summary.Status
	var finalErr sql.NullString
	mismatch := processed != summary.Processed ||
		healthy != summary.Healthy ||
		corrupt != summary.Corrupt ||
		suspicious != summary.Suspicious
	if mismatch {
		finalStatus = model.StatusFailed
		finalErr = sql.NullString{
			String: fmt.Sprintf("counter mismatch: persisted %d/%d/%d/%d, summary %d/%d/%d/%d",
				processed, healthy, corrupt, suspicious,
				summary.Processed, summary.Healthy, summary.Corrupt, summary.Suspicious),
			Valid: true,
		}
	}

	if _, err := tx.ExecContext(ctx, `
	UPDATE scans SET
		status = ?, completed_at = ?, error = ?,
		discovered = ?, eligible = ?,
		processed = ?, healthy = ?, corrupt = ?, suspicious = ?,
		deep_needed = ?, deep_completed = ?,
		skipped_ineligible = ?, skipped_recent_healthy = ?, skipped_resumed = ?,
		was_resumed = ?, scan_time_ms = ?
	WHERE id = ?`,
		string(finalStatus), time.Now().UTC().Format(time.RFC3339), finalErr,
		summary.Discovered, summary.Eligible,
		processed, healthy, corrupt, suspicious,
		summary.DeepNeeded, summary.DeepCompleted,
		summary.SkippedIneligible, summary.SkippedRecentHealthy, summary.SkippedResumed,
		summary.WasResumed, summary.ScanTime.Milliseconds(), scanID,
	); err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	if finalStatus == model.StatusCompleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resume_entries WHERE scan_id = ?`, scanID); err != nil {
			return fmt.Errorf("clear resume entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if mismatch {
		s.logger.Error().Int64("scan_id", scanID).Str("detail", finalErr.String).
			Msg("run finalized as failed")
		return ErrCounterMismatch
	}
	return nil
}

// RecoverStale marks running rows older than the window as failed. Their
// resume entries survive so the next run over the same directory can adopt
// them.
func (s *Store) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
	UPDATE scans SET status = ?, error = 'stale run recovered', completed_at = ?
	WHERE status = ? AND started_at < ?`,
		string(model.StatusFailed), time.Now().UTC().Format(time.RFC3339),
		string(model.StatusRunning), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn().Int64("recovered", n).Msg("marked stale running scans as failed")
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
