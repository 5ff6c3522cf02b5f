package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// ResumeState is an adoptable checkpoint from an interrupted run: the set of
// identity keys already processed, so a new run can skip them.
type ResumeState struct {
	ScanID    int64
	StartedAt time.Time
	Done      map[string]struct{} // model.FileIdentity.Key()
}

// Skip reports whether the identity was already processed by the interrupted
// run. A changed file (different size or mtime) is not skipped.
func (r *ResumeState) Skip(id model.FileIdentity) bool {
	if r == nil {
		return false
	}
	_, ok := r.Done[id.Key()]
	return ok
}

// AdoptResume finds the most recent interrupted run over the same directory
// and mode within the window and returns its checkpoint. Cancelled and failed
// runs qualify, and so does a row still marked running: a killed process
// never reaches finalize, so its row stays running with the checkpoint
// intact. Such an orphan is settled as failed when adopted. It returns nil
// when there is nothing to adopt.
func (s *Store) AdoptResume(ctx context.Context, directory string, mode model.ScanMode, window time.Duration) (*ResumeState, error) {
	var scanID int64
	var startedAt, status string
	err := s.db.QueryRowContext(ctx, `
	SELECT s.id, s.started_at, s.status FROM scans s
	WHERE s.directory = ? AND s.mode = ?
	  AND s.status IN (?, ?, ?)
	  AND EXISTS (SELECT 1 FROM resume_entries r WHERE r.scan_id = s.id)
	ORDER BY s.started_at DESC, s.id DESC LIMIT 1`,
		directory, string(mode),
		string(model.StatusCancelled), string(model.StatusFailed), string(model.StatusRunning),
	).Scan(&scanID, &startedAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Stored timestamps have second granularity, so the window is enforced
	// on parsed times; a sub-second window must not round into a match.
	started, parseErr := time.Parse(time.RFC3339, startedAt)
	if parseErr != nil || time.Since(started) > window {
		return nil, nil
	}

	if status == string(model.StatusRunning) {
		if _, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, error = 'interrupted; checkpoint adopted by a later run', completed_at = ?
		WHERE id = ? AND status = ?`,
			string(model.StatusFailed), time.Now().UTC().Format(time.RFC3339),
			scanID, string(model.StatusRunning),
		); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT file_path, file_size, mtime_nanos FROM resume_entries WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	state := &ResumeState{ScanID: scanID, StartedAt: started, Done: make(map[string]struct{})}
	for rows.Next() {
		var id model.FileIdentity
		if err := rows.Scan(&id.Path, &id.Size, &id.MTimeNanos); err != nil {
			return nil, err
		}
		state.Done[id.Key()] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("scan_id", scanID).Int("checkpointed", len(state.Done)).
		Str("directory", directory).Msg("adopting interrupted run")
	return state, nil
}

// Checkpoint marks a file as settled for resume purposes without a result
// row. A resumed run uses it to carry forward work done by its predecessor,
// so a second interruption does not lose that progress.
func (s *Store) Checkpoint(ctx context.Context, scanID int64, id model.FileIdentity) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO resume_entries (scan_id, file_path, file_size, mtime_nanos, processed_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(scan_id, file_path) DO UPDATE SET
		file_size = excluded.file_size,
		mtime_nanos = excluded.mtime_nanos,
		processed_at = excluded.processed_at`,
		scanID, id.Path, id.Size, id.MTimeNanos,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ClearResume drops the checkpoint of a run, typically after a resumed run
// has superseded it.
func (s *Store) ClearResume(ctx context.Context, scanID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM resume_entries WHERE scan_id = ?`, scanID)
	return err
}
