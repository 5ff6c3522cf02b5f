package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tdorsey/corruptvideofileinspector/internal/persistence/sqlite"
)

// ErrBackupExists is returned when Backup would overwrite an existing file.
var ErrBackupExists = errors.New("history: backup destination already exists")

// Cleanup removes scans started before the cutoff, cascading to their results
// and resume entries, and reports how many scans and result rows went away.
// With dryRun it only counts. Space is reclaimed with a VACUUM after a real
// delete.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time, dryRun bool) (scansDeleted, resultsDeleted int64, err error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)

	err = s.db.QueryRowContext(ctx, `
	SELECT COUNT(*),
		(SELECT COUNT(*) FROM scan_results
		 WHERE scan_id IN (SELECT id FROM scans WHERE started_at < ?))
	FROM scans WHERE started_at < ?`, cutoff, cutoff).
		Scan(&scansDeleted, &resultsDeleted)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup count: %w", err)
	}
	if dryRun || scansDeleted == 0 {
		return scansDeleted, resultsDeleted, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM scans WHERE started_at < ?`, cutoff); err != nil {
		return 0, 0, fmt.Errorf("cleanup: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return scansDeleted, resultsDeleted, fmt.Errorf("cleanup vacuum: %w", err)
	}
	s.logger.Info().Int64("scans_removed", scansDeleted).
		Int64("results_removed", resultsDeleted).Msg("history cleanup complete")
	return scansDeleted, resultsDeleted, nil
}

// Backup writes a consistent online snapshot of the database to destPath and
// returns the snapshot size in bytes. The destination must not exist.
func (s *Store) Backup(ctx context.Context, destPath string) (int64, error) {
	if _, err := os.Stat(destPath); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrBackupExists, destPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return 0, fmt.Errorf("backup: %w", err)
	}

	st, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("backup snapshot missing: %w", err)
	}
	s.logger.Info().Str("dest", destPath).Int64("bytes", st.Size()).Msg("history backup written")
	return st.Size(), nil
}

// Restore replaces the live database with the snapshot at srcPath. The
// snapshot is integrity-checked first; the current file is moved aside to
// <path>.bak unless force is set. The store reconnects to the restored file.
func (s *Store) Restore(ctx context.Context, srcPath string, force bool) error {
	if issues, err := sqlite.VerifyIntegrity(srcPath, "full"); err != nil {
		return fmt.Errorf("restore: verify snapshot: %w", err)
	} else if len(issues) > 0 {
		return fmt.Errorf("restore: snapshot %s failed integrity check: %v", srcPath, issues)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("restore: close live database: %w", err)
	}

	if !force {
		if err := os.Rename(s.path, s.path+".bak"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("restore: move current database aside: %w", err)
		}
	}
	// Sidecar files belong to the old database.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.path + suffix)
	}

	if err := copyFile(srcPath, s.path); err != nil {
		return fmt.Errorf("restore: install snapshot: %w", err)
	}

	db, err := sqlite.Open(s.path, sqlite.DefaultConfig())
	if err != nil {
		return fmt.Errorf("restore: reopen database: %w", err)
	}
	s.db = db
	if err := s.migrate(); err != nil {
		return fmt.Errorf("restore: migrate restored database: %w", err)
	}

	s.logger.Info().Str("src", srcPath).Msg("history database restored")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
