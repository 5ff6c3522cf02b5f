package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// Filter narrows result queries. Zero values mean "no constraint".
type Filter struct {
	ScanID        int64
	Directory     string // prefix match on file_path
	Verdicts      []model.Verdict
	MinConfidence float64
	Since         time.Time
	Until         time.Time
	NameLike      string // substring match on file_path
	Limit         int
	Offset        int
}

// StoredResult is a persisted per-file result with its row identifiers.
type StoredResult struct {
	ID     int64
	ScanID int64
	Result model.InspectionResult
}

const resultColumns = `
	id, scan_id, file_path, file_size, mtime_nanos,
	verdict, confidence, scan_mode, needs_deep, deep_completed,
	indicators, diagnostics, inspect_time_ms, created_at`

func (f Filter) whereClause() (string, []any) {
	var conds []string
	var args []any

	if f.ScanID != 0 {
		conds = append(conds, "scan_id = ?")
		args = append(args, f.ScanID)
	}
	if f.Directory != "" {
		conds = append(conds, "file_path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.Directory)+"%")
	}
	if len(f.Verdicts) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Verdicts)), ",")
		conds = append(conds, fmt.Sprintf("verdict IN (%s)", placeholders))
		for _, v := range f.Verdicts {
			args = append(args, string(v))
		}
	}
	if f.MinConfidence > 0 {
		conds = append(conds, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if f.NameLike != "" {
		conds = append(conds, "file_path LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.NameLike)+"%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike neutralizes LIKE metacharacters in user-supplied fragments.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Query returns persisted results matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]StoredResult, error) {
	rows, err := s.queryRows(ctx, f)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StoredResult
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// queryRows runs the filtered select and hands the caller the open cursor,
// for streaming consumers like Export.
func (s *Store) queryRows(ctx context.Context, f Filter) (*sql.Rows, error) {
	where, args := f.whereClause()
	q := "SELECT" + resultColumns + " FROM scan_results" + where +
		" ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	return s.db.QueryContext(ctx, q, args...)
}

func scanResultRow(rows rowScanner) (StoredResult, error) {
	var (
		r             StoredResult
		verdict, mode string
		indicators    sql.NullString
		diagnostics   sql.NullString
		inspectMs     int64
		createdAt     string
	)
	err := rows.Scan(
		&r.ID, &r.ScanID,
		&r.Result.Identity.Path, &r.Result.Identity.Size, &r.Result.Identity.MTimeNanos,
		&verdict, &r.Result.Confidence, &mode, &r.Result.NeedsDeep, &r.Result.DeepCompleted,
		&indicators, &diagnostics, &inspectMs, &createdAt,
	)
	if err != nil {
		return StoredResult{}, err
	}

	r.Result.Verdict = model.Verdict(verdict)
	r.Result.Mode = model.Depth(mode)
	r.Result.Diagnostics = diagnostics.String
	r.Result.InspectTime = time.Duration(inspectMs) * time.Millisecond
	r.Result.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
	if indicators.Valid && indicators.String != "" && indicators.String != "null" {
		if err := json.Unmarshal([]byte(indicators.String), &r.Result.Indicators); err != nil {
			return StoredResult{}, fmt.Errorf("decode indicators: %w", err)
		}
	}
	return r, nil
}

// ResultsFor returns every persisted result of one run.
func (s *Store) ResultsFor(ctx context.Context, scanID int64) ([]StoredResult, error) {
	return s.Query(ctx, Filter{ScanID: scanID})
}

const summaryColumns = `
	id, directory, mode, status, started_at, completed_at,
	discovered, eligible, processed, healthy, corrupt, suspicious,
	deep_needed, deep_completed,
	skipped_ineligible, skipped_recent_healthy, skipped_resumed,
	was_resumed, scan_time_ms`

// RecentScans lists the newest runs, optionally restricted to a directory.
func (s *Store) RecentScans(ctx context.Context, directory string, limit int) ([]model.ScanSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	q := "SELECT" + summaryColumns + " FROM scans"
	var args []any
	if directory != "" {
		q += " WHERE directory = ?"
		args = append(args, directory)
	}
	q += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ScanSummary
	for rows.Next() {
		sum, err := scanSummaryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Scan returns one run by id.
func (s *Store) Scan(ctx context.Context, scanID int64) (model.ScanSummary, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+summaryColumns+" FROM scans WHERE id = ?", scanID)
	sum, err := scanSummaryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanSummary{}, ErrNotFound
	}
	return sum, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummaryRow(row rowScanner) (model.ScanSummary, error) {
	var (
		sum          model.ScanSummary
		mode, status string
		startedAt    string
		completedAt  sql.NullString
		scanMs       int64
	)
	err := row.Scan(
		&sum.ID, &sum.Directory, &mode, &status, &startedAt, &completedAt,
		&sum.Discovered, &sum.Eligible, &sum.Processed,
		&sum.Healthy, &sum.Corrupt, &sum.Suspicious,
		&sum.DeepNeeded, &sum.DeepCompleted,
		&sum.SkippedIneligible, &sum.SkippedRecentHealthy, &sum.SkippedResumed,
		&sum.WasResumed, &scanMs,
	)
	if err != nil {
		return model.ScanSummary{}, err
	}
	sum.Mode = model.ScanMode(mode)
	sum.Status = model.RunStatus(status)
	sum.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt.Valid {
		sum.CompletedAt, _ = time.Parse(time.RFC3339, completedAt.String)
	}
	sum.ScanTime = time.Duration(scanMs) * time.Millisecond
	return sum, nil
}

// RecentHealthy reports whether the latest persisted result for this exact
// identity tuple is a healthy verdict within the window. The newest result
// decides: an older healthy row never masks a later corrupt or suspicious
// one. Any size or mtime drift disqualifies the match.
func (s *Store) RecentHealthy(ctx context.Context, id model.FileIdentity, window time.Duration) (bool, error) {
	var verdict string
	var size, mtime int64
	err := s.db.QueryRowContext(ctx, `
	SELECT verdict, file_size, mtime_nanos FROM scan_results
	WHERE file_path = ? AND created_at >= ?
	ORDER BY created_at DESC, id DESC LIMIT 1`,
		id.Path, time.Now().Add(-window).UTC().Format(time.RFC3339),
	).Scan(&verdict, &size, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return verdict == string(model.VerdictHealthy) &&
		size == id.Size && mtime == id.MTimeNanos, nil
}

// TrendPoint aggregates the completed runs of one calendar day (UTC).
type TrendPoint struct {
	Date    string  `json:"date"` // YYYY-MM-DD
	Total   int     `json:"total"`
	Corrupt int     `json:"corrupt"`
	Rate    float64 `json:"rate"`
}

// CorruptionTrend aggregates a directory's completed runs by calendar day
// over the last `days` days, oldest first. Total counts processed files, so
// a day with several runs weighs each run's population.
func (s *Store) CorruptionTrend(ctx context.Context, directory string, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
	SELECT date(started_at), SUM(processed), SUM(corrupt) FROM scans
	WHERE directory = ? AND status = ? AND started_at >= ?
	GROUP BY date(started_at)
	ORDER BY date(started_at) ASC`,
		directory, string(model.StatusCompleted), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var points []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Total, &p.Corrupt); err != nil {
			return nil, err
		}
		if p.Total > 0 {
			p.Rate = float64(p.Corrupt) / float64(p.Total)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Diff compares the file populations of two runs. Paths are sorted.
type Diff struct {
	NewCorrupt   []string `json:"new_corrupt"`
	NewlyHealthy []string `json:"newly_healthy"`
	StillCorrupt []string `json:"still_corrupt"`
	StillHealthy []string `json:"still_healthy"`
	Gone         []string `json:"gone"`
	Added        []string `json:"added"`
}

// Compare diffs two runs by file path. "Corrupt" here means a corrupt
// verdict; suspicious counts as not-corrupt for transition purposes.
func (s *Store) Compare(ctx context.Context, scanA, scanB int64) (Diff, error) {
	for _, id := range []int64{scanA, scanB} {
		if _, err := s.Scan(ctx, id); err != nil {
			return Diff{}, err
		}
	}

	a, err := s.verdictsByPath(ctx, scanA)
	if err != nil {
		return Diff{}, err
	}
	b, err := s.verdictsByPath(ctx, scanB)
	if err != nil {
		return Diff{}, err
	}

	var d Diff
	for path, vb := range b {
		va, seen := a[path]
		switch {
		case !seen:
			d.Added = append(d.Added, path)
		case va == model.VerdictCorrupt && vb == model.VerdictCorrupt:
			d.StillCorrupt = append(d.StillCorrupt, path)
		case va != model.VerdictCorrupt && vb == model.VerdictCorrupt:
			d.NewCorrupt = append(d.NewCorrupt, path)
		case va == model.VerdictCorrupt && vb != model.VerdictCorrupt:
			d.NewlyHealthy = append(d.NewlyHealthy, path)
		default:
			d.StillHealthy = append(d.StillHealthy, path)
		}
	}
	for path := range a {
		if _, seen := b[path]; !seen {
			d.Gone = append(d.Gone, path)
		}
	}

	for _, list := range [][]string{d.NewCorrupt, d.NewlyHealthy, d.StillCorrupt, d.StillHealthy, d.Gone, d.Added} {
		sort.Strings(list)
	}
	return d, nil
}

func (s *Store) verdictsByPath(ctx context.Context, scanID int64) (map[string]model.Verdict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, verdict FROM scan_results WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.Verdict)
	for rows.Next() {
		var path, verdict string
		if err := rows.Scan(&path, &verdict); err != nil {
			return nil, err
		}
		out[path] = model.Verdict(verdict)
	}
	return out, rows.Err()
}
