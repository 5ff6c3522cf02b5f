package history

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

// Export streams filtered results to w in the given format without
// materializing the full result set. It returns the number of records
// written.
func (s *Store) Export(ctx context.Context, w io.Writer, f Filter, format string) (int, error) {
	rows, err := s.queryRows(ctx, f)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	switch format {
	case FormatJSON:
		return exportJSON(w, rows)
	case FormatCSV:
		return exportCSV(w, rows)
	case FormatYAML:
		return exportYAML(w, rows)
	default:
		return 0, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportRecord is the flattened export shape shared by all formats.
type exportRecord struct {
	ScanID      int64   `json:"scan_id" yaml:"scan_id"`
	Path        string  `json:"path" yaml:"path"`
	Size        int64   `json:"size" yaml:"size"`
	Verdict     string  `json:"verdict" yaml:"verdict"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
	Mode        string  `json:"mode" yaml:"mode"`
	Indicators  string  `json:"indicators,omitempty" yaml:"indicators,omitempty"`
	InspectedAt string  `json:"inspected_at" yaml:"inspected_at"`
}

func toExportRecord(r StoredResult) exportRecord {
	rec := exportRecord{
		ScanID:      r.ScanID,
		Path:        r.Result.Identity.Path,
		Size:        r.Result.Identity.Size,
		Verdict:     string(r.Result.Verdict),
		Confidence:  r.Result.Confidence,
		Mode:        string(r.Result.Mode),
		InspectedAt: r.Result.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(r.Result.Indicators) > 0 {
		tags, _ := json.Marshal(r.Result.Indicators)
		rec.Indicators = string(tags)
	}
	return rec
}

func exportJSON(w io.Writer, rows *sql.Rows) (int, error) {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return count, err
		}
		if count > 0 {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return count, err
			}
		}
		if err := enc.Encode(toExportRecord(r)); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	if _, err := io.WriteString(w, "]\n"); err != nil {
		return count, err
	}
	return count, nil
}

func exportCSV(w io.Writer, rows *sql.Rows) (int, error) {
	cw := csv.NewWriter(w)
	header := []string{"scan_id", "path", "size", "verdict", "confidence", "mode", "indicators", "inspected_at"}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	count := 0
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return count, err
		}
		rec := toExportRecord(r)
		row := []string{
			strconv.FormatInt(rec.ScanID, 10),
			rec.Path,
			strconv.FormatInt(rec.Size, 10),
			rec.Verdict,
			strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
			rec.Mode,
			rec.Indicators,
			rec.InspectedAt,
		}
		if err := cw.Write(row); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	cw.Flush()
	return count, cw.Error()
}

func exportYAML(w io.Writer, rows *sql.Rows) (int, error) {
	enc := yaml.NewEncoder(w)
	count := 0
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return count, err
		}
		if err := enc.Encode(toExportRecord(r)); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	if count == 0 {
		return 0, nil
	}
	return count, enc.Close()
}
