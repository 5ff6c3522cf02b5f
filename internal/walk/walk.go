// Package walk discovers candidate video files under a root directory in a
// deterministic order.
package walk

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tdorsey/corruptvideofileinspector/internal/log"
	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// DefaultExtensions are the container suffixes a fresh configuration scans.
var DefaultExtensions = []string{
	".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm",
	".m4v", ".mpg", ".mpeg", ".ts", ".m2ts",
}

// Options tunes a traversal.
type Options struct {
	// Extensions filter candidates by suffix, case-insensitive. Empty means
	// no pre-filter: every regular file is a candidate.
	Extensions []string
}

// Candidate is one discovered file.
type Candidate struct {
	Identity model.FileIdentity
}

// Walker traverses directory trees lexically, so repeat runs over an
// unchanged tree discover files in the same order.
type Walker struct {
	exts   map[string]struct{}
	logger zerolog.Logger
}

// New builds a walker from options.
func New(opts Options) *Walker {
	set := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return &Walker{exts: set, logger: log.WithComponent("walk")}
}

// Walk streams candidates under root to the returned channel, closing it when
// traversal finishes or the context is cancelled. Per-entry errors are logged
// and skipped; only an unreadable root fails the whole walk, reported through
// the returned error channel (capacity 1).
func (w *Walker) Walk(ctx context.Context, root string) (<-chan Candidate, <-chan error) {
	out := make(chan Candidate)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				w.logger.Warn().Err(walkErr).Str("path", path).Msg("skipping unreadable entry")
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}

			// WalkDir does not descend into symlinked directories; symlinked
			// files are resolved so identity reflects the target.
			if !w.wanted(d.Name()) {
				return nil
			}

			resolved := path
			if d.Type()&fs.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(path)
				if err != nil {
					w.logger.Warn().Err(err).Str("path", path).Msg("skipping broken symlink")
					return nil
				}
				st, err := os.Stat(target)
				if err != nil || st.IsDir() {
					return nil
				}
				resolved = target
			}

			id, err := model.IdentityOf(resolved)
			if err != nil {
				w.logger.Warn().Err(err).Str("path", resolved).Msg("skipping unstatable file")
				return nil
			}
			// Identity keeps the discovered path so results and resume
			// checkpoints line up across runs.
			id.Path = path

			select {
			case out <- Candidate{Identity: id}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func (w *Walker) wanted(name string) bool {
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}
