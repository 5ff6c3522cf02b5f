// Package probecache persists probe results keyed by file identity so that
// unchanged files skip the metadata probe on later runs.
package probecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/tdorsey/corruptvideofileinspector/internal/log"
	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// fileVersion is bumped on any incompatible change to the on-disk layout.
// A version mismatch discards the file and rebuilds from empty.
const fileVersion = 1

// Entry is one cached probe with its storage time for TTL checks.
type Entry struct {
	Probe    model.ProbeResult `json:"probe"`
	StoredAt time.Time         `json:"stored_at"`
}

type cacheFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Cache is a TTL-bounded probe cache backed by a single JSON file. Reads go
// through an atomic snapshot and never block; writes serialize on a mutex,
// copy the entry map, and flush atomically via rename.
type Cache struct {
	path   string
	ttl    time.Duration
	logger zerolog.Logger

	mu   sync.Mutex // serializes mutation and flush
	snap atomic.Pointer[map[string]Entry]
}

// Open loads the cache file at path. A missing file starts empty; a malformed
// or version-mismatched file is discarded with a warning, never an error. TTL
// <= 0 disables expiry.
func Open(path string, ttl time.Duration) (*Cache, error) {
	c := &Cache{
		path:   path,
		ttl:    ttl,
		logger: log.WithComponent("probecache"),
	}

	entries, err := loadFile(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).
			Msg("unreadable probe cache, starting empty")
		entries = map[string]Entry{}
	}
	c.snap.Store(&entries)

	c.logger.Debug().Int("entries", len(entries)).Str("path", path).
		Msg("probe cache loaded")
	return c, nil
}

func loadFile(path string) (map[string]Entry, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}

	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode cache file: %w", err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("cache file version %d, want %d", f.Version, fileVersion)
	}
	if f.Entries == nil {
		f.Entries = map[string]Entry{}
	}
	return f.Entries, nil
}

// Get returns the cached probe for the identity, if present and fresh. The
// identity tuple is part of the key, so any size or mtime change is a miss.
func (c *Cache) Get(id model.FileIdentity) (model.ProbeResult, bool) {
	entries := *c.snap.Load()
	e, ok := entries[id.Key()]
	if !ok {
		return model.ProbeResult{}, false
	}
	if c.expired(e, time.Now()) {
		return model.ProbeResult{}, false
	}
	return e.Probe, true
}

// Put stores the probe result and flushes the cache file.
func (c *Cache) Put(id model.FileIdentity, probe model.ProbeResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.copyEntries()
	next[id.Key()] = Entry{Probe: probe, StoredAt: time.Now().UTC()}
	return c.commit(next)
}

// PurgeExpired removes every entry past its TTL and flushes if anything was
// dropped. It returns the number of entries removed.
func (c *Cache) PurgeExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	next := c.copyEntries()
	removed := 0
	for key, e := range next {
		if c.expired(e, now) {
			delete(next, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := c.commit(next); err != nil {
		return 0, err
	}
	c.logger.Debug().Int("removed", removed).Msg("purged expired probe entries")
	return removed, nil
}

// Len returns the number of entries in the current snapshot, expired included.
func (c *Cache) Len() int {
	return len(*c.snap.Load())
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.StoredAt) > c.ttl
}

// copyEntries clones the snapshot map; callers must hold mu.
func (c *Cache) copyEntries() map[string]Entry {
	cur := *c.snap.Load()
	next := make(map[string]Entry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}

// commit publishes the new snapshot and flushes it to disk atomically;
// callers must hold mu.
func (c *Cache) commit(entries map[string]Entry) error {
	data, err := json.Marshal(cacheFile{Version: fileVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}
	if err := renameio.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("flush cache file: %w", err)
	}
	c.snap.Store(&entries)
	return nil
}
