package probecache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

func testIdentity() model.FileIdentity {
	return model.FileIdentity{Path: "/media/movie.mkv", Size: 1 << 30, MTimeNanos: 1700000000000000000}
}

func testProbe(id model.FileIdentity) model.ProbeResult {
	return model.ProbeResult{
		Identity:  id,
		Success:   true,
		Streams:   []model.Stream{{Index: 0, Kind: model.StreamVideo, Codec: "h264"}},
		Container: "matroska",
		Duration:  5400,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe-cache.json")
	c, err := Open(path, time.Hour)
	require.NoError(t, err)

	id := testIdentity()
	_, ok := c.Get(id)
	assert.False(t, ok)

	require.NoError(t, c.Put(id, testProbe(id)))

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, "matroska", got.Container)
	assert.True(t, got.ScanEligible())

	// A fresh open reads the flushed file back.
	reopened, err := Open(path, time.Hour)
	require.NoError(t, err)
	got, ok = reopened.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, got.Identity)
}

func TestCache_IdentityChangeMisses(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	require.NoError(t, err)

	id := testIdentity()
	require.NoError(t, c.Put(id, testProbe(id)))

	grown := id
	grown.Size++
	_, ok := c.Get(grown)
	assert.False(t, ok, "size change must invalidate the entry")

	touched := id
	touched.MTimeNanos++
	_, ok = c.Get(touched)
	assert.False(t, ok, "mtime change must invalidate the entry")
}

func TestCache_TTLExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := Open(path, 50*time.Millisecond)
	require.NoError(t, err)

	id := testIdentity()
	require.NoError(t, c.Put(id, testProbe(id)))
	_, ok := c.Get(id)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(id)
	assert.False(t, ok, "entry past TTL must not be served")

	removed, err := c.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.json"), 0)
	require.NoError(t, err)

	id := testIdentity()
	require.NoError(t, c.Put(id, testProbe(id)))

	removed, err := c.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, ok := c.Get(id)
	assert.True(t, ok)
}

func TestOpen_MalformedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	c, err := Open(path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	// The rebuilt cache must be writable again.
	id := testIdentity()
	require.NoError(t, c.Put(id, testProbe(id)))
	_, ok := c.Get(id)
	assert.True(t, ok)
}

func TestOpen_VersionMismatchStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	stale, err := json.Marshal(map[string]any{"version": 99, "entries": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, stale, 0o644))

	c, err := Open(path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentReadersDuringWrites(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.json"), time.Hour)
	require.NoError(t, err)

	id := testIdentity()
	require.NoError(t, c.Put(id, testProbe(id)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			other := id
			other.Size = int64(i)
			_ = c.Put(other, testProbe(other))
		}
	}()

	for i := 0; i < 1000; i++ {
		if _, ok := c.Get(id); !ok {
			t.Fatal("existing entry vanished during concurrent writes")
		}
	}
	<-done
	assert.Equal(t, 51, c.Len())
}
