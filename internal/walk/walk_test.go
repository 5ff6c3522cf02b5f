package walk

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func collect(t *testing.T, ctx context.Context, w *Walker, root string) []string {
	t.Helper()
	out, errc := w.Walk(ctx, root)
	var paths []string
	for c := range out {
		paths = append(paths, c.Identity.Path)
	}
	require.NoError(t, <-errc)
	return paths
}

func TestWalk_FiltersAndOrders(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.mkv"))
	touch(t, filepath.Join(root, "a.MP4"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "shows", "episode.ts"))
	touch(t, filepath.Join(root, "shows", "cover.jpg"))

	paths := collect(t, context.Background(), New(Options{Extensions: DefaultExtensions}), root)

	assert.Equal(t, []string{
		filepath.Join(root, "a.MP4"),
		filepath.Join(root, "b.mkv"),
		filepath.Join(root, "shows", "episode.ts"),
	}, paths, "lexical order, extension filter case-insensitive")
}

func TestWalk_EmptyExtensionsDisablesPreFilter(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mkv"))
	touch(t, filepath.Join(root, "notes.txt"))

	paths := collect(t, context.Background(), New(Options{}), root)
	assert.Equal(t, []string{
		filepath.Join(root, "a.mkv"),
		filepath.Join(root, "notes.txt"),
	}, paths, "no allowlist means every regular file is a candidate")
}

func TestWalk_CustomExtensions(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mkv"))
	touch(t, filepath.Join(root, "b.vob"))

	paths := collect(t, context.Background(), New(Options{Extensions: []string{"vob"}}), root)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(root, "b.vob"), paths[0])
}

func TestWalk_IdentityPopulated(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.mkv")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o644))

	out, errc := New(Options{}).Walk(context.Background(), root)
	var got []int64
	for c := range out {
		got = append(got, c.Identity.Size)
		assert.NotZero(t, c.Identity.MTimeNanos)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, []int64{10}, got)
}

func TestWalk_MissingRootFails(t *testing.T) {
	out, errc := New(Options{}).Walk(context.Background(), filepath.Join(t.TempDir(), "absent"))
	for range out {
	}
	assert.Error(t, <-errc)
}

func TestWalk_Cancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		touch(t, filepath.Join(root, "dir", string(rune('a'+i))+".mkv"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	out, errc := New(Options{}).Walk(ctx, root)

	// Take one candidate, then cancel; the walker must terminate.
	<-out
	cancel()
	for range out {
	}
	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalk_SymlinkedDirectoryNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows CI")
	}
	root := t.TempDir()
	outside := t.TempDir()
	touch(t, filepath.Join(outside, "loop.mkv"))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	touch(t, filepath.Join(root, "real.mkv"))

	paths := collect(t, context.Background(), New(Options{}), root)
	assert.Equal(t, []string{filepath.Join(root, "real.mkv")}, paths)
}

func TestWalk_SymlinkedFileResolved(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows CI")
	}
	root := t.TempDir()
	target := filepath.Join(root, "target.mkv")
	require.NoError(t, os.WriteFile(target, []byte("0123456789"), 0o644))
	link := filepath.Join(root, "alias.mkv")
	require.NoError(t, os.Symlink(target, link))

	paths := collect(t, context.Background(), New(Options{}), root)
	// Both names are discovered; the alias carries the target's size.
	assert.Contains(t, paths, link)
	assert.Contains(t, paths, target)
}

func TestWalk_BrokenSymlinkSkipped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows CI")
	}
	root := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(root, "nope.mkv"), filepath.Join(root, "dangling.mkv")))
	touch(t, filepath.Join(root, "ok.mkv"))

	paths := collect(t, context.Background(), New(Options{}), root)
	assert.Equal(t, []string{filepath.Join(root, "ok.mkv")}, paths)
}
