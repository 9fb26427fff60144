package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"spaces", "my notes.md", "my_notes.md"},
		{"unix path", "/home/me/docs/a.txt", "a.txt"},
		{"windows path", `C:\Users\me\a.txt`, "a.txt"},
		{"traversal", "../../etc/passwd", "passwd"},
		{"hidden file", ".env", "env"},
		{"only dots", "..", "file"},
		{"empty", "", "file"},
		{"unicode", "résumé.pdf", "r_sum_.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestSanitizeNameTruncatesFromTheFront(t *testing.T) {
	long := strings.Repeat("a", 300) + ".pdf"
	got := SanitizeName(long)
	assert.Len(t, got, maxNameLen)
	assert.True(t, strings.HasSuffix(got, ".pdf"), "extension should survive truncation")
}

func TestKeyAtIsCollisionResistant(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	a := KeyAt(now, "notes.md")
	b := KeyAt(now, "notes.md")

	assert.NotEqual(t, a, b, "same name in the same millisecond must yield distinct keys")
	assert.True(t, strings.HasPrefix(a, "1700000000000-"))
	assert.True(t, strings.HasSuffix(a, "-notes.md"))
	assert.NotEqual(t, "notes.md", a)
}

func TestFSStorePutAndDelete(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.Put(ctx, "k1-notes.md", strings.NewReader("# hello"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	data, err := os.ReadFile(filepath.Join(root, "k1-notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# hello", string(data))

	require.NoError(t, store.Delete(ctx, "k1-notes.md"))
	_, err = os.Stat(filepath.Join(root, "k1-notes.md"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "k1-notes.md"))
}

func TestFSStoreRejectsExistingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "dup", strings.NewReader("one"), "")
	require.NoError(t, err)

	_, err = store.Put(ctx, "dup", strings.NewReader("two"), "")
	assert.ErrorIs(t, err, ErrObjectExists)
}

func TestFSStoreConcurrentPutsKeepFirstObject(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root, nil)
	require.NoError(t, err)

	const writers = 8
	var (
		wg      sync.WaitGroup
		stored  atomic.Int32
		existed atomic.Int32
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Put(context.Background(), "race", strings.NewReader(fmt.Sprintf("writer-%d", i)), "")
			switch {
			case err == nil:
				stored.Add(1)
			case errors.Is(err, ErrObjectExists):
				existed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), stored.Load(), "exactly one writer wins the key")
	assert.Equal(t, int32(writers-1), existed.Load())

	data, err := os.ReadFile(filepath.Join(root, "race"))
	require.NoError(t, err)
	assert.Regexp(t, `^writer-\d$`, string(data))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFSStoreRejectsUnsafeKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, key := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.Put(context.Background(), key, strings.NewReader("x"), "")
		assert.Error(t, err, "key %q", key)
	}
}

func TestFSStoreLeavesNothingOnCancelledWrite(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, "cancelled", strings.NewReader("data"), "")
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no object or temp file should remain")
}
