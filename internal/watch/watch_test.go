package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comment-vault/internal/markers"
	"comment-vault/internal/store"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) Reconcile(rel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rel)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func startWatcher(t *testing.T, root string, rec Reconciler) *Watcher {
	t.Helper()
	w, err := New(root, rec, Options{
		Debounce:    50 * time.Millisecond,
		Types:       markers.Default(),
		VaultDir:    store.DefaultDirName,
		ExcludeDirs: map[string]struct{}{".git": {}},
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRapidWritesCoalesce(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	path := filepath.Join(root, "a.sh")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a()\n# note\nb()\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	// Let any stray timers fire before counting.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"a.sh"}, rec.snapshot(), "five rapid writes, one reconcile")
}

func TestUnmanagedFilesIgnored(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, store.DefaultDirName, "shared"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, store.DefaultDirName, "shared", "a.sh.json"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.sh"), []byte("a()\n"), 0o644))

	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"a.sh"}, rec.snapshot())
}

func TestNewDirectoryPickedUp(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.sh"), []byte("b()\n"), 0o644))

	waitFor(t, func() bool {
		calls := rec.snapshot()
		return len(calls) >= 1 && calls[len(calls)-1] == "pkg/b.sh"
	})
}

func TestGitignoredFilesNotReconciled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("scratch.sh\nbuild/\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "build"), 0o755))

	rec := &recorder{}
	w, err := New(root, rec, Options{
		Debounce:     50 * time.Millisecond,
		Types:        markers.Default(),
		VaultDir:     store.DefaultDirName,
		UseGitignore: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.sh"), []byte("a()\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "gen.sh"), []byte("b()\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.sh"), []byte("c()\n"), 0o644))

	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"kept.sh"}, rec.snapshot())
}

func TestBadPatternRejected(t *testing.T) {
	_, err := New(t.TempDir(), &recorder{}, Options{Include: []string{"[oops"}}, zerolog.Nop())
	assert.Error(t, err)
}
