// Package watch drives reconciliation from filesystem events. Every write
// to a managed source file schedules a debounced reconcile, so rapid
// successive saves coalesce into one pass over the final content and a
// reconcile superseded while pending is discarded rather than run stale.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"comment-vault/internal/markers"
	"comment-vault/internal/walk"
)

// DefaultDebounce is the settle window after the last write event.
const DefaultDebounce = 200 * time.Millisecond

// Reconciler is the save-event entry point the watcher drives. The engine
// satisfies it; tests substitute a recorder.
type Reconciler interface {
	Reconcile(rel string) error
}

// Options filters which files the watcher manages.
type Options struct {
	Debounce     time.Duration
	Include      []string
	Exclude      []string
	ExcludeDirs  map[string]struct{}
	VaultDir     string
	UseGitignore bool
	Types        *markers.Table
}

// Watcher owns one fsnotify instance over a project tree.
type Watcher struct {
	root    string
	rec     Reconciler
	opts    Options
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	ignore  *walk.Ignore
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	seq    map[string]uint64
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// New validates the options and prepares a watcher. Start begins
// delivering events.
func New(root string, rec Reconciler, opts Options, log zerolog.Logger) (*Watcher, error) {
	for _, pat := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		root:   abs,
		rec:    rec,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		seq:    make(map[string]uint64),
		timers: make(map[string]*time.Timer),
	}
	if opts.UseGitignore {
		w.ignore = walk.LoadGitignore(abs)
	}
	return w, nil
}

// Start registers every directory under the root and launches the event
// loop. fsnotify watches are not recursive, so directories created later
// are added as their create events arrive.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, ok := w.relative(path)
		if !ok {
			return nil
		}
		if rel != "." && w.skipDir(rel) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch tree: %w", err)
	}

	w.wg.Add(1)
	go w.loop()
	w.log.Info().Str("root", w.root).Msg("watching")
	return nil
}

// Close stops the event loop and waits for in-flight reconciles.
func (w *Watcher) Close() error {
	w.cancel()
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.mu.Lock()
	for rel, t := range w.timers {
		t.Stop()
		delete(w.timers, rel)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, ok := w.relative(event.Name)
	if !ok {
		return
	}
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".tmp-") {
		return
	}
	if event.Op&fsnotify.Create != 0 && isDir(event.Name) {
		// A freshly created directory needs its own watch.
		if !w.skipDir(rel) {
			_ = w.watcher.Add(event.Name)
		}
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !w.admit(rel) {
		return
	}
	w.schedule(rel)
}

// schedule debounces one file's reconcile. Each event bumps the file's
// sequence number; a fire whose number is stale was superseded and does
// nothing.
func (w *Watcher) schedule(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq[rel]++
	n := w.seq[rel]
	if t, ok := w.timers[rel]; ok {
		t.Stop()
	}
	w.timers[rel] = time.AfterFunc(w.opts.Debounce, func() {
		w.fire(rel, n)
	})
}

func (w *Watcher) fire(rel string, n uint64) {
	w.mu.Lock()
	if w.seq[rel] != n || w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	delete(w.timers, rel)
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	if err := w.rec.Reconcile(rel); err != nil {
		w.log.Error().Str("file", rel).Err(err).Msg("reconcile failed")
		return
	}
	w.log.Debug().Str("file", rel).Msg("reconciled")
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (w *Watcher) skipDir(rel string) bool {
	base := filepath.Base(rel)
	if base == w.opts.VaultDir && w.opts.VaultDir != "" {
		return true
	}
	if _, bad := w.opts.ExcludeDirs[base]; bad {
		return true
	}
	return w.ignore != nil && w.ignore.Match(rel, true)
}

func (w *Watcher) admit(rel string) bool {
	if w.opts.VaultDir != "" {
		if rel == w.opts.VaultDir || strings.HasPrefix(rel, w.opts.VaultDir+"/") {
			return false
		}
	}
	if w.ignore != nil && w.ignore.Match(rel, false) {
		return false
	}
	if w.opts.Types != nil {
		if _, ok := w.opts.Types.Lookup(filepath.Ext(rel)); !ok {
			return false
		}
	}
	for _, pat := range w.opts.Exclude {
		if doublestar.MatchUnvalidated(pat, rel) {
			return false
		}
	}
	if len(w.opts.Include) == 0 {
		return true
	}
	for _, pat := range w.opts.Include {
		if doublestar.MatchUnvalidated(pat, rel) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
