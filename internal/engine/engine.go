// Package engine composes the core operations into the mode transitions a
// caller actually performs on a file: hide the comments (ToggleClean),
// bring them back (ToggleCommented), flip the private layer
// (TogglePrivate), and reconcile on save.
//
// The engine owns the keyed per-file mode state. There are no ambient
// globals; the state map lives in the vault directory and Reset clears it.
// All engine operations on one file are serialized by a per-file mutex,
// and each mode transition rewrites the document exactly once.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"comment-vault/internal/comment"
	"comment-vault/internal/inject"
	"comment-vault/internal/markers"
	"comment-vault/internal/parse"
	"comment-vault/internal/reconcile"
	"comment-vault/internal/store"
	"comment-vault/internal/strip"
)

const stateFileName = "state.json"

// ModeState tracks one file's rendered state between operations.
type ModeState struct {
	// Clean means the shared entities are stripped from the document.
	Clean bool `json:"clean,omitempty"`
	// PrivateHidden means the private entities are stripped.
	PrivateHidden bool `json:"privateHidden,omitempty"`
	// JustInjected marks the last rewrite as machine-generated, so the
	// next clean-mode reconcile must not read it as a user edit.
	JustInjected bool `json:"justInjected,omitempty"`
}

// Engine drives one project rooted at a directory.
type Engine struct {
	root   string
	vault  *store.Vault
	tbl    *markers.Table
	scorer inject.Scorer
	log    zerolog.Logger

	mu     sync.Mutex
	states map[string]ModeState
	locks  map[string]*sync.Mutex
	loaded bool
}

// New returns an engine over the project root.
func New(root string, vault *store.Vault, tbl *markers.Table, log zerolog.Logger) *Engine {
	return &Engine{
		root:   root,
		vault:  vault,
		tbl:    tbl,
		scorer: inject.NeighborScorer{},
		log:    log,
		states: make(map[string]ModeState),
		locks:  make(map[string]*sync.Mutex),
	}
}

// State returns the file's current mode state.
func (e *Engine) State(rel string) (ModeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureStates(); err != nil {
		return ModeState{}, err
	}
	return e.states[filepath.ToSlash(rel)], nil
}

// Reset clears every file's mode state, as on activation.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = make(map[string]ModeState)
	e.loaded = true
	path := filepath.Join(e.vault.Dir(), stateFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ToggleClean strips the shared comments out of the document. The current
// document content is reconciled into the stores first, so nothing typed
// in commented mode is lost. Already-clean files are a no-op.
func (e *Engine) ToggleClean(rel string) error {
	unlock := e.lockFile(rel)
	defer unlock()

	st, err := e.State(rel)
	if err != nil {
		return err
	}
	if st.Clean {
		e.log.Debug().Str("file", rel).Msg("already clean")
		return nil
	}
	text, mode, err := e.readFile(rel)
	if err != nil {
		return err
	}
	shared, err := e.reconcilePartition(rel, text, store.Shared, reconcile.Commented, false)
	if err != nil {
		return err
	}
	if !st.PrivateHidden {
		if _, err := e.reconcilePartition(rel, text, store.Private, reconcile.Commented, false); err != nil {
			return err
		}
	}
	next := strip.Apply(text, filepath.Ext(rel), e.tbl, shared.Comments)
	if err := e.writeFile(rel, text, next, mode); err != nil {
		return err
	}
	st.Clean = true
	st.JustInjected = true
	if err := e.setState(rel, st); err != nil {
		return err
	}
	e.log.Info().Str("file", rel).Int("hidden", len(shared.Comments)).Msg("shared comments hidden")
	return nil
}

// ToggleCommented injects the stored shared comments back into the
// document. Pending clean-mode edits are captured into shadows first.
// Already-commented files are a no-op.
func (e *Engine) ToggleCommented(rel string) error {
	unlock := e.lockFile(rel)
	defer unlock()

	st, err := e.State(rel)
	if err != nil {
		return err
	}
	if !st.Clean {
		e.log.Debug().Str("file", rel).Msg("already commented")
		return nil
	}
	text, mode, err := e.readFile(rel)
	if err != nil {
		return err
	}
	shared, err := e.reconcilePartition(rel, text, store.Shared, reconcile.Clean, st.JustInjected)
	if err != nil {
		return err
	}
	if !st.PrivateHidden {
		if _, err := e.reconcilePartition(rel, text, store.Private, reconcile.Clean, st.JustInjected); err != nil {
			return err
		}
	}
	// Strip first so live shadow renderings of stored entities are not
	// duplicated next to their re-injected form.
	cleanText := strip.Apply(text, filepath.Ext(rel), e.tbl, shared.Comments)
	next, res := inject.Apply(cleanText, filepath.Ext(rel), e.tbl, shared.Comments, inject.Options{
		IncludeShared: true,
		Scorer:        e.scorer,
	})
	e.logInject(rel, res)
	if err := e.writeFile(rel, text, next, mode); err != nil {
		return err
	}
	st.Clean = false
	st.JustInjected = true
	if err := e.setState(rel, st); err != nil {
		return err
	}
	e.log.Info().Str("file", rel).Int("injected", res.Injected).Msg("shared comments shown")
	return nil
}

// TogglePrivate flips the private layer's visibility in the document.
func (e *Engine) TogglePrivate(rel string) error {
	unlock := e.lockFile(rel)
	defer unlock()

	st, err := e.State(rel)
	if err != nil {
		return err
	}
	text, mode, err := e.readFile(rel)
	if err != nil {
		return err
	}
	sharedMode := modeFor(st.Clean)

	if st.PrivateHidden {
		// Capture any pending shared edits, then bring the layer back.
		if _, err := e.reconcilePartition(rel, text, store.Shared, sharedMode, st.JustInjected); err != nil {
			return err
		}
		priv, err := e.loadComments(rel, store.Private)
		if err != nil {
			return err
		}
		cleanText := strip.Apply(text, filepath.Ext(rel), e.tbl, priv)
		next, res := inject.Apply(cleanText, filepath.Ext(rel), e.tbl, priv, inject.Options{
			IncludePrivate: true,
			Scorer:         e.scorer,
		})
		e.logInject(rel, res)
		if err := e.writeFile(rel, text, next, mode); err != nil {
			return err
		}
		st.PrivateHidden = false
		st.JustInjected = true
		if err := e.setState(rel, st); err != nil {
			return err
		}
		e.log.Info().Str("file", rel).Int("injected", res.Injected).Msg("private comments shown")
		return nil
	}

	priv, err := e.reconcilePartition(rel, text, store.Private, sharedMode, st.JustInjected)
	if err != nil {
		return err
	}
	next := strip.Apply(text, filepath.Ext(rel), e.tbl, priv.Comments)
	if err := e.writeFile(rel, text, next, mode); err != nil {
		return err
	}
	st.PrivateHidden = true
	st.JustInjected = true
	if err := e.setState(rel, st); err != nil {
		return err
	}
	e.log.Info().Str("file", rel).Int("hidden", len(priv.Comments)).Msg("private comments hidden")
	return nil
}

// Reconcile is the save-event entry point: the document content is merged
// into every partition whose entities are currently visible, plus the
// shared store in clean mode (shadow capture and revert-on-delete).
func (e *Engine) Reconcile(rel string) error {
	unlock := e.lockFile(rel)
	defer unlock()

	st, err := e.State(rel)
	if err != nil {
		return err
	}
	text, _, err := e.readFile(rel)
	if err != nil {
		return err
	}
	sharedMode := modeFor(st.Clean)
	if _, err := e.reconcilePartition(rel, text, store.Shared, sharedMode, st.JustInjected); err != nil {
		return err
	}
	if !st.PrivateHidden {
		if _, err := e.reconcilePartition(rel, text, store.Private, sharedMode, st.JustInjected); err != nil {
			return err
		}
	}
	if st.JustInjected {
		st.JustInjected = false
		if err := e.setState(rel, st); err != nil {
			return err
		}
	}
	return nil
}

// SetPrivate moves the comment at the given zero-based document line into
// the private partition, or back into shared. The document is reconciled
// first so the stores reflect the current content.
func (e *Engine) SetPrivate(rel string, line int, private bool) error {
	unlock := e.lockFile(rel)
	defer unlock()

	st, err := e.State(rel)
	if err != nil {
		return err
	}
	// The source partition must be visible: line numbers refer to the
	// buffer, and stored indices only match it while the entities are in.
	if private && st.Clean {
		return fmt.Errorf("%s: comments are hidden, show them before marking", rel)
	}
	if !private && st.PrivateHidden {
		return fmt.Errorf("%s: private comments are hidden, show them before unmarking", rel)
	}
	text, _, err := e.readFile(rel)
	if err != nil {
		return err
	}
	sharedMode := modeFor(st.Clean)
	fromDoc, err := e.reconcilePartition(rel, text, partitionOf(!private), sharedMode, st.JustInjected)
	if err != nil {
		return err
	}
	toDoc, err := e.vault.Load(rel, partitionOf(private))
	if err != nil {
		return err
	}
	if toDoc == nil {
		toDoc = &store.Document{File: filepath.ToSlash(rel)}
	}

	idx := entityAtLine(fromDoc.Comments, line)
	if idx < 0 {
		return fmt.Errorf("%s: no %s comment at line %d", rel, partitionOf(!private), line)
	}
	ent := fromDoc.Comments[idx]
	ent.IsPrivate = private
	fromDoc.Comments = append(fromDoc.Comments[:idx], fromDoc.Comments[idx+1:]...)
	toDoc.Comments = append(toDoc.Comments, ent)

	fromDoc.Touch()
	toDoc.Touch()
	if err := e.vault.Save(rel, partitionOf(!private), fromDoc); err != nil {
		return err
	}
	if err := e.vault.Save(rel, partitionOf(private), toDoc); err != nil {
		return err
	}
	e.log.Info().Str("file", rel).Int("line", line).Bool("private", private).Msg("comment moved across partitions")
	return nil
}

func partitionOf(private bool) store.Partition {
	if private {
		return store.Private
	}
	return store.Shared
}

// entityAtLine finds the entity whose content covers a document line.
func entityAtLine(entities []comment.Entity, line int) int {
	for i := range entities {
		e := &entities[i]
		if e.OriginalLineIndex == line {
			return i
		}
		for _, b := range e.Block {
			if b.OriginalLineIndex == line {
				return i
			}
		}
	}
	return -1
}

// Render returns the document's current content and what the next toggle
// would rewrite it to, without touching the stores or the file. Clean
// files preview the show, commented files preview the hide.
func (e *Engine) Render(rel string) (current, next string, err error) {
	unlock := e.lockFile(rel)
	defer unlock()

	st, err := e.State(rel)
	if err != nil {
		return "", "", err
	}
	text, _, err := e.readFile(rel)
	if err != nil {
		return "", "", err
	}
	live := parse.File(text, filepath.Ext(rel), e.tbl)
	stored, err := e.loadComments(rel, store.Shared)
	if err != nil {
		return "", "", err
	}
	sibling, err := e.loadComments(rel, store.Private)
	if err != nil {
		return "", "", err
	}
	merged, err := reconcile.Run(modeFor(st.Clean), live, stored, sibling, reconcile.Options{
		JustInjected: st.JustInjected,
	})
	if err != nil {
		return "", "", err
	}
	if st.Clean {
		cleanText := strip.Apply(text, filepath.Ext(rel), e.tbl, merged)
		next, _ = inject.Apply(cleanText, filepath.Ext(rel), e.tbl, merged, inject.Options{
			IncludeShared: true,
			Scorer:        e.scorer,
		})
	} else {
		next = strip.Apply(text, filepath.Ext(rel), e.tbl, merged)
	}
	return text, next, nil
}

func modeFor(clean bool) reconcile.Mode {
	if clean {
		return reconcile.Clean
	}
	return reconcile.Commented
}

// reconcilePartition merges the document into one partition's store and
// persists the result.
func (e *Engine) reconcilePartition(rel, text string, p store.Partition, mode reconcile.Mode, justInjected bool) (*store.Document, error) {
	live := parse.File(text, filepath.Ext(rel), e.tbl)
	stored, err := e.loadComments(rel, p)
	if err != nil {
		return nil, err
	}
	sibling, err := e.loadComments(rel, siblingOf(p))
	if err != nil {
		return nil, err
	}
	merged, err := reconcile.Run(mode, live, stored, sibling, reconcile.Options{
		PrivatePartition: p == store.Private,
		JustInjected:     justInjected,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s (%s, %s): %w", rel, p, mode, err)
	}
	doc := &store.Document{File: filepath.ToSlash(rel), Comments: merged}
	doc.Touch()
	if err := e.vault.Save(rel, p, doc); err != nil {
		return nil, err
	}
	e.log.Debug().
		Str("file", rel).
		Stringer("partition", p).
		Stringer("mode", mode).
		Int("stored", len(stored)).
		Int("merged", len(merged)).
		Msg("partition reconciled")
	return doc, nil
}

func siblingOf(p store.Partition) store.Partition {
	if p == store.Private {
		return store.Shared
	}
	return store.Private
}

func (e *Engine) loadComments(rel string, p store.Partition) ([]comment.Entity, error) {
	doc, err := e.vault.Load(rel, p)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.Comments, nil
}

func (e *Engine) logInject(rel string, res inject.Result) {
	// Vanished anchors are expected after code deletions; the entity is
	// dropped from the rendering, not from the store.
	for _, d := range res.Dropped {
		e.log.Debug().Str("file", rel).Str("anchor", d.Anchor).Str("content", d.Content()).
			Msg("entity without a resolvable anchor")
	}
	if res.Skipped > 0 {
		e.log.Debug().Str("file", rel).Int("skipped", res.Skipped).Msg("entities already present")
	}
}

// ---------------- file and state I/O ----------------

func (e *Engine) readFile(rel string) (string, os.FileMode, error) {
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return "", 0, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", 0, err
	}
	return string(b), info.Mode().Perm(), nil
}

// writeFile atomically replaces the document when the rewrite changed it.
func (e *Engine) writeFile(rel, prev, next string, mode os.FileMode) error {
	if next == prev {
		return nil
	}
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	dir := filepath.Dir(abs)
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(abs)+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.WriteString(next); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, abs)
}

func (e *Engine) lockFile(rel string) func() {
	key := filepath.ToSlash(rel)
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ensureStates lazily loads the state map. Callers hold e.mu.
func (e *Engine) ensureStates() error {
	if e.loaded {
		return nil
	}
	path := filepath.Join(e.vault.Dir(), stateFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		e.loaded = true
		return nil
	}
	var m map[string]ModeState
	if err := json.Unmarshal(b, &m); err != nil {
		e.log.Warn().Str("path", path).Err(err).Msg("discarding undecodable state file")
		m = nil
	}
	if m != nil {
		e.states = m
	}
	e.loaded = true
	return nil
}

func (e *Engine) setState(rel string, st ModeState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureStates(); err != nil {
		return err
	}
	e.states[filepath.ToSlash(rel)] = st

	if err := os.MkdirAll(e.vault.Dir(), 0o755); err != nil {
		return err
	}
	path := filepath.Join(e.vault.Dir(), stateFileName)
	f, err := os.CreateTemp(e.vault.Dir(), ".tmp-"+stateFileName+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.states); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
