// Package walk provides a deterministic, filterable filesystem walker used
// to gather the source files whose comments the engine manages.
package walk

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"comment-vault/internal/markers"
)

// FileInfo is a minimal, deterministic descriptor of a collected file.
type FileInfo struct {
	RelPath string // project-relative path with forward slashes
	AbsPath string // absolute filesystem path
	Ext     string // lowercase extension including dot (e.g., ".py")
}

// Options filters a walk. Include and Exclude are doublestar patterns
// matched against the project-relative slash path; an empty Include list
// admits every file whose extension has a marker set.
type Options struct {
	Include        []string
	Exclude        []string
	ExcludeDirs    map[string]struct{}
	VaultDir       string
	MaxFileBytes   int64
	UseGitignore   bool
	FollowSymlinks bool
	Types          *markers.Table
}

// DefaultExcludeDirs are directory basenames skipped on every walk.
func DefaultExcludeDirs() map[string]struct{} {
	return map[string]struct{}{
		".git":         {},
		".hg":          {},
		".svn":         {},
		"node_modules": {},
		"vendor":       {},
	}
}

type walkState struct {
	opts   Options
	root   string
	ignore *Ignore
	files  []FileInfo
}

// Collect walks root and returns matching files sorted by relative path.
func Collect(root string, opts Options) ([]FileInfo, error) {
	for _, pat := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	state := &walkState{opts: opts, root: abs}
	if opts.UseGitignore {
		state.ignore = LoadGitignore(abs)
	}
	if err := filepath.WalkDir(abs, state.visit); err != nil {
		return nil, err
	}
	sort.Slice(state.files, func(i, j int) bool {
		return state.files[i].RelPath < state.files[j].RelPath
	})
	return state.files, nil
}

func (ws *walkState) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return nil
	}
	rel, ok := ws.relative(path)
	if !ok || rel == "." {
		return nil
	}
	if ws.shouldSkip(rel, d) {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if d.IsDir() {
		if !ws.opts.FollowSymlinks && isSymlink(d) {
			return filepath.SkipDir
		}
		return nil
	}
	return ws.handleFile(path, rel, d)
}

func (ws *walkState) relative(path string) (string, bool) {
	rel, err := filepath.Rel(ws.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (ws *walkState) shouldSkip(rel string, d fs.DirEntry) bool {
	base := filepath.Base(rel)
	if d.IsDir() {
		if base == ws.opts.VaultDir && ws.opts.VaultDir != "" {
			return true
		}
		if _, bad := ws.opts.ExcludeDirs[base]; bad {
			return true
		}
	}
	for _, pat := range ws.opts.Exclude {
		if doublestar.MatchUnvalidated(pat, rel) {
			return true
		}
	}
	if ws.ignore != nil && ws.ignore.Match(rel, d.IsDir()) {
		return true
	}
	return false
}

func (ws *walkState) handleFile(path, rel string, d fs.DirEntry) error {
	if !ws.opts.FollowSymlinks && isSymlink(d) {
		return nil
	}
	info, err := d.Info()
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if ws.opts.MaxFileBytes > 0 && info.Size() > ws.opts.MaxFileBytes {
		return nil
	}
	if !ws.include(rel) {
		return nil
	}
	ws.files = append(ws.files, FileInfo{
		RelPath: rel,
		AbsPath: path,
		Ext:     strings.ToLower(filepath.Ext(path)),
	})
	return nil
}

// include admits a file when its extension has a marker set and, if
// include patterns are present, at least one of them matches.
func (ws *walkState) include(rel string) bool {
	if ws.opts.Types != nil {
		if _, ok := ws.opts.Types.Lookup(filepath.Ext(rel)); !ok {
			return false
		}
	}
	if len(ws.opts.Include) == 0 {
		return true
	}
	for _, pat := range ws.opts.Include {
		if doublestar.MatchUnvalidated(pat, rel) {
			return true
		}
	}
	return false
}

func isSymlink(d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

// ---------------- .gitignore support ----------------

// ignorePattern is one .gitignore line compiled to a doublestar pattern.
// Minimal support: '#' comments and blank lines ignored, '!' negation,
// leading '/' anchors to the root, trailing '/' restricts to directories,
// '**' crosses directories, '*' and '?' stay within one segment.
type ignorePattern struct {
	neg     bool
	dirOnly bool
	glob    string
}

// Ignore is a parsed .gitignore ready for path matching.
type Ignore struct {
	patterns []ignorePattern
}

// LoadGitignore reads root/.gitignore. A missing or unreadable file yields
// an empty set that matches nothing.
func LoadGitignore(root string) *Ignore {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return &Ignore{}
	}
	defer f.Close()
	var res []ignorePattern
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		neg := false
		if strings.HasPrefix(line, "!") {
			neg = true
			line = strings.TrimSpace(line[1:])
			if line == "" {
				continue
			}
		}
		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimSuffix(line, "/")
		if strings.HasPrefix(line, "/") {
			line = strings.TrimPrefix(line, "/")
		} else if !strings.Contains(line, "/") {
			// Unanchored single-segment patterns match at any depth.
			line = "**/" + line
		}
		if !doublestar.ValidatePattern(line) {
			continue
		}
		res = append(res, ignorePattern{neg: neg, dirOnly: dirOnly, glob: line})
	}
	return &Ignore{patterns: res}
}

// Match reports whether rel is ignored. Later lines override earlier ones,
// so negations are honored in file order.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	ignored := false
	for _, p := range ig.patterns {
		if p.dirOnly && !isDir {
			// A directory-only pattern still covers files beneath the
			// directory it names.
			if !doublestar.MatchUnvalidated(p.glob+"/**", rel) {
				continue
			}
		} else if !doublestar.MatchUnvalidated(p.glob, rel) {
			continue
		}
		ignored = !p.neg
	}
	return ignored
}
