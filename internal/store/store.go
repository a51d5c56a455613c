// Package store persists comment documents under the vault directory.
//
// Layout, rooted at the project directory:
//
//	<root>/.comment-vault/shared/<relpath>.json
//	<root>/.comment-vault/private/<relpath>.json
//
// One JSON document per (source file, partition) pair. Writes are atomic:
// the document is written to a temporary file in the target directory and
// renamed into place, so readers never observe a partial write. A document
// whose comment list becomes empty is removed from disk rather than saved.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"comment-vault/internal/comment"
)

// DefaultDirName is the vault directory created under the project root.
const DefaultDirName = ".comment-vault"

const docExt = ".json"

// Partition selects one of the two stores kept per source file.
type Partition int

const (
	Shared Partition = iota
	Private
)

func (p Partition) String() string {
	if p == Private {
		return "private"
	}
	return "shared"
}

// Document is the on-disk unit: every persisted entity of one source file
// in one partition.
type Document struct {
	File         string           `json:"file"`
	LastModified string           `json:"lastModified"`
	Comments     []comment.Entity `json:"comments"`
}

// Touch stamps the document with the current UTC time.
func (d *Document) Touch() {
	d.LastModified = time.Now().UTC().Format(time.RFC3339)
}

// Vault is a handle on one project's comment stores.
type Vault struct {
	root string
	dir  string
	log  zerolog.Logger
}

// Open returns a vault rooted at the project directory. dirName overrides
// the vault directory name; empty selects DefaultDirName. Nothing is
// created on disk until the first Save.
func Open(root, dirName string, log zerolog.Logger) *Vault {
	if dirName == "" {
		dirName = DefaultDirName
	}
	return &Vault{root: root, dir: dirName, log: log}
}

// Dir returns the vault directory path.
func (v *Vault) Dir() string { return filepath.Join(v.root, v.dir) }

// DirName returns the bare vault directory name, for walk exclusions.
func (v *Vault) DirName() string { return v.dir }

// Path returns the document path for a project-relative source file.
func (v *Vault) Path(rel string, p Partition) (string, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.Dir(), p.String(), filepath.FromSlash(clean)+docExt), nil
}

// Load reads the document for one (file, partition) pair. A missing
// document returns (nil, nil) so callers can treat it as "no stored
// comments" without branching on errors. A document that fails to decode
// is logged and treated as absent; the next Save replaces it.
func (v *Vault) Load(rel string, p Partition) (*Document, error) {
	path, err := v.Path(rel, p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		v.log.Warn().Str("path", path).Err(err).
			Msg("discarding undecodable vault document")
		return nil, nil
	}
	return &d, nil
}

// Save writes the document atomically. A document with no comments is
// deleted instead; deleting an absent document is not an error.
func (v *Vault) Save(rel string, p Partition, d *Document) error {
	path, err := v.Path(rel, p)
	if err != nil {
		return err
	}
	if d == nil || len(d.Comments) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
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

// List returns the project-relative source paths that have a document in
// the partition, in slash form. An absent partition directory yields an
// empty list.
func (v *Vault) List(p Partition) ([]string, error) {
	base := filepath.Join(v.Dir(), p.String())
	var out []string
	err := filepath.WalkDir(base, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || !strings.HasSuffix(path, docExt) {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(strings.TrimSuffix(rel, docExt)))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// Clear removes the whole vault directory. Safe when it does not exist.
func (v *Vault) Clear() error {
	if _, err := os.Stat(v.Dir()); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(v.Dir())
}

// cleanRel validates a project-relative path and normalizes it to slash
// form. Absolute paths and paths escaping the project root are rejected.
func cleanRel(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("empty source path")
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("source path escapes project root: %q", rel)
	}
	return clean, nil
}
