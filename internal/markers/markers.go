// Package markers holds the comment-delimiter table: a mapping from file
// extension to the ordered list of line and block comment markers that the
// classifier and parser recognize for that file type.
//
// The table ships with built-in defaults covering the common languages and
// can be extended or overridden from a YAML file (see Load). Lookup
// normalization follows the usual rules:
//   - Case-insensitive
//   - Accepts with or without leading '.' (".java" or "java")
package markers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BlockPair is a paired block-comment delimiter, e.g. {"/*", "*/"}.
type BlockPair struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Set is the ordered delimiter set for one file type. Line markers are tried
// in order, so longer markers must precede their prefixes (e.g. "///" before
// "//") when both are listed.
type Set struct {
	Line  []string    `yaml:"lineMarkers"`
	Block []BlockPair `yaml:"blockMarkers"`
}

// Empty reports whether the set recognizes no markers at all.
func (s Set) Empty() bool { return len(s.Line) == 0 && len(s.Block) == 0 }

// Table maps normalized file extensions to their delimiter sets.
type Table struct {
	byExt map[string]Set
}

var (
	cSet      = Set{Line: []string{"//"}, Block: []BlockPair{{Start: "/*", End: "*/"}}}
	hashSet   = Set{Line: []string{"#"}}
	pySet     = Set{Line: []string{"#"}, Block: []BlockPair{{Start: `"""`, End: `"""`}, {Start: "'''", End: "'''"}}}
	luaSet    = Set{Line: []string{"--"}, Block: []BlockPair{{Start: "--[[", End: "]]"}}}
	sqlSet    = Set{Line: []string{"--"}, Block: []BlockPair{{Start: "/*", End: "*/"}}}
	htmlSet   = Set{Block: []BlockPair{{Start: "<!--", End: "-->"}}}
	ocamlSet  = Set{Block: []BlockPair{{Start: "(*", End: "*)"}}}
	matlabSet = Set{Line: []string{"%"}, Block: []BlockPair{{Start: "%{", End: "%}"}}}
)

// Default returns the built-in marker table.
func Default() *Table {
	t := &Table{byExt: make(map[string]Set, 48)}
	add := func(set Set, exts ...string) {
		for _, e := range exts {
			t.byExt[e] = set
		}
	}
	add(cSet, ".go", ".c", ".h", ".cpp", ".cc", ".cxx", ".hpp", ".hh",
		".java", ".kt", ".kts", ".cs", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs",
		".rs", ".swift", ".scala", ".groovy", ".php", ".dart", ".proto", ".gradle")
	add(hashSet, ".sh", ".bash", ".zsh", ".rb", ".pl", ".yaml", ".yml", ".toml",
		".tf", ".mk", ".dockerfile", ".ex", ".exs", ".r")
	add(pySet, ".py", ".pyi")
	add(luaSet, ".lua")
	add(sqlSet, ".sql")
	add(htmlSet, ".html", ".htm", ".xml", ".svg", ".md", ".vue")
	add(ocamlSet, ".ml", ".mli")
	add(matlabSet, ".m")
	return t
}

// Lookup resolves the delimiter set for a file type (an extension, with or
// without the leading dot). The second return is false when the file type is
// unknown, in which case callers treat the file as having no comments.
func (t *Table) Lookup(fileType string) (Set, bool) {
	s, ok := t.byExt[NormalizeExt(fileType)]
	return s, ok
}

// NormalizeExt lowercases an extension and ensures the leading dot.
func NormalizeExt(ext string) string {
	e := strings.TrimSpace(strings.ToLower(ext))
	if e == "" {
		return ""
	}
	if e[0] != '.' {
		e = "." + e
	}
	return e
}

// overrideFile is the YAML shape of a marker override file:
//
//	markers:
//	  .zig:
//	    lineMarkers: ["//"]
//	  .hs:
//	    lineMarkers: ["--"]
//	    blockMarkers:
//	      - {start: "{-", end: "-}"}
type overrideFile struct {
	Markers map[string]Set `yaml:"markers"`
}

// Load reads a YAML override file and merges it over the defaults. Entries
// replace the built-in set for their extension wholesale; unknown extensions
// are added. A missing path is not an error (defaults are returned).
func Load(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read markers config: %w", err)
	}
	var of overrideFile
	if err := yaml.Unmarshal(b, &of); err != nil {
		return nil, fmt.Errorf("parse markers config: %w", err)
	}
	for ext, set := range of.Markers {
		t.byExt[NormalizeExt(ext)] = set
	}
	return t, nil
}
