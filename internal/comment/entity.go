// Package comment defines the comment entity model: the unit of identity
// and persistence for everything the engine strips, injects and reconciles.
//
// An entity is keyed by content-derived hashes, never by line numbers:
//
//   - Anchor    : hash of the comment-stripped code line the entity sits
//     above (standalone) or on (inline).
//   - PrevHash  : hash of the nearest preceding code line, "" at file start.
//   - NextHash  : hash of the nearest following code line, "" at file end.
//   - Primary*  : alternate fields used when 2+ comments stack above the
//     same code line; they reference the neighboring comment's own first or
//     last non-blank line so same-anchor siblings stay ordered and
//     individually re-anchorable.
//
// Line indices stored on entities are position hints from the snapshot the
// entity was last parsed from; they break ties, they are not identity.
package comment

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind discriminates the three entity shapes.
type Kind string

const (
	// Inline is a trailing comment sharing a line with code.
	Inline Kind = "inline"
	// Line is a standalone single-line comment in text form. Current parses
	// emit one-line Blocks instead; Line is accepted from older stores and
	// normalized during comparison.
	Line Kind = "line"
	// Block is a standalone comment: one line-marker line, a delimited
	// multi-line comment, or a synthetic block for a file-header run.
	Block Kind = "block"
)

// BlockLine is one line of a Block entity's content, verbatim.
type BlockLine struct {
	Text              string `json:"text"`
	OriginalLineIndex int    `json:"originalLineIndex"`
}

// Entity is a single persisted comment.
type Entity struct {
	Kind     Kind   `json:"kind"`
	Anchor   string `json:"anchor"`
	PrevHash string `json:"prevHash,omitempty"`
	NextHash string `json:"nextHash,omitempty"`

	PrimaryAnchor   string `json:"primaryAnchor,omitempty"`
	PrimaryPrevHash string `json:"primaryPrevHash,omitempty"`
	PrimaryNextHash string `json:"primaryNextHash,omitempty"`

	// Text carries the canonical content of Inline and Line entities;
	// Block carries Block. Content is verbatim, indentation and trailing
	// whitespace included.
	Text  string      `json:"text,omitempty"`
	Block []BlockLine `json:"block,omitempty"`

	// TextCleanMode is the shadow content: an edit captured while the
	// entity was hidden. Lines are joined with '\n' for Block entities.
	// nil means the live text matched the canonical content exactly.
	TextCleanMode *string `json:"textCleanMode,omitempty"`

	IsPrivate  bool `json:"isPrivate,omitempty"`
	AlwaysShow bool `json:"alwaysShow,omitempty"`

	SpacingBefore int `json:"spacingBefore,omitempty"`
	SpacingAfter  int `json:"spacingAfter,omitempty"`

	OriginalLineIndex int `json:"originalLineIndex"`
}

// HashLine returns the identity hash of one source line: sha256 of the
// whitespace-trimmed text, first 16 hex chars. A blank line hashes to ""
// which doubles as the "no such line" value at file boundaries.
func HashLine(line string) string {
	t := strings.TrimSpace(line)
	if t == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])[:16]
}

// ContentLines returns the canonical content as lines. Line entities
// normalize to their single text line.
func (e *Entity) ContentLines() []string {
	switch e.Kind {
	case Block:
		out := make([]string, len(e.Block))
		for i, b := range e.Block {
			out[i] = b.Text
		}
		return out
	default:
		if e.Text == "" {
			return nil
		}
		return []string{e.Text}
	}
}

// Content returns the canonical content joined with '\n'.
func (e *Entity) Content() string {
	return strings.Join(e.ContentLines(), "\n")
}

// HasContent reports whether the entity carries canonical content at all.
// Freshly captured clean-mode entities have only TextCleanMode.
func (e *Entity) HasContent() bool {
	return len(e.Block) > 0 || e.Text != ""
}

// FirstNonBlank returns the first non-blank content line ("" if none).
func (e *Entity) FirstNonBlank() string {
	for _, l := range e.ContentLines() {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

// LastNonBlank returns the last non-blank content line ("" if none).
func (e *Entity) LastNonBlank() string {
	lines := e.ContentLines()
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// SelfHash is the entity's own identity hash: the hash of its first
// non-blank content line, falling back to the whole content when every
// line is blank. Primary chains reference neighboring entities by this.
func (e *Entity) SelfHash() string {
	if l := e.FirstNonBlank(); l != "" {
		return HashLine(l)
	}
	return HashLine(e.Content())
}

// TailHash is the hash of the last non-blank content line, used when a
// following sibling anchors onto this entity.
func (e *Entity) TailHash() string {
	if l := e.LastNonBlank(); l != "" {
		return HashLine(l)
	}
	return HashLine(e.Content())
}

// Shadow returns the shadow content and whether it is set.
func (e *Entity) Shadow() (string, bool) {
	if e.TextCleanMode == nil {
		return "", false
	}
	return *e.TextCleanMode, true
}

// SetShadow records shadow content; ClearShadow removes it.
func (e *Entity) SetShadow(s string) { e.TextCleanMode = &s }
func (e *Entity) ClearShadow()       { e.TextCleanMode = nil }

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() Entity {
	c := *e
	if e.Block != nil {
		c.Block = make([]BlockLine, len(e.Block))
		copy(c.Block, e.Block)
	}
	if e.TextCleanMode != nil {
		s := *e.TextCleanMode
		c.TextCleanMode = &s
	}
	return c
}
