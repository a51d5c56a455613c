// Package lex classifies raw source lines against a marker set.
//
// It is a line-state scanner, not a lexer for the host language: block
// comment state (including nesting for asymmetric delimiters) is tracked
// across lines, and trailing inline comments are detected by the
// whitespace-preceded-marker rule. Comment markers inside string literals
// are not special-cased; that is a documented limitation of this scanner,
// not an oversight, and the tests pin the behavior.
package lex

import (
	"strings"

	"comment-vault/internal/markers"
)

// Kind is the classification of a single line.
type Kind int

const (
	Blank Kind = iota
	Code
	Comment    // standalone line comment, or a block comment contained in one line
	BlockOpen  // opens a multi-line block comment
	BlockInner // interior of a multi-line block comment
	BlockClose // closes a multi-line block comment
)

// Line is one classified source line.
type Line struct {
	Index int
	Text  string
	Kind  Kind

	// Code is the comment-stripped projection of a Code line: the text with
	// any trailing inline comment removed and right-trimmed. For non-code
	// lines it is empty. This is the content that line hashes are built from.
	Code string

	// Inline is the verbatim trailing comment of a Code line, including the
	// whitespace run separating it from the code. Empty when absent.
	Inline string
}

// HasInline reports whether a code line carries a trailing comment.
func (l Line) HasInline() bool { return l.Inline != "" }

// SplitLines splits text into lines, reporting whether the text ended with a
// newline so callers can rebuild it byte-exactly with JoinLines.
func SplitLines(text string) ([]string, bool) {
	if text == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(text, "\n")
	if trailing {
		text = text[:len(text)-1]
	}
	return strings.Split(text, "\n"), trailing
}

// JoinLines is the inverse of SplitLines.
func JoinLines(lines []string, trailingNewline bool) string {
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}

type blockState struct {
	active bool
	pair   markers.BlockPair
	depth  int
}

// Classify walks lines once and assigns a Kind to each, tracking block
// comment state across lines.
func Classify(lines []string, set markers.Set) []Line {
	out := make([]Line, len(lines))
	var st blockState

	for i, text := range lines {
		ln := Line{Index: i, Text: text}

		if st.active {
			if closeBlockOnLine(text, &st) {
				ln.Kind = BlockClose
			} else {
				ln.Kind = BlockInner
			}
			out[i] = ln
			continue
		}

		trimmed := strings.TrimSpace(text)
		switch {
		case trimmed == "":
			ln.Kind = Blank
		case startsBlock(trimmed, set, &st):
			if st.active {
				ln.Kind = BlockOpen
			} else {
				// Block opened and closed within this line.
				ln.Kind = Comment
			}
		case startsLineComment(trimmed, set):
			ln.Kind = Comment
		default:
			ln.Kind = Code
			ln.Code, ln.Inline = splitInline(text, set)
		}
		out[i] = ln
	}
	return out
}

// startsBlock reports whether trimmed opens a block comment. When it does and
// the block is not closed on the same line, st is armed for the following
// lines. A block that opens and closes on one line (with nothing but
// whitespace after the close) leaves st inactive.
func startsBlock(trimmed string, set markers.Set, st *blockState) bool {
	for _, p := range set.Block {
		if p.Start == "" || !strings.HasPrefix(trimmed, p.Start) {
			continue
		}
		rest := trimmed[len(p.Start):]
		if end, ok := scanBlockEnd(rest, p, 1); ok {
			if strings.TrimSpace(rest[end:]) == "" {
				return true // self-contained comment line
			}
			// Code follows the close on the same line; not modeled as a
			// comment-only line, fall through to other pairs.
			continue
		}
		st.active = true
		st.pair = p
		st.depth = residualDepth(rest, p, 1)
		return true
	}
	return false
}

// closeBlockOnLine advances block state through one interior line, returning
// true when the block closes on it.
func closeBlockOnLine(text string, st *blockState) bool {
	if _, ok := scanBlockEnd(text, st.pair, st.depth); ok {
		st.active = false
		st.depth = 0
		return true
	}
	st.depth = residualDepth(text, st.pair, st.depth)
	return false
}

// scanBlockEnd scans s for the close of a block comment entered at depth.
// Asymmetric pairs nest (each Start increments depth); symmetric pairs
// (Start == End, e.g. Python triple quotes) cannot nest. Returns the byte
// offset just past the closing delimiter when the block closes within s.
func scanBlockEnd(s string, p markers.BlockPair, depth int) (int, bool) {
	nests := p.Start != p.End
	for j := 0; j < len(s); {
		if nests && strings.HasPrefix(s[j:], p.Start) {
			depth++
			j += len(p.Start)
			continue
		}
		if strings.HasPrefix(s[j:], p.End) {
			depth--
			j += len(p.End)
			if depth == 0 {
				return j, true
			}
			continue
		}
		j++
	}
	return 0, false
}

// residualDepth returns the nesting depth after scanning s without closing.
func residualDepth(s string, p markers.BlockPair, depth int) int {
	nests := p.Start != p.End
	for j := 0; j < len(s); {
		if nests && strings.HasPrefix(s[j:], p.Start) {
			depth++
			j += len(p.Start)
			continue
		}
		if strings.HasPrefix(s[j:], p.End) {
			if depth > 1 {
				depth--
			}
			j += len(p.End)
			continue
		}
		j++
	}
	return depth
}

// startsLineComment reports whether trimmed begins with a line marker.
func startsLineComment(trimmed string, set markers.Set) bool {
	for _, m := range set.Line {
		if m != "" && strings.HasPrefix(trimmed, m) {
			return true
		}
	}
	return false
}

// splitInline splits a code line into its code part and trailing comment.
// A trailing comment starts at the earliest marker that is preceded by a
// space or tab; the returned comment includes that whitespace run so the
// original line is code + comment, byte for byte. Both a line marker and a
// block pair whose close sits at end of line qualify.
func splitInline(text string, set markers.Set) (code, inline string) {
	at := -1
	for _, m := range set.Line {
		if i := markerIndex(text, m); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	for _, p := range set.Block {
		i := markerIndex(text, p.Start)
		if i < 0 || (at >= 0 && i >= at) {
			continue
		}
		rest := text[i+len(p.Start):]
		if end, ok := scanBlockEnd(rest, p, 1); ok && strings.TrimSpace(rest[end:]) == "" {
			at = i
		}
	}
	if at < 0 {
		return text, ""
	}
	codeEnd := len(strings.TrimRight(text[:at], " \t"))
	if strings.TrimSpace(text[:codeEnd]) == "" {
		// Nothing but whitespace before the marker; the caller classified
		// this as Code, so keep it intact.
		return text, ""
	}
	return text[:codeEnd], text[codeEnd:]
}

// markerIndex finds the earliest whitespace-preceded occurrence of marker.
func markerIndex(text, marker string) int {
	if marker == "" {
		return -1
	}
	from := 0
	for {
		i := strings.Index(text[from:], marker)
		if i < 0 {
			return -1
		}
		i += from
		if i > 0 && (text[i-1] == ' ' || text[i-1] == '\t') {
			return i
		}
		from = i + 1
	}
}
