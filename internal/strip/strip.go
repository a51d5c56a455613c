// Package strip removes a target subset of comment entities from text,
// leaving every other byte in place.
//
// The document is re-classified and re-parsed on each call, so targets are
// matched against what is actually in the text right now, by identity key
// (primary keys apply when both sides carry them) plus content equality.
// Entities physically present but not targeted — the sibling partition's
// comments, alwaysShow entities, anything else — are left untouched, as are
// file-spacing blank lines outside the parsed block boundaries.
package strip

import (
	"comment-vault/internal/comment"
	"comment-vault/internal/lex"
	"comment-vault/internal/markers"
	"comment-vault/internal/parse"
)

// Apply deletes exactly the targeted entities from text. Unknown file types
// return the text unchanged: no marker set, nothing to strip.
func Apply(text, fileType string, tbl *markers.Table, targets []comment.Entity) string {
	set, ok := tbl.Lookup(fileType)
	if !ok || set.Empty() || len(targets) == 0 {
		return text
	}

	live := parse.File(text, fileType, tbl)
	if len(live) == 0 {
		return text
	}

	lines, trailingNL := lex.SplitLines(text)
	cls := lex.Classify(lines, set)

	deleted := make(map[int]bool)
	replaced := make(map[int]string)

	for i := range live {
		cur := &live[i]
		if !targeted(cur, targets) {
			continue
		}
		switch cur.Kind {
		case comment.Inline:
			// Only the trailing segment goes; the code keeps its line with
			// trailing whitespace trimmed.
			replaced[cur.OriginalLineIndex] = cls[cur.OriginalLineIndex].Code
		default:
			for _, bl := range cur.Block {
				deleted[bl.OriginalLineIndex] = true
			}
		}
	}
	if len(deleted) == 0 && len(replaced) == 0 {
		return text
	}

	out := make([]string, 0, len(lines))
	for i, l := range lines {
		if deleted[i] {
			continue
		}
		if r, ok := replaced[i]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, l)
	}
	// Every line deleted: the file is empty, not a single blank line.
	if len(out) == 0 {
		return ""
	}
	return lex.JoinLines(out, trailingNL)
}

// targeted reports whether a live entity matches any target. AlwaysShow
// targets are never honored: those entities live in the text permanently.
func targeted(cur *comment.Entity, targets []comment.Entity) bool {
	for i := range targets {
		t := &targets[i]
		if t.AlwaysShow {
			continue
		}
		if comment.Same(cur, t) {
			return true
		}
		// A shadow-only or shadow-edited entity is present in the text in
		// its shadow rendering; match that form too.
		if s, ok := t.Shadow(); ok && keysMatch(cur, t) && cur.Content() == s {
			return true
		}
	}
	return false
}

func keysMatch(a, b *comment.Entity) bool {
	if a.HasPrimary() && b.HasPrimary() {
		return a.PrimaryKey() == b.PrimaryKey()
	}
	return a.Key() == b.Key()
}
