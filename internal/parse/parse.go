// Package parse turns raw source text into the ordered list of comment
// entities it contains.
//
// One pass over the classified lines emits entities in document order with
// their content-derived anchors (see internal/comment); a second pass
// assigns primary-chain fields to contiguous same-anchor runs so stacked
// siblings can be ordered and re-anchored individually.
//
// Special cases handled here:
//   - Delimited blocks keep every interior line, blank ones included.
//   - A header comment (nothing but the comment before the first code line)
//     absorbs the blank lines trailing it, preserving the gap between the
//     header and the first code line across strip/inject cycles.
//   - Unterminated blocks run to end of file.
package parse

import (
	"comment-vault/internal/comment"
	"comment-vault/internal/lex"
	"comment-vault/internal/markers"
)

// File parses text for the given file type. Unknown file types parse to nil:
// with no marker set there are no recognizable comments.
func File(text, fileType string, tbl *markers.Table) []comment.Entity {
	set, ok := tbl.Lookup(fileType)
	if !ok || set.Empty() {
		return nil
	}
	lines, _ := lex.SplitLines(text)
	return fromLines(lex.Classify(lines, set))
}

// fromLines builds entities from classified lines.
func fromLines(cls []lex.Line) []comment.Entity {
	prevH, nextH := codeNeighborHashes(cls)

	var (
		entities []comment.Entity
		// unit end line per standalone entity, parallel to entities, used
		// by the primary-chain pass to test run contiguity.
		unitEnd []int
	)

	for i := 0; i < len(cls); {
		switch cls[i].Kind {
		case lex.Comment:
			e := standalone(cls, i, i, prevH, nextH)
			entities = append(entities, e)
			unitEnd = append(unitEnd, lastContentLine(e))
			i++
		case lex.BlockOpen:
			j := i
			for j+1 < len(cls) && cls[j].Kind != lex.BlockClose {
				j++
			}
			e := standalone(cls, i, j, prevH, nextH)
			entities = append(entities, e)
			unitEnd = append(unitEnd, lastContentLine(e))
			i = j + 1
		case lex.Code:
			if cls[i].HasInline() {
				entities = append(entities, inlineEntity(cls, i, prevH, nextH))
				unitEnd = append(unitEnd, i)
			}
			i++
		default:
			i++
		}
	}

	assignPrimaryChains(entities, unitEnd)
	return entities
}

// codeNeighborHashes precomputes, for every line index, the hash of the
// nearest code line strictly above (prevH) and strictly below (nextH).
func codeNeighborHashes(cls []lex.Line) (prevH, nextH []string) {
	n := len(cls)
	prevH = make([]string, n)
	nextH = make([]string, n)
	last := ""
	for i := 0; i < n; i++ {
		prevH[i] = last
		if cls[i].Kind == lex.Code {
			last = comment.HashLine(cls[i].Code)
		}
	}
	last = ""
	for i := n - 1; i >= 0; i-- {
		nextH[i] = last
		if cls[i].Kind == lex.Code {
			last = comment.HashLine(cls[i].Code)
		}
	}
	return prevH, nextH
}

// standalone emits a Block entity for the comment spanning lines s..e.
func standalone(cls []lex.Line, s, e int, prevH, nextH []string) comment.Entity {
	ent := comment.Entity{
		Kind:              comment.Block,
		Anchor:            nextH[e],
		PrevHash:          prevH[s],
		NextHash:          nextH[e],
		OriginalLineIndex: s,
		SpacingBefore:     blanksAbove(cls, s),
		SpacingAfter:      blanksBelow(cls, e),
	}
	for i := s; i <= e; i++ {
		ent.Block = append(ent.Block, comment.BlockLine{Text: cls[i].Text, OriginalLineIndex: i})
	}

	// Header comment: nothing precedes it in the file, so the blank lines
	// after it are part of its identity and travel with it.
	if ent.PrevHash == "" && ent.NextHash != "" {
		for i := e + 1; i < len(cls) && cls[i].Kind == lex.Blank; i++ {
			ent.Block = append(ent.Block, comment.BlockLine{Text: cls[i].Text, OriginalLineIndex: i})
		}
		ent.SpacingAfter = 0
	}
	return ent
}

// inlineEntity emits the trailing comment of code line i.
func inlineEntity(cls []lex.Line, i int, prevH, nextH []string) comment.Entity {
	return comment.Entity{
		Kind:              comment.Inline,
		Anchor:            comment.HashLine(cls[i].Code),
		PrevHash:          prevH[i],
		NextHash:          nextH[i],
		Text:              cls[i].Inline,
		OriginalLineIndex: i,
	}
}

func blanksAbove(cls []lex.Line, s int) int {
	n := 0
	for i := s - 1; i >= 0 && cls[i].Kind == lex.Blank; i-- {
		n++
	}
	return n
}

func blanksBelow(cls []lex.Line, e int) int {
	n := 0
	for i := e + 1; i < len(cls) && cls[i].Kind == lex.Blank; i++ {
		n++
	}
	return n
}

// lastContentLine returns the document index of the entity's last line.
func lastContentLine(e comment.Entity) int {
	if len(e.Block) > 0 {
		return e.Block[len(e.Block)-1].OriginalLineIndex
	}
	return e.OriginalLineIndex
}

// assignPrimaryChains groups consecutive standalone entities that share an
// anchor (only blank lines between them) into runs and, for runs of 2+,
// fills the primary-* fields: each member references its previous sibling's
// last non-blank line and its next sibling's first non-blank line, falling
// back to the base fields at the run edges.
func assignPrimaryChains(entities []comment.Entity, unitEnd []int) {
	i := 0
	for i < len(entities) {
		if entities[i].Kind == comment.Inline {
			i++
			continue
		}
		j := i
		for j+1 < len(entities) &&
			entities[j+1].Kind != comment.Inline &&
			entities[j+1].Anchor == entities[i].Anchor &&
			entities[j+1].OriginalLineIndex-unitEnd[j] <= entities[j+1].SpacingBefore+1 {
			j++
		}
		if j > i {
			chainRun(entities[i : j+1])
		}
		i = j + 1
	}
}

func chainRun(run []comment.Entity) {
	n := len(run)
	for k := range run {
		if k == 0 {
			run[k].PrimaryPrevHash = run[k].PrevHash
		} else {
			run[k].PrimaryPrevHash = run[k-1].TailHash()
		}
		if k == n-1 {
			run[k].PrimaryAnchor = run[k].Anchor
			run[k].PrimaryNextHash = run[k].NextHash
		} else {
			h := run[k+1].SelfHash()
			run[k].PrimaryAnchor = h
			run[k].PrimaryNextHash = h
		}
	}
}
