// Package inject re-inserts comment entities into text they were previously
// stripped from, or into text that never carried them.
//
// Resolution per entity tries, in order: the primary chain against comments
// already present in the text, against code lines, and against siblings
// co-injected in the same pass; then the plain anchor against code lines
// with neighbor-hash scoring for duplicate code. Entities whose anchor code
// no longer exists anywhere are dropped silently and reported in the Result
// (documented behavior for deleted code, not an error).
//
// Spacing is reproduced by shifting each entity's insertion point upward
// through blank lines that survive in the clean text, bounded by the
// entity's recorded spacingAfter.
package inject

import (
	"sort"
	"strings"

	"comment-vault/internal/comment"
	"comment-vault/internal/lex"
	"comment-vault/internal/markers"
	"comment-vault/internal/parse"
)

// Options selects which partitions are being made visible and, optionally,
// a non-default scoring strategy.
type Options struct {
	IncludeShared  bool
	IncludePrivate bool
	Scorer         Scorer
}

// Result summarizes an injection pass.
type Result struct {
	Injected int
	Skipped  int // already present in the text
	Dropped  []comment.Entity
}

type placement struct {
	ent  *comment.Entity
	pos  int  // insert before this line index
	line int  // resolved anchor line
	// fixed placements resolved below a preceding line with spacing already
	// applied; they do not shift upward through blanks.
	fixed bool
}

// Apply re-inserts entities into cleanText. AlwaysShow entities are never
// injected; entities outside the visible partitions are filtered out.
func Apply(cleanText, fileType string, tbl *markers.Table, entities []comment.Entity, opts Options) (string, Result) {
	var res Result
	scorer := opts.Scorer
	if scorer == nil {
		scorer = NeighborScorer{}
	}

	set, ok := tbl.Lookup(fileType)
	if !ok || set.Empty() {
		res.Dropped = append(res.Dropped, entities...)
		return cleanText, res
	}

	injectees := filter(entities, opts)
	if len(injectees) == 0 {
		return cleanText, res
	}

	lines, trailingNL := lex.SplitLines(cleanText)
	cls := lex.Classify(lines, set)
	doc := indexDocument(cls, cleanText, fileType, tbl)

	var placements []placement
	resolvedSelf := make(map[string]int) // injectee self hash -> anchor line

	// Reverse document order: primary anchors reference the *next* sibling,
	// so later entities must resolve first for chains to connect.
	standalone, inlines := split(injectees)
	for i := len(standalone) - 1; i >= 0; i-- {
		e := standalone[i]
		if doc.alreadyPresent(e) {
			res.Skipped++
			continue
		}
		pos, fixed, ok := resolveStandalone(e, doc, resolvedSelf, scorer)
		if !ok {
			res.Dropped = append(res.Dropped, *e)
			continue
		}
		resolvedSelf[e.SelfHash()] = pos
		placements = append(placements, placement{ent: e, line: pos, fixed: fixed})
	}

	out, inserted := emitStandalone(lines, cls, placements)
	res.Injected += inserted

	out, inlineRes := emitInline(out, set, inlines, doc, scorer)
	res.Injected += inlineRes.Injected
	res.Skipped += inlineRes.Skipped
	res.Dropped = append(res.Dropped, inlineRes.Dropped...)

	// An emptied file carries no trailing-newline bit; rebuilt content
	// gets one.
	if len(lines) == 0 && len(out) > 0 {
		trailingNL = true
	}
	return lex.JoinLines(out, trailingNL), res
}

func filter(entities []comment.Entity, opts Options) []*comment.Entity {
	out := make([]*comment.Entity, 0, len(entities))
	for i := range entities {
		e := &entities[i]
		if e.AlwaysShow {
			continue
		}
		if e.IsPrivate && !opts.IncludePrivate {
			continue
		}
		if !e.IsPrivate && !opts.IncludeShared {
			continue
		}
		out = append(out, e)
	}
	return out
}

func split(injectees []*comment.Entity) (standalone, inlines []*comment.Entity) {
	for _, e := range injectees {
		if e.Kind == comment.Inline {
			inlines = append(inlines, e)
		} else {
			standalone = append(standalone, e)
		}
	}
	return standalone, inlines
}

// docIndex carries the hash indexes over the target text.
type docIndex struct {
	cls      []lex.Line
	codeAt   map[string][]int // comment-stripped code hash -> line indices
	prevCode []string         // nearest code hash strictly above each line
	nextCode []string         // nearest code hash strictly below each line
	present  []comment.Entity // comments already present in the text
}

func indexDocument(cls []lex.Line, text, fileType string, tbl *markers.Table) *docIndex {
	d := &docIndex{
		cls:    cls,
		codeAt: make(map[string][]int),
	}
	n := len(cls)
	d.prevCode = make([]string, n)
	d.nextCode = make([]string, n)
	last := ""
	for i := 0; i < n; i++ {
		d.prevCode[i] = last
		if cls[i].Kind == lex.Code {
			h := comment.HashLine(cls[i].Code)
			d.codeAt[h] = append(d.codeAt[h], i)
			last = h
		}
	}
	last = ""
	for i := n - 1; i >= 0; i-- {
		d.nextCode[i] = last
		if cls[i].Kind == lex.Code {
			last = comment.HashLine(cls[i].Code)
		}
	}
	d.present = parse.File(text, fileType, tbl)
	return d
}

func (d *docIndex) alreadyPresent(e *comment.Entity) bool {
	for i := range d.present {
		if comment.Same(&d.present[i], e) {
			return true
		}
	}
	return false
}

// presentStart finds present comments whose first non-blank line hashes to h,
// returning their starting line indices.
func (d *docIndex) presentStart(h string) []int {
	var out []int
	for i := range d.present {
		p := &d.present[i]
		if p.Kind != comment.Inline && p.SelfHash() == h {
			out = append(out, p.OriginalLineIndex)
		}
	}
	return out
}

// presentEnd finds present comments whose last non-blank line hashes to h,
// returning the line index just past their end.
func (d *docIndex) presentEnd(h string) []int {
	var out []int
	for i := range d.present {
		p := &d.present[i]
		if p.Kind == comment.Inline || p.TailHash() != h {
			continue
		}
		end := p.OriginalLineIndex
		if len(p.Block) > 0 {
			end = p.Block[len(p.Block)-1].OriginalLineIndex
		}
		out = append(out, end+1)
	}
	return out
}

// resolveStandalone finds the line index the entity should be inserted
// before. The primary chain is tried first, then the plain anchor, then the
// preceding code line for trailer comments with no code after them. The
// second return marks placements already positioned below a preceding line;
// those skip the blank-line shift during emission.
func resolveStandalone(e *comment.Entity, d *docIndex, resolvedSelf map[string]int, scorer Scorer) (pos int, fixed, ok bool) {
	if e.HasPrimary() {
		// 1. Primary anchor against a comment already present in the text.
		if idxs := d.presentStart(e.PrimaryAnchor); len(idxs) > 0 {
			return pickPlain(e, idxs, scorer), false, true
		}
		// 2. Primary anchor against a sibling co-injected in this pass.
		if pos, ok := resolvedSelf[e.PrimaryAnchor]; ok {
			return pos, false, true
		}
		// 3. Primary anchor against code lines.
		if pos, ok := resolveAgainstCode(e, e.PrimaryAnchor, d, scorer); ok {
			return pos, false, true
		}
		// 4. Primary prev hash: insert immediately after whatever resolves.
		if e.PrimaryPrevHash != "" {
			if idxs := d.presentEnd(e.PrimaryPrevHash); len(idxs) > 0 {
				return pickPlain(e, idxs, scorer), true, true
			}
			if idxs := d.codeAt[e.PrimaryPrevHash]; len(idxs) > 0 {
				c := scorer.Pick(e, plainCandidates(idxs))
				return d.afterWithSpacing(c.Index, e.SpacingBefore), true, true
			}
		}
	}
	// Plain context: anchor hash against code, neighbor-scored.
	if pos, ok := resolveAgainstCode(e, e.Anchor, d, scorer); ok {
		return pos, false, true
	}
	// Trailer fallback: nothing follows the entity, place it after the
	// nearest preceding code line with its recorded spacing.
	if e.Anchor == "" && e.PrevHash != "" {
		if idxs := d.codeAt[e.PrevHash]; len(idxs) > 0 {
			c := scorer.Pick(e, plainCandidates(idxs))
			return d.afterWithSpacing(c.Index, e.SpacingBefore), true, true
		}
	}
	// A document with no code at all hashes to empty anchors on both
	// sides; restore such entities at their recorded line positions.
	if e.Anchor == "" && e.PrevHash == "" {
		pos := e.OriginalLineIndex
		if pos > len(d.cls) {
			pos = len(d.cls)
		}
		return pos, true, true
	}
	return 0, false, false
}

// afterWithSpacing returns the insertion point below line idx, skipping up
// to spacingBefore existing blank lines so the recorded gap is reproduced.
func (d *docIndex) afterWithSpacing(idx, spacingBefore int) int {
	pos := idx + 1
	for spacingBefore > 0 && pos < len(d.cls) && d.cls[pos].Kind == lex.Blank {
		pos++
		spacingBefore--
	}
	return pos
}

// resolveAgainstCode resolves an anchor hash against the code-line index,
// scoring duplicate candidates by neighbor hashes.
func resolveAgainstCode(e *comment.Entity, anchor string, d *docIndex, scorer Scorer) (int, bool) {
	if anchor == "" {
		return 0, false
	}
	idxs := d.codeAt[anchor]
	if len(idxs) == 0 {
		return 0, false
	}
	cands := make([]Candidate, len(idxs))
	for i, idx := range idxs {
		cands[i] = Candidate{
			Index:     idx,
			PrevMatch: d.prevCode[idx] == e.PrevHash,
			NextMatch: comment.HashLine(d.cls[idx].Code) == e.NextHash,
		}
	}
	return scorer.Pick(e, cands).Index, true
}

func plainCandidates(idxs []int) []Candidate {
	cands := make([]Candidate, len(idxs))
	for i, idx := range idxs {
		cands[i] = Candidate{Index: idx}
	}
	return cands
}

func pickPlain(e *comment.Entity, idxs []int, scorer Scorer) int {
	return scorer.Pick(e, plainCandidates(idxs)).Index
}

// emitStandalone rebuilds the line slice with every placement inserted.
// Entities that resolved to the same anchor line stack in original document
// order; each entity individually shifts upward through the blank lines
// above its anchor, bounded by its recorded spacingAfter.
func emitStandalone(lines []string, cls []lex.Line, placements []placement) ([]string, int) {
	if len(placements) == 0 {
		return lines, 0
	}

	insertAt := make(map[int][]placement)
	for _, p := range placements {
		if p.fixed {
			p.pos = p.line
		} else {
			p.pos = shiftThroughBlanks(cls, p.line, p.ent.SpacingAfter)
		}
		insertAt[p.pos] = append(insertAt[p.pos], p)
	}
	for pos := range insertAt {
		group := insertAt[pos]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ent.OriginalLineIndex < group[j].ent.OriginalLineIndex
		})
		insertAt[pos] = group
	}

	out := make([]string, 0, len(lines)+len(placements)*2)
	injected := 0
	flush := func(pos int) {
		for _, p := range insertAt[pos] {
			out = append(out, renderLines(p.ent)...)
			injected++
		}
	}
	for i := range lines {
		flush(i)
		out = append(out, lines[i])
	}
	flush(len(lines)) // placements beyond the last line
	return out, injected
}

// shiftThroughBlanks moves the insertion point up through blank lines
// directly above pos, at most spacingAfter of them.
func shiftThroughBlanks(cls []lex.Line, pos, spacingAfter int) int {
	for spacingAfter > 0 && pos-1 >= 0 && pos-1 < len(cls) && cls[pos-1].Kind == lex.Blank {
		pos--
		spacingAfter--
	}
	return pos
}

// renderLines produces the physical lines for a standalone entity: shadow
// content first when present and different, then the canonical content.
// Clean-mode edits layer over history, they do not replace it.
func renderLines(e *comment.Entity) []string {
	canonical := e.ContentLines()
	shadow, hasShadow := e.Shadow()
	if !hasShadow || shadow == e.Content() {
		return canonical
	}
	shadowLines := strings.Split(shadow, "\n")
	if !e.HasContent() {
		return shadowLines
	}
	return append(shadowLines, canonical...)
}

// emitInline appends inline entities to their anchor code lines.
func emitInline(lines []string, set markers.Set, inlines []*comment.Entity, d *docIndex, scorer Scorer) ([]string, Result) {
	var res Result
	if len(inlines) == 0 {
		return lines, res
	}

	// Line indices moved during standalone insertion; reindex code lines.
	cls := lex.Classify(lines, set)
	codeAt := make(map[string][]int)
	prevCode := make([]string, len(cls))
	last := ""
	for i := range cls {
		prevCode[i] = last
		if cls[i].Kind == lex.Code {
			h := comment.HashLine(cls[i].Code)
			codeAt[h] = append(codeAt[h], i)
			last = h
		}
	}
	nextCode := make([]string, len(cls))
	last = ""
	for i := len(cls) - 1; i >= 0; i-- {
		nextCode[i] = last
		if cls[i].Kind == lex.Code {
			last = comment.HashLine(cls[i].Code)
		}
	}

	for _, e := range inlines {
		idxs := codeAt[e.Anchor]
		if len(idxs) == 0 {
			res.Dropped = append(res.Dropped, *e)
			continue
		}
		cands := make([]Candidate, len(idxs))
		for i, idx := range idxs {
			cands[i] = Candidate{
				Index:     idx,
				PrevMatch: prevCode[idx] == e.PrevHash,
				NextMatch: nextCode[idx] == e.NextHash,
			}
		}
		idx := scorer.Pick(e, cands).Index

		suffix := e.Text
		if shadow, ok := e.Shadow(); ok && shadow != e.Text {
			suffix = e.Text + shadow
		}
		if strings.HasSuffix(lines[idx], suffix) || (e.Text != "" && strings.HasSuffix(lines[idx], e.Text)) {
			res.Skipped++
			continue
		}
		lines[idx] += suffix
		res.Injected++
	}
	return lines, res
}
