// Package reconcile merges a live document's freshly parsed entities with
// the persisted store for one (file, partition) pair.
//
// The two modes have opposite ground truths:
//
//   - Commented: the document wins. Store entities are updated in place
//     from their live counterparts, new live entities are inserted, store
//     entities with no live counterpart are dropped (deleting the comment
//     in the document is the deletion signal; there are no tombstones).
//   - Clean: the store wins. Edits to entities still visible in clean mode
//     are captured non-destructively in the shadow field for the shared
//     partition and committed directly for the private partition.
//
// Entities apparently new to this partition are checked against the sibling
// partition first so a comment can never leak across the shared/private
// boundary by being duplicated into both stores.
package reconcile

import (
	"sort"

	"comment-vault/internal/comment"
)

// Mode is the document's rendered state at reconciliation time.
type Mode int

const (
	Commented Mode = iota
	Clean
)

func (m Mode) String() string {
	if m == Clean {
		return "clean"
	}
	return "commented"
}

// Options qualifies a reconciliation pass.
type Options struct {
	// PrivatePartition selects which store is being reconciled.
	PrivatePartition bool
	// JustInjected marks the buffer as freshly rewritten by the injector.
	// A machine-generated rewrite must not be treated as a user edit.
	JustInjected bool
}

// Run produces the replacement store content. The inputs are never
// mutated; the returned slice is freshly built.
func Run(mode Mode, live, stored, sibling []comment.Entity, opts Options) ([]comment.Entity, error) {
	if mode == Clean && opts.JustInjected {
		return cloneAll(stored), nil
	}
	if opts.PrivatePartition {
		for i := range stored {
			if !stored[i].IsPrivate {
				return nil, &PartitionViolationError{Entity: stored[i].Clone()}
			}
		}
	}
	if mode == Commented {
		return commented(live, stored, sibling, opts), nil
	}
	return clean(live, stored, sibling, opts), nil
}

// commented applies the document-is-ground-truth rule.
func commented(live, stored, sibling []comment.Entity, opts Options) []comment.Entity {
	stored = cloneAll(stored)
	toStored, siblingOwned := resolve(live, stored, sibling)
	var out []comment.Entity

	for i := range live {
		l := &live[i]
		if j := toStored[i]; j >= 0 {
			s := &stored[j]
			updateFromLive(s, l)
			out = append(out, *s)
			continue
		}
		// Not ours. If the sibling partition knows it, the comment crossed
		// the boundary through a code edit; it stays the sibling's.
		if siblingOwned[i] {
			continue
		}
		n := l.Clone()
		n.IsPrivate = opts.PrivatePartition
		out = append(out, n)
	}
	// Store entities never matched by a live entity are dropped here.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OriginalLineIndex < out[j].OriginalLineIndex
	})
	return out
}

// clean applies the store-is-ground-truth rule. Live entities here are the
// ones still visible: alwaysShow entities and, when reconciling the private
// partition, the private entities themselves.
func clean(live, stored, sibling []comment.Entity, opts Options) []comment.Entity {
	out := cloneAll(stored)
	toStored, siblingOwned := resolve(live, out, sibling)
	claimed := make([]bool, len(out))

	for i := range live {
		l := &live[i]
		j := toStored[i]
		if j < 0 {
			continue
		}
		claimed[j] = true
		s := &out[j]
		if opts.PrivatePartition {
			// Private entities are fully visible and editable on their own
			// toggle: commit directly, no shadow field.
			updateFromLive(s, l)
			continue
		}
		if l.Content() != s.Content() {
			s.SetShadow(l.Content())
		} else {
			// Edited back to the canonical text: idempotent, shadow gone.
			s.ClearShadow()
		}
	}

	// Shadow set previously but the live entity has since vanished:
	// revert-on-delete clears the pending edit.
	if !opts.PrivatePartition {
		for i := range out {
			if claimed[i] {
				continue
			}
			out[i].ClearShadow()
		}
	}

	// Freshly typed entities with no store match join this partition,
	// unless the sibling already owns them.
	for i := range live {
		if toStored[i] >= 0 || siblingOwned[i] {
			continue
		}
		n := live[i].Clone()
		n.IsPrivate = opts.PrivatePartition
		if !opts.PrivatePartition {
			// No canonical content yet: the comment exists only as a
			// pending clean-mode edit until the next commented-mode pass.
			n.SetShadow(n.Content())
			n.Text = ""
			n.Block = nil
		}
		out = append(out, n)
	}
	return out
}

// resolve assigns every live entity either a stored entity index in
// toStored (-1 when none) or sibling ownership. Matching is two-phase: the
// exact tiers run for all live entities before the anchors-only tier gets a
// turn. A stacked run of same-anchor comments shares one plain key, so a
// greedy single-pass walk would let one member of the stack claim another
// member's store record; resolving exact matches first, and letting an
// exact sibling match outrank an anchors-only match here, keeps each
// entity bound to its own partition.
func resolve(live, stored, sibling []comment.Entity) (toStored []int, siblingOwned []bool) {
	toStored = make([]int, len(live))
	siblingOwned = make([]bool, len(live))
	claimed := make([]bool, len(stored))
	sibClaimed := make([]bool, len(sibling))

	for i := range live {
		toStored[i] = exactMatch(&live[i], stored, claimed)
	}
	for i := range live {
		if toStored[i] < 0 && exactMatch(&live[i], sibling, sibClaimed) >= 0 {
			siblingOwned[i] = true
		}
	}
	// Same anchors, new text: an in-place edit. This tier runs last so a
	// comment moved elsewhere in the file binds by its text first.
	for i := range live {
		if toStored[i] < 0 && !siblingOwned[i] {
			toStored[i] = keyMatch(&live[i], stored, claimed)
		}
	}
	for i := range live {
		if toStored[i] < 0 && !siblingOwned[i] && keyMatch(&live[i], sibling, sibClaimed) >= 0 {
			siblingOwned[i] = true
		}
	}
	return toStored, siblingOwned
}

// exactMatch finds a stored entity for a live one: primary key first, then
// the plain key, then text identity (covers anchor drift from
// surrounding-code edits). Each stored entity is claimed at most once.
func exactMatch(l *comment.Entity, stored []comment.Entity, claimed []bool) int {
	for i := range stored {
		if !claimed[i] && comment.Same(&stored[i], l) {
			claimed[i] = true
			return i
		}
	}
	for i := range stored {
		if !claimed[i] && comment.SamePlain(&stored[i], l) {
			claimed[i] = true
			return i
		}
	}
	for i := range stored {
		if claimed[i] {
			continue
		}
		s := &stored[i]
		if s.HasContent() && l.HasContent() && comment.ContentEqual(s, l) {
			claimed[i] = true
			return i
		}
		// A clean-mode edit is matched by its shadow rendering.
		if sh, ok := s.Shadow(); ok && sh == l.Content() && normal(s.Kind) == normal(l.Kind) {
			claimed[i] = true
			return i
		}
	}
	return -1
}

// keyMatch binds on anchors alone, covering in-place text edits.
func keyMatch(l *comment.Entity, stored []comment.Entity, claimed []bool) int {
	for i := range stored {
		if !claimed[i] && stored[i].Key() == l.Key() {
			claimed[i] = true
			return i
		}
	}
	return -1
}

func normal(k comment.Kind) comment.Kind {
	if k == comment.Line {
		return comment.Block
	}
	return k
}

// updateFromLive refreshes a stored entity's position-derived fields and
// content from its live counterpart, keeping the partition and visibility
// flags as stored. The document rendering is authoritative, so any pending
// shadow is considered materialized.
func updateFromLive(s, l *comment.Entity) {
	s.Kind = l.Kind
	s.Anchor = l.Anchor
	s.PrevHash = l.PrevHash
	s.NextHash = l.NextHash
	s.PrimaryAnchor = l.PrimaryAnchor
	s.PrimaryPrevHash = l.PrimaryPrevHash
	s.PrimaryNextHash = l.PrimaryNextHash
	s.Text = l.Text
	s.Block = cloneBlock(l.Block)
	s.SpacingBefore = l.SpacingBefore
	s.SpacingAfter = l.SpacingAfter
	s.OriginalLineIndex = l.OriginalLineIndex
	s.ClearShadow()
}

func cloneAll(entities []comment.Entity) []comment.Entity {
	out := make([]comment.Entity, len(entities))
	for i := range entities {
		out[i] = entities[i].Clone()
	}
	return out
}

func cloneBlock(b []comment.BlockLine) []comment.BlockLine {
	if b == nil {
		return nil
	}
	out := make([]comment.BlockLine, len(b))
	copy(out, b)
	return out
}
