package comment

// ContextKey is the default identity for matching an entity across document
// states: kind plus the three surrounding-code hashes. Kind is normalized so
// a legacy Line entity and its one-line Block parse form compare equal.
type ContextKey struct {
	Kind     Kind
	Anchor   string
	PrevHash string
	NextHash string
}

// normalKind collapses Line into Block for identity purposes.
func normalKind(k Kind) Kind {
	if k == Line {
		return Block
	}
	return k
}

// Key returns the entity's plain context key.
func (e *Entity) Key() ContextKey {
	return ContextKey{
		Kind:     normalKind(e.Kind),
		Anchor:   e.Anchor,
		PrevHash: e.PrevHash,
		NextHash: e.NextHash,
	}
}

// HasPrimary reports whether the entity carries primary-chain fields, i.e.
// it was part of a contiguous same-anchor run when last parsed.
func (e *Entity) HasPrimary() bool {
	return e.PrimaryAnchor != "" || e.PrimaryPrevHash != "" || e.PrimaryNextHash != ""
}

// PrimaryKey returns the identity key with the primary-chain fields
// substituted in. Call only when HasPrimary holds on both sides.
func (e *Entity) PrimaryKey() ContextKey {
	return ContextKey{
		Kind:     normalKind(e.Kind),
		Anchor:   e.PrimaryAnchor,
		PrevHash: e.PrimaryPrevHash,
		NextHash: e.PrimaryNextHash,
	}
}

// ContentEqual compares canonical content, normalizing Line vs Block form.
func ContentEqual(a, b *Entity) bool {
	if normalKind(a.Kind) != normalKind(b.Kind) {
		return false
	}
	return a.Content() == b.Content()
}

// Same reports whether two entities are the same comment: identity keys
// match and, when both sides carry comparable content, the content matches
// too. Primary keys are used only when both sides carry primary fields,
// per the caller-decides rule.
func Same(a, b *Entity) bool {
	var ka, kb ContextKey
	if a.HasPrimary() && b.HasPrimary() {
		ka, kb = a.PrimaryKey(), b.PrimaryKey()
	} else {
		ka, kb = a.Key(), b.Key()
	}
	if ka != kb {
		return false
	}
	if !a.HasContent() || !b.HasContent() {
		return true
	}
	return ContentEqual(a, b)
}

// SamePlain is Same restricted to the plain context key, ignoring primary
// fields on either side.
func SamePlain(a, b *Entity) bool {
	if a.Key() != b.Key() {
		return false
	}
	if !a.HasContent() || !b.HasContent() {
		return true
	}
	return ContentEqual(a, b)
}
