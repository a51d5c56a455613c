package reconcile

import (
	"errors"
	"fmt"

	"comment-vault/internal/comment"
)

// ErrPartitionViolation is the sentinel for private-store corruption.
// A private store must contain only private entities; finding anything else
// means the store on disk is corrupt. The pass aborts and the error is
// surfaced — never silently repaired.
var ErrPartitionViolation = errors.New("partition violation: non-private entity in private store")

// PartitionViolationError carries the offending entity.
type PartitionViolationError struct {
	Entity comment.Entity
}

func (e *PartitionViolationError) Error() string {
	return fmt.Sprintf("%v (kind=%s anchor=%s)", ErrPartitionViolation, e.Entity.Kind, e.Entity.Anchor)
}

func (e *PartitionViolationError) Unwrap() error { return ErrPartitionViolation }
