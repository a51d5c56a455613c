// Package diffview renders unified-diff previews of pending comment
// transformations, so a hide or show can be inspected before the file is
// rewritten. It uses github.com/pmezard/go-difflib/difflib to produce
// classic unified patches (---/+++ headers, @@ hunks, lines prefixed with
// ' ', '-', '+').
package diffview

import (
	"fmt"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// Options controls preview generation.
type Options struct {
	// Context is the number of context lines in unified hunks. 0 means 3.
	Context int

	// MaxBytes is a guardrail on input size (current+next). When exceeded
	// a placeholder patch is returned and oversize=true. 0 means no limit.
	MaxBytes int
}

// Preview produces a unified patch for rewriting rel from current to next.
// An empty patch means the rewrite is a no-op.
func Preview(rel, current, next string, opt Options) (body string, oversize bool) {
	if opt.MaxBytes > 0 && len(current)+len(next) > opt.MaxBytes {
		return omitted(rel), true
	}
	if current == next {
		return "", false
	}
	ctx := opt.Context
	if ctx <= 0 {
		ctx = 3
	}
	u := difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(next),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  ctx,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return omitted(rel), false
	}
	return s, false
}

func omitted(rel string) string {
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n@@\n# diff omitted (oversize)\n", rel, rel)
}
