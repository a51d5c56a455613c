package strip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comment-vault/internal/comment"
	"comment-vault/internal/markers"
	"comment-vault/internal/parse"
)

var tbl = markers.Default()

func TestApplyWorkedExample(t *testing.T) {
	text := "a()\n# note\nb()\n"
	ents := parse.File(text, ".sh", tbl)
	require.Len(t, ents, 1)

	got := Apply(text, ".sh", tbl, ents)
	assert.Equal(t, "a()\nb()\n", got)
}

func TestApplyLeavesUntargetedEntities(t *testing.T) {
	text := "a()\n# keep\n# drop\nb()\n"
	ents := parse.File(text, ".sh", tbl)
	require.Len(t, ents, 2)

	// Target only the second comment of the run.
	got := Apply(text, ".sh", tbl, ents[1:])
	assert.Equal(t, "a()\n# keep\nb()\n", got)
}

func TestApplyInlineTrimsTrailingWhitespace(t *testing.T) {
	text := "x := 1   // note\ny := 2\n"
	ents := parse.File(text, ".go", tbl)
	require.Len(t, ents, 1)

	got := Apply(text, ".go", tbl, ents)
	assert.Equal(t, "x := 1\ny := 2\n", got)
}

func TestApplyPreservesSurroundingBlankLines(t *testing.T) {
	text := "a()\n\n# note\n\nb()\n"
	ents := parse.File(text, ".sh", tbl)
	require.Len(t, ents, 1)

	got := Apply(text, ".sh", tbl, ents)
	assert.Equal(t, "a()\n\n\nb()\n", got)
}

func TestApplyDeletesWholeBlock(t *testing.T) {
	text := "a()\n/* one\n\n two */\nb()\n"
	ents := parse.File(text, ".go", tbl)
	require.Len(t, ents, 1)

	got := Apply(text, ".go", tbl, ents)
	assert.Equal(t, "a()\nb()\n", got)
}

func TestApplyEmptiesCommentOnlyFile(t *testing.T) {
	text := "# just a note\n"
	ents := parse.File(text, ".sh", tbl)
	require.Len(t, ents, 1)

	got := Apply(text, ".sh", tbl, ents)
	assert.Equal(t, "", got, "a file that was all comments strips to nothing")
}

func TestApplyNeverStripsAlwaysShow(t *testing.T) {
	text := "a()\n# pinned\nb()\n"
	ents := parse.File(text, ".sh", tbl)
	require.Len(t, ents, 1)
	ents[0].AlwaysShow = true

	got := Apply(text, ".sh", tbl, ents)
	assert.Equal(t, text, got)
}

func TestApplyIgnoresStaleTargets(t *testing.T) {
	text := "a()\nb()\n"
	stale := comment.Entity{
		Kind:   comment.Block,
		Anchor: comment.HashLine("gone()"),
		Block:  []comment.BlockLine{{Text: "# orphan"}},
	}
	got := Apply(text, ".sh", tbl, []comment.Entity{stale})
	assert.Equal(t, text, got)
}

func TestApplyUnknownFileTypeUnchanged(t *testing.T) {
	text := "anything # here\n"
	got := Apply(text, ".nope", tbl, []comment.Entity{{Kind: comment.Block}})
	assert.Equal(t, text, got)
}

func TestApplyMatchesShadowRendering(t *testing.T) {
	// The store entity has canonical "# old" but was edited in clean mode
	// to "# new"; the document shows the shadow form after injection.
	text := "a()\n# new\nb()\n"
	target := parse.File("a()\n# old\nb()\n", ".sh", tbl)[0]
	target.SetShadow("# new")

	got := Apply(text, ".sh", tbl, []comment.Entity{target})
	assert.Equal(t, "a()\nb()\n", got)
}
