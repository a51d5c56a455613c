package inject

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comment-vault/internal/comment"
	"comment-vault/internal/markers"
	"comment-vault/internal/parse"
	"comment-vault/internal/strip"
)

var (
	tbl    = markers.Default()
	allVis = Options{IncludeShared: true, IncludePrivate: true}
	noPriv = Options{IncludeShared: true}
)

// strip-then-inject must reproduce the original byte for byte.
func TestRoundTrip(t *testing.T) {
	texts := map[string]string{
		"worked example":   "a()\n# note\nb()\n",
		"inline":           "x := 1  // note\ny := 2\n",
		"block":            "a()\n/* one\n\n two */\nb()\n",
		"spacing above":    "a()\n\n# note\nb()\n",
		"spacing below":    "a()\n# note\n\nb()\n",
		"run":              "a()\n# A\n# B\n# C\nb()\n",
		"run with gaps":    "a()\n# A\n\n# B\nb()\n",
		"header":           "// head\n// more\n\npackage main\n",
		"trailer":          "a()\n\n# done\n",
		"comment only":     "# just a note\n",
		"comment only run": "# a\n\n# b\n",
		"mixed":            "// head\n\nx := 1 // tail\n\n// mid\ny := 2\n",
		"no trailing nl":   "a()\n# note\nb()",
	}
	for name, text := range texts {
		t.Run(name, func(t *testing.T) {
			ft := ".sh"
			if strings.Contains(text, "//") || strings.Contains(text, "/*") {
				ft = ".go"
			}
			ents := parse.File(text, ft, tbl)
			require.NotEmpty(t, ents)

			clean := strip.Apply(text, ft, tbl, ents)
			got, res := Apply(clean, ft, tbl, ents, allVis)
			assert.Empty(t, res.Dropped)
			assert.Equal(t, text, got)
		})
	}
}

// Duplicate code elsewhere in the file: the neighbor hashes decide, not the
// first match, even after lines shift.
func TestDuplicateCodeDisambiguation(t *testing.T) {
	orig := "p()\nq()\nx = 1\ny = 9\nz = 8\nw = 7\nv = 6\nu = 5\n# near the second\nx = 1\nend()\n"
	ents := parse.File(orig, ".sh", tbl)
	require.Len(t, ents, 1)

	// Five new lines above the first occurrence shift everything down.
	edited := "n1()\nn2()\nn3()\nn4()\nn5()\np()\nq()\nx = 1\ny = 9\nz = 8\nw = 7\nv = 6\nu = 5\nx = 1\nend()\n"
	got, res := Apply(edited, ".sh", tbl, ents, allVis)
	require.Empty(t, res.Dropped)

	lines := strings.Split(got, "\n")
	require.Equal(t, "# near the second", lines[13], "comment must re-anchor to the second occurrence")
}

func TestVanishedAnchorDropsSilently(t *testing.T) {
	orig := "a()\n# note\nb()\n"
	ents := parse.File(orig, ".sh", tbl)

	got, res := Apply("a()\nc()\n", ".sh", tbl, ents, allVis)
	assert.Equal(t, "a()\nc()\n", got)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, comment.Block, res.Dropped[0].Kind)
}

func TestPartitionVisibilityFilter(t *testing.T) {
	orig := "a()\n# shared\n# private\nb()\n"
	ents := parse.File(orig, ".sh", tbl)
	require.Len(t, ents, 2)
	ents[1].IsPrivate = true

	clean := strip.Apply(orig, ".sh", tbl, ents)
	got, _ := Apply(clean, ".sh", tbl, ents, noPriv)
	assert.Contains(t, got, "# shared")
	assert.NotContains(t, got, "# private")
}

// Three stacked comments, the middle one private: after independent
// round-trips the document order A, B, C is restored.
func TestConsecutiveRunOrderAcrossPartitions(t *testing.T) {
	orig := "code()\n# A\n# B\n# C\ntarget()\n"
	ents := parse.File(orig, ".sh", tbl)
	require.Len(t, ents, 3)
	ents[1].IsPrivate = true

	// Hide everything, then restore private first, shared second.
	clean := strip.Apply(orig, ".sh", tbl, ents)
	step1, res1 := Apply(clean, ".sh", tbl, ents, Options{IncludePrivate: true})
	require.Empty(t, res1.Dropped)
	step2, res2 := Apply(step1, ".sh", tbl, ents, Options{IncludeShared: true})
	require.Empty(t, res2.Dropped)

	assert.Equal(t, orig, step2)
}

func TestAlwaysShowNeverInjected(t *testing.T) {
	ents := parse.File("a()\n# pinned\nb()\n", ".sh", tbl)
	ents[0].AlwaysShow = true

	got, res := Apply("a()\nb()\n", ".sh", tbl, ents, allVis)
	assert.Equal(t, "a()\nb()\n", got)
	assert.Zero(t, res.Injected)
	assert.Empty(t, res.Dropped, "alwaysShow is filtered, not dropped")
}

func TestAlreadyPresentSkipped(t *testing.T) {
	text := "a()\n# note\nb()\n"
	ents := parse.File(text, ".sh", tbl)

	got, res := Apply(text, ".sh", tbl, ents, allVis)
	assert.Equal(t, text, got)
	assert.Equal(t, 1, res.Skipped)
}

func TestShadowLayersOverCanonical(t *testing.T) {
	ents := parse.File("a()\n# old\nb()\n", ".sh", tbl)
	ents[0].SetShadow("# new")

	got, _ := Apply("a()\nb()\n", ".sh", tbl, ents, allVis)
	assert.Equal(t, "a()\n# new\n# old\nb()\n", got, "shadow first, canonical second")
}

func TestShadowOnlyEntityEmitsShadow(t *testing.T) {
	fresh := comment.Entity{
		Kind:   comment.Block,
		Anchor: comment.HashLine("b()"),
	}
	fresh.SetShadow("# typed while clean")

	got, _ := Apply("a()\nb()\n", ".sh", tbl, []comment.Entity{fresh}, allVis)
	assert.Equal(t, "a()\n# typed while clean\nb()\n", got)
}

func TestInlineShadowAppendsAfterCanonical(t *testing.T) {
	ents := parse.File("x := 1 // old\ny := 2\n", ".go", tbl)
	require.Len(t, ents, 1)
	ents[0].SetShadow(" // new")

	got, _ := Apply("x := 1\ny := 2\n", ".go", tbl, ents, allVis)
	assert.Equal(t, "x := 1 // old // new\ny := 2\n", got)
}

func TestNeighborScorerPick(t *testing.T) {
	e := comment.Entity{OriginalLineIndex: 9}
	cands := []Candidate{
		{Index: 2, PrevMatch: false, NextMatch: true},
		{Index: 10, PrevMatch: true, NextMatch: true},
		{Index: 20, PrevMatch: true, NextMatch: true},
	}
	got := NeighborScorer{}.Pick(&e, cands)
	assert.Equal(t, 10, got.Index, "highest score, then closest to original index")

	// Pure tie falls back to ascending index.
	tie := []Candidate{{Index: 14}, {Index: 4}}
	assert.Equal(t, 4, NeighborScorer{}.Pick(&comment.Entity{OriginalLineIndex: 9}, tie).Index)
}
