package lex

import (
	"testing"

	"comment-vault/internal/markers"
)

func goSet(t *testing.T) markers.Set {
	t.Helper()
	s, ok := markers.Default().Lookup(".go")
	if !ok {
		t.Fatal("no .go marker set")
	}
	return s
}

func pySet(t *testing.T) markers.Set {
	t.Helper()
	s, ok := markers.Default().Lookup(".py")
	if !ok {
		t.Fatal("no .py marker set")
	}
	return s
}

func kinds(ls []Line) []Kind {
	out := make([]Kind, len(ls))
	for i, l := range ls {
		out[i] = l.Kind
	}
	return out
}

func TestClassifyBasicKinds(t *testing.T) {
	lines := []string{
		"package main",
		"",
		"// a line comment",
		"/* open",
		" inner",
		"end */",
		"x := 1",
	}
	got := Classify(lines, goSet(t))
	want := []Kind{Code, Blank, Comment, BlockOpen, BlockInner, BlockClose, Code}
	for i, k := range kinds(got) {
		if k != want[i] {
			t.Fatalf("line %d: kind %v, want %v", i, k, want[i])
		}
	}
}

func TestClassifySelfContainedBlockIsComment(t *testing.T) {
	got := Classify([]string{"/* all on one line */"}, goSet(t))
	if got[0].Kind != Comment {
		t.Fatalf("kind %v, want Comment", got[0].Kind)
	}
}

func TestClassifyNestedBlock(t *testing.T) {
	// Asymmetric pairs nest: the first "*/" closes the inner block only.
	lines := []string{"/* outer /* inner", "still */ inside", "done */", "code"}
	got := Classify(lines, goSet(t))
	want := []Kind{BlockOpen, BlockInner, BlockClose, Code}
	for i, k := range kinds(got) {
		if k != want[i] {
			t.Fatalf("line %d: kind %v, want %v", i, k, want[i])
		}
	}
}

func TestClassifySymmetricBlockDoesNotNest(t *testing.T) {
	lines := []string{`"""doc`, `more """ trailing`, "code = 1"}
	got := Classify(lines, pySet(t))
	want := []Kind{BlockOpen, BlockClose, Code}
	for i, k := range kinds(got) {
		if k != want[i] {
			t.Fatalf("line %d: kind %v, want %v", i, k, want[i])
		}
	}
}

func TestSplitInline(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		code   string
		inline string
	}{
		{"plain", "x := 1", "x := 1", ""},
		{"trailing line comment", "x := 1  // note", "x := 1", "  // note"},
		{"tab separated", "x := 1\t// note", "x := 1", "\t// note"},
		{"no preceding whitespace", "url := a//b", "url := a//b", ""},
		{"self-contained block at eol", "x := 1 /* why */", "x := 1", " /* why */"},
		{"open block not inline", "x := 1 /* starts", "x := 1 /* starts", ""},
		{"earliest marker wins", "x := 1 // one // two", "x := 1", " // one // two"},
	}
	set := goSet(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify([]string{tc.line}, set)[0]
			if got.Code != tc.code || got.Inline != tc.inline {
				t.Fatalf("splitInline(%q) = (%q, %q), want (%q, %q)",
					tc.line, got.Code, got.Inline, tc.code, tc.inline)
			}
		})
	}
}

// Pins the known limitation: markers inside string literals are not
// recognized as such. A whitespace-preceded marker inside a string still
// starts an inline comment.
func TestSplitInlineStringLiteralLimitation(t *testing.T) {
	got := Classify([]string{`s := "a // b"`}, goSet(t))[0]
	if got.Inline == "" {
		t.Fatal("expected the in-string marker to be (mis)detected; the limitation is intentional")
	}
}

func TestSplitJoinRoundTrip(t *testing.T) {
	for _, text := range []string{"", "a", "a\n", "a\nb", "a\nb\n", "\n", "a\n\nb\n"} {
		lines, nl := SplitLines(text)
		if got := JoinLines(lines, nl); got != text {
			t.Fatalf("round trip %q -> %q", text, got)
		}
	}
}
