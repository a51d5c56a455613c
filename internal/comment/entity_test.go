package comment

import (
	"encoding/json"
	"testing"
)

func TestHashLine(t *testing.T) {
	if HashLine("  x := 1  ") != HashLine("x := 1") {
		t.Fatal("hash must ignore surrounding whitespace")
	}
	if HashLine("x := 1") == HashLine("x := 2") {
		t.Fatal("distinct lines must hash differently")
	}
	if HashLine("   ") != "" {
		t.Fatal("blank line must hash to empty string")
	}
	if got := len(HashLine("x")); got != 16 {
		t.Fatalf("hash length %d, want 16", got)
	}
}

func TestContentNormalizesLineAndBlock(t *testing.T) {
	line := Entity{Kind: Line, Text: "// note"}
	block := Entity{Kind: Block, Block: []BlockLine{{Text: "// note", OriginalLineIndex: 3}}}

	if !ContentEqual(&line, &block) {
		t.Fatal("Line text and one-line Block must compare equal")
	}
	if line.Key() != block.Key() {
		t.Fatal("Line and Block identity kinds must normalize")
	}
}

func TestSamePrefersPrimaryOnlyWhenBothSidesCarryIt(t *testing.T) {
	base := Entity{
		Kind: Block, Anchor: "aa", PrevHash: "pp", NextHash: "aa",
		Block: []BlockLine{{Text: "# note"}},
	}
	withPrimary := base.Clone()
	withPrimary.PrimaryAnchor = "sib"
	withPrimary.PrimaryPrevHash = "pp"
	withPrimary.PrimaryNextHash = "sib"

	// Only one side has primary fields: plain keys apply, so they match.
	if !Same(&base, &withPrimary) {
		t.Fatal("mixed primary/plain must fall back to plain keys")
	}

	other := withPrimary.Clone()
	other.PrimaryAnchor = "different"
	if Same(&withPrimary, &other) {
		t.Fatal("both sides primary with different primary anchors must not match")
	}
}

func TestSameRequiresContentMatchWhenBothComparable(t *testing.T) {
	a := Entity{Kind: Block, Anchor: "aa", Block: []BlockLine{{Text: "# one"}}}
	b := Entity{Kind: Block, Anchor: "aa", Block: []BlockLine{{Text: "# two"}}}
	if Same(&a, &b) {
		t.Fatal("same key, different content must not match")
	}

	fresh := Entity{Kind: Block, Anchor: "aa"} // shadow-only, no canonical text
	fresh.SetShadow("# pending")
	if !Same(&a, &fresh) {
		t.Fatal("a side without canonical content matches on key alone")
	}
}

func TestSelfAndTailHashSkipBlankLines(t *testing.T) {
	e := Entity{Kind: Block, Block: []BlockLine{
		{Text: "# first"},
		{Text: ""},
		{Text: "# last"},
		{Text: "   "},
	}}
	if e.SelfHash() != HashLine("# first") {
		t.Fatal("SelfHash must hash the first non-blank line")
	}
	if e.TailHash() != HashLine("# last") {
		t.Fatal("TailHash must hash the last non-blank line")
	}
}

func TestShadowJSONRoundTrip(t *testing.T) {
	e := Entity{Kind: Inline, Anchor: "aa", Text: " // note"}
	e.SetShadow(" // edited")

	b, err := json.Marshal(&e)
	if err != nil {
		t.Fatal(err)
	}
	var back Entity
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if s, ok := back.Shadow(); !ok || s != " // edited" {
		t.Fatalf("shadow lost in round trip: %q %v", s, ok)
	}

	e.ClearShadow()
	b, _ = json.Marshal(&e)
	var clean Entity
	_ = json.Unmarshal(b, &clean)
	if _, ok := clean.Shadow(); ok {
		t.Fatal("cleared shadow must serialize as absent")
	}
}
