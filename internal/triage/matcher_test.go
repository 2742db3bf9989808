package triage

import (
	"testing"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

func TestMatch_HigherScoreWins(t *testing.T) {
	t.Parallel()

	entries := []knowledge.Entry{
		{Key: "A", Keywords: []string{"x", "y"}},
		{Key: "B", Keywords: []string{"x"}},
	}
	got := Match("x y", entries)
	if got == nil || got.Key != "A" {
		t.Fatalf("Match = %v, want A", got)
	}
	if got != &entries[0] {
		t.Error("Match should return a pointer into entries")
	}
}

func TestMatch_TieGoesToFirst(t *testing.T) {
	t.Parallel()

	entries := []knowledge.Entry{
		{Key: "A", Keywords: []string{"x"}},
		{Key: "B", Keywords: []string{"x"}},
	}
	if got := Match("x", entries); got == nil || got.Key != "A" {
		t.Fatalf("Match = %v, want A", got)
	}

	// a later entry needs a strictly greater score
	entries = []knowledge.Entry{
		{Key: "A", Keywords: []string{"x"}},
		{Key: "B", Keywords: []string{"y"}},
		{Key: "C", Keywords: []string{"x", "y"}},
	}
	if got := Match("x y", entries); got == nil || got.Key != "C" {
		t.Fatalf("Match = %v, want C", got)
	}
}

func TestMatch_KeywordCountedOnce(t *testing.T) {
	t.Parallel()

	entries := []knowledge.Entry{
		{Key: "A", Keywords: []string{"x", "y"}},
		{Key: "B", Keywords: []string{"z"}},
	}
	// "z" repeated must not outscore two distinct keywords
	got, score := match("z z z z x y", entries)
	if got == nil || got.Key != "A" || score != 2 {
		t.Fatalf("match = (%v, %d), want (A, 2)", got, score)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	t.Parallel()

	entries := []knowledge.Entry{{Key: "A", Keywords: []string{"x"}}}
	if got := Match("nothing relevant", entries); got != nil {
		t.Errorf("Match = %v, want nil", got)
	}
	if got := Match("", nil); got != nil {
		t.Errorf("Match on empty kb = %v, want nil", got)
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	t.Parallel()

	entries := []knowledge.Entry{{Key: "A", Keywords: []string{"бас ауы"}}}
	if got := Match("БАС АУЫРАДЫ", entries); got == nil {
		t.Error("expected upper-case input to match")
	}
}

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()

	kb := defaultBase(t)
	text := "басым ауырып, жүрегім айнауда"

	first := Match(text, kb.Entries)
	for range 10 {
		if got := Match(text, kb.Entries); got != first {
			t.Fatalf("Match returned %v then %v", first, got)
		}
	}
	if first == nil || first.Key != "headache_nausea" {
		t.Fatalf("Match = %v, want headache_nausea", first)
	}
}
