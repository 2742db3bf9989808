package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validDoc = `{
	"entries": [
		{
			"key": "a",
			"keywords": ["  Bas Auy ", "lоқсу"],
			"urgency_level": 2,
			"urgency_description": "low",
			"possible_conditions": ["c1"],
			"recommended_specialists": ["s1"],
			"recommendations": ["r1"],
			"follow_up_questions": [{"id": "q1", "text": "how long?"}]
		},
		{
			"key": "b",
			"keywords": ["x"],
			"urgency_level": 5,
			"urgency_description": "critical",
			"is_emergency": true,
			"possible_conditions": ["c2"],
			"recommended_specialists": ["s2"],
			"recommendations": ["call 103"]
		}
	],
	"emergency_triggers": {"critical": ["НЕ ДЫШИТ"], "high": ["bleeding"]},
	"quick_templates": ["template one"]
}`

func TestLoad_Valid(t *testing.T) {
	t.Parallel()

	b, err := Load(strings.NewReader(validDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(b.Entries))
	}
	if b.Entries[0].Key != "a" || b.Entries[1].Key != "b" {
		t.Errorf("entry order = [%s %s], want [a b]", b.Entries[0].Key, b.Entries[1].Key)
	}
	if got := b.Entries[0].Keywords[0]; got != "bas auy" {
		t.Errorf("keyword not normalized: %q", got)
	}
	if got := b.Triggers.Critical[0]; got != "не дышит" {
		t.Errorf("critical trigger not normalized: %q", got)
	}

	e, ok := b.Lookup("b")
	if !ok {
		t.Fatal("Lookup(b) not found")
	}
	if e != &b.Entries[1] {
		t.Error("Lookup should return a pointer into Entries")
	}
	if _, ok := b.Lookup("missing"); ok {
		t.Error("Lookup(missing) = ok, want not found")
	}
}

func TestLoad_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr []string
	}{
		{
			name:    "invalid json",
			doc:     `{bad`,
			wantErr: []string{"decode"},
		},
		{
			name:    "unknown field",
			doc:     `{"entries": [], "extra": 1}`,
			wantErr: []string{"decode"},
		},
		{
			name:    "no entries",
			doc:     `{"entries": [], "emergency_triggers": {"critical": [], "high": []}}`,
			wantErr: []string{"no entries"},
		},
		{
			name: "missing required lists",
			doc: `{"entries": [{"key": "a", "keywords": ["x"], "urgency_level": 3, "urgency_description": "d",
				"possible_conditions": [], "recommended_specialists": [], "recommendations": []}]}`,
			wantErr: []string{"possible_conditions", "recommended_specialists", "recommendations"},
		},
		{
			name: "urgency out of range",
			doc: `{"entries": [{"key": "a", "keywords": ["x"], "urgency_level": 6, "urgency_description": "d",
				"possible_conditions": ["c"], "recommended_specialists": ["s"], "recommendations": ["r"]}]}`,
			wantErr: []string{"urgency_level 6"},
		},
		{
			name: "duplicate key",
			doc: `{"entries": [
				{"key": "a", "keywords": ["x"], "urgency_level": 1, "urgency_description": "d",
				"possible_conditions": ["c"], "recommended_specialists": ["s"], "recommendations": ["r"]},
				{"key": "a", "keywords": ["y"], "urgency_level": 1, "urgency_description": "d",
				"possible_conditions": ["c"], "recommended_specialists": ["s"], "recommendations": ["r"]}]}`,
			wantErr: []string{"duplicate key"},
		},
		{
			name: "blank and duplicate keywords",
			doc: `{"entries": [{"key": "a", "keywords": ["x", " ", "X"], "urgency_level": 1, "urgency_description": "d",
				"possible_conditions": ["c"], "recommended_specialists": ["s"], "recommendations": ["r"]}]}`,
			wantErr: []string{"keyword 1 is blank", "duplicate keyword"},
		},
		{
			name: "bad follow-ups",
			doc: `{"entries": [{"key": "a", "keywords": ["x"], "urgency_level": 1, "urgency_description": "d",
				"possible_conditions": ["c"], "recommended_specialists": ["s"], "recommendations": ["r"],
				"follow_up_questions": [{"id": "q", "text": "t"}, {"id": "q", "text": "u"}, {"id": "", "text": "v"}]}]}`,
			wantErr: []string{"duplicate follow-up id", "id and text are required"},
		},
		{
			name: "trigger in both tiers",
			doc: `{"entries": [{"key": "a", "keywords": ["x"], "urgency_level": 1, "urgency_description": "d",
				"possible_conditions": ["c"], "recommended_specialists": ["s"], "recommendations": ["r"]}],
				"emergency_triggers": {"critical": ["Same"], "high": ["same"]}}`,
			wantErr: []string{"both critical and high"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(validDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	b, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(b.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(b.Entries))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	b, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if _, ok := b.Lookup("headache_nausea"); !ok {
		t.Error("default catalog should contain headache_nausea")
	}
	if len(b.Triggers.Critical) == 0 || len(b.Triggers.High) == 0 {
		t.Error("default catalog should define both trigger tiers")
	}
	if len(b.Templates()) == 0 {
		t.Error("default catalog should define quick templates")
	}
}

func TestNew_CopiesInput(t *testing.T) {
	t.Parallel()

	entries := []Entry{{
		Key:                    "a",
		Keywords:               []string{"Foo"},
		UrgencyLevel:           1,
		UrgencyDescription:     "d",
		PossibleConditions:     []string{"c"},
		RecommendedSpecialists: []string{"s"},
		Recommendations:        []string{"r"},
	}}
	b, err := New(entries, Triggers{Critical: []string{"Stop"}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries[0].Keywords[0] = "mutated"
	if got := b.Entries[0].Keywords[0]; got != "foo" {
		t.Errorf("keyword = %q, want %q", got, "foo")
	}

	if _, err := New(nil, Triggers{}, nil); err == nil {
		t.Error("New with no entries should fail")
	}
}
