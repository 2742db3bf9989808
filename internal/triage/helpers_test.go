package triage

import (
	"testing"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

func defaultBase(t *testing.T) *knowledge.Base {
	t.Helper()
	b, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge.Default: %v", err)
	}
	return b
}

func testEntry(key string, urgency int, keywords ...string) knowledge.Entry {
	return knowledge.Entry{
		Key:                    key,
		Keywords:               keywords,
		UrgencyLevel:           urgency,
		UrgencyDescription:     key + " description",
		RedFlags:               []string{key + " flag"},
		PossibleConditions:     []string{key + " c1", key + " c2", key + " c3"},
		RecommendedSpecialists: []string{key + " s1", key + " s2", key + " s3"},
		Recommendations:        []string{key + " r1", key + " r2", key + " r3"},
		FollowUpQuestions: []knowledge.FollowUpQuestion{
			{ID: key + "-q1", Text: key + " question one"},
			{ID: key + "-q2", Text: key + " question two"},
			{ID: key + "-q3", Text: key + " question three"},
		},
	}
}

func newBase(t *testing.T, entries []knowledge.Entry, triggers knowledge.Triggers) *knowledge.Base {
	t.Helper()
	b, err := knowledge.New(entries, triggers, []string{"template"})
	if err != nil {
		t.Fatalf("knowledge.New: %v", err)
	}
	return b
}
