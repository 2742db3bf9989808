package triage

import (
	"strings"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

// Match returns the entry whose keywords best cover text, or nil when no
// keyword of any entry occurs in it. Each keyword counts at most once. An
// entry replaces the current best only with a strictly greater score, so
// ties go to the entry that comes first.
//
// The returned pointer refers into entries.
func Match(text string, entries []knowledge.Entry) *knowledge.Entry {
	e, _ := match(strings.ToLower(text), entries)
	return e
}

func match(lower string, entries []knowledge.Entry) (*knowledge.Entry, int) {
	var (
		best      *knowledge.Entry
		bestScore int
	)
	for i := range entries {
		if s := score(lower, entries[i].Keywords); s > bestScore {
			best, bestScore = &entries[i], s
		}
	}
	return best, bestScore
}

func score(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}
