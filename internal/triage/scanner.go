package triage

import (
	"strings"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

// EmergencyLevel is the tier of a matched emergency trigger phrase.
type EmergencyLevel string

const (
	LevelNone     EmergencyLevel = ""
	LevelCritical EmergencyLevel = "critical"
	LevelHigh     EmergencyLevel = "high"
)

// EmergencyResult is the outcome of scanning free text for trigger phrases.
type EmergencyResult struct {
	IsEmergency bool           `json:"is_emergency"`
	Level       EmergencyLevel `json:"level,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Scan looks for emergency trigger phrases in text. Critical phrases are
// checked first, in list order, and only then high phrases. The first
// contained phrase wins.
func Scan(text string, triggers knowledge.Triggers) EmergencyResult {
	lower := strings.ToLower(text)

	if p, ok := firstContained(lower, triggers.Critical); ok {
		return EmergencyResult{IsEmergency: true, Level: LevelCritical, Reason: p}
	}
	if p, ok := firstContained(lower, triggers.High); ok {
		return EmergencyResult{IsEmergency: true, Level: LevelHigh, Reason: p}
	}
	return EmergencyResult{}
}

func firstContained(lower string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}
