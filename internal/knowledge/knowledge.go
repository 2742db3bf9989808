// Package knowledge holds the static symptom catalog the triage engine
// classifies against: knowledge-base entries, emergency trigger phrases and
// quick-template prompts. A Base is immutable once loaded and may be shared
// across sessions without synchronization.
package knowledge

// MinUrgency and MaxUrgency bound Entry.UrgencyLevel (1 = routine, 5 = life-threatening).
const (
	MinUrgency = 1
	MaxUrgency = 5
)

// FollowUpQuestion is a clarification prompt offered after a non-emergency match.
type FollowUpQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Entry describes one recognizable symptom cluster and its associated advice.
type Entry struct {
	Key                    string             `json:"key"`
	Keywords               []string           `json:"keywords"`
	UrgencyLevel           int                `json:"urgency_level"`
	UrgencyDescription     string             `json:"urgency_description"`
	IsEmergency            bool               `json:"is_emergency"`
	RedFlags               []string           `json:"red_flags,omitempty"`
	PossibleConditions     []string           `json:"possible_conditions"`
	RecommendedSpecialists []string           `json:"recommended_specialists"`
	Recommendations        []string           `json:"recommendations"`
	FollowUpQuestions      []FollowUpQuestion `json:"follow_up_questions,omitempty"`
}

// Triggers are the two disjoint, ordered lists of emergency phrases.
// Critical phrases always take precedence over High ones.
type Triggers struct {
	Critical []string `json:"critical"`
	High     []string `json:"high"`
}

// Base is a loaded, validated knowledge base. Entry order is significant:
// the matcher breaks score ties in favour of the earlier entry.
type Base struct {
	Entries        []Entry  `json:"entries"`
	Triggers       Triggers `json:"emergency_triggers"`
	QuickTemplates []string `json:"quick_templates,omitempty"`

	byKey map[string]*Entry
}

// New builds a validated Base from in-memory entries. Slices are copied, so
// later changes by the caller do not leak into the Base.
func New(entries []Entry, triggers Triggers, templates []string) (*Base, error) {
	b := &Base{
		Entries: make([]Entry, len(entries)),
		Triggers: Triggers{
			Critical: append([]string(nil), triggers.Critical...),
			High:     append([]string(nil), triggers.High...),
		},
		QuickTemplates: append([]string(nil), templates...),
	}
	for i, e := range entries {
		e.Keywords = append([]string(nil), e.Keywords...)
		e.RedFlags = append([]string(nil), e.RedFlags...)
		e.PossibleConditions = append([]string(nil), e.PossibleConditions...)
		e.RecommendedSpecialists = append([]string(nil), e.RecommendedSpecialists...)
		e.Recommendations = append([]string(nil), e.Recommendations...)
		e.FollowUpQuestions = append([]FollowUpQuestion(nil), e.FollowUpQuestions...)
		b.Entries[i] = e
	}

	normalize(b)

	if err := Validate(b); err != nil {
		return nil, err
	}

	b.index()
	return b, nil
}

// Lookup returns the entry with the given key.
func (b *Base) Lookup(key string) (*Entry, bool) {
	e, ok := b.byKey[key]
	return e, ok
}

// Templates returns a copy of the quick-template phrases.
func (b *Base) Templates() []string {
	out := make([]string, len(b.QuickTemplates))
	copy(out, b.QuickTemplates)
	return out
}

func (b *Base) index() {
	b.byKey = make(map[string]*Entry, len(b.Entries))
	for i := range b.Entries {
		b.byKey[b.Entries[i].Key] = &b.Entries[i]
	}
}
