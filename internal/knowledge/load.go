package knowledge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed default.json
var defaultCatalog []byte

// Default returns the built-in catalog shipped with the binary.
func Default() (*Base, error) {
	b, err := Load(bytes.NewReader(defaultCatalog))
	if err != nil {
		return nil, fmt.Errorf("default knowledge base: %w", err)
	}
	return b, nil
}

// LoadFile reads and validates a knowledge base from a JSON file.
func LoadFile(path string) (*Base, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	defer func() { _ = f.Close() }()

	b, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %s: %w", path, err)
	}
	return b, nil
}

// Load decodes a JSON knowledge base, normalizes keywords and trigger phrases
// to lower case, and validates every entry. All problems are reported together.
// Entry order from the document is preserved.
func Load(r io.Reader) (*Base, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var b Base
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	normalize(&b)

	if err := Validate(&b); err != nil {
		return nil, err
	}

	b.index()
	return &b, nil
}

func normalize(b *Base) {
	for i := range b.Entries {
		for j, kw := range b.Entries[i].Keywords {
			b.Entries[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	for i, p := range b.Triggers.Critical {
		b.Triggers.Critical[i] = strings.ToLower(strings.TrimSpace(p))
	}
	for i, p := range b.Triggers.High {
		b.Triggers.High[i] = strings.ToLower(strings.TrimSpace(p))
	}
}

// Validate checks the structural invariants of a knowledge base.
func Validate(b *Base) error {
	var errs []error

	if len(b.Entries) == 0 {
		errs = append(errs, errors.New("no entries"))
	}

	keys := make(map[string]int, len(b.Entries))
	for i := range b.Entries {
		e := &b.Entries[i]
		if e.Key == "" {
			errs = append(errs, fmt.Errorf("entry %d: key is required", i))
		} else if prev, dup := keys[e.Key]; dup {
			errs = append(errs, fmt.Errorf("entry %d: duplicate key %q (first at entry %d)", i, e.Key, prev))
		} else {
			keys[e.Key] = i
		}
		if err := validateEntry(e); err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i, e.Key, err))
		}
	}

	if err := validateTriggers(&b.Triggers); err != nil {
		errs = append(errs, fmt.Errorf("emergency triggers: %w", err))
	}

	for i, t := range b.QuickTemplates {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, fmt.Errorf("quick template %d is blank", i))
		}
	}

	return errors.Join(errs...)
}

func validateEntry(e *Entry) error {
	var errs []error

	if len(e.Keywords) == 0 {
		errs = append(errs, errors.New("keywords must not be empty"))
	}
	seen := make(map[string]bool, len(e.Keywords))
	for j, kw := range e.Keywords {
		if kw == "" {
			errs = append(errs, fmt.Errorf("keyword %d is blank", j))
			continue
		}
		if seen[kw] {
			errs = append(errs, fmt.Errorf("duplicate keyword %q", kw))
		}
		seen[kw] = true
	}

	if e.UrgencyLevel < MinUrgency || e.UrgencyLevel > MaxUrgency {
		errs = append(errs, fmt.Errorf("urgency_level %d out of range %d..%d", e.UrgencyLevel, MinUrgency, MaxUrgency))
	}
	if strings.TrimSpace(e.UrgencyDescription) == "" {
		errs = append(errs, errors.New("urgency_description is required"))
	}
	if len(e.PossibleConditions) == 0 {
		errs = append(errs, errors.New("possible_conditions must not be empty"))
	}
	if len(e.RecommendedSpecialists) == 0 {
		errs = append(errs, errors.New("recommended_specialists must not be empty"))
	}
	if len(e.Recommendations) == 0 {
		errs = append(errs, errors.New("recommendations must not be empty"))
	}

	ids := make(map[string]bool, len(e.FollowUpQuestions))
	for j, q := range e.FollowUpQuestions {
		if q.ID == "" || strings.TrimSpace(q.Text) == "" {
			errs = append(errs, fmt.Errorf("follow-up %d: id and text are required", j))
			continue
		}
		if ids[q.ID] {
			errs = append(errs, fmt.Errorf("duplicate follow-up id %q", q.ID))
		}
		ids[q.ID] = true
	}

	return errors.Join(errs...)
}

func validateTriggers(t *Triggers) error {
	var errs []error

	critical := make(map[string]bool, len(t.Critical))
	for i, p := range t.Critical {
		if p == "" {
			errs = append(errs, fmt.Errorf("critical phrase %d is blank", i))
			continue
		}
		critical[p] = true
	}
	for i, p := range t.High {
		if p == "" {
			errs = append(errs, fmt.Errorf("high phrase %d is blank", i))
			continue
		}
		if critical[p] {
			errs = append(errs, fmt.Errorf("phrase %q is listed as both critical and high", p))
		}
	}

	return errors.Join(errs...)
}
