package triage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

// Display limits for a composed advisory.
const (
	maxListItems = 2
	maxFollowUps = 2
)

// urgencyBadges maps urgency levels 1..5 to their badge.
var urgencyBadges = [knowledge.MaxUrgency]string{"🟢", "🟡", "🟠", "🔴", "🆘"}

// Fixed engine-authored texts.
const (
	GreetingText = "Сәлеметсіз бе! Мен белгілеріңізді талдап, қай маманға жүгіну керегін ұсынатын көмекшімін. " +
		"Сізді не мазалайды? Белгілеріңізді өз сөзіңізбен жазыңыз."

	ClarificationText = "Белгілеріңізді нақтырақ сипаттап беріңізші: қай жеріңіз ауырады, белгілер қашан басталды, " +
		"қосымша белгілер бар ма (мысалы, дене қызуы, ауырсынудың ұзақтығы). " +
		"Төмендегі жылдам үлгілердің бірін де таңдай аласыз."

	ErrorText = "Кешіріңіз, техникалық қате орын алды. Қайталап көріңіз немесе дәрігерге тікелей хабарласыңыз."
)

// ErrMalformedEntry is returned by Compose when an entry lacks data needed
// to render it.
var ErrMalformedEntry = errors.New("malformed knowledge base entry")

// Advisory is a rendered engine reply.
type Advisory struct {
	Text        string
	IsEmergency bool
	Urgency     int
	FollowUps   []knowledge.FollowUpQuestion
}

// Badge returns the urgency badge for level, or "" when level is out of range.
func Badge(level int) string {
	if level < knowledge.MinUrgency || level > knowledge.MaxUrgency {
		return ""
	}
	return urgencyBadges[level-1]
}

// Compose renders e into an advisory. A nil entry yields the clarification
// prompt. An entry flagged as an emergency yields an escalation headed by its
// first recommendation and never carries follow-ups.
func Compose(e *knowledge.Entry) (Advisory, error) {
	if e == nil {
		return Advisory{Text: ClarificationText}, nil
	}

	badge := Badge(e.UrgencyLevel)
	if badge == "" {
		return Advisory{}, fmt.Errorf("%w: %s: urgency_level %d", ErrMalformedEntry, e.Key, e.UrgencyLevel)
	}
	if len(e.PossibleConditions) == 0 || len(e.RecommendedSpecialists) == 0 || len(e.Recommendations) == 0 {
		return Advisory{}, fmt.Errorf("%w: %s: missing required lists", ErrMalformedEntry, e.Key)
	}

	if e.IsEmergency {
		return composeEmergency(e), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Шұғылдық деңгейі %d/%d: %s\n", badge, e.UrgencyLevel, knowledge.MaxUrgency, e.UrgencyDescription)

	if len(e.RedFlags) > 0 {
		writeSection(&b, "⚠️ Қауіпті белгілер (болса, дереу дәрігерге қаралыңыз)", e.RedFlags)
	}
	writeSection(&b, "Мүмкін жағдайлар", head(e.PossibleConditions, maxListItems))
	writeSection(&b, "Ұсынылатын мамандар", head(e.RecommendedSpecialists, maxListItems))
	writeSection(&b, "Ұсыныстар", head(e.Recommendations, maxListItems))

	return Advisory{
		Text:      strings.TrimRight(b.String(), "\n"),
		Urgency:   e.UrgencyLevel,
		FollowUps: head(e.FollowUpQuestions, maxFollowUps),
	}, nil
}

// EscalationAdvisory renders the reply for an emergency detected by trigger phrase.
func EscalationAdvisory(r EmergencyResult) Advisory {
	var text string
	urgency := knowledge.MaxUrgency
	switch r.Level {
	case LevelCritical:
		text = fmt.Sprintf("%s ӨМІРГЕ ҚАУІПТІ ЖАҒДАЙ! Хабарламаңыздан «%s» белгісі анықталды.\n"+
			"Дереу 103 жедел жәрдем нөміріне қоңырау шалыңыз. Жедел жәрдем келгенше науқасты жалғыз қалдырмаңыз.",
			Badge(knowledge.MaxUrgency), r.Reason)
	default:
		urgency = knowledge.MaxUrgency - 1
		text = fmt.Sprintf("%s ШҰҒЫЛ ЖАҒДАЙ! Хабарламаңыздан «%s» белгісі анықталды.\n"+
			"Кідірмей 103 нөміріне қоңырау шалыңыз немесе жақын жердегі жедел көмек бөлімшесіне барыңыз.",
			Badge(urgency), r.Reason)
	}
	return Advisory{Text: text, IsEmergency: true, Urgency: urgency}
}

func composeEmergency(e *knowledge.Entry) Advisory {
	var b strings.Builder
	fmt.Fprintf(&b, "%s ШҰҒЫЛ КӨМЕК ҚАЖЕТ: %s\n", Badge(knowledge.MaxUrgency), e.Recommendations[0])
	fmt.Fprintf(&b, "%s\n", e.UrgencyDescription)
	if len(e.RedFlags) > 0 {
		writeSection(&b, "Қауіпті белгілер", e.RedFlags)
	}
	if rest := e.Recommendations[1:]; len(rest) > 0 {
		writeSection(&b, "Жедел жәрдем келгенше", head(rest, maxListItems))
	}
	return Advisory{
		Text:        strings.TrimRight(b.String(), "\n"),
		IsEmergency: true,
		Urgency:     e.UrgencyLevel,
	}
}

func writeSection(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "• %s\n", it)
	}
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[:n]
	}
	return append([]T(nil), s...)
}
