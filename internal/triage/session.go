package triage

import (
	"strings"
	"time"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

// NewSession returns an idle session holding only the greeting.
func NewSession(id string, now time.Time) *Session {
	s := &Session{
		ID:            id,
		NextMessageID: 1,
		CreatedAt:     now,
	}
	s.restart(now)
	s.appendMessage(Message{Text: GreetingText, Sender: SenderEngine, Timestamp: now})
	return s
}

// Begin admits text as a new user message and moves the session to
// StateAnalyzing. It returns the generation the pipeline result must be
// resolved against.
func (s *Session) Begin(text string, now time.Time) (uint64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrInputEmpty
	}
	if s.AwaitingAnalysis {
		return 0, ErrAnalysisInFlight
	}

	s.appendMessage(Message{Text: text, Sender: SenderUser, Timestamp: now})
	s.PendingFollowUps = []knowledge.FollowUpQuestion{}
	s.AwaitingAnalysis = true
	s.State = StateAnalyzing
	s.UpdatedAt = now
	return s.Generation, nil
}

// Resolve applies a pipeline outcome started at generation gen. It reports
// false, leaving the session untouched, when the result is stale: the
// session was reset since, or no analysis is in flight.
func (s *Session) Resolve(gen uint64, out Outcome, now time.Time) bool {
	if !s.AwaitingAnalysis || gen != s.Generation {
		return false
	}

	msg := Message{
		Text:      out.Advisory.Text,
		Sender:    SenderEngine,
		Timestamp: now,
		Urgency:   out.Advisory.Urgency,
	}

	s.PendingFollowUps = []knowledge.FollowUpQuestion{}
	s.State = StateIdle

	switch out.Kind {
	case OutcomeEmergency:
		msg.IsEmergency = true
		msg.EmergencyLevel = out.Emergency.Level
		msg.Analysis = out.Entry
		s.LastMatchedEntry = nil
	case OutcomeMatch:
		msg.Analysis = out.Entry
		s.LastMatchedEntry = out.Entry
		if len(out.Advisory.FollowUps) > 0 {
			s.PendingFollowUps = append(s.PendingFollowUps, out.Advisory.FollowUps...)
			s.State = StateAwaitingFollowUp
		}
	case OutcomeClarify:
	default:
		msg.IsError = true
		if msg.Text == "" {
			msg.Text = ErrorText
		}
	}

	s.appendMessage(msg)
	s.AwaitingAnalysis = false
	s.UpdatedAt = now
	return true
}

// Abandon resolves the analysis in flight as a pipeline fault, so the user
// sees the error reply and the session returns to idle. It reports false
// when nothing is in flight.
func (s *Session) Abandon(now time.Time) bool {
	return s.Resolve(s.Generation, faultOutcome(ErrAnalysisAbandoned), now)
}

// Reset clears the conversation back to the greeting from any state and
// starts a new generation, so a result still in flight is discarded.
func (s *Session) Reset(now time.Time) {
	s.restart(now)
	s.appendMessage(Message{Text: GreetingText, Sender: SenderEngine, Timestamp: now})
	s.Generation++
}

// FollowUp returns the pending follow-up question with the given ID.
func (s *Session) FollowUp(id string) (knowledge.FollowUpQuestion, error) {
	if s.AwaitingAnalysis {
		return knowledge.FollowUpQuestion{}, ErrAnalysisInFlight
	}
	for _, q := range s.PendingFollowUps {
		if q.ID == id {
			return q, nil
		}
	}
	return knowledge.FollowUpQuestion{}, ErrUnknownFollowUp
}

// Actions lists the booking actions for the displayed specialists of the
// last matched entry.
func (s *Session) Actions() []Action {
	if s.LastMatchedEntry == nil {
		return []Action{}
	}
	specs := head(s.LastMatchedEntry.RecommendedSpecialists, maxListItems)
	out := make([]Action, 0, len(specs))
	for _, sp := range specs {
		out = append(out, Action{Type: ActionBookSpecialist, Specialist: sp})
	}
	return out
}

// Clone returns a copy that shares no mutable state with s. Entries point
// into the immutable knowledge base and are shared.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	cp.PendingFollowUps = append([]knowledge.FollowUpQuestion{}, s.PendingFollowUps...)
	return &cp
}

func (s *Session) restart(now time.Time) {
	s.Messages = s.Messages[:0:0]
	s.AwaitingAnalysis = false
	s.PendingFollowUps = []knowledge.FollowUpQuestion{}
	s.LastMatchedEntry = nil
	s.State = StateIdle
	s.UpdatedAt = now
}

// appendMessage assigns the next message ID. IDs keep increasing across
// resets.
func (s *Session) appendMessage(m Message) {
	m.ID = s.NextMessageID
	s.NextMessageID++
	s.Messages = append(s.Messages, m)
}
