package triage

import (
	"errors"
	"time"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

var (
	// ErrInputEmpty is returned for blank submissions. Nothing is appended.
	ErrInputEmpty = errors.New("input is empty")

	// ErrAnalysisInFlight is returned when a session is already analyzing.
	ErrAnalysisInFlight = errors.New("analysis in flight")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownFollowUp is returned when a follow-up ID is not pending.
	ErrUnknownFollowUp = errors.New("unknown follow-up question")

	// ErrAnalysisAbandoned marks an in-flight analysis whose result can no
	// longer be delivered.
	ErrAnalysisAbandoned = errors.New("analysis abandoned")
)

// Sender identifies the author of a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderEngine Sender = "engine"
)

// State is the conversational state of a session.
type State string

const (
	// StateIdle accepts a new user message.
	StateIdle State = "idle"

	// StateAnalyzing means one pipeline run is in flight.
	StateAnalyzing State = "analyzing"

	// StateAwaitingFollowUp means a match offered follow-up questions.
	// Fresh text is accepted here as well.
	StateAwaitingFollowUp State = "awaiting_follow_up_choice"
)

// Message is one entry of a session transcript. Messages are never
// modified after they are appended.
type Message struct {
	ID             int              `json:"id"`
	Text           string           `json:"text"`
	Sender         Sender           `json:"sender"`
	Timestamp      time.Time        `json:"timestamp"`
	IsEmergency    bool             `json:"is_emergency"`
	IsError        bool             `json:"is_error,omitempty"`
	EmergencyLevel EmergencyLevel   `json:"emergency_level,omitempty"`
	Urgency        int              `json:"urgency,omitempty"`
	Analysis       *knowledge.Entry `json:"analysis,omitempty"`
}

// Action is a caller-side action the user may take on the last advisory.
type Action struct {
	Type       string `json:"type"`
	Specialist string `json:"specialist"`
}

// ActionBookSpecialist asks the caller to route to booking for a specialist.
const ActionBookSpecialist = "book_specialist"

// Session is the state of one triage conversation.
type Session struct {
	ID               string                       `json:"id"`
	Messages         []Message                    `json:"messages"`
	AwaitingAnalysis bool                         `json:"awaiting_analysis"`
	PendingFollowUps []knowledge.FollowUpQuestion `json:"pending_follow_ups"`
	LastMatchedEntry *knowledge.Entry             `json:"last_matched_entry"`
	State            State                        `json:"state"`
	Generation       uint64                       `json:"generation"`
	NextMessageID    int                          `json:"-"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}
