// Package followup implements the per-patient sub-agent lifecycle: channel
// acquisition, conversation execution, outcome classification, and the
// registry that aggregates results across a batch.
package followup

import (
	"context"
	"strings"
	"time"

	"healthcare-followup/internal/patient"
)

// Status of a follow-up communication.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusFlaggedForReview Status = "flagged_for_review"
)

// Outcome is the classifier's disposition for a completed communication.
type Outcome string

const (
	OutcomeCloseLoop           Outcome = "close_loop"
	OutcomeFlagForDoctorReview Outcome = "flag_for_doctor_review"
	OutcomeRetryCommunication  Outcome = "retry_communication"
	OutcomeEscalateUrgent      Outcome = "escalate_urgent"
)

// ParseOutcome maps a classifier outcome string, case-insensitively, to an
// Outcome. Unrecognized or empty strings default to OutcomeCloseLoop,
// matching the classifier contract.
func ParseOutcome(s string) Outcome {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeCloseLoop:
		return OutcomeCloseLoop
	case OutcomeFlagForDoctorReview:
		return OutcomeFlagForDoctorReview
	case OutcomeRetryCommunication:
		return OutcomeRetryCommunication
	case OutcomeEscalateUrgent:
		return OutcomeEscalateUrgent
	default:
		return OutcomeCloseLoop
	}
}

// Status returns the sub-agent status that an outcome resolves to:
//
//	close_loop             -> completed
//	flag_for_doctor_review -> flagged_for_review
//	escalate_urgent        -> flagged_for_review
//	retry_communication    -> failed
func (o Outcome) Status() Status {
	switch o {
	case OutcomeCloseLoop:
		return StatusCompleted
	case OutcomeFlagForDoctorReview, OutcomeEscalateUrgent:
		return StatusFlaggedForReview
	case OutcomeRetryCommunication:
		return StatusFailed
	default:
		return StatusCompleted
	}
}

// CommunicationResult records the disposition of one communication attempt.
// Results are appended to the owning sub-agent's history and never mutated.
type CommunicationResult struct {
	SessionID       string         `json:"session_id"`
	PatientID       string         `json:"patient_id"`
	Status          Status         `json:"status"`
	Outcome         Outcome        `json:"outcome"`
	DataObtained    map[string]any `json:"data_obtained"`
	MissingData     []string       `json:"missing_data"`
	ConfidenceScore float64        `json:"confidence_score"`
	Timestamp       time.Time      `json:"timestamp"`
	Notes           string         `json:"notes"`
}

// TranscriptData is the structured output of a completed communication,
// either generated in one shot by the text generator or assembled from an
// interactive session.
type TranscriptData struct {
	SessionID           string         `json:"session_id"`
	PatientID           string         `json:"patient_id"`
	Transcript          string         `json:"transcript"`
	Duration            float64        `json:"duration"`
	DataObtained        map[string]any `json:"data_obtained"`
	MissingData         []string       `json:"missing_data"`
	ConfidenceScore     float64        `json:"confidence_score"`
	ConversationQuality string         `json:"conversation_quality"`
}

// OutcomeAnalysis is the classifier's verdict on a communication.
type OutcomeAnalysis struct {
	Outcome           string   `json:"outcome"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	UrgentConditions  []string `json:"urgent_conditions"`
	NextSteps         []string `json:"next_steps"`
	TerminationReason string   `json:"termination_reason"`
}

// ChannelRequest is the session metadata sent to the channel provider.
type ChannelRequest struct {
	SessionID     string                  `json:"session_id"`
	PatientID     string                  `json:"patient_id"`
	PatientName   string                  `json:"patient_name"`
	RoomID        string                  `json:"room_id"`
	ParticipantID string                  `json:"participant_id"`
	AgentID       string                  `json:"agent_id"`
	Context       patient.FollowUpContext `json:"context"`
	Goals         []string                `json:"communication_goals"`
}

// ChannelSession is a communication channel handle. Fallback marks a
// locally synthesized handle used when the provider was unreachable.
type ChannelSession struct {
	SessionID     string         `json:"session_id"`
	PatientID     string         `json:"patient_id"`
	RoomID        string         `json:"room_id"`
	ParticipantID string         `json:"participant_id"`
	StartTime     time.Time      `json:"start_time"`
	Fallback      bool           `json:"fallback,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ChannelProvider acquires communication channels from the external
// real-time communication service.
type ChannelProvider interface {
	CreateSession(ctx context.Context, req ChannelRequest) (ChannelSession, error)
}

// TranscriptGenerator produces a complete synthetic transcript for a
// single-shot batch communication.
type TranscriptGenerator interface {
	GenerateTranscript(ctx context.Context, p patient.Record, goals []string) (TranscriptData, error)
}

// OutcomeClassifier turns a transcript into an actionable disposition.
type OutcomeClassifier interface {
	AnalyzeOutcome(ctx context.Context, data TranscriptData, p patient.Record) (OutcomeAnalysis, error)
}
