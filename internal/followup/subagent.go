package followup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/patient"
)

// SubAgent owns the full follow-up lifecycle for one patient within one
// batch. Status transitions PENDING -> IN_PROGRESS -> {COMPLETED |
// FLAGGED_FOR_REVIEW | FAILED} and never moves backward.
type SubAgent struct {
	id        string
	patient   patient.Record
	fuCtx     patient.FollowUpContext
	createdAt time.Time

	channels    ChannelProvider
	transcripts TranscriptGenerator
	classifier  OutcomeClassifier
	generator   conversation.Generator
	maxRounds   int
	log         *slog.Logger

	mu      sync.Mutex
	status  Status
	results []CommunicationResult
	session *conversation.Session
}

// StatusReport is a read-only snapshot of a sub-agent's progress.
type StatusReport struct {
	AgentID            string    `json:"agent_id"`
	PatientID          string    `json:"patient_id"`
	PatientName        string    `json:"patient_name"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	CommunicationCount int       `json:"communication_count"`
	LatestOutcome      *Outcome  `json:"latest_outcome,omitempty"`
	LatestConfidence   *float64  `json:"latest_confidence,omitempty"`
}

// ID returns the sub-agent's unique identifier.
func (a *SubAgent) ID() string { return a.id }

// Patient returns the owned patient record.
func (a *SubAgent) Patient() patient.Record { return a.patient }

// Context returns the shared follow-up context.
func (a *SubAgent) Context() patient.FollowUpContext { return a.fuCtx }

// Status returns the current lifecycle status.
func (a *SubAgent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Results returns a copy of the communication result history.
func (a *SubAgent) Results() []CommunicationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]CommunicationResult, len(a.results))
	copy(out, a.results)
	return out
}

// CommunicationGoals derives the information goals for this patient from
// the follow-up action. Unrecognized actions have no goals.
func (a *SubAgent) CommunicationGoals() []string {
	switch a.fuCtx.Action {
	case patient.ActionFollowUp:
		return []string{
			"Verify patient is feeling well",
			"Check medication adherence",
			"Assess any new symptoms",
			"Schedule next appointment if needed",
		}
	case patient.ActionCheckStatus:
		return []string{
			"Verify current health status",
			"Check medication effectiveness",
			"Assess any side effects",
			"Confirm treatment compliance",
		}
	case patient.ActionReview:
		return []string{
			"Review reported symptoms",
			"Assess symptom severity",
			"Determine if immediate care needed",
			"Provide symptom management advice",
		}
	default:
		return nil
	}
}

// RequiredDataFields lists the data items a communication must obtain for
// the follow-up action; they populate MissingData on failure.
func (a *SubAgent) RequiredDataFields() []string {
	switch a.fuCtx.Action {
	case patient.ActionFollowUp:
		return []string{"medication_adherence", "symptom_status", "next_appointment"}
	case patient.ActionCheckStatus:
		return []string{"current_health_status", "medication_effectiveness", "side_effects"}
	case patient.ActionReview:
		return []string{"symptom_description", "symptom_severity", "immediate_care_needed"}
	default:
		return nil
	}
}

// StatusReport returns a snapshot of the sub-agent's progress.
func (a *SubAgent) StatusReport() StatusReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := StatusReport{
		AgentID:            a.id,
		PatientID:          a.patient.PatientID,
		PatientName:        a.patient.Name,
		Status:             a.status,
		CreatedAt:          a.createdAt,
		CommunicationCount: len(a.results),
	}
	if n := len(a.results); n > 0 {
		latest := a.results[n-1]
		report.LatestOutcome = &latest.Outcome
		report.LatestConfidence = &latest.ConfidenceScore
	}
	return report
}

// InitiateCommunication runs the single-shot batch cycle: acquire a
// channel, generate a transcript, classify the outcome. It never returns
// an error: every failure mode resolves to a degraded CommunicationResult
// with status FAILED and outcome flag_for_doctor_review.
func (a *SubAgent) InitiateCommunication(ctx context.Context) CommunicationResult {
	a.setStatus(StatusInProgress)

	sessionID := fmt.Sprintf("session_%s_%s", a.patient.PatientID, uuid.NewString())
	channel := a.acquireChannel(ctx, sessionID)

	data, err := a.transcripts.GenerateTranscript(ctx, a.patient, a.CommunicationGoals())
	if err != nil {
		return a.recordFailure(fmt.Errorf("transcript generation failed: %w", err))
	}
	data.SessionID = channel.SessionID
	data.PatientID = a.patient.PatientID

	result, err := a.classify(ctx, data)
	if err != nil {
		return a.recordFailure(fmt.Errorf("outcome classification failed: %w", err))
	}

	a.log.Info("communication completed",
		"agent_id", a.id,
		"patient_id", a.patient.PatientID,
		"outcome", result.Outcome,
		"status", result.Status)
	return result
}

// StartConversation begins (or restarts) the interactive session and
// returns the opening agent message. The sub-agent moves to IN_PROGRESS.
func (a *SubAgent) StartConversation(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.session == nil {
		a.session = conversation.NewSession(a.generator, a.patient, a.fuCtx, a.maxRounds)
	}
	session := a.session
	a.mu.Unlock()

	opening, err := session.Start(ctx)
	if err != nil {
		return "", fmt.Errorf("opening generation failed: %w", err)
	}
	a.setStatus(StatusInProgress)
	return opening, nil
}

// ConversationTurn is the outcome of one interactive exchange. Result is
// non-nil only when the turn terminated the session.
type ConversationTurn struct {
	Reply             string
	Round             int
	MaxRounds         int
	Terminated        bool
	TerminationReason string
	Result            *CommunicationResult
}

// AdvanceConversation feeds one patient utterance to the session. When the
// session terminates, the transcript is classified and the final
// CommunicationResult is produced through the same fail-safe path as
// InitiateCommunication.
func (a *SubAgent) AdvanceConversation(ctx context.Context, utterance string) (ConversationTurn, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return ConversationTurn{}, conversation.ErrNotStarted
	}

	reply, terminated, reason, err := session.Advance(ctx, utterance)
	if err != nil {
		return ConversationTurn{}, err
	}

	turn := ConversationTurn{
		Reply:             reply,
		Round:             session.Round(),
		MaxRounds:         session.MaxRounds(),
		Terminated:        terminated,
		TerminationReason: reason,
	}
	if !terminated {
		return turn, nil
	}

	sessionID := fmt.Sprintf("session_%s_%s", a.patient.PatientID, uuid.NewString())
	data := TranscriptData{
		SessionID:  sessionID,
		PatientID:  a.patient.PatientID,
		Transcript: transcriptText(session),
	}
	result, err := a.classify(ctx, data)
	if err != nil {
		failure := a.recordFailure(fmt.Errorf("outcome classification failed: %w", err))
		turn.Result = &failure
		return turn, nil
	}
	turn.Result = &result
	return turn, nil
}

// acquireChannel requests a channel handle from the provider, synthesizing
// a local fallback handle when the provider is unreachable. Channel
// failure is never fatal.
func (a *SubAgent) acquireChannel(ctx context.Context, sessionID string) ChannelSession {
	req := ChannelRequest{
		SessionID:     sessionID,
		PatientID:     a.patient.PatientID,
		PatientName:   a.patient.Name,
		RoomID:        fmt.Sprintf("room_%s", a.patient.PatientID),
		ParticipantID: fmt.Sprintf("agent_%s", a.id),
		AgentID:       a.id,
		Context:       a.fuCtx,
		Goals:         a.CommunicationGoals(),
	}

	channel, err := a.channels.CreateSession(ctx, req)
	if err != nil {
		a.log.Warn("channel provider unavailable, using fallback session",
			"agent_id", a.id, "patient_id", a.patient.PatientID, "error", err)
		return ChannelSession{
			SessionID:     sessionID,
			PatientID:     a.patient.PatientID,
			RoomID:        req.RoomID,
			ParticipantID: req.ParticipantID,
			StartTime:     time.Now().UTC(),
			Fallback:      true,
			Metadata:      map[string]any{"reason": "channel provider unavailable"},
		}
	}
	return channel
}

func (a *SubAgent) classify(ctx context.Context, data TranscriptData) (CommunicationResult, error) {
	analysis, err := a.classifier.AnalyzeOutcome(ctx, data, a.patient)
	if err != nil {
		return CommunicationResult{}, err
	}

	outcome := ParseOutcome(analysis.Outcome)
	result := CommunicationResult{
		SessionID:       data.SessionID,
		PatientID:       a.patient.PatientID,
		Status:          outcome.Status(),
		Outcome:         outcome,
		DataObtained:    data.DataObtained,
		MissingData:     data.MissingData,
		ConfidenceScore: analysis.Confidence,
		Timestamp:       time.Now().UTC(),
		Notes: fmt.Sprintf("Analysis: %s\n\nUrgent Conditions: %v\nNext Steps: %v\nTermination Reason: %s",
			analysis.Reasoning, analysis.UrgentConditions, analysis.NextSteps, analysis.TerminationReason),
	}

	a.appendResult(result)
	return result, nil
}

func (a *SubAgent) recordFailure(cause error) CommunicationResult {
	a.log.Error("communication failed",
		"agent_id", a.id, "patient_id", a.patient.PatientID, "error", cause)

	result := CommunicationResult{
		SessionID:       fmt.Sprintf("failed_%s", a.id),
		PatientID:       a.patient.PatientID,
		Status:          StatusFailed,
		Outcome:         OutcomeFlagForDoctorReview,
		DataObtained:    map[string]any{},
		MissingData:     a.RequiredDataFields(),
		ConfidenceScore: 0.0,
		Timestamp:       time.Now().UTC(),
		Notes:           fmt.Sprintf("Communication failed: %v", cause),
	}

	a.mu.Lock()
	a.status = StatusFailed
	a.results = append(a.results, result)
	a.mu.Unlock()
	return result
}

func (a *SubAgent) appendResult(result CommunicationResult) {
	a.mu.Lock()
	a.status = result.Status
	a.results = append(a.results, result)
	a.mu.Unlock()
}

func (a *SubAgent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func transcriptText(session *conversation.Session) string {
	var b strings.Builder
	for turn := range session.Transcript() {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		switch turn.Speaker {
		case conversation.SpeakerAgent:
			b.WriteString("Agent: ")
		case conversation.SpeakerPatient:
			b.WriteString("Patient: ")
		}
		b.WriteString(turn.Message)
	}
	return b.String()
}
