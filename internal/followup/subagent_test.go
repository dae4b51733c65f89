package followup_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/followup"
	"healthcare-followup/internal/patient"
)

type stubChannels struct {
	create func(req followup.ChannelRequest) (followup.ChannelSession, error)
}

func (s *stubChannels) CreateSession(_ context.Context, req followup.ChannelRequest) (followup.ChannelSession, error) {
	if s.create != nil {
		return s.create(req)
	}
	return followup.ChannelSession{SessionID: req.SessionID, PatientID: req.PatientID, RoomID: req.RoomID}, nil
}

type stubTranscripts struct {
	generate func(p patient.Record, goals []string) (followup.TranscriptData, error)
}

func (s *stubTranscripts) GenerateTranscript(_ context.Context, p patient.Record, goals []string) (followup.TranscriptData, error) {
	if s.generate != nil {
		return s.generate(p, goals)
	}
	return followup.TranscriptData{
		Transcript:          "Agent: Hello.\nPatient: I'm doing well.",
		Duration:            120,
		DataObtained:        map[string]any{"feeling_well": true},
		ConfidenceScore:     0.9,
		ConversationQuality: "good",
	}, nil
}

type stubClassifier struct {
	analyze func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error)
}

func (s *stubClassifier) AnalyzeOutcome(_ context.Context, data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
	if s.analyze != nil {
		return s.analyze(data, p)
	}
	return followup.OutcomeAnalysis{Outcome: "close_loop", Confidence: 0.9, Reasoning: "routine"}, nil
}

type stubGenerator struct {
	opening func(p patient.Record, fc patient.FollowUpContext) (string, error)
	turn    func(req conversation.TurnRequest) (conversation.TurnReply, error)
}

func (s *stubGenerator) Opening(_ context.Context, p patient.Record, fc patient.FollowUpContext) (string, error) {
	if s.opening != nil {
		return s.opening(p, fc)
	}
	return "Hello, this is your follow-up call.", nil
}

func (s *stubGenerator) TurnReply(_ context.Context, req conversation.TurnRequest) (conversation.TurnReply, error) {
	if s.turn != nil {
		return s.turn(req)
	}
	return conversation.TurnReply{Reply: "Tell me more."}, nil
}

func newTestRegistry(deps followup.Deps) *followup.Registry {
	if deps.Channels == nil {
		deps.Channels = &stubChannels{}
	}
	if deps.Transcripts == nil {
		deps.Transcripts = &stubTranscripts{}
	}
	if deps.Classifier == nil {
		deps.Classifier = &stubClassifier{}
	}
	if deps.Generator == nil {
		deps.Generator = &stubGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return followup.NewRegistry(deps)
}

func followUpPatient() patient.Record {
	return patient.Record{
		PatientID:          "PAT001",
		Name:               "John Smith",
		Status:             "active",
		MedicalHistory:     []string{"Diabetes Type 2", "Hypertension"},
		CurrentMedications: []string{"Metformin", "Lisinopril"},
		Symptoms:           []string{"fatigue", "frequent urination"},
	}
}

func cardiacPatient() patient.Record {
	return patient.Record{
		PatientID:          "PAT003",
		Name:               "Michael Chen",
		Status:             "active",
		MedicalHistory:     []string{"Heart Disease", "High Cholesterol"},
		CurrentMedications: []string{"Atorvastatin", "Aspirin"},
		Symptoms:           []string{"chest pain", "shortness of breath"},
	}
}

func TestInitiateCommunication_CloseLoop(t *testing.T) {
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			return followup.OutcomeAnalysis{Outcome: "close_loop", Confidence: 0.92, Reasoning: "patient stable"}, nil
		},
	}
	registry := newTestRegistry(followup.Deps{Classifier: classifier})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	result := agent.InitiateCommunication(context.Background())

	assert.Equal(t, followup.StatusCompleted, result.Status)
	assert.Equal(t, followup.OutcomeCloseLoop, result.Outcome)
	assert.Equal(t, 0.92, result.ConfidenceScore)
	assert.Equal(t, "PAT001", result.PatientID)
	assert.Equal(t, followup.StatusCompleted, agent.Status())
	require.Len(t, agent.Results(), 1)
}

func TestInitiateCommunication_EscalateUrgent(t *testing.T) {
	// Cardiac patient under a review action; the classifier escalates.
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			return followup.OutcomeAnalysis{
				Outcome:          "ESCALATE_URGENT",
				Confidence:       0.85,
				Reasoning:        "persistent chest pain with cardiac history",
				UrgentConditions: []string{"chest pain", "shortness of breath"},
			}, nil
		},
	}
	registry := newTestRegistry(followup.Deps{Classifier: classifier})
	agent := registry.CreateSubAgent(cardiacPatient(), patient.FollowUpContext{Action: patient.ActionReview})

	result := agent.InitiateCommunication(context.Background())

	assert.Equal(t, followup.StatusFlaggedForReview, result.Status, "escalate_urgent maps to flagged_for_review, never failed")
	assert.Equal(t, followup.OutcomeEscalateUrgent, result.Outcome)
	assert.Equal(t, followup.StatusFlaggedForReview, agent.Status())
	assert.Contains(t, result.Notes, "persistent chest pain")
}

func TestInitiateCommunication_ChannelFailureFallsBack(t *testing.T) {
	channels := &stubChannels{
		create: func(req followup.ChannelRequest) (followup.ChannelSession, error) {
			return followup.ChannelSession{}, errors.New("connection refused")
		},
	}
	classified := false
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			classified = true
			return followup.OutcomeAnalysis{Outcome: "close_loop", Confidence: 0.8}, nil
		},
	}
	registry := newTestRegistry(followup.Deps{Channels: channels, Classifier: classifier})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	result := agent.InitiateCommunication(context.Background())

	assert.True(t, classified, "channel failure must not stop the cycle")
	assert.Equal(t, followup.StatusCompleted, result.Status)
}

func TestInitiateCommunication_TranscriptFailure(t *testing.T) {
	transcripts := &stubTranscripts{
		generate: func(p patient.Record, goals []string) (followup.TranscriptData, error) {
			return followup.TranscriptData{}, errors.New("llm timeout")
		},
	}
	registry := newTestRegistry(followup.Deps{Transcripts: transcripts})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	result := agent.InitiateCommunication(context.Background())

	assert.Equal(t, followup.StatusFailed, result.Status)
	assert.Equal(t, followup.OutcomeFlagForDoctorReview, result.Outcome)
	assert.Equal(t, 0.0, result.ConfidenceScore)
	assert.Equal(t, []string{"medication_adherence", "symptom_status", "next_appointment"}, result.MissingData)
	assert.Contains(t, result.Notes, "llm timeout")
	assert.Equal(t, followup.StatusFailed, agent.Status())
}

func TestInitiateCommunication_ClassifierFailure(t *testing.T) {
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			return followup.OutcomeAnalysis{}, errors.New("service unavailable")
		},
	}
	registry := newTestRegistry(followup.Deps{Classifier: classifier})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionCheckStatus})

	result := agent.InitiateCommunication(context.Background())

	assert.Equal(t, followup.StatusFailed, result.Status)
	assert.Equal(t, followup.OutcomeFlagForDoctorReview, result.Outcome)
	assert.Equal(t, []string{"current_health_status", "medication_effectiveness", "side_effects"}, result.MissingData)
	require.Len(t, agent.Results(), 1)
}

func TestInitiateCommunication_UnknownOutcomeDefaultsToCloseLoop(t *testing.T) {
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			return followup.OutcomeAnalysis{Outcome: "unknown_value", Confidence: 0.7}, nil
		},
	}
	registry := newTestRegistry(followup.Deps{Classifier: classifier})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	result := agent.InitiateCommunication(context.Background())

	assert.Equal(t, followup.OutcomeCloseLoop, result.Outcome)
	assert.Equal(t, followup.StatusCompleted, result.Status)
}

func TestInitiateCommunication_RetryOutcomeFails(t *testing.T) {
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			return followup.OutcomeAnalysis{Outcome: "retry_communication", Confidence: 0.4}, nil
		},
	}
	registry := newTestRegistry(followup.Deps{Classifier: classifier})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	result := agent.InitiateCommunication(context.Background())

	assert.Equal(t, followup.StatusFailed, result.Status)
	assert.Equal(t, followup.OutcomeRetryCommunication, result.Outcome)
}

func TestCommunicationGoals(t *testing.T) {
	tests := []struct {
		action string
		want   int
	}{
		{patient.ActionFollowUp, 4},
		{patient.ActionCheckStatus, 4},
		{patient.ActionReview, 4},
		{"unknown_action", 0},
	}
	registry := newTestRegistry(followup.Deps{})
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: tt.action})
			assert.Len(t, agent.CommunicationGoals(), tt.want)
		})
	}
}

func TestRequiredDataFields(t *testing.T) {
	registry := newTestRegistry(followup.Deps{})

	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionReview})
	assert.Equal(t, []string{"symptom_description", "symptom_severity", "immediate_care_needed"}, agent.RequiredDataFields())

	agent = registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: "something_else"})
	assert.Empty(t, agent.RequiredDataFields())
}

func TestStatusReport(t *testing.T) {
	registry := newTestRegistry(followup.Deps{})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	report := agent.StatusReport()
	assert.Equal(t, agent.ID(), report.AgentID)
	assert.Equal(t, "John Smith", report.PatientName)
	assert.Equal(t, followup.StatusPending, report.Status)
	assert.Equal(t, 0, report.CommunicationCount)
	assert.Nil(t, report.LatestOutcome)
	assert.Nil(t, report.LatestConfidence)

	agent.InitiateCommunication(context.Background())

	report = agent.StatusReport()
	assert.Equal(t, 1, report.CommunicationCount)
	require.NotNil(t, report.LatestOutcome)
	assert.Equal(t, followup.OutcomeCloseLoop, *report.LatestOutcome)
	require.NotNil(t, report.LatestConfidence)
}

func TestConversationFlow_TerminationClassifiesTranscript(t *testing.T) {
	gen := &stubGenerator{
		turn: func(req conversation.TurnRequest) (conversation.TurnReply, error) {
			if req.Round >= 2 {
				return conversation.TurnReply{Reply: "Goodbye.", ShouldTerminate: true, TerminationReason: "goals met"}, nil
			}
			return conversation.TurnReply{Reply: "Go on."}, nil
		},
	}
	var classifiedTranscript string
	classifier := &stubClassifier{
		analyze: func(data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
			classifiedTranscript = data.Transcript
			return followup.OutcomeAnalysis{Outcome: "close_loop", Confidence: 0.88}, nil
		},
	}
	registry := newTestRegistry(followup.Deps{Generator: gen, Classifier: classifier})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	opening, err := agent.StartConversation(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opening)
	assert.Equal(t, followup.StatusInProgress, agent.Status())

	turn, err := agent.AdvanceConversation(context.Background(), "I'm feeling good")
	require.NoError(t, err)
	assert.False(t, turn.Terminated)
	assert.Nil(t, turn.Result)

	turn, err = agent.AdvanceConversation(context.Background(), "Taking my medications daily")
	require.NoError(t, err)
	assert.True(t, turn.Terminated)
	require.NotNil(t, turn.Result)
	assert.Equal(t, followup.StatusCompleted, turn.Result.Status)
	assert.Equal(t, 0.88, turn.Result.ConfidenceScore)
	assert.Equal(t, followup.StatusCompleted, agent.Status())

	assert.Contains(t, classifiedTranscript, "Agent: ")
	assert.Contains(t, classifiedTranscript, "Patient: I'm feeling good")
}

func TestAdvanceConversation_BeforeStart(t *testing.T) {
	registry := newTestRegistry(followup.Deps{})
	agent := registry.CreateSubAgent(followUpPatient(), patient.FollowUpContext{Action: patient.ActionFollowUp})

	_, err := agent.AdvanceConversation(context.Background(), "hello?")
	require.ErrorIs(t, err, conversation.ErrNotStarted)
}
