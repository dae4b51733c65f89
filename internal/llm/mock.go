package llm

import (
	"context"
	"fmt"
	"strings"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/followup"
	"healthcare-followup/internal/patient"
)

// Mock returns deterministic canned responses derived from the patient
// profile. It serves tests and keyless runs, implementing the same
// capability interfaces as Client.
type Mock struct{}

// NewMock creates a deterministic mock provider.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) Opening(_ context.Context, p patient.Record, fc patient.FollowUpContext) (string, error) {
	return fmt.Sprintf("Hello %s, this is your healthcare follow-up call. I'd like to check in on how you've been doing since your last visit.", p.Name), nil
}

func (m *Mock) TurnReply(_ context.Context, req conversation.TurnRequest) (conversation.TurnReply, error) {
	if req.Round >= 3 {
		return conversation.TurnReply{
			Reply:             "Thank you, that covers everything I needed to ask. We'll be in touch with next steps.",
			ShouldTerminate:   true,
			TerminationReason: "all communication goals addressed",
		}, nil
	}

	replies := []string{
		"I see. How have you been managing your medications?",
		"Thank you for sharing that. Have you noticed any new symptoms recently?",
		"Understood. Is there anything else about your health you'd like to mention?",
	}
	return conversation.TurnReply{Reply: replies[(req.Round-1)%len(replies)]}, nil
}

func (m *Mock) GenerateTranscript(_ context.Context, p patient.Record, goals []string) (followup.TranscriptData, error) {
	if hasUrgentSymptoms(p) && hasHeartDisease(p) {
		return followup.TranscriptData{
			PatientID:  p.PatientID,
			Transcript: fmt.Sprintf("Agent: Hello %s, how are you feeling today?\nPatient: The chest pain hasn't gone away, and I'm still short of breath.\nAgent: How severe is the pain right now?\nPatient: About 7 out of 10. It's worrying me.", p.Name),
			Duration:   300.0,
			DataObtained: map[string]any{
				"chest_pain_persistent": true,
				"shortness_of_breath":   true,
				"patient_distressed":    true,
				"pain_severe":           true,
			},
			MissingData:         []string{"detailed_pain_description", "exact_location", "radiation_pattern"},
			ConfidenceScore:     0.60,
			ConversationQuality: "poor",
		}, nil
	}

	return followup.TranscriptData{
		PatientID:  p.PatientID,
		Transcript: fmt.Sprintf("Agent: Hello %s, this is your healthcare follow-up call.\nPatient: Hi, I'm doing well today.\nAgent: How are your symptoms?\nPatient: They're manageable.\nAgent: Are you taking your medications?\nPatient: Yes, as prescribed.\nAgent: Great! I'll schedule your next appointment.\nPatient: Thank you.", p.Name),
		Duration:   120.0,
		DataObtained: map[string]any{
			"feeling_well":         true,
			"medication_adherence": true,
			"no_concerns":          true,
		},
		MissingData:         nil,
		ConfidenceScore:     0.90,
		ConversationQuality: "excellent",
	}, nil
}

func (m *Mock) AnalyzeOutcome(_ context.Context, data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
	urgentFlags := []string{
		"chest_pain_persistent",
		"shortness_of_breath",
		"blood_pressure_elevated",
		"pain_severe",
		"patient_distressed",
	}
	var detected []string
	for _, flag := range urgentFlags {
		if v, ok := data.DataObtained[flag]; ok {
			if b, ok := v.(bool); ok && b {
				detected = append(detected, flag)
			}
		}
	}
	if len(detected) == 0 {
		lower := strings.ToLower(data.Transcript)
		for _, kw := range []string{"chest pain", "short of breath", "shortness of breath", "severe pain"} {
			if strings.Contains(lower, kw) {
				detected = append(detected, kw)
			}
		}
	}
	if len(detected) > 0 {
		return followup.OutcomeAnalysis{
			Outcome:           string(followup.OutcomeEscalateUrgent),
			Confidence:        0.9,
			Reasoning:         fmt.Sprintf("Urgent conditions detected during communication: %s", strings.Join(detected, ", ")),
			UrgentConditions:  detected,
			NextSteps:         []string{"Contact patient immediately", "Notify attending physician"},
			TerminationReason: "urgent escalation required",
		}, nil
	}

	// Interactive transcripts arrive unscored.
	score := data.ConfidenceScore
	if score == 0 && data.Transcript != "" {
		score = 0.85
	}

	outcome := followup.OutcomeCloseLoop
	switch {
	case score >= 0.8:
		outcome = followup.OutcomeCloseLoop
	case score >= 0.6:
		outcome = followup.OutcomeFlagForDoctorReview
	default:
		outcome = followup.OutcomeEscalateUrgent
	}

	return followup.OutcomeAnalysis{
		Outcome:           string(outcome),
		Confidence:        0.9,
		Reasoning:         fmt.Sprintf("Based on confidence score of %.2f", score),
		NextSteps:         []string{"Continue monitoring", "Schedule follow-up"},
		TerminationReason: "standard completion",
	}, nil
}

func hasUrgentSymptoms(p patient.Record) bool {
	joined := strings.ToLower(strings.Join(p.Symptoms, " "))
	for _, s := range []string{"chest pain", "shortness of breath", "severe", "emergency"} {
		if strings.Contains(joined, s) {
			return true
		}
	}
	return false
}

func hasHeartDisease(p patient.Record) bool {
	joined := strings.ToLower(strings.Join(p.MedicalHistory, " "))
	for _, s := range []string{"heart disease", "cardiac", "myocardial"} {
		if strings.Contains(joined, s) {
			return true
		}
	}
	return false
}
