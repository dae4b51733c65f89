// Package llm implements the conversational text-generation and
// outcome-classification capabilities against an Anthropic-style messages
// API. Mock provides deterministic responses for tests and keyless runs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/followup"
	"healthcare-followup/internal/patient"
)

const apiVersion = "2023-06-01"

// Client calls the LLM provider over HTTP. It implements
// conversation.Generator, followup.TranscriptGenerator, and
// followup.OutcomeClassifier.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an LLM client. A zero timeout defaults to 60 seconds.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Opening produces the agent's opening message for an interactive session.
func (c *Client) Opening(ctx context.Context, p patient.Record, fc patient.FollowUpContext) (string, error) {
	prompt := fmt.Sprintf(`You are a healthcare AI agent starting a %s call with a patient.

Patient Information:
- Name: %s
- Medical History: %s
- Current Medications: %s
- Symptoms: %s

Communication Goals: %s

Write a short, warm, professional opening message greeting the patient and explaining the purpose of the call. Return only the message text.`,
		fc.NormalizedAction(),
		p.Name,
		strings.Join(p.MedicalHistory, ", "),
		strings.Join(p.CurrentMedications, ", "),
		strings.Join(p.Symptoms, ", "),
		fc.Action)

	return c.complete(ctx, prompt, 500)
}

type turnReplyPayload struct {
	Reply             string `json:"reply"`
	ShouldTerminate   bool   `json:"should_terminate"`
	TerminationReason string `json:"termination_reason"`
}

// TurnReply produces the agent's reply for one conversation round plus a
// termination decision.
func (c *Client) TurnReply(ctx context.Context, req conversation.TurnRequest) (conversation.TurnReply, error) {
	var history strings.Builder
	for _, turn := range req.History {
		fmt.Fprintf(&history, "%s: %s\n", turn.Speaker, turn.Message)
	}

	prompt := fmt.Sprintf(`You are a healthcare AI agent in round %d of a follow-up conversation with a patient.

Patient Information:
- Name: %s
- Medical History: %s
- Current Medications: %s
- Symptoms: %s

Conversation so far:
%s
The patient just said: %q

Decide whether you have gathered enough information to end the call. Return a JSON object with:
- reply: your next message to the patient
- should_terminate: true if the conversation should end now
- termination_reason: why you chose to end (empty if continuing)`,
		req.Round,
		req.Patient.Name,
		strings.Join(req.Patient.MedicalHistory, ", "),
		strings.Join(req.Patient.CurrentMedications, ", "),
		strings.Join(req.Patient.Symptoms, ", "),
		history.String(),
		req.Utterance)

	content, err := c.complete(ctx, prompt, 1000)
	if err != nil {
		return conversation.TurnReply{}, err
	}

	var payload turnReplyPayload
	if err := decodeJSON(content, &payload); err != nil {
		return conversation.TurnReply{}, fmt.Errorf("turn reply parsing failed: %w", err)
	}
	return conversation.TurnReply{
		Reply:             payload.Reply,
		ShouldTerminate:   payload.ShouldTerminate,
		TerminationReason: payload.TerminationReason,
	}, nil
}

// GenerateTranscript produces a complete synthetic communication
// transcript with structured data points in one call.
func (c *Client) GenerateTranscript(ctx context.Context, p patient.Record, goals []string) (followup.TranscriptData, error) {
	prompt := fmt.Sprintf(`You are a healthcare AI agent conducting a patient follow-up call.

Patient Information:
- Name: %s
- Medical History: %s
- Current Medications: %s
- Symptoms: %s

Communication Goals: %s

Generate a realistic conversation transcript between the AI agent and patient. The conversation should be natural and professional, cover all communication goals, show patient responses based on their medical condition, and end with appropriate next steps.

Return a JSON object with:
- transcript: the conversation text
- duration: estimated duration in seconds
- data_obtained: key information gathered (boolean flags)
- missing_data: information that couldn't be obtained
- confidence_score: confidence in the communication (0.0-1.0)
- conversation_quality: quality assessment (poor/fair/good/excellent)`,
		p.Name,
		strings.Join(p.MedicalHistory, ", "),
		strings.Join(p.CurrentMedications, ", "),
		strings.Join(p.Symptoms, ", "),
		strings.Join(goals, ", "))

	content, err := c.complete(ctx, prompt, 2000)
	if err != nil {
		return followup.TranscriptData{}, err
	}

	var data followup.TranscriptData
	if err := decodeJSON(content, &data); err != nil {
		return followup.TranscriptData{}, fmt.Errorf("transcript parsing failed: %w", err)
	}
	data.PatientID = p.PatientID
	return data, nil
}

// AnalyzeOutcome classifies a completed communication into one of the four
// dispositions.
func (c *Client) AnalyzeOutcome(ctx context.Context, data followup.TranscriptData, p patient.Record) (followup.OutcomeAnalysis, error) {
	transcript := data.Transcript
	if len(transcript) > 500 {
		transcript = transcript[:500] + "..."
	}
	dataObtained, _ := json.Marshal(data.DataObtained)

	prompt := fmt.Sprintf(`You are a healthcare AI analyzing a patient communication outcome and making critical decisions about patient care.

Patient Data:
- Medical History: %s
- Current Symptoms: %s
- Current Medications: %s

Communication Data:
- Duration: %.0f seconds
- Confidence: %.2f
- Quality: %s
- Data Obtained: %s
- Missing Data: %s
- Transcript: %s

DECISION OPTIONS:
1. CLOSE_LOOP: Communication successful, all critical information obtained, patient stable, no urgent concerns
2. FLAG_FOR_DOCTOR_REVIEW: Missing important information, patient needs human medical review, non-urgent
3. ESCALATE_URGENT: URGENT - Patient has serious symptoms, needs immediate medical attention, safety concern
4. RETRY_COMMUNICATION: Communication failed, technical issues, patient unresponsive, needs retry

Patient safety is the absolute priority. Look for urgent red flags: chest pain, severe symptoms, medication problems, patient distress.

Return a JSON object with:
- outcome: your decision (CLOSE_LOOP/FLAG_FOR_DOCTOR_REVIEW/ESCALATE_URGENT/RETRY_COMMUNICATION)
- reasoning: detailed medical reasoning for your decision
- confidence: your confidence in this decision (0.0-1.0)
- urgent_conditions: list of urgent conditions detected (empty if none)
- next_steps: specific recommended actions
- termination_reason: why you chose to terminate or continue the communication`,
		strings.Join(p.MedicalHistory, ", "),
		strings.Join(p.Symptoms, ", "),
		strings.Join(p.CurrentMedications, ", "),
		data.Duration,
		data.ConfidenceScore,
		data.ConversationQuality,
		dataObtained,
		strings.Join(data.MissingData, ", "),
		transcript)

	content, err := c.complete(ctx, prompt, 1000)
	if err != nil {
		return followup.OutcomeAnalysis{}, err
	}

	var analysis followup.OutcomeAnalysis
	if err := decodeJSON(content, &analysis); err != nil {
		return followup.OutcomeAnalysis{}, fmt.Errorf("outcome analysis parsing failed: %w", err)
	}
	return analysis, nil
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm api returned status: %s, body: %s", resp.Status, string(body))
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("llm api returned empty content")
	}
	return strings.TrimSpace(result.Content[0].Text), nil
}

// decodeJSON unmarshals a model response, tolerating markdown code fences
// around the JSON object.
func decodeJSON(content string, v any) error {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	return json.Unmarshal([]byte(content), v)
}
