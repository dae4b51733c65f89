package followup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/patient"
)

// Notifier delivers flagged results for doctor review. Implementations
// are best-effort; failures are logged, never surfaced to API callers.
type Notifier interface {
	SendResult(ctx context.Context, result CommunicationResult, p patient.Record) error
}

// ReportBuilder renders a doctor-review document for a result.
type ReportBuilder interface {
	BuildReviewReport(result CommunicationResult, p patient.Record) ([]byte, error)
}

// Handler exposes the follow-up API over HTTP.
type Handler struct {
	registry *Registry
	patients patient.Repository
	notifier Notifier // optional
	reports  ReportBuilder
	log      *slog.Logger
}

// NewHandler creates an HTTP handler. notifier may be nil.
func NewHandler(registry *Registry, patients patient.Repository, notifier Notifier, reports ReportBuilder, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		registry: registry,
		patients: patients,
		notifier: notifier,
		reports:  reports,
		log:      log,
	}
}

// RegisterRoutes mounts the follow-up API on the router.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/patients", h.ListPatients)
	r.Post("/sub-agents", h.CreateSubAgent)
	r.Get("/sub-agents/{agentID}", h.GetSubAgent)
	r.Get("/sub-agents/{agentID}/report", h.GetReport)
	r.Post("/sub-agents/process", h.ProcessAll)
	r.Get("/system-status", h.SystemStatus)
	r.Post("/conversation/start", h.StartConversation)
	r.Post("/conversation/respond", h.RespondConversation)
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.patients.List(r.Context())
	if err != nil {
		http.Error(w, "Failed to list patients", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"patients": patients})
}

// CreateSubAgentRequest is the body of POST /sub-agents.
type CreateSubAgentRequest struct {
	PatientID string                  `json:"patient_id"`
	Context   patient.FollowUpContext `json:"context"`
}

func (h *Handler) CreateSubAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateSubAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	rec, err := h.patients.GetByID(r.Context(), req.PatientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			http.Error(w, "Patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load patient", http.StatusInternalServerError)
		return
	}

	agent := h.registry.CreateSubAgent(*rec, req.Context)
	writeJSON(w, map[string]any{"sub_agent": agent.StatusReport()})
}

func (h *Handler) GetSubAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.registry.Get(chi.URLParam(r, "agentID"))
	if !ok {
		http.Error(w, "Sub-agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"sub_agent": agent.StatusReport()})
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.registry.Get(chi.URLParam(r, "agentID"))
	if !ok {
		http.Error(w, "Sub-agent not found", http.StatusNotFound)
		return
	}

	results := agent.Results()
	if len(results) == 0 {
		http.Error(w, "No communication results yet", http.StatusNotFound)
		return
	}

	pdfBytes, err := h.reports.BuildReviewReport(results[len(results)-1], agent.Patient())
	if err != nil {
		http.Error(w, "Report generation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Write(pdfBytes)
}

func (h *Handler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	results := h.registry.ProcessAllPending(r.Context())
	h.notifyFlagged(r.Context(), results)
	writeJSON(w, map[string]any{
		"results":       results,
		"system_status": h.registry.SystemStatus(),
	})
}

func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"system_status": h.registry.SystemStatus()})
}

// StartConversationRequest is the body of POST /conversation/start.
type StartConversationRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	agent, ok := h.registry.Get(req.AgentID)
	if !ok {
		http.Error(w, "Sub-agent not found", http.StatusNotFound)
		return
	}

	opening, err := agent.StartConversation(r.Context())
	if err != nil {
		http.Error(w, "Failed to start conversation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"agent_message": opening,
		"max_rounds":    h.registry.MaxRounds(),
	})
}

// RespondConversationRequest is the body of POST /conversation/respond.
type RespondConversationRequest struct {
	AgentID        string `json:"agent_id"`
	PatientMessage string `json:"patient_message"`
}

func (h *Handler) RespondConversation(w http.ResponseWriter, r *http.Request) {
	var req RespondConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	agent, ok := h.registry.Get(req.AgentID)
	if !ok {
		http.Error(w, "Sub-agent not found", http.StatusNotFound)
		return
	}

	turn, err := agent.AdvanceConversation(r.Context(), req.PatientMessage)
	if err != nil {
		if errors.Is(err, conversation.ErrNotStarted) || errors.Is(err, conversation.ErrTerminated) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to process response: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"agent_message":           turn.Reply,
		"conversation_round":      turn.Round,
		"max_rounds":              turn.MaxRounds,
		"conversation_terminated": turn.Terminated,
	}
	if turn.Terminated {
		resp["termination_reason"] = turn.TerminationReason
		if turn.Result != nil {
			resp["conversation_result"] = turn.Result
			h.notifyFlagged(r.Context(), []CommunicationResult{*turn.Result})
		}
	}
	writeJSON(w, resp)
}

// notifyFlagged forwards flagged and failed results to the doctor webhook.
func (h *Handler) notifyFlagged(ctx context.Context, results []CommunicationResult) {
	if h.notifier == nil {
		return
	}
	for _, result := range results {
		if result.Status != StatusFlaggedForReview && result.Status != StatusFailed {
			continue
		}
		agent := h.findAgentForPatient(result.PatientID)
		if agent == nil {
			continue
		}
		if err := h.notifier.SendResult(ctx, result, agent.Patient()); err != nil {
			h.log.Error("review notification failed",
				"patient_id", result.PatientID, "outcome", result.Outcome, "error", err)
		}
	}
}

func (h *Handler) findAgentForPatient(patientID string) *SubAgent {
	for _, agent := range h.registry.Agents() {
		if agent.Patient().PatientID == patientID {
			return agent
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
