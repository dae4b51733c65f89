package followup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/patient"
)

// Deps bundles the external capabilities a registry wires into every
// sub-agent it creates.
type Deps struct {
	Channels    ChannelProvider
	Transcripts TranscriptGenerator
	Classifier  OutcomeClassifier
	Generator   conversation.Generator

	// MaxRounds caps interactive conversations; <= 0 selects the default.
	MaxRounds int
	// Concurrency bounds ProcessAllPending; <= 0 processes sequentially.
	Concurrency int
	Logger      *slog.Logger
}

// Registry owns every sub-agent created during the process lifetime and
// answers aggregate status queries. Entries are never removed.
type Registry struct {
	deps Deps
	seq  atomic.Uint64

	mu     sync.RWMutex
	agents map[string]*SubAgent
	order  []string
}

// SystemStatus aggregates sub-agent statuses across the registry.
type SystemStatus struct {
	TotalSubAgents   int     `json:"total_sub_agents"`
	Completed        int     `json:"completed"`
	FlaggedForReview int     `json:"flagged_for_review"`
	Failed           int     `json:"failed"`
	SuccessRate      float64 `json:"success_rate"`
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		deps:   deps,
		agents: make(map[string]*SubAgent),
	}
}

// CreateSubAgent constructs a sub-agent for one patient in PENDING status
// and stores it under a fresh unique identifier. Safe for concurrent use.
func (r *Registry) CreateSubAgent(p patient.Record, fc patient.FollowUpContext) *SubAgent {
	id := fmt.Sprintf("sub_agent_%s_%d", p.PatientID, r.seq.Add(1))

	agent := &SubAgent{
		id:          id,
		patient:     p,
		fuCtx:       fc,
		createdAt:   time.Now().UTC(),
		status:      StatusPending,
		channels:    r.deps.Channels,
		transcripts: r.deps.Transcripts,
		classifier:  r.deps.Classifier,
		generator:   r.deps.Generator,
		maxRounds:   r.deps.MaxRounds,
		log:         r.deps.Logger,
	}

	r.mu.Lock()
	r.agents[id] = agent
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.deps.Logger.Info("sub-agent created", "agent_id", id, "patient_id", p.PatientID, "action", fc.Action)
	return agent
}

// MaxRounds reports the conversation round cap applied to new sessions.
func (r *Registry) MaxRounds() int {
	if r.deps.MaxRounds <= 0 {
		return conversation.DefaultMaxRounds
	}
	return r.deps.MaxRounds
}

// Get looks up a sub-agent by identifier.
func (r *Registry) Get(agentID string) (*SubAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	return agent, ok
}

// Agents returns all sub-agents in creation order.
func (r *Registry) Agents() []*SubAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SubAgent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// ProcessAllPending runs InitiateCommunication for every sub-agent still
// in PENDING status and returns their results. Non-pending agents are
// skipped. Agents are processed with bounded concurrency; each agent's
// state is touched only by the goroutine processing it.
func (r *Registry) ProcessAllPending(ctx context.Context) []CommunicationResult {
	var pending []*SubAgent
	for _, agent := range r.Agents() {
		if agent.Status() == StatusPending {
			pending = append(pending, agent)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	results := make([]CommunicationResult, len(pending))
	g, ctx := errgroup.WithContext(ctx)
	limit := r.deps.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, agent := range pending {
		g.Go(func() error {
			results[i] = agent.InitiateCommunication(ctx)
			return nil
		})
	}
	_ = g.Wait() // InitiateCommunication never returns an error.

	return results
}

// SystemStatus computes the aggregate view of all sub-agent statuses.
// SuccessRate is 0 when the registry is empty.
func (r *Registry) SystemStatus() SystemStatus {
	status := SystemStatus{}
	for _, agent := range r.Agents() {
		status.TotalSubAgents++
		switch agent.Status() {
		case StatusCompleted:
			status.Completed++
		case StatusFlaggedForReview:
			status.FlaggedForReview++
		case StatusFailed:
			status.Failed++
		}
	}
	if status.TotalSubAgents > 0 {
		status.SuccessRate = float64(status.Completed) / float64(status.TotalSubAgents) * 100
	}
	return status
}
