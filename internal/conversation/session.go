// Package conversation manages the turn-by-turn exchange between the
// healthcare agent and a patient for a single follow-up session.
package conversation

import (
	"context"
	"errors"
	"iter"
	"time"

	"healthcare-followup/internal/patient"
)

// Invalid-state errors returned when session operations are invoked out
// of order.
var (
	ErrNotStarted = errors.New("conversation: session not started")
	ErrTerminated = errors.New("conversation: session already terminated")
)

// DefaultMaxRounds caps the number of patient/agent exchanges per session.
const DefaultMaxRounds = 5

// ClosingMessage replaces the generated reply when a session is forced to
// terminate by the round cap.
const ClosingMessage = "Thank you for your time today. I have enough information to complete your follow-up. Let me process this and get back to you with next steps."

// Speaker tags one side of the conversation.
type Speaker string

const (
	SpeakerAgent   Speaker = "agent"
	SpeakerPatient Speaker = "patient"
)

// Turn is a single message in the conversation. Turns are append-only.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnRequest carries everything the text generator needs to produce the
// agent's next reply.
type TurnRequest struct {
	Utterance string
	History   []Turn
	Patient   patient.Record
	Context   patient.FollowUpContext
	Round     int
}

// TurnReply is the text generator's response for one round.
type TurnReply struct {
	Reply             string
	ShouldTerminate   bool
	TerminationReason string
}

// Generator produces conversation text. One implementation calls a real
// LLM provider; tests and keyless runs use a deterministic mock.
type Generator interface {
	Opening(ctx context.Context, p patient.Record, fc patient.FollowUpContext) (string, error)
	TurnReply(ctx context.Context, req TurnRequest) (TurnReply, error)
}

// Session is the per-patient conversation state machine:
// NOT_STARTED -> ACTIVE -> TERMINATED. Start is the only transition out of
// NOT_STARTED and always resets the session; no transition leaves
// TERMINATED except another Start.
type Session struct {
	gen       Generator
	patient   patient.Record
	fuCtx     patient.FollowUpContext
	maxRounds int

	round      int
	turns      []Turn
	started    bool
	terminated bool
}

// NewSession creates a session for one patient. maxRounds <= 0 selects
// DefaultMaxRounds.
func NewSession(gen Generator, p patient.Record, fc patient.FollowUpContext, maxRounds int) *Session {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Session{
		gen:       gen,
		patient:   p,
		fuCtx:     fc,
		maxRounds: maxRounds,
	}
}

// Start clears any prior history and produces the opening agent message.
// Calling Start on an active or terminated session restarts it.
func (s *Session) Start(ctx context.Context) (string, error) {
	opening, err := s.gen.Opening(ctx, s.patient, s.fuCtx)
	if err != nil {
		return "", err
	}

	s.round = 0
	s.turns = s.turns[:0]
	s.terminated = false
	s.started = true
	s.append(SpeakerAgent, opening)
	return opening, nil
}

// Advance appends the patient utterance, obtains the agent's reply, and
// decides whether the conversation continues. It terminates when the
// generator signals termination or the round cap is reached, whichever
// comes first. A round-cap termination substitutes ClosingMessage for the
// generated reply.
func (s *Session) Advance(ctx context.Context, utterance string) (reply string, terminated bool, reason string, err error) {
	if !s.started {
		return "", false, "", ErrNotStarted
	}
	if s.terminated {
		return "", false, "", ErrTerminated
	}

	s.append(SpeakerPatient, utterance)
	s.round++

	resp, err := s.gen.TurnReply(ctx, TurnRequest{
		Utterance: utterance,
		History:   s.snapshot(),
		Patient:   s.patient,
		Context:   s.fuCtx,
		Round:     s.round,
	})
	if err != nil {
		return "", false, "", err
	}

	reply = resp.Reply
	terminated = resp.ShouldTerminate
	reason = resp.TerminationReason

	if !terminated && s.round >= s.maxRounds {
		terminated = true
		reply = ClosingMessage
		if reason == "" {
			reason = "maximum conversation rounds reached"
		}
	}

	s.append(SpeakerAgent, reply)
	if terminated {
		s.terminated = true
	}
	return reply, terminated, reason, nil
}

// Transcript returns a restartable sequence over a snapshot of the turns
// in chronological order.
func (s *Session) Transcript() iter.Seq[Turn] {
	turns := s.snapshot()
	return func(yield func(Turn) bool) {
		for _, t := range turns {
			if !yield(t) {
				return
			}
		}
	}
}

// Round reports the number of completed patient/agent exchanges.
func (s *Session) Round() int { return s.round }

// MaxRounds reports the round cap.
func (s *Session) MaxRounds() int { return s.maxRounds }

// Started reports whether Start has been called.
func (s *Session) Started() bool { return s.started }

// Terminated reports whether the session has ended.
func (s *Session) Terminated() bool { return s.terminated }

func (s *Session) append(sp Speaker, msg string) {
	s.turns = append(s.turns, Turn{Speaker: sp, Message: msg, Timestamp: time.Now().UTC()})
}

func (s *Session) snapshot() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}
