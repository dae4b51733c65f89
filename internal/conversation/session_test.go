package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/patient"
)

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

func testPatient() patient.Record {
	return patient.Record{
		PatientID:          "PAT001",
		Name:               "John Smith",
		Status:             "active",
		MedicalHistory:     []string{"Diabetes Type 2"},
		CurrentMedications: []string{"Metformin"},
	}
}

func collect(s *conversation.Session) []conversation.Turn {
	var turns []conversation.Turn
	for t := range s.Transcript() {
		turns = append(turns, t)
	}
	return turns
}

func TestSession_StartAppendsOpeningTurn(t *testing.T) {
	s := conversation.NewSession(&stubGenerator{}, testPatient(), patient.FollowUpContext{Action: "follow_up"}, 0)

	require.False(t, s.Started())
	opening, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello, this is your follow-up call.", opening)
	assert.True(t, s.Started())
	assert.Equal(t, 0, s.Round())

	turns := collect(s)
	require.Len(t, turns, 1)
	assert.Equal(t, conversation.SpeakerAgent, turns[0].Speaker)
	assert.Equal(t, opening, turns[0].Message)
}

func TestSession_StartResetsTerminatedSession(t *testing.T) {
	gen := &stubGenerator{
		turn: func(req conversation.TurnRequest) (conversation.TurnReply, error) {
			return conversation.TurnReply{Reply: "Goodbye.", ShouldTerminate: true, TerminationReason: "done"}, nil
		},
	}
	s := conversation.NewSession(gen, testPatient(), patient.FollowUpContext{Action: "follow_up"}, 0)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	_, terminated, _, err := s.Advance(context.Background(), "I'm fine")
	require.NoError(t, err)
	require.True(t, terminated)
	require.True(t, s.Terminated())

	// Start is the only way out of TERMINATED and always resets.
	_, err = s.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Terminated())
	assert.Equal(t, 0, s.Round())
	assert.Len(t, collect(s), 1)
}

func TestSession_AdvanceBeforeStart(t *testing.T) {
	s := conversation.NewSession(&stubGenerator{}, testPatient(), patient.FollowUpContext{}, 0)

	_, _, _, err := s.Advance(context.Background(), "hello?")
	require.ErrorIs(t, err, conversation.ErrNotStarted)
	assert.Empty(t, collect(s), "failed advance must not mutate the turn history")
}

func TestSession_AdvanceAfterTermination(t *testing.T) {
	gen := &stubGenerator{
		turn: func(req conversation.TurnRequest) (conversation.TurnReply, error) {
			return conversation.TurnReply{Reply: "Bye.", ShouldTerminate: true}, nil
		},
	}
	s := conversation.NewSession(gen, testPatient(), patient.FollowUpContext{}, 0)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	_, terminated, _, err := s.Advance(context.Background(), "ok")
	require.NoError(t, err)
	require.True(t, terminated)

	before := collect(s)
	_, _, _, err = s.Advance(context.Background(), "one more thing")
	require.ErrorIs(t, err, conversation.ErrTerminated)
	assert.Equal(t, before, collect(s), "failed advance must not mutate the turn history")
}

func TestSession_RoundCapForcesTermination(t *testing.T) {
	// The generator never signals termination; the cap must.
	gen := &stubGenerator{
		turn: func(req conversation.TurnRequest) (conversation.TurnReply, error) {
			return conversation.TurnReply{Reply: fmt.Sprintf("Reply %d", req.Round)}, nil
		},
	}
	s := conversation.NewSession(gen, testPatient(), patient.FollowUpContext{Action: "follow_up"}, 0)

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	for i := 1; i < conversation.DefaultMaxRounds; i++ {
		reply, terminated, _, err := s.Advance(context.Background(), "still here")
		require.NoError(t, err)
		assert.False(t, terminated, "round %d should not terminate", i)
		assert.Equal(t, fmt.Sprintf("Reply %d", i), reply)
	}

	reply, terminated, reason, err := s.Advance(context.Background(), "still here")
	require.NoError(t, err)
	assert.True(t, terminated)
	assert.Equal(t, conversation.ClosingMessage, reply, "round-cap termination substitutes the fixed closing message")
	assert.Equal(t, "maximum conversation rounds reached", reason)
	assert.True(t, s.Terminated())
	assert.Equal(t, conversation.DefaultMaxRounds, s.Round())

	turns := collect(s)
	assert.Equal(t, conversation.ClosingMessage, turns[len(turns)-1].Message)
}

func TestSession_GeneratorTerminationWins(t *testing.T) {
	gen := &stubGenerator{
		turn: func(req conversation.TurnRequest) (conversation.TurnReply, error) {
			if req.Round == 2 {
				return conversation.TurnReply{
					Reply:             "That's everything I needed, thank you.",
					ShouldTerminate:   true,
					TerminationReason: "all goals covered",
				}, nil
			}
			return conversation.TurnReply{Reply: "Go on."}, nil
		},
	}
	s := conversation.NewSession(gen, testPatient(), patient.FollowUpContext{}, 0)

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	_, terminated, _, err := s.Advance(context.Background(), "first answer")
	require.NoError(t, err)
	require.False(t, terminated)

	reply, terminated, reason, err := s.Advance(context.Background(), "second answer")
	require.NoError(t, err)
	assert.True(t, terminated)
	assert.Equal(t, "That's everything I needed, thank you.", reply, "generator reply is kept when it signals termination itself")
	assert.Equal(t, "all goals covered", reason)
}

func TestSession_GeneratorErrorPropagates(t *testing.T) {
	genErr := errors.New("provider unavailable")
	gen := &stubGenerator{
		turn: func(req conversation.TurnRequest) (conversation.TurnReply, error) {
			return conversation.TurnReply{}, genErr
		},
	}
	s := conversation.NewSession(gen, testPatient(), patient.FollowUpContext{}, 0)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	_, _, _, err = s.Advance(context.Background(), "hello")
	require.ErrorIs(t, err, genErr)
	assert.False(t, s.Terminated())
}

func TestSession_TranscriptIsSnapshot(t *testing.T) {
	s := conversation.NewSession(&stubGenerator{}, testPatient(), patient.FollowUpContext{}, 0)

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	snapshot := s.Transcript()

	_, _, _, err = s.Advance(context.Background(), "more input")
	require.NoError(t, err)

	var count int
	for range snapshot {
		count++
	}
	assert.Equal(t, 1, count, "earlier snapshot must not see later turns")

	// The sequence is restartable.
	var again int
	for range snapshot {
		again++
	}
	assert.Equal(t, count, again)
}

func TestSession_CustomRoundCap(t *testing.T) {
	gen := &stubGenerator{}
	s := conversation.NewSession(gen, testPatient(), patient.FollowUpContext{}, 2)

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	_, terminated, _, err := s.Advance(context.Background(), "one")
	require.NoError(t, err)
	require.False(t, terminated)

	_, terminated, _, err = s.Advance(context.Background(), "two")
	require.NoError(t, err)
	assert.True(t, terminated)
}
