// Package session provides the per-game state machine: lifecycle, scoring,
// and the pause/resume path that survives transient disconnects.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/arena/internal/game/mode"
)

// State is a game session lifecycle state.
type State string

const (
	// StateWaiting is the initial state: participants have not all readied up.
	StateWaiting State = "WAITING"
	// StateActive means gameplay is in progress.
	StateActive State = "ACTIVE"
	// StatePaused means gameplay is suspended while a participant is gone.
	StatePaused State = "PAUSED"
	// StateFinished is terminal with a winner.
	StateFinished State = "FINISHED"
	// StateAborted is terminal with no winner.
	StateAborted State = "ABORTED"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAborted
}

// ErrSessionConflict is returned when a participant already belongs to a
// non-terminal session.
var ErrSessionConflict = errors.New("participant already in an active session")

// ErrSessionNotFound is returned when a session lookup yields nothing.
var ErrSessionNotFound = errors.New("session not found")

// ErrNotParticipant is returned when a user acts on a session they are not
// part of.
var ErrNotParticipant = errors.New("user is not a session participant")

// ErrInvalidTransition is returned when an operation is not legal in the
// session's current state.
var ErrInvalidTransition = errors.New("operation not valid in current state")

// TournamentLink ties a session to the bracket and round it was created for.
type TournamentLink struct {
	TournamentID uuid.UUID
	Round        int
}

// pauseState exists only while a session is PAUSED. It is created on the
// first disconnect, mutated as players reconnect, and removed when the
// session resumes or terminates.
type pauseState struct {
	disconnected map[string]struct{}
	pausedAt     time.Time
	triggeredBy  string
	timer        *GraceTimer
	deadline     time.Time
	// gen distinguishes this pause from earlier ones on the same session,
	// so an already-fired timer from a resolved pause cannot forfeit.
	gen uint64
}

// Session is one live game between a fixed, ordered set of participants.
// The participant set never changes after creation; reconnection rebinds a
// transport to an existing slot.
type Session struct {
	ID           uuid.UUID
	Mode         *mode.Mode
	Participants []string
	State        State
	Scores       map[string]int
	Link         *TournamentLink
	CreatedAt    time.Time
	StartedAt    time.Time

	ready map[string]bool
	pause *pauseState
	seq   uint64
}

// Snapshot is a read-only copy of a session's externally visible state.
type Snapshot struct {
	ID           uuid.UUID
	ModeID       string
	Participants []string
	State        State
	Scores       map[string]int
	Link         *TournamentLink
	// Disconnected lists participants awaiting reconnection; empty unless
	// the session is paused.
	Disconnected []string
	// ResumeDeadline is the grace expiry instant; zero unless paused.
	ResumeDeadline time.Time
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:           s.ID,
		ModeID:       s.Mode.ID,
		Participants: append([]string(nil), s.Participants...),
		State:        s.State,
		Scores:       make(map[string]int, len(s.Scores)),
	}
	for k, v := range s.Scores {
		snap.Scores[k] = v
	}
	if s.Link != nil {
		link := *s.Link
		snap.Link = &link
	}
	if s.pause != nil {
		snap.Disconnected = s.disconnectedIDs()
		snap.ResumeDeadline = s.pause.deadline
	}
	return snap
}

// disconnectedIDs returns the disconnected participants in participant order.
func (s *Session) disconnectedIDs() []string {
	if s.pause == nil {
		return nil
	}
	out := make([]string, 0, len(s.pause.disconnected))
	for _, p := range s.Participants {
		if _, gone := s.pause.disconnected[p]; gone {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) isParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (s *Session) allReady() bool {
	for _, p := range s.Participants {
		if !s.ready[p] {
			return false
		}
	}
	return true
}
