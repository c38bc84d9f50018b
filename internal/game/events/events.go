// Package events defines the event names and typed payloads carried on the
// in-process bus between the realtime components.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event names. Producers publish these on the bus; consumers subscribe by name.
const (
	// ConnectionOpened is published by the connection registry after a
	// verified client is admitted.
	ConnectionOpened = "connection.opened"
	// ConnectionClosed is published by the connection registry when a
	// connection is unregistered, superseded, or times out.
	ConnectionClosed = "connection.closed"

	// SessionStateChanged is published on every game session transition.
	SessionStateChanged = "session.state_changed"
	// SessionScoreChanged is published when the authoritative simulation
	// records a point.
	SessionScoreChanged = "session.score_changed"
	// SessionOutcome is published exactly once when a session reaches a
	// terminal state.
	SessionOutcome = "session.outcome"

	// ChatMessage is published when a connected user sends a chat message.
	ChatMessage = "chat.message"

	// TournamentUpdated is published when a bracket changes: registration,
	// round start, round advance, completion.
	TournamentUpdated = "tournament.updated"

	// Notification carries a free-form server notice for a single user.
	Notification = "notification"
)

// CloseReason describes why a connection was closed.
type CloseReason string

const (
	CloseReasonClientGone CloseReason = "client_gone"
	CloseReasonSuperseded CloseReason = "superseded"
	CloseReasonTimeout    CloseReason = "timeout"
	CloseReasonShutdown   CloseReason = "shutdown"
)

// ConnectionEvent is the payload of ConnectionOpened and ConnectionClosed.
type ConnectionEvent struct {
	UserID   string
	Username string
	Reason   CloseReason // only set on ConnectionClosed
}

// StateChange is the payload of SessionStateChanged.
type StateChange struct {
	SessionID uuid.UUID
	// Seq numbers the session's events monotonically. Publication happens
	// outside the session lock, so deliveries from concurrent transitions can
	// interleave; Seq recovers the transition order.
	Seq          uint64
	Participants []string
	From         string
	To           string
	// Disconnected lists the participants awaiting reconnection while the
	// session is paused.
	Disconnected []string
	// ResumeDeadline is the instant the grace timer fires; zero unless paused.
	ResumeDeadline time.Time
}

// ScoreChange is the payload of SessionScoreChanged.
type ScoreChange struct {
	SessionID uuid.UUID
	Seq       uint64
	Scorer    string
	Scores    map[string]int
}

// Outcome is the payload of SessionOutcome: the finalized result of a
// terminal session, also handed to the persistence collaborator.
type Outcome struct {
	SessionID    uuid.UUID
	Seq          uint64
	Participants []string
	Scores       map[string]int
	// Winner is empty when the session was aborted with no winner.
	Winner  string
	Aborted bool
	// Forfeited lists participants who lost by failing to reconnect.
	Forfeited []string
	StartedAt time.Time
	EndedAt   time.Time
	// TournamentID and Round are set when the session belongs to a bracket.
	TournamentID uuid.UUID
	Round        int
}

// Chat is the payload of ChatMessage.
type Chat struct {
	Sender    string
	Recipient string
	Body      string
	SentAt    time.Time
}

// TournamentUpdate is the payload of TournamentUpdated.
type TournamentUpdate struct {
	TournamentID uuid.UUID
	Status       string
	Round        int
	Players      []string
	// Pairings holds the user-id pairs of the current round, in bracket order.
	Pairings [][2]string
	// Champion is set only when the tournament completed with a winner.
	Champion string
}

// Notice is the payload of Notification.
type Notice struct {
	UserID string
	Body   string
}
