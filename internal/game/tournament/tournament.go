package tournament

import (
	"errors"

	"github.com/google/uuid"
)

// Status is a tournament lifecycle state.
type Status string

const (
	// StatusWaiting means the bracket is still filling up.
	StatusWaiting Status = "WAITING"
	// StatusInProgress means rounds are being played.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted is terminal. A completed tournament normally has a
	// champion; it is empty only when the final match was voided.
	StatusCompleted Status = "COMPLETED"
)

// ErrInvalidCapacity is returned for a capacity outside {4, 8, 16, 32}.
var ErrInvalidCapacity = errors.New("tournament capacity must be 4, 8, 16, or 32")

// ErrTournamentFull is returned when registering into a full bracket.
var ErrTournamentFull = errors.New("tournament is full")

// ErrTournamentNotFound is returned when a tournament lookup yields nothing.
var ErrTournamentNotFound = errors.New("tournament not found")

// ErrAlreadyRegistered is returned when a player registers twice.
var ErrAlreadyRegistered = errors.New("player already registered")

// ErrRegistrationClosed is returned when registering after the bracket
// started.
var ErrRegistrationClosed = errors.New("tournament registration is closed")

var validCapacities = map[int]struct{}{4: {}, 8: {}, 16: {}, 32: {}}

// match is one bracket slot of the current round. A resolved match with an
// empty winner is voided: nobody advances from that slot.
type match struct {
	players   [2]string
	sessionID uuid.UUID
	resolved  bool
	winner    string
}

// Tournament is a fixed-capacity single-elimination bracket.
type Tournament struct {
	ID       uuid.UUID
	Capacity int
	Players  []string
	Round    int
	Status   Status
	Champion string

	matches  []*match
	sessions []uuid.UUID
}

// Match is a read-only view of one current-round bracket slot.
type Match struct {
	Players   [2]string
	SessionID uuid.UUID
	Resolved  bool
	Winner    string
}

// Snapshot is a point-in-time copy of a tournament, safe to share.
type Snapshot struct {
	ID         uuid.UUID
	Capacity   int
	Players    []string
	Round      int
	Status     Status
	Champion   string
	Matches    []Match
	SessionIDs []uuid.UUID
}

func (t *Tournament) snapshot() Snapshot {
	snap := Snapshot{
		ID:         t.ID,
		Capacity:   t.Capacity,
		Players:    append([]string(nil), t.Players...),
		Round:      t.Round,
		Status:     t.Status,
		Champion:   t.Champion,
		SessionIDs: append([]uuid.UUID(nil), t.sessions...),
	}
	for _, m := range t.matches {
		snap.Matches = append(snap.Matches, Match{
			Players:   m.players,
			SessionID: m.sessionID,
			Resolved:  m.resolved,
			Winner:    m.winner,
		})
	}
	return snap
}

func (t *Tournament) isRegistered(userID string) bool {
	for _, p := range t.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// roundDone reports whether every match of the current round is resolved.
func (t *Tournament) roundDone() bool {
	for _, m := range t.matches {
		if !m.resolved {
			return false
		}
	}
	return true
}

// winners returns the ordered advancers of the current round, skipping
// voided slots.
func (t *Tournament) winners() []string {
	var out []string
	for _, m := range t.matches {
		if m.winner != "" {
			out = append(out, m.winner)
		}
	}
	return out
}
