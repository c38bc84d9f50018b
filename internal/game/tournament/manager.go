package tournament

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/game/mode"
	"github.com/cory-johannsen/arena/internal/game/session"
)

// SessionCreator is the slice of the session manager the tournament
// manager needs to spawn bracket matches.
type SessionCreator interface {
	Create(participants []string, md *mode.Mode, link *session.TournamentLink) (session.Snapshot, error)
}

// Manager owns every bracket and reacts to session outcomes to drive rounds
// forward. Round advancement is idempotent: the "all sessions of this round
// terminal" check re-evaluates on every outcome and fires the advance at
// most once, because the resolving outcome also swaps in the next round's
// matches. All methods are safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	tournaments map[uuid.UUID]*Tournament
	bySession   map[uuid.UUID]uuid.UUID

	creator SessionCreator
	mode    *mode.Mode
	bus     *bus.Bus
	logger  *zap.Logger

	sub bus.Subscription
}

// NewManager creates a tournament Manager that plays its matches in the
// given mode and subscribes itself to session outcomes.
func NewManager(creator SessionCreator, md *mode.Mode, b *bus.Bus, logger *zap.Logger) *Manager {
	m := &Manager{
		tournaments: make(map[uuid.UUID]*Tournament),
		bySession:   make(map[uuid.UUID]uuid.UUID),
		creator:     creator,
		mode:        md,
		bus:         b,
		logger:      logger,
	}
	m.sub = b.Subscribe(events.SessionOutcome, func(e bus.Event) {
		if out, ok := e.Payload.(events.Outcome); ok {
			m.HandleOutcome(out)
		}
	})
	return m
}

// Close detaches the manager from the bus.
func (m *Manager) Close() {
	m.bus.Unsubscribe(m.sub)
}

// Create initializes an empty WAITING bracket.
//
// Postcondition: Returns ErrInvalidCapacity for a capacity outside
// {4, 8, 16, 32}; nothing is created in that case.
func (m *Manager) Create(capacity int) (Snapshot, error) {
	if _, ok := validCapacities[capacity]; !ok {
		return Snapshot{}, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	t := &Tournament{
		ID:       uuid.New(),
		Capacity: capacity,
		Round:    1,
		Status:   StatusWaiting,
	}
	m.mu.Lock()
	m.tournaments[t.ID] = t
	snap := t.snapshot()
	m.mu.Unlock()

	m.logger.Info("tournament created",
		zap.String("tournament_id", t.ID.String()),
		zap.Int("capacity", capacity),
	)
	return snap, nil
}

// Register appends a player to the bracket in registration order. Filling
// the bracket to capacity starts the tournament: status moves to
// IN_PROGRESS and round-1 matches are created from consecutive pairs.
//
// Postcondition: Returns ErrTournamentNotFound, ErrRegistrationClosed,
// ErrTournamentFull, or ErrAlreadyRegistered with no mutation on rejection.
func (m *Manager) Register(tournamentID uuid.UUID, userID string) (Snapshot, error) {
	m.mu.Lock()
	t, ok := m.tournaments[tournamentID]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTournamentNotFound, tournamentID)
	}
	if t.Status != StatusWaiting {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: tournament is %s", ErrRegistrationClosed, t.Status)
	}
	if len(t.Players) >= t.Capacity {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: capacity %d", ErrTournamentFull, t.Capacity)
	}
	if t.isRegistered(userID) {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %q", ErrAlreadyRegistered, userID)
	}

	t.Players = append(t.Players, userID)
	if len(t.Players) == t.Capacity {
		t.Status = StatusInProgress
		m.startRoundLocked(t, t.Players)
		m.advanceLocked(t)
	}
	snap := t.snapshot()
	m.mu.Unlock()

	if snap.Status == StatusInProgress {
		m.logger.Info("tournament started",
			zap.String("tournament_id", tournamentID.String()),
			zap.Strings("players", snap.Players),
		)
	}
	m.publishUpdate(snap)
	return snap, nil
}

// Get returns a snapshot of the tournament with the given id.
func (m *Manager) Get(tournamentID uuid.UUID) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[tournamentID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTournamentNotFound, tournamentID)
	}
	return t.snapshot(), nil
}

// HandleOutcome records a linked session's result. A FINISHED session
// advances its winner; an ABORTED one voids the slot, so nobody advances
// from it. When the last open match of the round resolves, the next round
// is generated from the ordered winners, or the tournament completes.
func (m *Manager) HandleOutcome(out events.Outcome) {
	m.mu.Lock()
	tid, ok := m.bySession[out.SessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.bySession, out.SessionID)
	t := m.tournaments[tid]

	var mt *match
	for _, candidate := range t.matches {
		if candidate.sessionID == out.SessionID {
			mt = candidate
			break
		}
	}
	if mt == nil || mt.resolved {
		m.mu.Unlock()
		return
	}
	mt.resolved = true
	if !out.Aborted {
		mt.winner = out.Winner
	}

	if mt.winner == "" {
		m.logger.Warn("bracket slot voided",
			zap.String("tournament_id", tid.String()),
			zap.Int("round", t.Round),
			zap.Strings("players", mt.players[:]),
		)
	}

	m.advanceLocked(t)
	snap := t.snapshot()
	m.mu.Unlock()

	m.publishUpdate(snap)
}

// advanceLocked moves t past any fully resolved rounds. It loops because a
// freshly generated round can itself already be resolved when every slot
// was voided or granted a bye. Caller must hold m.mu.
func (m *Manager) advanceLocked(t *Tournament) {
	for t.Status == StatusInProgress && t.roundDone() {
		winners := t.winners()
		switch len(winners) {
		case 1:
			t.Status = StatusCompleted
			t.Champion = winners[0]
			t.matches = nil
			m.logger.Info("tournament completed",
				zap.String("tournament_id", t.ID.String()),
				zap.String("champion", t.Champion),
			)
		case 0:
			// Every slot of the round was voided, so there is nobody left
			// to crown or advance.
			t.Status = StatusCompleted
			t.matches = nil
			m.logger.Warn("tournament completed without a champion",
				zap.String("tournament_id", t.ID.String()),
				zap.Int("round", t.Round),
			)
		default:
			t.Round++
			m.startRoundLocked(t, winners)
			m.logger.Info("tournament round advanced",
				zap.String("tournament_id", t.ID.String()),
				zap.Int("round", t.Round),
			)
		}
	}
}

// startRoundLocked partitions entrants into consecutive pairs and creates
// one session per pair. Voided slots from earlier rounds can leave an odd
// entrant count; the trailing entrant then receives a bye, recorded as an
// already resolved slot. A pair whose session cannot be created is voided
// rather than blocking the bracket. Caller must hold m.mu.
func (m *Manager) startRoundLocked(t *Tournament, entrants []string) {
	t.matches = nil
	for i := 0; i+1 < len(entrants); i += 2 {
		pair := [2]string{entrants[i], entrants[i+1]}
		mt := &match{players: pair}
		snap, err := m.creator.Create(pair[:], m.mode, &session.TournamentLink{
			TournamentID: t.ID,
			Round:        t.Round,
		})
		if err != nil {
			m.logger.Error("failed to create bracket match",
				zap.String("tournament_id", t.ID.String()),
				zap.Int("round", t.Round),
				zap.Strings("players", pair[:]),
				zap.Error(err),
			)
			mt.resolved = true
		} else {
			mt.sessionID = snap.ID
			t.sessions = append(t.sessions, snap.ID)
			m.bySession[snap.ID] = t.ID
		}
		t.matches = append(t.matches, mt)
	}
	if len(entrants)%2 == 1 {
		bye := entrants[len(entrants)-1]
		t.matches = append(t.matches, &match{
			players:  [2]string{bye, ""},
			resolved: true,
			winner:   bye,
		})
		m.logger.Info("bracket bye granted",
			zap.String("tournament_id", t.ID.String()),
			zap.Int("round", t.Round),
			zap.String("player", bye),
		)
	}
}

func (m *Manager) publishUpdate(snap Snapshot) {
	update := events.TournamentUpdate{
		TournamentID: snap.ID,
		Status:       string(snap.Status),
		Round:        snap.Round,
		Players:      snap.Players,
		Champion:     snap.Champion,
	}
	for _, mt := range snap.Matches {
		update.Pairings = append(update.Pairings, mt.Players)
	}
	m.bus.Publish(events.TournamentUpdated, update)
}
