package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/game/mode"
)

// Manager owns every live game session and drives each session's state
// machine. All methods are safe for concurrent use. State transitions
// complete before their events are published; every session event carries a
// monotonic Seq assigned under the lock, numbering the transitions.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	byUser   map[string]uuid.UUID
	pauseGen uint64

	bus          *bus.Bus
	logger       *zap.Logger
	pauseTimeout time.Duration

	subs []bus.Subscription
}

// pendingEvent is a bus publication deferred until the manager lock is
// released, so listeners can call back into the manager.
type pendingEvent struct {
	name    string
	payload any
}

// NewManager creates a session Manager and subscribes it to connection
// events: a closed connection pauses the owner's game, a reopened one
// resolves the pause.
//
// Precondition: pauseTimeout > 0; b and logger must be non-nil.
func NewManager(pauseTimeout time.Duration, b *bus.Bus, logger *zap.Logger) *Manager {
	m := &Manager{
		sessions:     make(map[uuid.UUID]*Session),
		byUser:       make(map[string]uuid.UUID),
		bus:          b,
		logger:       logger,
		pauseTimeout: pauseTimeout,
	}
	m.subs = append(m.subs,
		b.Subscribe(events.ConnectionClosed, func(e bus.Event) {
			if p, ok := e.Payload.(events.ConnectionEvent); ok {
				m.HandleDisconnect(p.UserID)
			}
		}),
		b.Subscribe(events.ConnectionOpened, func(e bus.Event) {
			if p, ok := e.Payload.(events.ConnectionEvent); ok {
				m.HandleReconnect(p.UserID)
			}
		}),
	)
	return m
}

// Close detaches the manager from the bus.
func (m *Manager) Close() {
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
}

// publish delivers deferred events once the manager lock is released.
// Deliveries for transitions raced on different goroutines can interleave;
// each payload's Seq carries the per-session transition order.
func (m *Manager) publish(pending []pendingEvent) {
	for _, e := range pending {
		m.bus.Publish(e.name, e.payload)
	}
}

// Create builds a new WAITING session for the given participants.
//
// Precondition: participants must match the mode's required player count and
// contain no duplicates.
// Postcondition: Returns the created session's snapshot, or ErrSessionConflict
// (with no session created) if any participant is already in a non-terminal
// session.
func (m *Manager) Create(participants []string, md *mode.Mode, link *TournamentLink) (Snapshot, error) {
	if len(participants) != md.Players {
		return Snapshot{}, fmt.Errorf("mode %q requires %d players, got %d", md.ID, md.Players, len(participants))
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if _, dup := seen[p]; dup {
			return Snapshot{}, fmt.Errorf("duplicate participant %q", p)
		}
		seen[p] = struct{}{}
	}

	m.mu.Lock()
	for _, p := range participants {
		if sid, busy := m.byUser[p]; busy {
			m.mu.Unlock()
			return Snapshot{}, fmt.Errorf("%w: %q in session %s", ErrSessionConflict, p, sid)
		}
	}

	s := &Session{
		ID:           uuid.New(),
		Mode:         md,
		Participants: append([]string(nil), participants...),
		State:        StateWaiting,
		Scores:       make(map[string]int, len(participants)),
		Link:         link,
		CreatedAt:    time.Now(),
		ready:        make(map[string]bool, len(participants)),
	}
	for _, p := range participants {
		s.Scores[p] = 0
		m.byUser[p] = s.ID
	}
	m.sessions[s.ID] = s
	snap := s.snapshot()
	pending := []pendingEvent{m.stateChange(s, "", StateWaiting)}
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", s.ID.String()),
		zap.Strings("participants", participants),
		zap.String("mode", md.ID),
	)
	m.publish(pending)
	return snap, nil
}

// MarkReady records a participant's ready signal. When every participant has
// signaled, the session transitions WAITING -> ACTIVE.
//
// Postcondition: Returns ErrSessionNotFound, ErrNotParticipant, or
// ErrInvalidTransition when the signal is not acceptable; the session is
// unchanged in those cases.
func (m *Manager) MarkReady(sessionID uuid.UUID, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !s.isParticipant(userID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotParticipant, userID)
	}
	if s.State != StateWaiting {
		m.mu.Unlock()
		return fmt.Errorf("%w: ready signal in %s", ErrInvalidTransition, s.State)
	}

	s.ready[userID] = true
	var pending []pendingEvent
	if s.allReady() {
		s.State = StateActive
		s.StartedAt = time.Now()
		pending = append(pending, m.stateChange(s, StateWaiting, StateActive))
	}
	m.mu.Unlock()

	m.publish(pending)
	return nil
}

// RecordPoint credits a point to scorerID. Points come only from the
// authoritative simulation path; client-asserted scores never reach this
// method. Reaching the mode's win score finishes the session.
//
// Postcondition: Returns ErrSessionNotFound, ErrNotParticipant, or
// ErrInvalidTransition (score is frozen outside ACTIVE); the session is
// unchanged in those cases.
func (m *Manager) RecordPoint(sessionID uuid.UUID, scorerID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !s.isParticipant(scorerID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotParticipant, scorerID)
	}
	if s.State != StateActive {
		m.mu.Unlock()
		return fmt.Errorf("%w: scoring in %s", ErrInvalidTransition, s.State)
	}

	s.Scores[scorerID]++
	scores := make(map[string]int, len(s.Scores))
	for k, v := range s.Scores {
		scores[k] = v
	}
	s.seq++
	pending := []pendingEvent{{events.SessionScoreChanged, events.ScoreChange{
		SessionID: s.ID,
		Seq:       s.seq,
		Scorer:    scorerID,
		Scores:    scores,
	}}}

	if s.Mode.IsWin(s.Scores[scorerID]) {
		pending = append(pending, m.finishLocked(s, scorerID, nil)...)
	}
	m.mu.Unlock()

	m.publish(pending)
	return nil
}

// HandleDisconnect reacts to a lost connection for a user in a non-terminal
// session: an ACTIVE session pauses and arms the grace timer; a PAUSED one
// adds the user to the disconnected set. WAITING sessions are unaffected; a
// user with no session is ignored.
func (m *Manager) HandleDisconnect(userID string) {
	m.mu.Lock()
	sid, ok := m.byUser[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s := m.sessions[sid]

	var pending []pendingEvent
	switch s.State {
	case StateActive:
		m.pauseGen++
		gen := m.pauseGen
		s.pause = &pauseState{
			disconnected: map[string]struct{}{userID: {}},
			pausedAt:     time.Now(),
			triggeredBy:  userID,
			deadline:     time.Now().Add(m.pauseTimeout),
			gen:          gen,
		}
		s.pause.timer = NewGraceTimer(m.pauseTimeout, func() {
			m.onGraceExpired(sid, gen)
		})
		s.State = StatePaused
		pending = append(pending, m.stateChange(s, StateActive, StatePaused))
		m.logger.Info("session paused",
			zap.String("session_id", sid.String()),
			zap.String("user_id", userID),
			zap.Duration("grace", m.pauseTimeout),
		)

	case StatePaused:
		s.pause.disconnected[userID] = struct{}{}
		pending = append(pending, m.stateChange(s, StatePaused, StatePaused))

	default:
		// WAITING sessions hold no live play to suspend.
	}
	m.mu.Unlock()

	m.publish(pending)
}

// HandleReconnect rebinds a returning user to their existing participant
// slot. When the disconnected set empties before the grace timer fires, the
// timer is stopped and the session resumes with its score unchanged.
func (m *Manager) HandleReconnect(userID string) {
	m.mu.Lock()
	sid, ok := m.byUser[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s := m.sessions[sid]
	if s.State != StatePaused || s.pause == nil {
		m.mu.Unlock()
		return
	}
	if _, gone := s.pause.disconnected[userID]; !gone {
		m.mu.Unlock()
		return
	}

	delete(s.pause.disconnected, userID)
	var pending []pendingEvent
	if len(s.pause.disconnected) == 0 {
		// Stop is checked-and-cleared under the manager lock: a timer that
		// already fired cannot forfeit this pause generation anymore.
		s.pause.timer.Stop()
		s.pause = nil
		s.State = StateActive
		pending = append(pending, m.stateChange(s, StatePaused, StateActive))
		m.logger.Info("session resumed",
			zap.String("session_id", sid.String()),
			zap.String("user_id", userID),
		)
	} else {
		pending = append(pending, m.stateChange(s, StatePaused, StatePaused))
	}
	m.mu.Unlock()

	m.publish(pending)
}

// onGraceExpired is the grace timer callback. Participants still in the
// disconnected set forfeit: the sole remaining participant wins, or the
// session aborts when nobody is left. A stale callback from an already
// resolved pause is discarded by the generation check.
func (m *Manager) onGraceExpired(sessionID uuid.UUID, gen uint64) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.State != StatePaused || s.pause == nil || s.pause.gen != gen {
		m.mu.Unlock()
		return
	}

	forfeited := s.disconnectedIDs()
	var remaining []string
	for _, p := range s.Participants {
		if _, gone := s.pause.disconnected[p]; !gone {
			remaining = append(remaining, p)
		}
	}

	var pending []pendingEvent
	if len(remaining) == 0 {
		pending = m.abortLocked(s, forfeited)
	} else {
		winner := remaining[0]
		for _, p := range remaining[1:] {
			if s.Scores[p] > s.Scores[winner] {
				winner = p
			}
		}
		pending = m.finishLocked(s, winner, forfeited)
	}
	m.mu.Unlock()

	m.logger.Info("grace period expired",
		zap.String("session_id", sessionID.String()),
		zap.Strings("forfeited", forfeited),
	)
	m.publish(pending)
}

// finishLocked transitions s to FINISHED and emits its outcome exactly once.
// Caller must hold m.mu.
func (m *Manager) finishLocked(s *Session, winner string, forfeited []string) []pendingEvent {
	from := s.State
	s.State = StateFinished
	return m.terminateLocked(s, from, winner, forfeited, false)
}

// abortLocked transitions s to ABORTED. Caller must hold m.mu.
func (m *Manager) abortLocked(s *Session, forfeited []string) []pendingEvent {
	from := s.State
	s.State = StateAborted
	return m.terminateLocked(s, from, "", forfeited, true)
}

func (m *Manager) terminateLocked(s *Session, from State, winner string, forfeited []string, aborted bool) []pendingEvent {
	if s.pause != nil {
		s.pause.timer.Stop()
		s.pause = nil
	}

	scores := make(map[string]int, len(s.Scores))
	for k, v := range s.Scores {
		scores[k] = v
	}
	outcome := events.Outcome{
		SessionID:    s.ID,
		Participants: append([]string(nil), s.Participants...),
		Scores:       scores,
		Winner:       winner,
		Aborted:      aborted,
		Forfeited:    forfeited,
		StartedAt:    s.StartedAt,
		EndedAt:      time.Now(),
	}
	if s.Link != nil {
		outcome.TournamentID = s.Link.TournamentID
		outcome.Round = s.Link.Round
	}

	// Terminal sessions are garbage-eligible once their outcome is emitted.
	delete(m.sessions, s.ID)
	for _, p := range s.Participants {
		if m.byUser[p] == s.ID {
			delete(m.byUser, p)
		}
	}

	state := m.stateChange(s, from, s.State)
	s.seq++
	outcome.Seq = s.seq
	return []pendingEvent{
		state,
		{events.SessionOutcome, outcome},
	}
}

func (m *Manager) stateChange(s *Session, from, to State) pendingEvent {
	s.seq++
	change := events.StateChange{
		SessionID:    s.ID,
		Seq:          s.seq,
		Participants: append([]string(nil), s.Participants...),
		From:         string(from),
		To:           string(to),
	}
	if s.pause != nil {
		change.Disconnected = s.disconnectedIDs()
		change.ResumeDeadline = s.pause.deadline
	}
	return pendingEvent{events.SessionStateChanged, change}
}

// Get returns a snapshot of the session with the given id.
//
// Postcondition: Returns ErrSessionNotFound for unknown or already-terminal
// sessions.
func (m *Manager) Get(sessionID uuid.UUID) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.snapshot(), nil
}

// SessionFor returns the non-terminal session the user belongs to, if any.
func (m *Manager) SessionFor(userID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.byUser[userID]
	if !ok {
		return Snapshot{}, false
	}
	return m.sessions[sid].snapshot(), true
}

// Count returns the number of non-terminal sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
