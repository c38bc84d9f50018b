package tournament

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/mode"
	"github.com/cory-johannsen/arena/internal/game/session"
)

// quickMode ends a match after a single point so bracket tests stay fast.
func quickMode() *mode.Mode {
	return &mode.Mode{ID: "blitz", Name: "Blitz", WinScore: 1, Players: 2}
}

func newTestManagers(t *testing.T, pauseTimeout time.Duration) (*Manager, *session.Manager, *bus.Bus) {
	logger := zaptest.NewLogger(t)
	b := bus.New(0, logger)
	sm := session.NewManager(pauseTimeout, b, logger)
	t.Cleanup(sm.Close)
	tm := NewManager(sm, quickMode(), b, logger)
	t.Cleanup(tm.Close)
	return tm, sm, b
}

// playMatch activates the match's session and scores the winning point.
// Outcome delivery is synchronous, so the bracket has advanced by return.
func playMatch(t *testing.T, sm *session.Manager, mt Match, winner string) {
	t.Helper()
	require.NoError(t, sm.MarkReady(mt.SessionID, mt.Players[0]))
	require.NoError(t, sm.MarkReady(mt.SessionID, mt.Players[1]))
	require.NoError(t, sm.RecordPoint(mt.SessionID, winner))
}

// abortMatch activates the match's session, then disconnects both players
// and waits out the grace period.
func abortMatch(t *testing.T, tm *Manager, sm *session.Manager, tid uuid.UUID, mt Match) {
	t.Helper()
	require.NoError(t, sm.MarkReady(mt.SessionID, mt.Players[0]))
	require.NoError(t, sm.MarkReady(mt.SessionID, mt.Players[1]))
	sm.HandleDisconnect(mt.Players[0])
	sm.HandleDisconnect(mt.Players[1])
	require.Eventually(t, func() bool {
		snap, err := tm.Get(tid)
		require.NoError(t, err)
		for _, m := range snap.Matches {
			if m.SessionID == mt.SessionID && m.Resolved {
				return true
			}
		}
		// The round may already have advanced past this match.
		return snap.Status == StatusCompleted || allResolvedElsewhere(snap, mt.SessionID)
	}, time.Second, 5*time.Millisecond)
}

func allResolvedElsewhere(snap Snapshot, sid uuid.UUID) bool {
	for _, m := range snap.Matches {
		if m.SessionID == sid {
			return false
		}
	}
	return true
}

func register(t *testing.T, tm *Manager, tid uuid.UUID, players ...string) Snapshot {
	t.Helper()
	var snap Snapshot
	var err error
	for _, p := range players {
		snap, err = tm.Register(tid, p)
		require.NoError(t, err)
	}
	return snap
}

func TestCreateRejectsInvalidCapacity(t *testing.T) {
	tm, _, _ := newTestManagers(t, time.Second)
	for _, capacity := range []int{0, 2, 3, 6, 12, 64} {
		_, err := tm.Create(capacity)
		assert.ErrorIs(t, err, ErrInvalidCapacity, "capacity %d", capacity)
	}
}

func TestRegisterErrors(t *testing.T) {
	tm, _, _ := newTestManagers(t, time.Second)

	_, err := tm.Register(uuid.New(), "a")
	assert.ErrorIs(t, err, ErrTournamentNotFound)

	snap, err := tm.Create(4)
	require.NoError(t, err)

	_, err = tm.Register(snap.ID, "a")
	require.NoError(t, err)
	_, err = tm.Register(snap.ID, "a")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	register(t, tm, snap.ID, "b", "c", "d")
	_, err = tm.Register(snap.ID, "e")
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestFourPlayerBracket(t *testing.T) {
	tm, sm, _ := newTestManagers(t, time.Second)
	created, err := tm.Create(4)
	require.NoError(t, err)

	snap := register(t, tm, created.ID, "a", "b", "c", "d")
	require.Equal(t, StatusInProgress, snap.Status)
	require.Equal(t, 1, snap.Round)
	require.Len(t, snap.Matches, 2)
	assert.Equal(t, [2]string{"a", "b"}, snap.Matches[0].Players)
	assert.Equal(t, [2]string{"c", "d"}, snap.Matches[1].Players)

	playMatch(t, sm, snap.Matches[0], "a")
	playMatch(t, sm, snap.Matches[1], "c")

	snap, err = tm.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Round)
	require.Len(t, snap.Matches, 1)
	assert.Equal(t, [2]string{"a", "c"}, snap.Matches[0].Players)

	playMatch(t, sm, snap.Matches[0], "c")

	snap, err = tm.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "c", snap.Champion)
	assert.Len(t, snap.SessionIDs, 3)
}

func TestAbortedMatchVoidsSlot(t *testing.T) {
	tm, sm, _ := newTestManagers(t, 15*time.Millisecond)
	created, err := tm.Create(4)
	require.NoError(t, err)
	snap := register(t, tm, created.ID, "a", "b", "c", "d")

	playMatch(t, sm, snap.Matches[1], "c")
	abortMatch(t, tm, sm, created.ID, snap.Matches[0])

	// The voided (a,b) slot advances nobody, leaving c the sole winner.
	require.Eventually(t, func() bool {
		got, err := tm.Get(created.ID)
		require.NoError(t, err)
		return got.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	got, err := tm.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Champion)
}

func TestOddAdvancersGetBye(t *testing.T) {
	tm, sm, _ := newTestManagers(t, 15*time.Millisecond)
	created, err := tm.Create(8)
	require.NoError(t, err)
	snap := register(t, tm, created.ID, "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8")
	require.Len(t, snap.Matches, 4)

	playMatch(t, sm, snap.Matches[1], "p3")
	playMatch(t, sm, snap.Matches[2], "p5")
	playMatch(t, sm, snap.Matches[3], "p7")
	abortMatch(t, tm, sm, created.ID, snap.Matches[0])

	require.Eventually(t, func() bool {
		got, err := tm.Get(created.ID)
		require.NoError(t, err)
		return got.Round == 2
	}, time.Second, 5*time.Millisecond)

	snap, err = tm.Get(created.ID)
	require.NoError(t, err)
	require.Len(t, snap.Matches, 2)
	assert.Equal(t, [2]string{"p3", "p5"}, snap.Matches[0].Players)
	// Odd advancer count: the trailing winner sits out the round.
	assert.Equal(t, [2]string{"p7", ""}, snap.Matches[1].Players)
	assert.True(t, snap.Matches[1].Resolved)
	assert.Equal(t, "p7", snap.Matches[1].Winner)

	playMatch(t, sm, snap.Matches[0], "p3")

	snap, err = tm.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Round)
	require.Len(t, snap.Matches, 1)
	assert.Equal(t, [2]string{"p3", "p7"}, snap.Matches[0].Players)

	playMatch(t, sm, snap.Matches[0], "p7")

	snap, err = tm.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "p7", snap.Champion)
}

func TestBusyPlayerVoidsPair(t *testing.T) {
	tm, sm, _ := newTestManagers(t, time.Second)

	// "a" is mid-game elsewhere, so the (a,b) bracket session cannot be
	// created and the slot is voided.
	_, err := sm.Create([]string{"a", "x"}, quickMode(), nil)
	require.NoError(t, err)

	created, err := tm.Create(4)
	require.NoError(t, err)
	snap := register(t, tm, created.ID, "a", "b", "c", "d")

	require.Len(t, snap.Matches, 2)
	assert.True(t, snap.Matches[0].Resolved)
	assert.Empty(t, snap.Matches[0].Winner)

	playMatch(t, sm, snap.Matches[1], "d")

	got, err := tm.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "d", got.Champion)
}

func TestBracketHalvesEachRound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		logger := zaptest.NewLogger(t)
		b := bus.New(0, logger)
		sm := session.NewManager(time.Minute, b, logger)
		defer sm.Close()
		tm := NewManager(sm, quickMode(), b, logger)
		defer tm.Close()

		capacity := rapid.SampledFrom([]int{4, 8, 16, 32}).Draw(rt, "capacity")
		created, err := tm.Create(capacity)
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		players := make([]string, capacity)
		for i := range players {
			players[i] = fmt.Sprintf("p%02d", i)
			if _, err := tm.Register(created.ID, players[i]); err != nil {
				rt.Fatalf("register: %v", err)
			}
		}

		entrants := capacity
		rounds := 0
		for {
			snap, err := tm.Get(created.ID)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			if snap.Status == StatusCompleted {
				break
			}
			if len(snap.Matches)*2 != entrants {
				rt.Fatalf("round %d: %d matches for %d entrants", snap.Round, len(snap.Matches), entrants)
			}
			for _, mt := range snap.Matches {
				winner := mt.Players[rapid.IntRange(0, 1).Draw(rt, "winner")]
				if err := sm.MarkReady(mt.SessionID, mt.Players[0]); err != nil {
					rt.Fatalf("ready: %v", err)
				}
				if err := sm.MarkReady(mt.SessionID, mt.Players[1]); err != nil {
					rt.Fatalf("ready: %v", err)
				}
				if err := sm.RecordPoint(mt.SessionID, winner); err != nil {
					rt.Fatalf("score: %v", err)
				}
			}
			entrants /= 2
			rounds++
		}

		if entrants != 1 {
			rt.Fatalf("finished with %d entrants remaining", entrants)
		}
		snap, err := tm.Get(created.ID)
		if err != nil {
			rt.Fatalf("get: %v", err)
		}
		if snap.Champion == "" {
			rt.Fatalf("completed without champion")
		}
		found := false
		for _, p := range players {
			if p == snap.Champion {
				found = true
			}
		}
		if !found {
			rt.Fatalf("champion %q never registered", snap.Champion)
		}
	})
}
