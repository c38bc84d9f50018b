package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/testutil"
)

func newTestStore(t *testing.T) *postgres.MatchStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplySchema(t)
	return postgres.NewMatchStore(pc.RawPool)
}

func sampleOutcome() events.Outcome {
	started := time.Now().Add(-2 * time.Minute).Truncate(time.Millisecond)
	return events.Outcome{
		SessionID:    uuid.New(),
		Participants: []string{"alice", "bob"},
		Scores:       map[string]int{"alice": 5, "bob": 3},
		Winner:       "alice",
		StartedAt:    started,
		EndedAt:      started.Add(2 * time.Minute),
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	out := sampleOutcome()

	require.NoError(t, store.Save(ctx, out))

	m, err := store.Get(ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, out.SessionID, m.SessionID)
	assert.Equal(t, out.Participants, m.Participants)
	assert.Equal(t, out.Scores, m.Scores)
	assert.Equal(t, "alice", m.Winner)
	assert.False(t, m.Aborted)
	assert.Nil(t, m.TournamentID)
	assert.WithinDuration(t, out.EndedAt, m.EndedAt, time.Second)
	assert.False(t, m.RecordedAt.IsZero())
}

func TestSaveWinWithoutForfeits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Outcomes for games decided on points carry a nil forfeit list.
	out := sampleOutcome()
	require.Nil(t, out.Forfeited)
	require.NoError(t, store.Save(ctx, out))

	m, err := store.Get(ctx, out.SessionID)
	require.NoError(t, err)
	assert.Empty(t, m.Forfeited)
	assert.Equal(t, []string{"alice", "bob"}, m.Participants)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, postgres.ErrMatchNotFound)
}

func TestSaveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	out := sampleOutcome()

	require.NoError(t, store.Save(ctx, out))

	// A redelivered outcome must not overwrite or duplicate the row.
	altered := out
	altered.Winner = "bob"
	require.NoError(t, store.Save(ctx, altered))

	m, err := store.Get(ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Winner)
}

func TestSaveAbortedOutcome(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	out := sampleOutcome()
	out.Winner = ""
	out.Aborted = true
	out.Forfeited = []string{"alice", "bob"}
	require.NoError(t, store.Save(ctx, out))

	m, err := store.Get(ctx, out.SessionID)
	require.NoError(t, err)
	assert.True(t, m.Aborted)
	assert.Empty(t, m.Winner)
	assert.Equal(t, []string{"alice", "bob"}, m.Forfeited)
}

func TestRecentByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		out := sampleOutcome()
		out.EndedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(ctx, out))
	}
	other := sampleOutcome()
	other.Participants = []string{"carol", "dave"}
	other.Winner = "carol"
	require.NoError(t, store.Save(ctx, other))

	matches, err := store.RecentByUser(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.True(t, matches[0].EndedAt.After(matches[1].EndedAt), "newest first")

	matches, err = store.RecentByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestByTournament(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tournamentID := uuid.New()

	for round := 2; round >= 1; round-- {
		out := sampleOutcome()
		out.TournamentID = tournamentID
		out.Round = round
		require.NoError(t, store.Save(ctx, out))
	}
	unlinked := sampleOutcome()
	require.NoError(t, store.Save(ctx, unlinked))

	matches, err := store.ByTournament(ctx, tournamentID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 1, matches[0].Round)
	assert.Equal(t, 2, matches[1].Round)
	require.NotNil(t, matches[0].TournamentID)
	assert.Equal(t, tournamentID, *matches[0].TournamentID)
}

func TestRecorderPersistsOutcomes(t *testing.T) {
	store := newTestStore(t)
	logger := zaptest.NewLogger(t)
	b := bus.New(0, logger)
	rec := postgres.NewRecorder(store, 5*time.Second, b, logger)

	out := sampleOutcome()
	b.Publish(events.SessionOutcome, out)
	rec.Close()

	m, err := store.Get(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, out.Winner, m.Winner)
}
