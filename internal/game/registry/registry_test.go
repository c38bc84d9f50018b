package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/events"
)

type fakeTransport struct {
	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeReason string
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeReason = reason
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		HeartbeatInterval: 10 * time.Millisecond,
		ConnectionTimeout: 50 * time.Millisecond,
		PauseTimeout:      time.Second,
		MaxConnections:    4,
		FairLatency:       100 * time.Millisecond,
		PoorLatency:       300 * time.Millisecond,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *bus.Bus) {
	logger := zaptest.NewLogger(t)
	b := bus.New(0, logger)
	return New(testRealtimeConfig(), b, logger), b
}

func TestRegisterAndLookup(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("u1", "alice", &fakeTransport{}))

	c, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "alice", c.Username)
	assert.Equal(t, QualityGood, c.Quality)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterPublishesOpened(t *testing.T) {
	r, b := newTestRegistry(t)

	var got events.ConnectionEvent
	b.Subscribe(events.ConnectionOpened, func(e bus.Event) {
		got = e.Payload.(events.ConnectionEvent)
	})

	require.NoError(t, r.Register("u1", "alice", &fakeTransport{}))
	assert.Equal(t, "u1", got.UserID)
}

func TestRegisterSupersedesWithoutDisconnectEvent(t *testing.T) {
	r, b := newTestRegistry(t)

	closedEvents := 0
	b.Subscribe(events.ConnectionClosed, func(bus.Event) { closedEvents++ })

	first := &fakeTransport{}
	second := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", first))
	require.NoError(t, r.Register("u1", "alice", second))

	assert.True(t, first.isClosed())
	assert.Equal(t, string(events.CloseReasonSuperseded), first.closeReason)
	assert.False(t, second.isClosed())
	assert.Equal(t, 1, r.Count())
	assert.Zero(t, closedEvents, "supersession must not look like a disconnect")
}

func TestRegisterServerFull(t *testing.T) {
	r, _ := newTestRegistry(t)
	for i, id := range []string{"u1", "u2", "u3", "u4"} {
		require.NoError(t, r.Register(id, "user", &fakeTransport{}), "conn %d", i)
	}

	err := r.Register("u5", "late", &fakeTransport{})
	assert.ErrorIs(t, err, ErrServerFull)

	// A reconnecting user is not blocked by the cap.
	assert.NoError(t, r.Register("u1", "user", &fakeTransport{}))
}

func TestUnregisterPublishesClosed(t *testing.T) {
	r, b := newTestRegistry(t)

	var got events.ConnectionEvent
	b.Subscribe(events.ConnectionClosed, func(e bus.Event) {
		got = e.Payload.(events.ConnectionEvent)
	})

	tr := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", tr))
	require.NoError(t, r.Unregister("u1", events.CloseReasonClientGone))

	assert.True(t, tr.isClosed())
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, events.CloseReasonClientGone, got.Reason)
	_, ok := r.Lookup("u1")
	assert.False(t, ok)
}

func TestUnregisterUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.ErrorIs(t, r.Unregister("ghost", events.CloseReasonClientGone), ErrNotConnected)
}

func TestUpdateQualityThresholds(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("u1", "alice", &fakeTransport{}))

	cases := []struct {
		rtt  time.Duration
		want Quality
	}{
		{50 * time.Millisecond, QualityGood},
		{100 * time.Millisecond, QualityGood},
		{150 * time.Millisecond, QualityFair},
		{300 * time.Millisecond, QualityFair},
		{500 * time.Millisecond, QualityPoor},
	}
	for _, tc := range cases {
		q, err := r.UpdateQuality("u1", tc.rtt)
		require.NoError(t, err)
		assert.Equal(t, tc.want, q, "rtt %s", tc.rtt)
	}

	_, err := r.UpdateQuality("ghost", time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSweepExpiresSilentConnections(t *testing.T) {
	r, b := newTestRegistry(t)

	var mu sync.Mutex
	var reasons []events.CloseReason
	b.Subscribe(events.ConnectionClosed, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, e.Payload.(events.ConnectionEvent).Reason)
	})

	tr := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", tr))

	r.sweep(time.Now().Add(time.Minute))

	assert.True(t, tr.isClosed())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	assert.Equal(t, events.CloseReasonTimeout, reasons[0])
}

func TestSweepKeepsFreshConnections(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("u1", "alice", &fakeTransport{}))

	r.sweep(time.Now())
	assert.Equal(t, 1, r.Count())
}

func TestSweepSparesReconnectedUser(t *testing.T) {
	r, b := newTestRegistry(t)

	var mu sync.Mutex
	var closed int
	b.Subscribe(events.ConnectionClosed, func(bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		closed++
	})

	stale := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", stale))

	expired := r.expire(time.Now().Add(time.Minute))
	require.Len(t, expired, 1)

	// The user reconnects between classification and teardown. The new
	// connection supersedes the stale one and must survive the reaper.
	replacement := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", replacement))

	r.reap(expired)

	c, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, QualityGood, c.Quality)
	assert.False(t, replacement.isClosed())
	assert.Equal(t, 1, r.Count())

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, closed)
}

func TestSend(t *testing.T) {
	r, _ := newTestRegistry(t)
	tr := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", tr))

	require.NoError(t, r.Send("u1", []byte("hi")))
	assert.Len(t, tr.sent, 1)

	assert.ErrorIs(t, r.Send("ghost", []byte("hi")), ErrNotConnected)
}

func TestCloseAll(t *testing.T) {
	r, _ := newTestRegistry(t)
	t1, t2 := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", t1))
	require.NoError(t, r.Register("u2", "bob", t2))

	r.CloseAll(events.CloseReasonShutdown)
	assert.Zero(t, r.Count())
	assert.True(t, t1.isClosed())
	assert.True(t, t2.isClosed())
}

func TestUnregisterTransportChecksIdentity(t *testing.T) {
	r, _ := newTestRegistry(t)
	old := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", old))

	// u1 reconnects; the stale transport's teardown must not evict the
	// replacement.
	replacement := &fakeTransport{}
	require.NoError(t, r.Register("u1", "alice", replacement))

	err := r.UnregisterTransport("u1", old, events.CloseReasonClientGone)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.UnregisterTransport("u1", replacement, events.CloseReasonClientGone))
	assert.Zero(t, r.Count())
	assert.True(t, replacement.isClosed())
}
