// Package registry tracks the live mapping from user identity to an active
// transport channel and its health. One connection per user: registering a
// new transport for an already-connected user supersedes and closes the old
// one without disturbing any in-progress game association.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/events"
)

// Quality classifies a connection's network health from heartbeat latency.
type Quality string

const (
	QualityGood         Quality = "GOOD"
	QualityFair         Quality = "FAIR"
	QualityPoor         Quality = "POOR"
	QualityDisconnected Quality = "DISCONNECTED"
)

// Transport is the outbound half of a client connection. The websocket layer
// implements it; tests substitute fakes.
type Transport interface {
	// Send enqueues data for delivery to the client.
	Send(data []byte) error
	// Close tears the channel down with a reason the client may display.
	Close(reason string) error
}

// Connection is a point-in-time snapshot of a registered connection.
type Connection struct {
	UserID        string
	Username      string
	Quality       Quality
	LastHeartbeat time.Time
}

// ErrServerFull is returned when registration would exceed the configured
// connection cap.
var ErrServerFull = errors.New("connection limit reached")

// ErrNotConnected is returned for operations on an unknown user id.
var ErrNotConnected = errors.New("user not connected")

type conn struct {
	userID        string
	username      string
	transport     Transport
	quality       Quality
	lastHeartbeat time.Time
}

// Registry owns every live connection. All methods are safe for concurrent
// use. Connection events are published on the bus after the corresponding
// state change completes, in change order.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	cfg    config.RealtimeConfig
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty Registry.
//
// Precondition: b and logger must be non-nil.
func New(cfg config.RealtimeConfig, b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*conn),
		cfg:    cfg,
		bus:    b,
		logger: logger,
	}
}

// Register admits a verified connection for the given user. If the user is
// already connected the prior transport is closed and replaced; no disconnect
// event is published in that case, so the user's game association survives
// the swap.
//
// Precondition: userID and username must be non-empty; t must not be nil.
// Postcondition: Returns nil and publishes ConnectionOpened, or ErrServerFull
// with no state change.
func (r *Registry) Register(userID, username string, t Transport) error {
	r.mu.Lock()
	old, exists := r.conns[userID]
	if !exists && r.cfg.MaxConnections > 0 && len(r.conns) >= r.cfg.MaxConnections {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d connections", ErrServerFull, r.cfg.MaxConnections)
	}
	r.conns[userID] = &conn{
		userID:        userID,
		username:      username,
		transport:     t,
		quality:       QualityGood,
		lastHeartbeat: time.Now(),
	}
	r.mu.Unlock()

	if exists {
		r.logger.Info("connection superseded",
			zap.String("user_id", userID),
		)
		_ = old.transport.Close(string(events.CloseReasonSuperseded))
	}

	r.bus.Publish(events.ConnectionOpened, events.ConnectionEvent{
		UserID:   userID,
		Username: username,
	})
	return nil
}

// Unregister removes the user's connection, closes its transport, and
// publishes ConnectionClosed with the given reason.
//
// Postcondition: Returns ErrNotConnected if the user has no connection.
func (r *Registry) Unregister(userID string, reason events.CloseReason) error {
	r.mu.Lock()
	c, exists := r.conns[userID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotConnected, userID)
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	_ = c.transport.Close(string(reason))

	r.logger.Info("connection closed",
		zap.String("user_id", userID),
		zap.String("reason", string(reason)),
	)
	r.bus.Publish(events.ConnectionClosed, events.ConnectionEvent{
		UserID:   userID,
		Username: c.username,
		Reason:   reason,
	})
	return nil
}

// UnregisterTransport removes the user's connection only if t is still the
// registered transport. A superseded connection's late read-loop exit would
// otherwise tear down its successor.
//
// Postcondition: Returns ErrNotConnected if the user has no connection or a
// different transport is registered.
func (r *Registry) UnregisterTransport(userID string, t Transport, reason events.CloseReason) error {
	r.mu.Lock()
	c, exists := r.conns[userID]
	if !exists || c.transport != t {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotConnected, userID)
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	_ = c.transport.Close(string(reason))

	r.logger.Info("connection closed",
		zap.String("user_id", userID),
		zap.String("reason", string(reason)),
	)
	r.bus.Publish(events.ConnectionClosed, events.ConnectionEvent{
		UserID:   userID,
		Username: c.username,
		Reason:   reason,
	})
	return nil
}

// Lookup returns a snapshot of the user's connection.
//
// Postcondition: Returns (snapshot, true) if connected, or (zero, false).
func (r *Registry) Lookup(userID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	if !ok {
		return Connection{}, false
	}
	return Connection{
		UserID:        c.userID,
		Username:      c.username,
		Quality:       c.quality,
		LastHeartbeat: c.lastHeartbeat,
	}, true
}

// UpdateQuality records a heartbeat round trip and reclassifies the
// connection against the configured latency thresholds.
//
// Postcondition: Returns the derived quality, or ErrNotConnected.
func (r *Registry) UpdateQuality(userID string, rtt time.Duration) (Quality, error) {
	q := r.classify(rtt)

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[userID]
	if !ok {
		return QualityDisconnected, fmt.Errorf("%w: %q", ErrNotConnected, userID)
	}
	c.lastHeartbeat = time.Now()
	c.quality = q
	return q, nil
}

func (r *Registry) classify(rtt time.Duration) Quality {
	switch {
	case rtt <= r.cfg.FairLatency:
		return QualityGood
	case rtt <= r.cfg.PoorLatency:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Send delivers data to the user's transport.
//
// Postcondition: Returns ErrNotConnected if the user has no connection, or
// the transport's send error.
func (r *Registry) Send(userID string, data []byte) error {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotConnected, userID)
	}
	return c.transport.Send(data)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Start launches the heartbeat monitor and returns a stop function. Every
// heartbeat interval, connections silent for longer than the connection
// timeout are classified DISCONNECTED and torn down through the same path as
// an explicit close. Calling stop() is idempotent.
func (r *Registry) Start() (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now())
			case <-done:
				return
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
	}
}

// sweep expires connections whose last heartbeat is older than the timeout.
func (r *Registry) sweep(now time.Time) {
	r.reap(r.expire(now))
}

// expire classifies stale connections DISCONNECTED and returns them.
func (r *Registry) expire(now time.Time) []*conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*conn
	for _, c := range r.conns {
		if now.Sub(c.lastHeartbeat) > r.cfg.ConnectionTimeout {
			c.quality = QualityDisconnected
			expired = append(expired, c)
		}
	}
	return expired
}

// reap tears down expired connections. Teardown is pinned to the transport
// that was classified stale, so a user who reconnects in between keeps the
// fresh connection.
func (r *Registry) reap(expired []*conn) {
	for _, c := range expired {
		r.logger.Warn("connection timed out",
			zap.String("user_id", c.userID),
			zap.Duration("timeout", r.cfg.ConnectionTimeout),
		)
		if err := r.UnregisterTransport(c.userID, c.transport, events.CloseReasonTimeout); err != nil {
			// Superseded or unregistered between classification and teardown.
			r.logger.Debug("timeout teardown skipped", zap.String("user_id", c.userID), zap.Error(err))
		}
	}
}

// CloseAll tears down every connection, publishing a close event per user.
// Used during graceful shutdown.
func (r *Registry) CloseAll(reason events.CloseReason) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		ids = append(ids, userID)
	}
	r.mu.RUnlock()

	for _, userID := range ids {
		_ = r.Unregister(userID, reason)
	}
}
