package postgres

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/events"
)

// Recorder subscribes to session outcomes and writes them to the MatchStore.
// Writes are fire-and-forget from the bus's perspective: each outcome is
// persisted on its own goroutine with a bounded timeout so a slow database
// never stalls game logic. Save is idempotent, so a retry after a transient
// failure cannot duplicate a row.
type Recorder struct {
	store   *MatchStore
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration

	sub bus.Subscription
	wg  sync.WaitGroup
}

// NewRecorder creates a Recorder and subscribes it to session outcomes.
//
// Precondition: store, b, and logger must be non-nil; timeout > 0.
func NewRecorder(store *MatchStore, timeout time.Duration, b *bus.Bus, logger *zap.Logger) *Recorder {
	r := &Recorder{
		store:   store,
		bus:     b,
		logger:  logger,
		timeout: timeout,
	}
	r.sub = b.Subscribe(events.SessionOutcome, func(e bus.Event) {
		if out, ok := e.Payload.(events.Outcome); ok {
			r.record(out)
		}
	})
	return r
}

func (r *Recorder) record(out events.Outcome) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.Save(ctx, out); err != nil {
			r.logger.Error("failed to persist match outcome",
				zap.String("session_id", out.SessionID.String()),
				zap.Error(err),
			)
			return
		}
		r.logger.Debug("match outcome persisted",
			zap.String("session_id", out.SessionID.String()),
		)
	}()
}

// Close detaches the recorder from the bus and waits for in-flight writes.
func (r *Recorder) Close() {
	r.bus.Unsubscribe(r.sub)
	r.wg.Wait()
}
