package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))

	var order []int
	b.Subscribe("game.finished", func(Event) { order = append(order, 1) })
	b.Subscribe("game.finished", func(Event) { order = append(order, 2) })
	b.Subscribe("game.finished", func(Event) { order = append(order, 3) })

	b.Publish("game.finished", nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishCarriesPayload(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))

	var got any
	b.Subscribe("chat.message", func(e Event) { got = e.Payload })

	b.Publish("chat.message", "hello")
	assert.Equal(t, "hello", got)
}

func TestPublishWithZeroSubscribersIsSilent(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		b.Publish("nobody.listens", 42)
	})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))

	calls := 0
	sub := b.Subscribe("tick", func(Event) { calls++ })

	b.Publish("tick", nil)
	b.Unsubscribe(sub)
	b.Publish("tick", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.ListenerCount("tick"))
}

func TestUnsubscribeTwiceIsNoOp(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))
	sub := b.Subscribe("tick", func(Event) {})
	b.Unsubscribe(sub)
	assert.NotPanics(t, func() { b.Unsubscribe(sub) })
}

func TestListenerMaySubscribeDuringDispatch(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))

	lateCalls := 0
	b.Subscribe("tick", func(Event) {
		b.Subscribe("tick", func(Event) { lateCalls++ })
	})

	b.Publish("tick", nil)
	// Listener added mid-dispatch must not see the in-flight event.
	assert.Equal(t, 0, lateCalls)

	b.Publish("tick", nil)
	assert.Equal(t, 1, lateCalls)
}

func TestListenerMayUnsubscribeItself(t *testing.T) {
	b := New(0, zaptest.NewLogger(t))

	calls := 0
	var sub Subscription
	sub = b.Subscribe("tick", func(Event) {
		calls++
		b.Unsubscribe(sub)
	})

	b.Publish("tick", nil)
	b.Publish("tick", nil)
	assert.Equal(t, 1, calls)
}

func TestListenerCapWarnsButStillRegisters(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := New(2, zap.New(core))

	calls := 0
	for i := 0; i < 3; i++ {
		b.Subscribe("leaky", func(Event) { calls++ })
	}

	require.Equal(t, 3, b.ListenerCount("leaky"))
	b.Publish("leaky", nil)
	assert.Equal(t, 3, calls, "listeners over the cap must still be delivered to")

	entries := logs.FilterMessageSnippet("listener cap exceeded").All()
	require.Len(t, entries, 1)
}
