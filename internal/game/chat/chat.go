// Package chat relays direct messages between connected users. The relay
// validates and publishes; the transport layer subscribes and delivers, so
// messages reach recipients without the relay knowing the wire format.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/game/registry"
)

// MaxBodyLength bounds a single chat message body in bytes.
const MaxBodyLength = 512

// ErrEmptyMessage is returned for a blank message body.
var ErrEmptyMessage = errors.New("chat message body is empty")

// ErrMessageTooLong is returned when a body exceeds MaxBodyLength.
var ErrMessageTooLong = errors.New("chat message body too long")

// ErrRecipientOffline is returned when the recipient has no live connection.
var ErrRecipientOffline = errors.New("recipient is not connected")

// Relay validates and publishes direct chat messages.
type Relay struct {
	registry *registry.Registry
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewRelay creates a chat Relay backed by the given connection registry.
func NewRelay(r *registry.Registry, b *bus.Bus, logger *zap.Logger) *Relay {
	return &Relay{registry: r, bus: b, logger: logger}
}

// Send validates a direct message and publishes it for delivery.
//
// Precondition: sender must be a registered connection; the transport layer
// enforces this before calling.
// Postcondition: Returns ErrEmptyMessage, ErrMessageTooLong, or
// ErrRecipientOffline with nothing published; otherwise the message is on
// the bus with a server-assigned timestamp.
func (r *Relay) Send(sender, recipient, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if len(trimmed) > MaxBodyLength {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(trimmed))
	}
	if _, ok := r.registry.Lookup(recipient); !ok {
		return fmt.Errorf("%w: %q", ErrRecipientOffline, recipient)
	}

	r.bus.Publish(events.ChatMessage, events.Chat{
		Sender:    sender,
		Recipient: recipient,
		Body:      trimmed,
		SentAt:    time.Now(),
	})
	r.logger.Debug("chat relayed",
		zap.String("sender", sender),
		zap.String("recipient", recipient),
	)
	return nil
}
