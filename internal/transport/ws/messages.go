// Package ws is the websocket transport: it upgrades authenticated clients,
// bridges their connections into the registry, routes inbound messages to
// game services, and pushes bus events back out.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Inbound message types. Score values are never accepted from clients;
// points enter only through the server's simulation path.
const (
	TypeReady          = "ready"
	TypeChat           = "chat"
	TypeTournamentJoin = "tournament_join"
)

// Outbound message types.
const (
	TypeSessionState = "session_state"
	TypeScoreUpdate  = "score_update"
	TypeMatchResult  = "match_result"
	TypeChatDelivery = "chat_delivery"
	TypeTournament   = "tournament"
	TypeNotice       = "notice"
	TypeError        = "error"
)

// ErrUnknownType is returned for an unrecognized inbound message type.
var ErrUnknownType = errors.New("unknown message type")

// Envelope frames every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage signals the sender is ready to start their session.
type ReadyMessage struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Validate reports whether the message is well formed.
func (m ReadyMessage) Validate() error {
	if m.SessionID == uuid.Nil {
		return errors.New("session_id is required")
	}
	return nil
}

// ChatMessage is a direct message request.
type ChatMessage struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func (m ChatMessage) Validate() error {
	if m.Recipient == "" {
		return errors.New("recipient is required")
	}
	if m.Body == "" {
		return errors.New("body is required")
	}
	return nil
}

// TournamentJoinMessage registers the sender into a bracket.
type TournamentJoinMessage struct {
	TournamentID uuid.UUID `json:"tournament_id"`
}

func (m TournamentJoinMessage) Validate() error {
	if m.TournamentID == uuid.Nil {
		return errors.New("tournament_id is required")
	}
	return nil
}

// ChatDelivery carries a relayed message to its recipient.
type ChatDelivery struct {
	Sender string    `json:"sender"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// ErrorNotice tells a client its last message was rejected.
type ErrorNotice struct {
	Message string `json:"message"`
}

// Encode frames a payload into a JSON envelope.
func Encode(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

// decode unmarshals an envelope's data into a typed, validated message.
func decode[T interface{ Validate() error }](env Envelope) (T, error) {
	var msg T
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return msg, fmt.Errorf("decoding %s message: %w", env.Type, err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("invalid %s message: %w", env.Type, err)
	}
	return msg, nil
}
