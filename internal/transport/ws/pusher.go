package ws

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/game/registry"
)

// Wire payloads pushed to clients. The bus payloads stay transport-agnostic;
// these carry the JSON shape.

// SessionStatePayload mirrors a session state transition.
type SessionStatePayload struct {
	SessionID      uuid.UUID  `json:"session_id"`
	Seq            uint64     `json:"seq"`
	From           string     `json:"from,omitempty"`
	To             string     `json:"to"`
	Disconnected   []string   `json:"disconnected,omitempty"`
	ResumeDeadline *time.Time `json:"resume_deadline,omitempty"`
}

// ScorePayload mirrors an authoritative score change.
type ScorePayload struct {
	SessionID uuid.UUID      `json:"session_id"`
	Seq       uint64         `json:"seq"`
	Scorer    string         `json:"scorer"`
	Scores    map[string]int `json:"scores"`
}

// ResultPayload mirrors a finalized session outcome.
type ResultPayload struct {
	SessionID uuid.UUID      `json:"session_id"`
	Seq       uint64         `json:"seq"`
	Scores    map[string]int `json:"scores"`
	Winner    string         `json:"winner,omitempty"`
	Aborted   bool           `json:"aborted"`
	Forfeited []string       `json:"forfeited,omitempty"`
}

// TournamentPayload mirrors a bracket update.
type TournamentPayload struct {
	TournamentID uuid.UUID   `json:"tournament_id"`
	Status       string      `json:"status"`
	Round        int         `json:"round"`
	Pairings     [][2]string `json:"pairings,omitempty"`
	Champion     string      `json:"champion,omitempty"`
}

// NoticePayload carries a free-form server notice.
type NoticePayload struct {
	Body string `json:"body"`
}

// Pusher subscribes to bus events and delivers them to the affected users'
// connections. Delivery is best effort: an offline recipient or a full send
// buffer drops the frame without disturbing game state.
type Pusher struct {
	registry *registry.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	subs     []bus.Subscription
}

// NewPusher creates a Pusher and subscribes it to the outbound event set.
func NewPusher(reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Pusher {
	p := &Pusher{registry: reg, bus: b, logger: logger}
	p.subs = append(p.subs,
		b.Subscribe(events.SessionStateChanged, p.onStateChange),
		b.Subscribe(events.SessionScoreChanged, p.onScoreChange),
		b.Subscribe(events.SessionOutcome, p.onOutcome),
		b.Subscribe(events.ChatMessage, p.onChat),
		b.Subscribe(events.TournamentUpdated, p.onTournament),
		b.Subscribe(events.Notification, p.onNotice),
	)
	return p
}

// Close detaches the pusher from the bus.
func (p *Pusher) Close() {
	for _, sub := range p.subs {
		p.bus.Unsubscribe(sub)
	}
}

func (p *Pusher) onStateChange(e bus.Event) {
	change, ok := e.Payload.(events.StateChange)
	if !ok {
		return
	}
	payload := SessionStatePayload{
		SessionID:    change.SessionID,
		Seq:          change.Seq,
		From:         change.From,
		To:           change.To,
		Disconnected: change.Disconnected,
	}
	if !change.ResumeDeadline.IsZero() {
		deadline := change.ResumeDeadline
		payload.ResumeDeadline = &deadline
	}
	p.fanOut(TypeSessionState, payload, change.Participants)
}

func (p *Pusher) onScoreChange(e bus.Event) {
	change, ok := e.Payload.(events.ScoreChange)
	if !ok {
		return
	}
	participants := make([]string, 0, len(change.Scores))
	for userID := range change.Scores {
		participants = append(participants, userID)
	}
	p.fanOut(TypeScoreUpdate, ScorePayload{
		SessionID: change.SessionID,
		Seq:       change.Seq,
		Scorer:    change.Scorer,
		Scores:    change.Scores,
	}, participants)
}

func (p *Pusher) onOutcome(e bus.Event) {
	out, ok := e.Payload.(events.Outcome)
	if !ok {
		return
	}
	p.fanOut(TypeMatchResult, ResultPayload{
		SessionID: out.SessionID,
		Seq:       out.Seq,
		Scores:    out.Scores,
		Winner:    out.Winner,
		Aborted:   out.Aborted,
		Forfeited: out.Forfeited,
	}, out.Participants)
}

func (p *Pusher) onChat(e bus.Event) {
	msg, ok := e.Payload.(events.Chat)
	if !ok {
		return
	}
	p.fanOut(TypeChatDelivery, ChatDelivery{
		Sender: msg.Sender,
		Body:   msg.Body,
		SentAt: msg.SentAt,
	}, []string{msg.Recipient})
}

func (p *Pusher) onTournament(e bus.Event) {
	update, ok := e.Payload.(events.TournamentUpdate)
	if !ok {
		return
	}
	p.fanOut(TypeTournament, TournamentPayload{
		TournamentID: update.TournamentID,
		Status:       update.Status,
		Round:        update.Round,
		Pairings:     update.Pairings,
		Champion:     update.Champion,
	}, update.Players)
}

func (p *Pusher) onNotice(e bus.Event) {
	notice, ok := e.Payload.(events.Notice)
	if !ok {
		return
	}
	p.fanOut(TypeNotice, NoticePayload{Body: notice.Body}, []string{notice.UserID})
}

// fanOut encodes once and sends to every listed user that is connected.
func (p *Pusher) fanOut(msgType string, payload any, userIDs []string) {
	data, err := Encode(msgType, payload)
	if err != nil {
		p.logger.Error("failed to encode push", zap.String("type", msgType), zap.Error(err))
		return
	}
	for _, userID := range userIDs {
		if err := p.registry.Send(userID, data); err != nil {
			p.logger.Debug("push dropped",
				zap.String("type", msgType),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}
