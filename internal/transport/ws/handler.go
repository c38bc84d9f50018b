package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/game/registry"
	"github.com/cory-johannsen/arena/internal/game/tournament"
)

// Verifier is the slice of the auth gatekeeper the handler needs.
type Verifier interface {
	VerifyClient(ctx context.Context, info auth.HandshakeInfo) (auth.User, error)
}

// SessionService receives ready signals from clients.
type SessionService interface {
	MarkReady(sessionID uuid.UUID, userID string) error
}

// ChatService relays direct messages.
type ChatService interface {
	Send(sender, recipient, body string) error
}

// TournamentService registers players into brackets.
type TournamentService interface {
	Register(tournamentID uuid.UUID, userID string) (tournament.Snapshot, error)
}

// Handler upgrades authenticated HTTP requests to websocket connections and
// routes their inbound messages. Credentials are verified before the
// upgrade: a rejected handshake never allocates connection or game state.
type Handler struct {
	upgrader    websocket.Upgrader
	verifier    Verifier
	registry    *registry.Registry
	sessions    SessionService
	chat        ChatService
	tournaments TournamentService
	cfg         config.RealtimeConfig
	logger      *zap.Logger
}

// NewHandler wires a websocket Handler.
//
// Precondition: all collaborators must be non-nil.
func NewHandler(
	verifier Verifier,
	reg *registry.Registry,
	sessions SessionService,
	chat ChatService,
	tournaments TournamentService,
	cfg config.RealtimeConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		verifier:    verifier,
		registry:    reg,
		sessions:    sessions,
		chat:        chat,
		tournaments: tournaments,
		cfg:         cfg,
		logger:      logger,
	}
}

// ServeHTTP authenticates the handshake, upgrades, and registers the
// connection. The credential comes from a bearer Authorization header or a
// token query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.verifier.VerifyClient(r.Context(), auth.HandshakeInfo{
		Token:      bearerToken(r),
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		h.logger.Warn("handshake rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", zap.Error(err))
		return
	}

	c := newConn(user.ID, wsConn, h.logger)
	if err := h.registry.Register(user.ID, user.Username, c); err != nil {
		h.logger.Warn("registration refused",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		_ = c.Close("server full")
		return
	}

	go c.writePump(h.cfg.HeartbeatInterval)
	go h.readPump(c)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// readPump consumes inbound frames until the connection dies, then tears the
// connection down if it is still the user's registered transport.
func (h *Handler) readPump(c *Conn) {
	defer func() {
		if err := h.registry.UnregisterTransport(c.userID, c, events.CloseReasonClientGone); err != nil {
			// Superseded or already removed through another path.
			h.logger.Debug("teardown skipped", zap.String("user_id", c.userID), zap.Error(err))
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
	c.ws.SetPongHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
		h.recordHeartbeat(c.userID, appData)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read loop ended",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			return
		}
		h.handleMessage(c, data)
	}
}

// recordHeartbeat derives the round trip from the pong's echoed timestamp
// and reclassifies the connection's quality.
func (h *Handler) recordHeartbeat(userID, stamp string) {
	sent, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return
	}
	quality, err := h.registry.UpdateQuality(userID, time.Since(sent))
	if err != nil {
		return
	}
	h.logger.Debug("heartbeat",
		zap.String("user_id", userID),
		zap.String("quality", string(quality)),
	)
}

// handleMessage validates and dispatches one inbound frame. A malformed or
// rejected message is dropped and the sender notified; connection and
// session state are unaffected.
func (h *Handler) handleMessage(c *Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.reject(c, "malformed envelope")
		return
	}

	var err error
	switch env.Type {
	case TypeReady:
		var msg ReadyMessage
		if msg, err = decode[ReadyMessage](env); err == nil {
			err = h.sessions.MarkReady(msg.SessionID, c.userID)
		}
	case TypeChat:
		var msg ChatMessage
		if msg, err = decode[ChatMessage](env); err == nil {
			err = h.chat.Send(c.userID, msg.Recipient, msg.Body)
		}
	case TypeTournamentJoin:
		var msg TournamentJoinMessage
		if msg, err = decode[TournamentJoinMessage](env); err == nil {
			_, err = h.tournaments.Register(msg.TournamentID, c.userID)
		}
	default:
		err = ErrUnknownType
	}

	if err != nil {
		h.logger.Debug("message rejected",
			zap.String("user_id", c.userID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		h.reject(c, err.Error())
	}
}

func (h *Handler) reject(c *Conn, reason string) {
	data, err := Encode(TypeError, ErrorNotice{Message: reason})
	if err != nil {
		return
	}
	_ = c.Send(data)
}
