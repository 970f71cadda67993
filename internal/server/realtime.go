package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mathysIN/copyman/internal/session"
	"go.uber.org/zap"
)

const (
	realtimeWriteWait      = 10 * time.Second
	realtimePongWait       = 60 * time.Second
	realtimePingPeriod     = 54 * time.Second
	realtimeMaxMessageSize = 1 << 20
	realtimeOutboxSize     = 32
)

var realtimeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// realtimeConn adapts one websocket to the room.Connection contract. A
// single writer goroutine drains the outbox; Deliver drops the payload
// when the outbox is full instead of blocking the broadcaster. There is no
// retry and no backlog: a client that misses events re-fetches full state
// on reconnect.
type realtimeConn struct {
	id        string
	socket    *websocket.Conn
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newRealtimeConn(socket *websocket.Conn, logger *zap.Logger) *realtimeConn {
	return &realtimeConn{
		id:     uuid.NewString(),
		socket: socket,
		outbox: make(chan []byte, realtimeOutboxSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *realtimeConn) ID() string {
	return c.id
}

func (c *realtimeConn) Deliver(payload []byte) {
	select {
	case c.outbox <- payload:
	case <-c.done:
	default:
		c.logger.Debug("outbox full, dropping event", zap.String("connection_id", c.id))
	}
}

func (c *realtimeConn) writeLoop() {
	ticker := time.NewTicker(realtimePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.outbox:
			c.socket.SetWriteDeadline(time.Now().Add(realtimeWriteWait)) //nolint:errcheck
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(realtimeWriteWait)) //nolint:errcheck
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *realtimeConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.socket.Close() //nolint:errcheck
	})
}

// handleRealtime authenticates the websocket handshake with the same
// cookies the HTTP API uses, registers the connection in the session's
// room, and relays mutation events to the rest of the room.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	socket, err := realtimeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newRealtimeConn(socket, h.logger)
	defer conn.shutdown()

	userAgent := c.Request.UserAgent()
	if userAgent == "" {
		userAgent = "Anonymous"
	}
	h.registry.Join(record.SessionID, conn, userAgent, c.ClientIP())
	go conn.writeLoop()

	h.broadcastInsight(record.SessionID)

	socket.SetReadLimit(realtimeMaxMessageSize)
	socket.SetReadDeadline(time.Now().Add(realtimePongWait)) //nolint:errcheck
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(realtimePongWait))
	})

	for {
		messageType, raw, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Info("websocket read failed",
					zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		h.dispatchRealtimeEvent(c, record.SessionID, conn, raw)
	}

	h.registry.Leave(record.SessionID, conn.ID())
	h.broadcastInsight(record.SessionID)
}

func (h *httpHandler) dispatchRealtimeEvent(c *gin.Context, sessionID string, conn *realtimeConn, raw []byte) {
	envelope, err := decodeEnvelope(raw)
	if err != nil {
		h.logger.Info("dropping malformed realtime frame",
			zap.String("connection_id", conn.ID()), zap.Error(err))
		return
	}

	switch envelope.Event {
	case EventHello:
		h.deliverEvent(conn, EventWelcome, WelcomePayload{ConnectionID: conn.ID()})
		h.deliverEvent(conn, EventRoomInsight, h.registry.Snapshot(sessionID))

	case EventAddContent:
		if _, err := session.ContentListFromJSON(envelope.Payload); err != nil {
			h.logger.Info("dropping malformed addContent payload", zap.Error(err))
			return
		}
		h.registry.Broadcast(sessionID, conn.ID(), raw)

	case EventUpdatedContent:
		if _, err := session.ContentFromJSON(envelope.Payload); err != nil {
			h.logger.Info("dropping malformed updatedContent payload", zap.Error(err))
			return
		}
		h.registry.Broadcast(sessionID, conn.ID(), raw)

	case EventDeleteContent:
		var contentID string
		if err := json.Unmarshal(envelope.Payload, &contentID); err != nil || contentID == "" {
			h.logger.Info("dropping malformed deleteContent payload", zap.Error(err))
			return
		}
		h.registry.Broadcast(sessionID, conn.ID(), raw)

	case EventUpdatedContentOrder:
		var order []string
		if err := json.Unmarshal(envelope.Payload, &order); err != nil {
			h.logger.Info("dropping malformed order payload", zap.Error(err))
			return
		}
		h.registry.Broadcast(sessionID, conn.ID(), raw)
		// The order is the one socket-path mutation persisted server-side;
		// racing writers are last-write-wins.
		if err := h.store.SetContentOrder(c.Request.Context(), sessionID, order); err != nil {
			h.logger.Error("failed to persist content order",
				zap.String("session_id", sessionID), zap.Error(err))
		}

	case EventWelcome, EventRoomInsight:
		// Server-originated events echoed back by a client are ignored.
	}
}

func (h *httpHandler) deliverEvent(conn *realtimeConn, event string, payload any) {
	encoded, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	conn.Deliver(encoded)
}

// broadcastInsight pushes a fresh presence snapshot to every member of the
// room, including the connection that triggered the change.
func (h *httpHandler) broadcastInsight(sessionID string) {
	encoded, err := encodeEvent(EventRoomInsight, h.registry.Snapshot(sessionID))
	if err != nil {
		h.logger.Error("failed to encode presence snapshot", zap.Error(err))
		return
	}
	h.registry.Broadcast(sessionID, "", encoded)
}
