package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"deskwire/internal/auth"
	"deskwire/internal/notification"
	"deskwire/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// StreamHandler upgrades connections to the live notification channel.
type StreamHandler struct {
	sessions *session.Registry
	ledger   *notification.Ledger
	upgrader websocket.Upgrader
}

func NewStreamHandler(sessions *session.Registry, ledger *notification.Ledger) *StreamHandler {
	return &StreamHandler{
		sessions: sessions,
		ledger:   ledger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Auth happens via the bearer token; origin policy is the
			// proxy's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Stream establishes a live session. On connect the client receives its
// full unread set (most recent first) and the current unread count,
// then live events until it disconnects. Reconnecting repeats the
// replay; recovery performs no mutation so this is always safe.
func (h *StreamHandler) Stream(c echo.Context) error {
	userID := auth.UserID(c)
	ctx := c.Request().Context()

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Upgrade already wrote the error response.
	}

	// Register before snapshotting the unread set so nothing recorded
	// in between can miss both the replay and the live queue. An item
	// landing in that window may arrive twice; a duplicate beats a
	// loss, and markRead stays idempotent either way.
	s := h.sessions.Connect(userID)
	slog.Info("live session connected", "user_id", userID, "sessions", h.sessions.Count(userID))

	missed, err := h.ledger.Recover(ctx, userID)
	if err != nil {
		slog.Error("failed to recover notifications", "user_id", userID, "error", err)
		h.sessions.Disconnect(s)
		conn.Close()
		return nil
	}

	// Replay is written straight to this socket, before the live pump
	// starts. The session queue is drop-on-full and shared fan-out;
	// recovery must be complete and must reach only the new session.
	// A client too slow to take the replay hits the write deadline and
	// the connection dies with a visible error, never a silent gap.
	if err := h.replay(conn, missed); err != nil {
		h.sessions.Disconnect(s)
		conn.Close()
		return nil
	}

	go h.writePump(conn, s)
	h.readPump(conn, s)
	return nil
}

// replay writes the unread set and a count frame to one connection.
func (h *StreamHandler) replay(conn *websocket.Conn, missed []notification.Notification) error {
	for i := range missed {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(session.Event{Kind: session.EventNotification, Payload: &missed[i]}); err != nil {
			return err
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(session.Event{
		Kind:    session.EventCountUpdate,
		Payload: map[string]interface{}{"count": len(missed)},
	})
}

// writePump drains the session queue onto the socket and keeps the
// connection alive with pings. It exits when the session is
// disconnected (channel closed) or a write fails.
func (h *StreamHandler) writePump(conn *websocket.Conn, s *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes (and discards) client frames until the connection
// drops, then tears the session down.
func (h *StreamHandler) readPump(conn *websocket.Conn, s *session.Session) {
	defer func() {
		h.sessions.Disconnect(s)
		conn.Close()
		slog.Info("live session disconnected", "user_id", s.UserID)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
