// Package ws bridges websocket connections to hub sessions, translating
// JSON envelopes to and from board mutations.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starford/wunjo/internal/hub"
	"github.com/starford/wunjo/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Handler upgrades HTTP requests into hub sessions.
type Handler struct {
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(h *hub.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The board is open to any origin, as the reference deployment was.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP is the websocket endpoint (GET /ws).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	session := h.hub.Join()
	h.logger.Info("session connected", slog.String("session", session.ID()))

	go h.writeLoop(conn, session)
	h.readLoop(conn, session)

	h.hub.Leave(session)
	conn.Close()
	h.logger.Info("session disconnected", slog.String("session", session.ID()))
}

// writeLoop drains the session's frame buffer onto the connection and keeps
// it alive with pings. It closes the connection when the hub closes the
// session, which in turn unblocks the read loop.
func (h *Handler) writeLoop(conn *websocket.Conn, session *hub.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-session.Out():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop decodes inbound envelopes and submits them to the hub until the
// connection drops.
func (h *Handler) readLoop(conn *websocket.Conn, session *hub.Session) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("session read error",
					slog.String("session", session.ID()),
					slog.String("error", err.Error()))
			}
			return
		}

		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Warn("malformed frame",
				slog.String("session", session.ID()),
				slog.String("error", err.Error()))
			continue
		}

		switch env.Event {
		case hub.EventNewNote, hub.EventUpdateNote:
			var note models.Note
			if err := json.Unmarshal(env.Data, &note); err != nil {
				h.logger.Warn("malformed note payload",
					slog.String("session", session.ID()),
					slog.String("event", env.Event))
				continue
			}
			h.hub.SubmitNote(session, env.Event, note)
		case hub.EventDeleteNote:
			var id string
			if err := json.Unmarshal(env.Data, &id); err != nil {
				h.logger.Warn("malformed delete payload", slog.String("session", session.ID()))
				continue
			}
			h.hub.SubmitDelete(session, id)
		default:
			h.logger.Warn("unknown event",
				slog.String("session", session.ID()),
				slog.String("event", env.Event))
		}
	}
}
