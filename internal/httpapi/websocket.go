package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentforge/core/internal/protocol"
	"github.com/agentforge/core/internal/session"
)

// wsSender adapts a gorilla websocket connection to session.Sender, with
// its own lock so the periodic ping writer and envelope writes never race
// on the same connection (gorilla/websocket forbids concurrent writers).
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(env protocol.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(env)
}

func (w *wsSender) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// SessionHandler exposes session creation and the websocket upgrade over
// gin, wrapping a Connection Manager.
type SessionHandler struct {
	manager     *session.Manager
	environment string
	upgrader    websocket.Upgrader
}

// NewSessionHandler constructs a SessionHandler bound to manager. environment
// feeds the same allowlist CheckOrigin uses for the websocket handshake as
// corsMiddleware uses for plain HTTP requests.
func NewSessionHandler(manager *session.Manager, environment string) *SessionHandler {
	h := &SessionHandler{manager: manager, environment: environment}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), h.environment)
		},
	}
	return h
}

// Create issues a new session ID for the client to open a websocket
// connection against. The session itself is created lazily on first
// connect, matching the Connection Manager's Factory-on-demand design.
func (h *SessionHandler) Create(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session_id": uuid.NewString()})
}

// HandleWebSocket upgrades the connection and pumps the streaming envelope
// protocol until the client disconnects, at which point the session enters
// its disconnect-grace window (spec §4.6, §8).
func (h *SessionHandler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	sender := &wsSender{conn: conn}

	reconnected, err := h.manager.Connect(c.Request.Context(), sessionID, sender)
	if err != nil {
		_ = sender.Send(protocol.Error(err.Error()))
		_ = conn.Close()
		return
	}
	_ = sender.Send(protocol.Connection(sessionID, reconnected))

	stop := make(chan struct{})
	go pingLoop(sender, stop)

	conn.SetReadLimit(512 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	defer func() {
		close(stop)
		h.manager.Disconnect(sessionID, true)
		_ = conn.Close()
	}()

	for {
		var msg protocol.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := h.manager.Receive(c.Request.Context(), sessionID, msg); err != nil {
			_ = sender.Send(protocol.Error(err.Error()))
		}
	}
}

func pingLoop(sender *wsSender, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if sender.ping() != nil {
				return
			}
		}
	}
}
