package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/core/internal/metrics"
	"github.com/agentforge/core/internal/protocol"
)

// Factory builds a fresh Session for a new session ID: allocating its
// sandbox, Agent Session, and state machines. The Manager never constructs
// these itself (spec §9: no process-global sandbox/agent singleton).
type Factory func(ctx context.Context, sessionID string) (*Session, error)

// Config bounds the Manager's lifecycle policy.
type Config struct {
	// DisconnectGrace is how long a session survives a clean disconnect
	// before its sandbox and Agent Session are torn down (spec §4.6).
	DisconnectGrace time.Duration

	// RemoveWorkspaceOnTeardown deletes the workspace directory on teardown
	// instead of retaining it for inspection.
	RemoveWorkspaceOnTeardown bool

	// ChildProcessGrace is handed to sandbox.Supervisor.TerminateAll during
	// teardown.
	ChildProcessGrace time.Duration

	// TurnTimeout bounds the entire streaming iteration of one chat turn
	// (spec §4.1 turn protocol step 3); zero disables the bound.
	TurnTimeout time.Duration

	Logger *zap.Logger
}

// Manager is the Connection Manager (C6): a table of live Sessions guarded
// by one lock for insert/remove/lookup, matching WSHub's single
// register/unregister/connections-map pattern generalized from per-build
// fan-out to per-session ownership.
type Manager struct {
	cfg     Config
	factory Factory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a Manager. factory is called when Connect sees a
// session ID that is not in the table: the first time, or again after that
// session has been torn down.
func NewManager(factory Factory, cfg Config) *Manager {
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 60 * time.Second
	}
	if cfg.ChildProcessGrace <= 0 {
		cfg.ChildProcessGrace = 5 * time.Second
	}
	return &Manager{factory: factory, cfg: cfg, sessions: make(map[string]*Session)}
}

// Connect attaches conn to sessionID, creating the session via the Factory
// if this is the first time it has been seen, or reattaching to (and
// cancelling any pending teardown of) an existing one. The caller is
// responsible for sending the resulting `connection` envelope; Connect
// only reports whether this was a reattachment.
func (m *Manager) Connect(ctx context.Context, sessionID string, conn Sender) (reconnected bool, err error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess, err = m.factory(ctx, sessionID)
		if err != nil {
			m.mu.Unlock()
			return false, fmt.Errorf("session: create %q: %w", sessionID, err)
		}
		sess.ID = sessionID
		sess.createdAt = time.Now()
		sess.ChildProcessGrace = m.cfg.ChildProcessGrace
		sess.TurnTimeout = m.cfg.TurnTimeout
		m.sessions[sessionID] = sess
		m.mu.Unlock()
		metrics.ActiveSessions.Inc()
		sess.attach(conn) // always false: this session has never been connected before
		return false, nil
	}
	m.mu.Unlock()

	reconnected = sess.attach(conn)
	return reconnected, nil
}

// Receive routes one inbound client message to the named session. Unknown
// session IDs are reported back to the caller rather than silently dropped.
func (m *Manager) Receive(ctx context.Context, sessionID string, msg protocol.ClientMessage) error {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return fmt.Errorf("session: %q is not connected", sessionID)
	}

	switch msg.Type {
	case protocol.ClientChat:
		return sess.Chat(ctx, msg.Message)
	case protocol.ClientPing:
		sess.Pong()
		return nil
	case protocol.ClientReset:
		return sess.Reset(ctx)
	default:
		return fmt.Errorf("session: unknown client message type %q", msg.Type)
	}
}

// Disconnect detaches sessionID's connection. If graceful, the session is
// kept alive for DisconnectGrace in case the client reattaches; otherwise
// (or once the grace period elapses without a reconnect) the session is
// torn down and removed from the table.
func (m *Manager) Disconnect(sessionID string, graceful bool) {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return
	}
	sess.detach()

	if !graceful {
		m.teardown(sessionID, sess)
		return
	}

	sess.teardownMu.Lock()
	if sess.teardown != nil {
		sess.teardown.Stop()
	}
	sess.teardown = time.AfterFunc(m.cfg.DisconnectGrace, func() {
		m.teardown(sessionID, sess)
	})
	sess.teardownMu.Unlock()
}

func (m *Manager) teardown(sessionID string, sess *Session) {
	m.mu.Lock()
	current, ok := m.sessions[sessionID]
	if !ok || current != sess {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	metrics.ActiveSessions.Dec()

	sess.finalize(context.Background(), m.cfg.RemoveWorkspaceOnTeardown, m.cfg.ChildProcessGrace, m.cfg.Logger)
}

func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Count reports how many sessions are currently tracked, live or in their
// disconnect grace window.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
