// Package session implements the Connection Manager (C6) and the Session
// data model (spec §3, §4.6): one long-lived sandbox + Agent Session per
// user conversation, a streaming connection that may drop and reattach
// without losing that state, and the turn-serialization and disconnect
// grace-period invariants spec §8 requires.
//
// Grounded on internal/agents/websocket.go's WSHub/WSConnection
// register/unregister/writePump pattern, generalized from a many-listener
// build broadcast to one reattachable connection per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/core/internal/agent"
	"github.com/agentforge/core/internal/metrics"
	"github.com/agentforge/core/internal/protocol"
	"github.com/agentforge/core/internal/sandbox"
	"github.com/agentforge/core/internal/state"
)

// ErrBusy is returned/surfaced when a chat message arrives while the
// session's previous turn has not finished (spec §8, turn serialization).
var ErrBusy = errors.New("session: a turn is already in progress")

// ErrBroken is returned once a session has failed to reinitialize after a
// reset; the session is left in the table (so the client sees the error
// rather than a confusing "unknown session") but refuses further turns
// and resets (spec §7, Broken state).
var ErrBroken = errors.New("session: broken, reinitialization failed")

// Sender delivers one envelope to whatever transport currently owns the
// session's connection (a websocket in production, a recorder in tests).
// Implementations must be safe to call from one goroutine at a time; the
// Session itself serializes calls through its send lock.
type Sender interface {
	Send(envelope protocol.Envelope) error
}

// Session is one user conversation: its sandbox, its Agent Session, its
// review/planning state, and whichever connection is currently attached.
type Session struct {
	ID string

	Supervisor *sandbox.Supervisor
	Agent      *agent.Session

	ReviewState   *state.ReviewState
	PlanningState *state.PlanningState

	// RebuildAgent constructs a fresh Agent Session sharing this session's
	// sandbox/state, used by Reset to discard conversation memory the way
	// spec §4.1 requires ("reinitialises the Agent Session"). Set by the
	// Factory; nil is treated as "nothing to rebuild" only in tests that
	// don't exercise Reset.
	RebuildAgent func(ctx context.Context) (*agent.Session, error)

	// ChildProcessGrace is handed to Supervisor.TerminateAll when Reset
	// drains child processes before reinitializing.
	ChildProcessGrace time.Duration

	// TurnTimeout bounds the entire streaming iteration of one Chat call
	// (spec §4.1 turn protocol step 3); zero disables the bound.
	TurnTimeout time.Duration

	createdAt time.Time

	turnMu sync.Mutex // serializes chat turns and resets (spec §8)
	broken bool

	sendMu        sync.Mutex // serializes writes to conn
	connMu        sync.RWMutex
	conn          Sender
	everConnected bool

	teardownMu sync.Mutex
	teardown   *time.Timer
}

// send delivers one envelope to whatever connection is currently attached,
// silently dropping it if none is (the session outlives brief disconnects).
func (s *Session) send(env protocol.Envelope) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = conn.Send(env)
}

// attach binds conn as the session's active connection and cancels any
// pending disconnect-grace teardown (spec §8, reconnect cancels teardown).
func (s *Session) attach(conn Sender) (reconnected bool) {
	s.connMu.Lock()
	reconnected = s.everConnected
	s.everConnected = true
	s.conn = conn
	s.connMu.Unlock()

	s.teardownMu.Lock()
	if s.teardown != nil {
		s.teardown.Stop()
		s.teardown = nil
	}
	s.teardownMu.Unlock()

	return reconnected
}

// detach clears the session's active connection without scheduling
// teardown; the caller (Manager.Disconnect) decides the grace policy.
func (s *Session) detach() {
	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
}

// Chat runs one user turn if the session is not already busy, forwarding
// every envelope to the attached connection as it is produced. It returns
// ErrBusy immediately, without touching the Agent Session, if a turn is
// already running (spec §8: concurrent chat on a session is rejected, no
// queueing). The turn lock (turnMu) is held for the entire lifetime of the
// streaming iteration, not merely to toggle a flag — tool execution, hooks,
// and sub-agent delegation all run while a turn holds it (spec §5), and
// Reset's own TryLock must see a turn as in-flight for exactly that long.
func (s *Session) Chat(ctx context.Context, userText string) error {
	if !s.turnMu.TryLock() {
		s.send(protocol.Error(ErrBusy.Error()))
		return ErrBusy
	}
	defer s.turnMu.Unlock()

	if s.broken {
		s.send(protocol.Error(ErrBroken.Error()))
		return ErrBroken
	}

	turnCtx := ctx
	if s.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, s.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	for env := range s.Agent.Chat(turnCtx, userText) {
		s.send(env)
	}
	metrics.TurnDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Reset drains child processes, wipes the workspace back to its seeded
// scaffold, and reinitializes the Agent Session, discarding conversation
// memory (spec §4.1). It is rejected while a turn holds the session lock —
// there is no preemption — and, like Chat, once broken. If reinitialization
// fails the session is marked broken and every subsequent Chat/Reset call
// fails fast with ErrBroken instead of operating on half-torn-down state.
func (s *Session) Reset(ctx context.Context) error {
	if !s.turnMu.TryLock() {
		return ErrBusy
	}
	defer s.turnMu.Unlock()

	if s.broken {
		return ErrBroken
	}

	if s.Supervisor != nil {
		s.Supervisor.TerminateAll(s.ChildProcessGrace)
	}
	if s.Agent != nil {
		_ = s.Agent.Cleanup(ctx)
	}

	if s.Supervisor != nil && s.Supervisor.Workspace != nil {
		if err := s.Supervisor.Workspace.Reset(); err != nil {
			s.broken = true
			return fmt.Errorf("session: reset workspace: %w", err)
		}
	}

	if s.ReviewState != nil {
		*s.ReviewState = state.ReviewNone
	}
	if s.PlanningState != nil {
		*s.PlanningState = state.PlanningNotStarted
	}

	if s.RebuildAgent != nil {
		fresh, err := s.RebuildAgent(ctx)
		if err != nil {
			s.broken = true
			return fmt.Errorf("session: reinitialize agent session: %w", err)
		}
		s.Agent = fresh
	}

	return nil
}

// Pong answers a client ping outside of the turn lock — pings must not
// queue behind an in-flight chat turn.
func (s *Session) Pong() {
	s.send(protocol.Pong())
}

func (s *Session) finalize(ctx context.Context, removeWorkspace bool, grace time.Duration, logger *zap.Logger) {
	if s.Agent != nil {
		if err := s.Agent.Cleanup(ctx); err != nil && logger != nil {
			logger.Warn("session: agent cleanup failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if s.Supervisor != nil {
		s.Supervisor.TerminateAll(grace)
		if removeWorkspace && s.Supervisor.Workspace != nil {
			if err := s.Supervisor.Workspace.Remove(); err != nil && logger != nil {
				logger.Warn("session: workspace removal failed", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
}
