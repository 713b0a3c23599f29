package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentforge/core/internal/audit"
	"github.com/agentforge/core/internal/hooks"
	"github.com/agentforge/core/internal/metrics"
	"github.com/agentforge/core/internal/policy"
	"github.com/agentforge/core/internal/protocol"
	"github.com/agentforge/core/internal/state"
	"github.com/agentforge/core/internal/tools"
)

// MaxToolHops bounds how many tool round-trips a single turn may take
// before the Agent Session gives up and reports an error, guarding against
// a misbehaving transport that never reaches a done event.
const MaxToolHops = 64

// Session is the Agent Session (C5): one reasoning-model conversation bound
// to one sandbox, driven entirely through explicitly-threaded per-session
// state rather than any package-level singleton (spec §9).
type Session struct {
	ID        string
	Transport Transport
	Tools     tools.Context
	Hooks     *hooks.Pipeline

	// SystemPromptAppends are layered onto the base preset, append-only
	// (spec §4.2). Callers own ordering.
	SystemPromptAppends []string

	// AllowedTools restricts which tools this Session may call, for
	// sub-agent turns spawned with a restricted permission subset
	// (spec §4.7). Empty means unrestricted — the main conversation.
	AllowedTools []string

	initialized bool
}

func (s *Session) toolAllowed(tool string) bool {
	if len(s.AllowedTools) == 0 {
		return true
	}
	for _, t := range s.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// New constructs a Session. transport, toolsCtx, and hookPipeline are
// owned by exactly one Session for its lifetime.
func New(id string, transport Transport, toolsCtx tools.Context, hookPipeline *hooks.Pipeline) *Session {
	return &Session{ID: id, Transport: transport, Tools: toolsCtx, Hooks: hookPipeline, SystemPromptAppends: DefaultAppends()}
}

// Initialize composes the system prompt and starts the transport. Must be
// called exactly once before Chat.
func (s *Session) Initialize(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	if err := s.Transport.Initialize(ctx, composeSystemPrompt(s.SystemPromptAppends...)); err != nil {
		return fmt.Errorf("agent: initialize transport: %w", err)
	}
	s.initialized = true
	return nil
}

// Chat drives one user turn to completion, streaming envelopes as they are
// produced. The returned channel is closed after exactly one `done` or
// `error` envelope (spec §4.2, §6).
func (s *Session) Chat(ctx context.Context, userText string) <-chan protocol.Envelope {
	out := make(chan protocol.Envelope)
	go s.runTurn(ctx, out, Input{Kind: InputUserMessage, Text: userText})
	return out
}

func (s *Session) runTurn(ctx context.Context, out chan<- protocol.Envelope, in Input) {
	defer close(out)

	if !s.initialized {
		out <- protocol.Error("agent session is not initialized")
		return
	}

	for hop := 0; ; hop++ {
		if hop >= MaxToolHops {
			out <- protocol.Error("agent: exceeded maximum tool round-trips for this turn")
			return
		}

		events, err := s.Transport.Send(ctx, in)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				out <- protocol.Error("timeout")
			} else {
				out <- protocol.Error(err.Error())
			}
			return
		}

		next, terminal := s.drain(ctx, out, events)
		if terminal {
			return
		}
		in = next
	}
}

// drain forwards text events and handles exactly one terminal event from
// events, returning the Input to continue the turn with (if the terminal
// event was a tool_use) and whether the turn itself is now finished.
func (s *Session) drain(ctx context.Context, out chan<- protocol.Envelope, events <-chan Event) (Input, bool) {
	for ev := range events {
		switch ev.Kind {
		case EventText:
			out <- protocol.Text(ev.Content)

		case EventToolUse:
			out <- protocol.ToolUse(ev.ToolUseID, ev.Tool, ev.Input)
			result := s.handleToolUse(ctx, ev)
			out <- protocol.ToolResult(ev.ToolUseID, result.Output, result.IsError)
			return Input{
				Kind: InputToolResult,
				ToolResult: ToolResultFeedback{
					ToolUseID: ev.ToolUseID,
					Output:    result.Output,
					IsError:   result.IsError,
				},
			}, false

		case EventDone:
			previewURL := ""
			if s.Tools.Supervisor != nil {
				previewURL = s.Tools.Supervisor.PreviewURL()
			}
			out <- protocol.Done(previewURL, ev.CostUSD, 0, ev.NumTurns)
			return Input{}, true

		case EventError:
			msg := "agent: reasoning model returned an error"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				msg = "timeout"
			}
			out <- protocol.Error(msg)
			return Input{}, true
		}
	}
	out <- protocol.Error("agent: reasoning model transport closed unexpectedly")
	return Input{}, true
}

// handleToolUse runs the Policy Gate, executes the tool, and runs the Hook
// Pipeline's post-hooks, mapping everything onto a tools.Result.
func (s *Session) handleToolUse(ctx context.Context, ev Event) tools.Result {
	call := tools.Call{ID: ev.ToolUseID, Tool: ev.Tool, Input: ev.Input}

	record := func(allowed bool, denyReason string) {
		if s.Hooks == nil || s.Hooks.Audit == nil {
			return
		}
		s.Hooks.Audit.Record(audit.Entry{
			SessionID:  s.ID,
			ToolCallID: call.ID,
			Tool:       call.Tool,
			Input:      call.Input,
			Allowed:    allowed,
			DenyReason: denyReason,
		})
	}
	outcome := func(isError bool) string {
		if isError {
			return "error"
		}
		return "success"
	}

	if !s.toolAllowed(call.Tool) {
		reason := fmt.Sprintf("tool %q is not permitted for this sub-agent", call.Tool)
		record(false, reason)
		metrics.ToolCallsTotal.WithLabelValues(call.Tool, outcome(true)).Inc()
		return tools.Result{IsError: true, Output: reason}
	}

	if s.Hooks != nil {
		if pre := s.Hooks.RunPreHooks(s.ID, call); pre.Deny != nil {
			record(false, pre.Deny.Reason)
			metrics.ToolCallsTotal.WithLabelValues(call.Tool, outcome(true)).Inc()
			return tools.Result{IsError: true, Output: pre.Deny.Reason}
		}
	}

	// Audit the Policy Gate's decision itself, after it runs, so the trail
	// reflects what actually happened rather than a pre-emptive "allowed"
	// entry (spec §7: denials are logged as security events).
	decision := policy.Decide(call.Tool, call.Input, s.policyContext())
	if !decision.Allowed {
		reason := fmt.Sprintf("denied by policy (%s): %s", decision.Rule, decision.Reason)
		record(false, reason)
		metrics.ToolCallsTotal.WithLabelValues(call.Tool, outcome(true)).Inc()
		return tools.Result{IsError: true, Output: reason}
	}
	record(true, "")

	result, err := tools.Execute(ctx, s.Tools, call)
	if err != nil {
		result = tools.Result{IsError: true, Output: err.Error()}
	}
	metrics.ToolCallsTotal.WithLabelValues(call.Tool, outcome(result.IsError)).Inc()

	if s.Hooks != nil {
		for _, injected := range s.Hooks.RunPostHooks(call, result) {
			result.Output += "\n\n[system] " + injected
		}
	}

	return result
}

func (s *Session) policyContext() policy.Context {
	var root string
	var resolve func(string) (string, error)
	if s.Tools.Supervisor != nil && s.Tools.Supervisor.Workspace != nil {
		root = s.Tools.Supervisor.Workspace.Root
		resolve = s.Tools.Supervisor.Workspace.Resolve
	}
	reviewState := state.ReviewNone
	if s.Tools.ReviewState != nil {
		reviewState = *s.Tools.ReviewState
	}
	return policy.Context{WorkspaceRoot: root, ReviewState: reviewState, Resolve: resolve}
}

// Cleanup tears down the transport. Idempotent; never returns an error the
// caller must act on (mirrors original_source/backend/app/agent.py's
// cleanup(), which logs and swallows exceptions rather than propagating them).
func (s *Session) Cleanup(ctx context.Context) error {
	if s.Transport == nil {
		return nil
	}
	if err := s.Transport.Cleanup(ctx); err != nil {
		return fmt.Errorf("agent: cleanup transport: %w", err)
	}
	return nil
}
