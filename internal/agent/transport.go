// Package agent implements the Agent Session (C5): system-prompt
// composition, the reasoning-model transport, and the turn loop that
// drives tool calls through the Policy Gate and Hook Pipeline and maps
// every model event onto the streaming envelope protocol (spec §4.2, §6).
//
// Grounded on original_source/backend/app/agent.py's AppBuilderAgent
// (initialize/chat/cleanup, event shapes, preview-url extraction) and on
// the Model/streaming interfaces in
// _examples/yy1588133-myclaw/third_party/agentsdk-go/pkg/model.
package agent

import "context"

// EventKind mirrors the event dicts AppBuilderAgent.chat() yields, before
// they are mapped onto protocol.Envelope by the Agent Session's turn loop.
type EventKind string

const (
	EventText       EventKind = "text"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
)

// Event is one item the reasoning-model transport emits while processing a
// turn. Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// text
	Content string

	// tool_use
	ToolUseID string
	Tool      string
	Input     map[string]any

	// done
	CostUSD  float64
	NumTurns int

	// error
	Err error
}

// ToolResultFeedback is what the turn loop sends back to the transport
// after executing a tool_use event, so the model can continue its turn.
type ToolResultFeedback struct {
	ToolUseID string
	Output    string
	IsError   bool
}

// Transport is the boundary between the Agent Session and the reasoning
// model. Implementations: subprocessTransport (production, spawns the
// configured model command) and fakeTransport (tests).
type Transport interface {
	// Initialize starts the transport with the given composed system prompt.
	// Must be idempotent-safe to call once; calling twice is a programmer error.
	Initialize(ctx context.Context, systemPrompt string) error

	// Send delivers the user's message (or a tool result) and returns a
	// channel of events. Zero or more EventText events are followed by
	// exactly one terminal event — EventToolUse, EventDone, or EventError —
	// after which the channel is closed. A terminal EventToolUse means the
	// model is paused waiting for the caller to execute the tool and Send a
	// matching InputToolResult to resume the turn.
	Send(ctx context.Context, message Input) (<-chan Event, error)

	// Cleanup releases the transport's resources. Idempotent; never panics.
	Cleanup(ctx context.Context) error
}

// InputKind distinguishes a fresh user turn from a tool-result continuation
// of the current turn.
type InputKind string

const (
	InputUserMessage InputKind = "user_message"
	InputToolResult  InputKind = "tool_result"
)

// Input is what the turn loop sends to the transport.
type Input struct {
	Kind       InputKind
	Text       string
	ToolResult ToolResultFeedback
}
