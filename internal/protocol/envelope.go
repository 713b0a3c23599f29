// Package protocol defines the client<->server streaming channel contract:
// client messages and server envelopes. The reasoning-model event types the
// Agent Session maps onto these envelopes live in internal/agent.
package protocol

// ClientMessageKind is the `type` field of a message sent by the client.
type ClientMessageKind string

const (
	ClientChat  ClientMessageKind = "chat"
	ClientPing  ClientMessageKind = "ping"
	ClientReset ClientMessageKind = "reset"
)

// ClientMessage is one inbound message on the streaming channel.
type ClientMessage struct {
	Type    ClientMessageKind `json:"type"`
	Message string            `json:"message,omitempty"`
}

// EnvelopeKind is the `type` field of a server->client envelope.
type EnvelopeKind string

const (
	EnvelopeConnection EnvelopeKind = "connection"
	EnvelopeText       EnvelopeKind = "text"
	EnvelopeToolUse    EnvelopeKind = "tool_use"
	EnvelopeToolResult EnvelopeKind = "tool_result"
	EnvelopeDone       EnvelopeKind = "done"
	EnvelopeError      EnvelopeKind = "error"
	EnvelopePong       EnvelopeKind = "pong"
)

// Envelope is the tagged union carried on the streaming channel. Only the
// fields relevant to Type are populated; the rest are omitted from JSON.
type Envelope struct {
	Type EnvelopeKind `json:"type"`

	// connection
	SessionID   string `json:"session_id,omitempty"`
	Reconnected bool   `json:"reconnected,omitempty"`

	// tool_use
	Tool  string         `json:"tool,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	ID    string         `json:"id,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Content carries the `text` envelope's delta (a string) or the
	// `tool_result` envelope's payload (any), both under the wire key
	// "content" per spec §6 — the two kinds are mutually exclusive by Type,
	// so one Go field covers both rather than colliding on the JSON tag.
	Content any `json:"content,omitempty"`

	// done
	PreviewURL *string  `json:"preview_url,omitempty"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
	NumTurns   *int     `json:"num_turns,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Connection builds a `connection` envelope.
func Connection(sessionID string, reconnected bool) Envelope {
	return Envelope{Type: EnvelopeConnection, SessionID: sessionID, Reconnected: reconnected}
}

// Text builds a `text` delta envelope.
func Text(delta string) Envelope {
	return Envelope{Type: EnvelopeText, Content: delta}
}

// ToolUse builds a `tool_use` envelope.
func ToolUse(id, tool string, input map[string]any) Envelope {
	return Envelope{Type: EnvelopeToolUse, ID: id, Tool: tool, Input: input}
}

// ToolResult builds a `tool_result` envelope.
func ToolResult(toolUseID string, result any, isError bool) Envelope {
	return Envelope{Type: EnvelopeToolResult, ToolUseID: toolUseID, Content: result, IsError: isError}
}

// Done builds a terminal `done` envelope.
func Done(previewURL string, costUSD float64, duration int64, numTurns int) Envelope {
	e := Envelope{Type: EnvelopeDone, DurationMS: &duration, NumTurns: &numTurns, CostUSD: &costUSD}
	if previewURL != "" {
		e.PreviewURL = &previewURL
	}
	return e
}

// Error builds an `error` envelope.
func Error(message string) Envelope {
	return Envelope{Type: EnvelopeError, Message: message}
}

// Pong builds a `pong` envelope.
func Pong() Envelope {
	return Envelope{Type: EnvelopePong}
}
