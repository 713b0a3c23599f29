package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// wireMessage is one NDJSON line exchanged with the reasoning-model
// subprocess. The shape mirrors the Claude Agent SDK's stream-json
// transport that original_source/backend/app/agent.py drove through
// ClaudeSDKClient: the CLI is spawned once per session and speaks
// newline-delimited JSON over stdin/stdout for the lifetime of the process.
type wireMessage struct {
	Type string `json:"type"`

	// outbound: system init
	SystemPrompt string `json:"system_prompt,omitempty"`

	// outbound: user turn / tool result
	Message   string `json:"message,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// inbound: text/tool_use/done/error
	Content  string         `json:"content,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	ID       string         `json:"id,omitempty"`
	CostUSD  float64        `json:"cost_usd,omitempty"`
	NumTurns int            `json:"num_turns,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// subprocessTransport spawns the configured reasoning-model command once
// and keeps it alive for the session's lifetime, matching
// ClaudeSDKClient's connect-once/query-many lifecycle.
type subprocessTransport struct {
	command []string
	apiKey  string
	logger  *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	closed bool
}

// NewSubprocessTransport constructs a transport that will spawn command
// (argv[0] plus args) on Initialize.
func NewSubprocessTransport(command []string, apiKey string, logger *zap.Logger) *subprocessTransport {
	return &subprocessTransport{command: command, apiKey: apiKey, logger: logger}
}

func (t *subprocessTransport) Initialize(ctx context.Context, systemPrompt string) error {
	if len(t.command) == 0 {
		return errors.New("agent: no reasoning model command configured")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cmd := exec.CommandContext(ctx, t.command[0], t.command[1:]...)
	cmd.Env = append(cmd.Environ(), "REASONING_MODEL_API_KEY="+t.apiKey)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("agent: start reasoning model process: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	return t.writeLine(wireMessage{Type: "system", SystemPrompt: systemPrompt})
}

func (t *subprocessTransport) Send(ctx context.Context, in Input) (<-chan Event, error) {
	var msg wireMessage
	switch in.Kind {
	case InputUserMessage:
		msg = wireMessage{Type: "user", Message: in.Text}
	case InputToolResult:
		msg = wireMessage{
			Type:      "tool_result",
			ToolUseID: in.ToolResult.ToolUseID,
			Output:    in.ToolResult.Output,
			IsError:   in.ToolResult.IsError,
		}
	default:
		return nil, fmt.Errorf("agent: unknown input kind %q", in.Kind)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("agent: transport is closed")
	}
	if err := t.writeLine(msg); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	scanner := t.stdout
	t.mu.Unlock()

	events := make(chan Event)
	go t.pump(ctx, scanner, events)
	return events, nil
}

// pump reads NDJSON lines until it emits a terminal event (tool_use, done,
// or error), matching the Transport.Send contract.
func (t *subprocessTransport) pump(ctx context.Context, scanner *bufio.Scanner, events chan<- Event) {
	defer close(events)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			events <- Event{Kind: EventError, Err: err}
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wm wireMessage
		if err := json.Unmarshal(line, &wm); err != nil {
			if t.logger != nil {
				t.logger.Warn("agent: malformed line from reasoning model", zap.Error(err))
			}
			continue
		}

		ev, terminal := toEvent(wm)
		events <- ev
		if terminal {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		events <- Event{Kind: EventError, Err: err}
		return
	}
	events <- Event{Kind: EventError, Err: errors.New("agent: reasoning model process closed its output stream")}
}

func toEvent(wm wireMessage) (Event, bool) {
	switch wm.Type {
	case "text":
		return Event{Kind: EventText, Content: wm.Content}, false
	case "tool_use":
		return Event{Kind: EventToolUse, ToolUseID: wm.ID, Tool: wm.Tool, Input: wm.Input}, true
	case "done":
		return Event{Kind: EventDone, CostUSD: wm.CostUSD, NumTurns: wm.NumTurns}, true
	case "error":
		return Event{Kind: EventError, Err: errors.New(wm.Error)}, true
	default:
		return Event{Kind: EventError, Err: fmt.Errorf("agent: unknown event type %q", wm.Type)}, true
	}
}

func (t *subprocessTransport) writeLine(msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("agent: encode wire message: %w", err)
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("agent: write to reasoning model process: %w", err)
	}
	return nil
}

// Cleanup terminates the subprocess if still running. Safe to call more
// than once and safe to call without a prior successful Initialize.
func (t *subprocessTransport) Cleanup(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	return nil
}
