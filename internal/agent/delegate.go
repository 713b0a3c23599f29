package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentforge/core/internal/hooks"
	"github.com/agentforge/core/internal/protocol"
	"github.com/agentforge/core/internal/subagents"
	"github.com/agentforge/core/internal/tools"
)

// NewDelegate returns a tools.DelegateFunc backing the Task tool: it looks
// the named sub-agent up in registry, runs one restricted, self-contained
// turn through a freshly spawned transport, and returns the sub-agent's
// concatenated text output as the delegation summary (spec §4.3, §4.7).
//
// Grounded on original_source/backend/app/agent.py's AGENTS list, where
// each sub-agent is itself a ClaudeAgentOptions-configured sub-session with
// its own system prompt and tool allowlist rather than a separate process.
func NewDelegate(registry subagents.Registry, newTransport func() Transport, toolsCtx tools.Context, hookPipeline *hooks.Pipeline) tools.DelegateFunc {
	return func(ctx context.Context, subagent, instruction string) (string, error) {
		def, ok := registry.Get(subagent)
		if !ok {
			return "", fmt.Errorf("agent: unknown sub-agent %q", subagent)
		}

		sub := New(subagent, newTransport(), toolsCtx, hookPipeline)
		sub.SystemPromptAppends = []string{def.SystemPrompt}
		sub.AllowedTools = def.AllowedTools

		if err := sub.Initialize(ctx); err != nil {
			return "", fmt.Errorf("agent: initialize sub-agent %q: %w", subagent, err)
		}
		defer sub.Cleanup(ctx)

		var out strings.Builder
		for env := range sub.Chat(ctx, instruction) {
			switch env.Type {
			case protocol.EnvelopeText:
				if text, ok := env.Content.(string); ok {
					out.WriteString(text)
				}
			case protocol.EnvelopeError:
				return "", fmt.Errorf("agent: sub-agent %q failed: %s", subagent, env.Message)
			}
		}
		return strings.TrimSpace(out.String()), nil
	}
}
