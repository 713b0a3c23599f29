package agent

import "strings"

// basePreset is the layer every session starts from, analogous to the
// Claude Code "preset" system prompt the original implementation built on
// top of (original_source/backend/app/agent.py, ClaudeAgentOptions.system_prompt).
const basePreset = `You are an autonomous software engineer building a web application inside a sandboxed workspace. You operate entirely through the tool surface available to you; you cannot see anything outside the tool results you receive.

Be concise. Do not narrate what you are about to do; do it, then summarize briefly.`

// composeSystemPrompt layers an append-only set of project-specific
// instructions on top of the base preset. The layering is append-only
// (spec §4.2): later layers add context, never replace earlier ones.
func composeSystemPrompt(appends ...string) string {
	var b strings.Builder
	b.WriteString(basePreset)
	for _, a := range appends {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(a)
	}
	return b.String()
}

// curatedComponentsAppend documents the curated component catalogue seeded
// into every workspace (internal/sandbox/scaffold.go) so the model prefers
// it over generating equivalent components from scratch.
const curatedComponentsAppend = `## Curated Components

Before writing a new UI component, check curated/components.json in the workspace. If an existing curated component covers your need, import and use it instead of writing a new one.`

// workflowAppend mirrors the discover/build/verify workflow the original
// implementation's SYSTEM_PROMPT_APPEND prescribed, generalized away from
// any one data platform.
const workflowAppend = `## Workflow

1. If the request implies visualizing or querying external data, delegate to the data-explorer sub-agent first and confirm the data and scope with the user before writing code.
2. Prefer Edit over Write for existing files.
3. Use the start-dev-server tool to preview your work — never start a dev server yourself via Bash.
4. Before calling start-dev-server, delegate to the security-reviewer sub-agent and wait for it to mark the security review passed.
5. After a build or type-check command fails, follow the correction instructions you are given rather than guessing.`

// DefaultAppends is the append layer every production session uses.
func DefaultAppends() []string {
	return []string{curatedComponentsAppend, workflowAppend}
}
