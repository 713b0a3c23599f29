// Package tools implements the Tool Surface (C2): named operations invoked
// by the agent, each passing through the Policy Gate and Hook Pipeline
// before touching the sandbox.
//
// Grounded on internal/agents/path_guard.go + internal/execution/runner.go
// (file/shell families) and internal/preview/server_runner.go (preview
// family); the review/delegation families are grounded on spec §4.3 and
// original_source/backend/app/tools/sandbox_tools.py.
package tools

import (
	"context"
	"fmt"

	"github.com/agentforge/core/internal/sandbox"
	"github.com/agentforge/core/internal/state"
)

// Names of every tool the surface exposes.
const (
	ToolRead             = "Read"
	ToolWrite            = "Write"
	ToolEdit             = "Edit"
	ToolGlob             = "Glob"
	ToolGrep             = "Grep"
	ToolBash             = "Bash"
	ToolGetPreviewURL    = "get-preview-url"
	ToolStartDevServer   = "start-dev-server"
	ToolMarkReviewPassed = "mark-security-review-passed"
	ToolTask             = "Task" // sub-agent delegation
)

// mutatingTools is consulted by the Hook Pipeline's review-invalidation
// post-hook (spec §4.5), exposed through IsMutating so hooks doesn't need to
// re-derive it.
var mutatingTools = map[string]bool{
	ToolWrite: true,
	ToolEdit:  true,
}

// IsMutating reports whether a successful call to tool changes file content.
func IsMutating(tool string) bool {
	return mutatingTools[tool]
}

// Call is one tool invocation request from the Agent Session.
type Call struct {
	ID    string
	Tool  string
	Input map[string]any
}

// Result is the structured outcome of executing a tool, mapped onto a
// `tool_result` envelope by the caller.
type Result struct {
	Output   string
	ExitCode *int
	URL      string
	IsError  bool
}

// Context threads the session-scoped state every tool needs, explicitly,
// per spec §9 ("never through a process-global singleton").
type Context struct {
	Supervisor  *sandbox.Supervisor
	ReviewState *state.ReviewState // tools read/mutate via pointer; hooks mutate the same pointer
	Dispatch    DelegateFunc       // invoked by the Task tool to run a sub-agent turn

	// ContainerRunner, when non-nil, routes foreground Bash calls through a
	// disposable Docker container instead of a host process (SANDBOX_MODE=docker).
	ContainerRunner *sandbox.ContainerRunner
}

// DelegateFunc runs a sub-agent turn and returns its textual summary.
type DelegateFunc func(ctx context.Context, subagent, instruction string) (string, error)

// Execute runs tool against the session context. Callers are expected to
// have already consulted the Policy Gate; Execute does not re-check policy.
func Execute(ctx context.Context, tc Context, call Call) (Result, error) {
	switch call.Tool {
	case ToolRead:
		return execRead(tc, call)
	case ToolWrite:
		return execWrite(tc, call)
	case ToolEdit:
		return execEdit(tc, call)
	case ToolGlob:
		return execGlob(tc, call)
	case ToolGrep:
		return execGrep(tc, call)
	case ToolBash:
		return execBash(ctx, tc, call)
	case ToolGetPreviewURL:
		return execGetPreviewURL(tc, call)
	case ToolStartDevServer:
		return execStartDevServer(ctx, tc, call)
	case ToolMarkReviewPassed:
		return execMarkReviewPassed(tc, call)
	case ToolTask:
		return execTask(ctx, tc, call)
	default:
		return Result{}, fmt.Errorf("tools: unknown tool %q", call.Tool)
	}
}
