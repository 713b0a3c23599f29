// Package hooks implements the Hook Pipeline (C4): pre-hooks that may deny
// a tool call for defence in depth, and post-hooks that react to tool
// outcomes by injecting synthetic system messages or advancing the
// review/planning state machines (spec §4.5).
//
// Grounded on internal/agents/orchestrator.go (VerifyGate/BuildPhase) and
// original_source/backend/app/agent.py (validate_build_result,
// remind_discovery_before_build, log_tool_usage).
package hooks

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentforge/core/internal/audit"
	"github.com/agentforge/core/internal/metrics"
	"github.com/agentforge/core/internal/policy"
	"github.com/agentforge/core/internal/state"
	"github.com/agentforge/core/internal/tools"
)

// buildCommands identifies shell commands the build-failure hook treats as
// build/type-check/test commands.
var buildCommands = []string{"npm run build", "npm run typecheck", "npm test", "tsc", "next build", "go build", "go vet", "go test"}

func isBuildCommand(command string) bool {
	for _, c := range buildCommands {
		if strings.Contains(command, c) {
			return true
		}
	}
	return false
}

// dataExplorationTools advance the planning state when they succeed.
var dataExplorationTools = map[string]bool{
	"mcp__data__query_tables": true,
	"mcp__data__list_tables":  true,
}

// Pipeline is the per-session hook pipeline. Every field it mutates
// (ReviewState, PlanningState, failure counter) is owned by exactly one
// Session, threaded explicitly rather than read from a global (spec §9).
type Pipeline struct {
	ReviewState   *state.ReviewState
	PlanningState *state.PlanningState
	WorkspaceRoot string
	Resolve       func(string) (string, error)

	MaxConsecutiveBuildFailures int
	consecutiveBuildFailures    int

	Audit  *audit.Logger
	logger *zap.Logger
}

// New constructs a Pipeline with sane defaults for fields left zero.
func New(reviewState *state.ReviewState, planningState *state.PlanningState, maxFailures int, auditLogger *audit.Logger, logger *zap.Logger) *Pipeline {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Pipeline{
		ReviewState:                 reviewState,
		PlanningState:               planningState,
		MaxConsecutiveBuildFailures: maxFailures,
		Audit:                       auditLogger,
		logger:                      logger,
	}
}

// PreDecision is returned by RunPreHooks; a non-nil Deny means the call is
// blocked before execution, sharing the same denial mechanism as the
// Policy Gate (spec §4.5).
type PreDecision struct {
	Deny *policy.Decision
}

// RunPreHooks executes, strictly sequentially, every pre-hook for call: a
// path-validation check that duplicates the Policy Gate's containment rule
// for defence in depth. Audit logging happens once, after the Policy Gate's
// own decision, so the trail records what actually happened rather than a
// pre-emptive "allowed" (spec §7). A panic/error in one hook is logged and
// does not abort the remaining hooks (spec §4.5).
func (p *Pipeline) RunPreHooks(sessionID string, call tools.Call) PreDecision {
	var deny *policy.Decision
	p.safely("path-validation", func() {
		if p.Resolve == nil {
			return
		}
		path, _ := call.Input["file_path"].(string)
		if path == "" {
			path, _ = call.Input["path"].(string)
		}
		if path == "" {
			return
		}
		if _, err := p.Resolve(path); err != nil {
			d := policy.Decision{Allowed: false, Rule: policy.RulePathContainment, Reason: err.Error()}
			deny = &d
		}
	})

	return PreDecision{Deny: deny}
}

// RunPostHooks executes the required post-hooks after a tool call completes
// successfully or fails, returning any synthetic system messages to inject
// into the Agent Session's next model turn.
func (p *Pipeline) RunPostHooks(call tools.Call, result tools.Result) []string {
	var injected []string

	p.safely("review-invalidation", func() {
		if tools.IsMutating(call.Tool) && !result.IsError && p.ReviewState != nil {
			*p.ReviewState = p.ReviewState.OnCodeMutation()
		}
	})

	p.safely("planning-state", func() {
		if p.PlanningState == nil {
			return
		}
		if dataExplorationTools[call.Tool] && !result.IsError {
			p.advancePlanning()
		}
		if call.Tool == tools.ToolTask && !result.IsError {
			if subagent, _ := call.Input["subagent"].(string); subagent == "planner" {
				p.advancePlanning()
			}
		}
	})

	p.safely("build-failure-self-correction", func() {
		if call.Tool != tools.ToolBash {
			return
		}
		command, _ := call.Input["command"].(string)
		if !isBuildCommand(command) {
			return
		}
		if result.ExitCode == nil || *result.ExitCode == 0 {
			p.consecutiveBuildFailures = 0
			return
		}

		p.consecutiveBuildFailures++
		if p.consecutiveBuildFailures > p.MaxConsecutiveBuildFailures {
			metrics.BuildFailureCyclesTotal.WithLabelValues("bound_hit").Inc()
			injected = append(injected, fmt.Sprintf(
				"Build has failed %d consecutive times running %q. Stop retrying and report the unresolved error to the user.",
				p.consecutiveBuildFailures, command))
			return
		}

		metrics.BuildFailureCyclesTotal.WithLabelValues("retrying").Inc()
		injected = append(injected, fmt.Sprintf(
			"The command %q failed with exit code %d.\n%s\nDelegate to the code-reviewer sub-agent, then the error-fixer sub-agent, before attempting the build again.",
			command, *result.ExitCode, truncate(result.Output, 2000)))
	})

	return injected
}

func (p *Pipeline) advancePlanning() {
	switch *p.PlanningState {
	case state.PlanningNotStarted:
		*p.PlanningState = state.PlanningExploring
	case state.PlanningExploring:
		*p.PlanningState = state.PlanningAwaitingClarification
	case state.PlanningAwaitingClarification:
		*p.PlanningState = state.PlanningPlanned
	case state.PlanningPlanned:
		*p.PlanningState = state.PlanningBuilding
	case state.PlanningBuilding:
		*p.PlanningState = state.PlanningDone
	}
}

// ApprovePlanByUser is the explicit user-approval transition referenced in
// spec §3 Planning State ("Mutated only by planner sub-agent completion
// events and by an explicit user approval turn").
func (p *Pipeline) ApprovePlanByUser() {
	if p.PlanningState != nil && *p.PlanningState == state.PlanningAwaitingClarification {
		*p.PlanningState = state.PlanningPlanned
	}
}

func (p *Pipeline) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Warn("hook panicked", zap.String("hook", name), zap.Any("recover", r))
		}
	}()
	fn()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}
