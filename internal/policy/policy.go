// Package policy implements the Policy Gate (C3): a synchronous
// allow/deny decision on every tool call.
//
// The dangerous-command list and sensitive-file substrings are grounded on
// original_source/backend/app/agent.py::permission_callback, carried over
// as-is since that function is the unambiguous source the distilled spec
// summarized. Path containment is grounded on internal/agents/path_guard.go.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentforge/core/internal/metrics"
	"github.com/agentforge/core/internal/state"
)

// Rule names used in denial reasons and metrics labels.
const (
	RuleShellDenylist     = "shell_denylist"
	RulePathContainment   = "path_containment"
	RuleSensitiveFile     = "sensitive_file"
	RuleReviewGate        = "review_gate"
	RulePortBounds        = "port_bounds"
)

// dangerousCommandPatterns are substrings that, if present anywhere in a
// shell command, cause an unconditional deny. A "fetcher | shell" pattern
// also matches when arguments (such as a URL) sit between the fetcher and
// the pipe.
var dangerousCommandPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"sudo ",
	"> /dev/",
	"mkfs",
	"dd if=",
	":(){:|:&};:", // fork bomb
	"chmod -R 777 /",
	"curl | bash",
	"wget | bash",
	"curl | sh",
	"wget | sh",
}

// sensitiveFilePatterns are lowercase substrings that, if present in the
// target path as given or in its canonicalised form (relative to the
// workspace root), cause an unconditional deny for file-family tools.
var sensitiveFilePatterns = []string{
	".env",
	"credentials",
	"secret",
	".git/config",
	"id_rsa",
	".ssh/",
	"password",
	".npmrc",
}

// fileFamilyTools are the tool names subject to path containment and the
// sensitive-file denylist.
var fileFamilyTools = map[string]bool{
	"Read": true, "Write": true, "Edit": true, "Glob": true, "Grep": true,
}

// Decision is the outcome of one Decide call.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(rule, reason string) Decision {
	metrics.PolicyDenialsTotal.WithLabelValues(rule).Inc()
	return Decision{Allowed: false, Rule: rule, Reason: reason}
}

// Context carries the session-scoped facts the Policy Gate needs to decide,
// threaded explicitly by the caller rather than read from a global (spec §9).
type Context struct {
	WorkspaceRoot string
	ReviewState   state.ReviewState

	// Resolve canonicalises a path the way the sandbox supervisor does
	// (joins against the workspace root, resolves symlinks). Tests inject a
	// stub; production wires sandbox.Workspace.Resolve.
	Resolve func(path string) (string, error)
}

// Decide evaluates the ordered rule set from spec §4.4 against one tool call.
func Decide(toolName string, input map[string]any, ctx Context) Decision {
	if toolName == "Bash" || toolName == "shell" {
		if d := checkShellDenylist(input); !d.Allowed {
			return d
		}
	}

	if fileFamilyTools[toolName] {
		if d := checkPathContainment(input, ctx); !d.Allowed {
			return d
		}
		if d := checkSensitiveFile(input, ctx); !d.Allowed {
			return d
		}
	}

	if toolName == "start-dev-server" {
		if ctx.ReviewState != state.ReviewPassed {
			return deny(RuleReviewGate, fmt.Sprintf("preview server blocked: review state is %s, must be PASSED", ctx.ReviewState))
		}
	}

	if d := checkPortBounds(input); !d.Allowed {
		return d
	}

	return allow()
}

func checkShellDenylist(input map[string]any) Decision {
	command, _ := input["command"].(string)
	for _, pattern := range dangerousCommandPatterns {
		matched := strings.Contains(command, pattern)
		if fetcher, shell, ok := strings.Cut(pattern, " | "); ok && !matched {
			if i := strings.Index(command, fetcher); i >= 0 {
				for _, seg := range strings.Split(command[i+len(fetcher):], "|")[1:] {
					if f := strings.Fields(seg); len(f) > 0 && f[0] == shell {
						matched = true
					}
				}
			}
		}
		if matched {
			return deny(RuleShellDenylist, fmt.Sprintf("blocked: command matches dangerous pattern %q", pattern))
		}
	}
	return allow()
}

func checkPathContainment(input map[string]any, ctx Context) Decision {
	path, _ := input["file_path"].(string)
	if path == "" {
		path, _ = input["path"].(string)
	}
	if path == "" {
		return allow()
	}
	if ctx.Resolve == nil {
		return allow()
	}
	resolved, err := ctx.Resolve(path)
	if err != nil {
		return deny(RulePathContainment, fmt.Sprintf("path %q escapes sandbox: %v", path, err))
	}
	root := filepath.Clean(ctx.WorkspaceRoot)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return deny(RulePathContainment, fmt.Sprintf("path %q resolves outside workspace root", path))
	}
	return allow()
}

func checkSensitiveFile(input map[string]any, ctx Context) Decision {
	path, _ := input["file_path"].(string)
	if path == "" {
		path, _ = input["path"].(string)
	}
	if path == "" {
		return allow()
	}
	candidates := []string{path}
	if ctx.Resolve != nil {
		if resolved, err := ctx.Resolve(path); err == nil {
			if rel, err := filepath.Rel(filepath.Clean(ctx.WorkspaceRoot), resolved); err == nil {
				candidates = append(candidates, rel)
			}
		}
	}
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		for _, pattern := range sensitiveFilePatterns {
			if strings.Contains(lower, pattern) {
				return deny(RuleSensitiveFile, fmt.Sprintf("access to sensitive file denied: %s", path))
			}
		}
	}
	return allow()
}

func checkPortBounds(input map[string]any) Decision {
	raw, ok := input["port"]
	if !ok {
		return allow()
	}
	var port int
	switch v := raw.(type) {
	case int:
		port = v
	case int64:
		port = int(v)
	case float64:
		port = int(v)
	default:
		return allow()
	}
	if port < 1 || port > 65535 {
		return deny(RulePortBounds, fmt.Sprintf("port %d out of range [1, 65535]", port))
	}
	return allow()
}
