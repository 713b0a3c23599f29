package tools

import (
	"context"
	"fmt"

	"github.com/agentforge/core/internal/state"
)

func execGetPreviewURL(tc Context, call Call) (Result, error) {
	url := tc.Supervisor.PreviewURL()
	if url == "" {
		return Result{IsError: true, Output: "no preview server is running"}, nil
	}
	return Result{Output: url, URL: url}, nil
}

// execStartDevServer ignores any port argument the model supplied — the
// supervisor always substitutes the session's allocated port (spec §3, §4.3).
// The caller (dispatcher) is responsible for having already denied this call
// via the Policy Gate's review-gate rule when review state != PASSED.
func execStartDevServer(ctx context.Context, tc Context, call Call) (Result, error) {
	command, _ := call.Input["command"].(string)
	if command == "" {
		command = "npm run dev"
	}
	_, url, err := tc.Supervisor.StartDevServer(ctx, command)
	if err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("failed to start dev server: %v", err)}, nil
	}
	return Result{Output: fmt.Sprintf("dev server ready at %s", url), URL: url}, nil
}

func execMarkReviewPassed(tc Context, call Call) (Result, error) {
	if tc.ReviewState != nil {
		*tc.ReviewState = state.ReviewPassed
	}
	return Result{Output: "security review marked as passed"}, nil
}
