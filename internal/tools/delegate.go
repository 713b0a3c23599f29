package tools

import (
	"context"
	"fmt"
)

// execTask runs the delegation tool: the main agent spawns a named
// sub-agent with a restricted tool subset (spec §4.3, §4.7). The sub-agent
// turn itself is executed by the Agent Session via tc.Dispatch, sharing this
// session's Policy Gate, Hook Pipeline, and workspace.
func execTask(ctx context.Context, tc Context, call Call) (Result, error) {
	subagent, err := inputString(call, "subagent")
	if err != nil {
		return Result{}, err
	}
	instruction, err := inputString(call, "instruction")
	if err != nil {
		return Result{}, err
	}
	if tc.Dispatch == nil {
		return Result{IsError: true, Output: "delegation is not configured for this session"}, nil
	}
	summary, err := tc.Dispatch(ctx, subagent, instruction)
	if err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("sub-agent %s failed: %v", subagent, err)}, nil
	}
	return Result{Output: summary}, nil
}
