package tools

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// execBash runs the shell tool. Foreground commands run synchronously with
// a bounded timeout; background=true commands are registered as a
// supervised Child Process and return immediately (spec §4.3, §4.6).
func execBash(ctx context.Context, tc Context, call Call) (Result, error) {
	command, err := inputString(call, "command")
	if err != nil {
		return Result{}, err
	}

	background, _ := call.Input["background"].(bool)
	if background {
		child, startErr := tc.Supervisor.StartBackground(ctx, uuid.NewString(), command)
		if startErr != nil {
			return Result{IsError: true, Output: startErr.Error()}, nil
		}
		return Result{Output: fmt.Sprintf("started in background (pgid %d)", child.Pgid)}, nil
	}

	timeout := 60 * time.Second
	if t, ok := call.Input["timeout_ms"]; ok {
		if ms, ok := t.(float64); ok {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	if tc.ContainerRunner != nil {
		return execBashInContainer(ctx, tc, command, timeout)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = tc.Supervisor.Workspace.Root
	out, runErr := cmd.CombinedOutput()

	exitCode := 0
	isError := false
	if runErr != nil {
		isError = true
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return Result{Output: string(out), ExitCode: &exitCode, IsError: isError}, nil
}

// execBashInContainer isolates one foreground shell call inside a
// disposable container rather than running it as a host process
// (SANDBOX_MODE=docker, SPEC_FULL §4.6). Background commands never take
// this path — the runtime only isolates one-shot shell calls, not the
// long-lived dev server.
func execBashInContainer(ctx context.Context, tc Context, command string, timeout time.Duration) (Result, error) {
	stdout, stderr, exitCode, err := tc.ContainerRunner.Run(ctx, tc.Supervisor.Workspace.Root, command, timeout)
	if err != nil {
		return Result{IsError: true, Output: err.Error()}, nil
	}
	out := stdout
	if stderr != "" {
		out += stderr
	}
	return Result{Output: out, ExitCode: &exitCode, IsError: exitCode != 0}, nil
}
