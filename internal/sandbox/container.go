// Optional docker-isolated execution backend for the shell tool, selected
// via SANDBOX_MODE=docker (SPEC_FULL §4.6). Isolates one shell call inside a
// disposable container rather than running it as a host process; it does
// not change the per-session filesystem/process containment model described
// in spec §1 Non-goals.
//
// Grounded on the Docker client wiring pattern in
// _examples/billm-baaaht/pkg/container/client.go, adapted from a long-lived
// orchestrator client to a single-shot exec-and-remove helper.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerRunner executes one shell command per call inside a fresh,
// network-disabled container and returns its stdout and stderr separately.
type ContainerRunner struct {
	cli   *client.Client
	image string
}

// NewContainerRunner dials the configured Docker host. Call sites treat a
// construction failure as "docker isolation unavailable" and fall back to
// the host-process ContainerRunner-free path, per spec §4.6.
func NewContainerRunner(host, image string) (*ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	if image == "" {
		image = "node:20-slim"
	}
	return &ContainerRunner{cli: cli, image: image}, nil
}

// Run executes command inside a throwaway container rooted at the given
// workspace directory bind-mounted read-write, with networking disabled and
// a bounded timeout, then removes the container.
func (r *ContainerRunner) Run(ctx context.Context, workspaceDir, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{workspaceDir + ":/workspace"},
		AutoRemove:  true,
	}, nil, nil, "")
	if err != nil {
		return "", "", -1, fmt.Errorf("sandbox: container create: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", "", -1, fmt.Errorf("sandbox: container start: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var status container.WaitResponse
	select {
	case status = <-statusCh:
	case err = <-errCh:
		return "", "", -1, fmt.Errorf("sandbox: container wait: %w", err)
	case <-ctx.Done():
		return "", "", -1, ctx.Err()
	}

	logs, err := r.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", int(status.StatusCode), fmt.Errorf("sandbox: container logs: %w", err)
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&outBuf, &errBuf, logs)
	return outBuf.String(), errBuf.String(), int(status.StatusCode), nil
}

// Close releases the underlying Docker client connection.
func (r *ContainerRunner) Close() error {
	return r.cli.Close()
}
