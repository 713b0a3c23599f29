package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/core/internal/logging"
)

// ChildProcess is a long-running command started through the shell tool
// with an explicit "background" flag (spec §3).
type ChildProcess struct {
	ID         string
	Command    string
	ToolCallID string
	Port       *int
	Pgid       int

	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	mu     sync.Mutex
	done   chan struct{}
}

// Stdout returns the captured stdout so far.
func (c *ChildProcess) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

// Stderr returns the captured stderr so far.
func (c *ChildProcess) Stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr.String()
}

// Alive reports whether the process has not yet exited.
func (c *ChildProcess) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Supervisor owns one session's workspace, allocated port, and child
// process set (spec §4.6). Every background child is tracked here and is
// torn down by Terminate/TerminateAll on session teardown.
type Supervisor struct {
	Workspace *Workspace

	portRangeStart     int
	portRangeEnd       int
	publicBase         string
	previewCredentials map[string]string

	mu            sync.Mutex
	allocatedPort *int
	children      map[string]*ChildProcess
	devServer     *ChildProcess

	logger *zap.Logger
}

// Config configures a Supervisor.
type Config struct {
	WorkspaceRoot  string
	SessionID      string
	PortRangeStart int
	PortRangeEnd   int
	PublicBase     string

	// PreviewCredentials are external-service credentials the running
	// preview needs but the core itself never reads (spec §6); written to
	// .env.local before the dev server starts.
	PreviewCredentials map[string]string
}

// NewSupervisor creates the workspace and an empty child-process set.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	ws, err := NewWorkspace(cfg.WorkspaceRoot, cfg.SessionID)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		Workspace:          ws,
		portRangeStart:     cfg.PortRangeStart,
		portRangeEnd:       cfg.PortRangeEnd,
		publicBase:         cfg.PublicBase,
		previewCredentials: cfg.PreviewCredentials,
		children:           make(map[string]*ChildProcess),
		logger:             logging.ForSession(cfg.SessionID),
	}, nil
}

// writeEnvLocal writes the preview's external-service credentials to
// .env.local at the workspace root, before the dev server starts (spec §6
// Filesystem layout). A no-op if none were configured.
func (s *Supervisor) writeEnvLocal() error {
	if len(s.previewCredentials) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for k, v := range s.previewCredentials {
		fmt.Fprintf(&buf, "%s=%q\n", k, v)
	}
	path := filepath.Join(s.Workspace.Root, ".env.local")
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// AllocatedPort returns the session's allocated preview port, if any.
func (s *Supervisor) AllocatedPort() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocatedPort == nil {
		return 0, false
	}
	return *s.allocatedPort, true
}

// PreviewURL derives the preview URL from the session's allocated port,
// or the empty string if none has been allocated yet (spec §4.6).
func (s *Supervisor) PreviewURL() string {
	port, ok := s.AllocatedPort()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.publicBase, port)
}

// allocatePortLocked probes for a listenable port in the configured range,
// reusing one already allocated to this session. Callers must hold s.mu.
func (s *Supervisor) allocatePortLocked() (int, error) {
	if s.allocatedPort != nil {
		return *s.allocatedPort, nil
	}
	for port := s.portRangeStart; port <= s.portRangeEnd; port++ {
		if isPortAvailable(port) {
			s.allocatedPort = &port
			return port, nil
		}
	}
	return 0, fmt.Errorf("sandbox: no available port in [%d, %d]", s.portRangeStart, s.portRangeEnd)
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// StartBackground spawns command in a new process group so the supervisor
// can later deliver a group-level terminate signal, and registers it in
// the per-session child set (spec §3, §4.6).
func (s *Supervisor) StartBackground(ctx context.Context, toolCallID, command string) (*ChildProcess, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Workspace.Root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	child := &ChildProcess{
		ID:         toolCallID,
		Command:    command,
		ToolCallID: toolCallID,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	cmd.Stdout = &child.stdout
	cmd.Stderr = &child.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start background command: %w", err)
	}
	child.Pgid = cmd.Process.Pid

	go func() {
		_ = cmd.Wait()
		close(child.done)
	}()

	s.mu.Lock()
	s.children[child.ID] = child
	s.mu.Unlock()

	s.logger.Info("background child started", zap.String("command", command), zap.Int("pgid", child.Pgid))
	return child, nil
}

// StartDevServer (re)starts the dev server for this session. If a previous
// dev server is still alive, it is terminated first (spec §4.6: "If a
// previous dev-server is alive, terminate it first") rather than reused —
// every call spawns a fresh process against the session's allocated port,
// which is reused if one was already probed for this session. The requested
// port is ignored; the supervisor always substitutes its own allocated port
// (spec §3 Port Allocation invariant, §4.3). Readiness is confirmed with an
// HTTP probe using exponential backoff rather than a fixed sleep.
func (s *Supervisor) StartDevServer(ctx context.Context, command string) (*ChildProcess, string, error) {
	s.mu.Lock()
	previous := s.devServer
	s.devServer = nil
	s.mu.Unlock()

	if previous != nil {
		_ = s.terminate(previous)
	}

	s.mu.Lock()
	port, err := s.allocatePortLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, "", err
	}
	s.mu.Unlock()

	if err := s.writeEnvLocal(); err != nil {
		return nil, "", fmt.Errorf("sandbox: write .env.local: %w", err)
	}

	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		child, err := s.spawnDevServer(ctx, command, port)
		if err == nil {
			ready := waitForReady(ctx, port, child.done, 30*time.Second)
			if ready {
				s.mu.Lock()
				s.devServer = child
				s.mu.Unlock()
				return child, s.PreviewURL(), nil
			}
			_ = s.terminate(child)
			lastErr = fmt.Errorf("sandbox: dev server did not become ready on port %d: %s", port, child.Stderr())
		} else {
			lastErr = err
		}

		if isPortAvailable(port) {
			continue
		}
		s.mu.Lock()
		port, err = s.reassignPortLocked()
		s.mu.Unlock()
		if err != nil {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("sandbox: failed to start dev server after %d attempts: %w", maxAttempts, lastErr)
}

// reassignPortLocked discards a port that turned out to be in use at spawn
// time and probes for a fresh one, bounded by the caller's retry loop
// (spec §4.6 Port allocation: "retrying on a fresh port up to a bounded
// number of attempts"). Callers must hold s.mu.
func (s *Supervisor) reassignPortLocked() (int, error) {
	s.allocatedPort = nil
	return s.allocatePortLocked()
}

func (s *Supervisor) spawnDevServer(ctx context.Context, command string, port int) (*ChildProcess, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Workspace.Root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", port), "HOST=0.0.0.0")

	child := &ChildProcess{
		ID:      "dev-server",
		Command: command,
		Port:    &port,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	cmd.Stdout = &child.stdout
	cmd.Stderr = &child.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start dev server: %w", err)
	}
	child.Pgid = cmd.Process.Pid
	go func() {
		_ = cmd.Wait()
		close(child.done)
	}()

	s.mu.Lock()
	s.children[child.ID] = child
	s.mu.Unlock()
	return child, nil
}

// waitForReady polls the dev server's port with exponential backoff until
// it answers an HTTP request (with any status), the process exits, the
// deadline elapses, or ctx is cancelled.
func waitForReady(ctx context.Context, port int, processDone <-chan struct{}, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	backoff := 100 * time.Millisecond
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/", port)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-processDone:
			return false
		default:
		}
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return true
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}
	return false
}

// Terminate sends a group-level terminate signal to child, waits up to
// grace, then escalates to a kill signal (spec §3, §4.6).
func (s *Supervisor) Terminate(child *ChildProcess, grace time.Duration) error {
	return s.terminateWithGrace(child, grace)
}

func (s *Supervisor) terminate(child *ChildProcess) error {
	return s.terminateWithGrace(child, 5*time.Second)
}

func (s *Supervisor) terminateWithGrace(child *ChildProcess, grace time.Duration) error {
	if child == nil || !child.Alive() {
		return nil
	}
	_ = syscall.Kill(-child.Pgid, syscall.SIGTERM)
	select {
	case <-child.done:
		return nil
	case <-time.After(grace):
	}
	_ = syscall.Kill(-child.Pgid, syscall.SIGKILL)
	select {
	case <-child.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// TerminateAll terminates every tracked child (dev server included), waits
// up to grace per process, escalates to kill, then clears the child set and
// releases the allocated port (spec §4.6 Teardown).
func (s *Supervisor) TerminateAll(grace time.Duration) {
	s.mu.Lock()
	children := make([]*ChildProcess, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.children = make(map[string]*ChildProcess)
	s.devServer = nil
	s.allocatedPort = nil
	s.mu.Unlock()

	for _, c := range children {
		_ = s.terminateWithGrace(c, grace)
	}
}

// Children returns a snapshot of currently tracked child processes.
func (s *Supervisor) Children() []*ChildProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChildProcess, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, c)
	}
	return out
}
