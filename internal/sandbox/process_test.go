package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sup, err := NewSupervisor(Config{
		WorkspaceRoot:  t.TempDir(),
		SessionID:      "session-1",
		PortRangeStart: 19000,
		PortRangeEnd:   19099,
		PublicBase:     "http://localhost",
	})
	require.NoError(t, err)
	return sup
}

func TestStartBackground_TracksChild(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	child, err := sup.StartBackground(ctx, "call-1", "echo hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !child.Alive() }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, child.Stdout(), "hello")

	assert.Len(t, sup.Children(), 1)
}

func TestStartDevServer_SubstitutesAllocatedPort(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A tiny server that listens on $PORT, ignoring any port the "model"
	// might have requested elsewhere — the supervisor never passes a
	// requested port into the spawned command at all.
	cmd := `python3 -c "import http.server,os,socketserver
socketserver.TCPServer(('0.0.0.0', int(os.environ['PORT'])), http.server.SimpleHTTPRequestHandler).serve_forever()" 2>/dev/null || node -e "require('http').createServer((q,r)=>r.end('ok')).listen(process.env.PORT)"`

	child, url, err := sup.StartDevServer(ctx, cmd)
	if err != nil {
		t.Skipf("no python3/node available to exercise dev server readiness probe: %v", err)
	}
	require.NotNil(t, child)
	port, ok := sup.AllocatedPort()
	require.True(t, ok)
	assert.Contains(t, url, "http://localhost")
	assert.Equal(t, sup.PreviewURL(), url)
	assert.GreaterOrEqual(t, port, 19000)

	sup.TerminateAll(2 * time.Second)
	_, ok = sup.AllocatedPort()
	assert.False(t, ok)
}

func TestStartDevServer_TerminatesPreviousInstanceOnRespawn(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := `python3 -c "import http.server,os,socketserver
socketserver.TCPServer(('0.0.0.0', int(os.environ['PORT'])), http.server.SimpleHTTPRequestHandler).serve_forever()" 2>/dev/null || node -e "require('http').createServer((q,r)=>r.end('ok')).listen(process.env.PORT)"`

	first, _, err := sup.StartDevServer(ctx, cmd)
	if err != nil {
		t.Skipf("no python3/node available to exercise dev server readiness probe: %v", err)
	}
	require.True(t, first.Alive(), "first instance must be running before the respawn")
	firstPort, _ := sup.AllocatedPort()

	second, url, err := sup.StartDevServer(ctx, cmd)
	require.NoError(t, err)
	require.NotSame(t, first, second, "StartDevServer must always spawn a fresh process, not reuse an alive one")
	require.Eventually(t, func() bool { return !first.Alive() }, 3*time.Second, 10*time.Millisecond,
		"the previous dev server must be terminated before the new one is spawned")
	assert.True(t, second.Alive())

	secondPort, ok := sup.AllocatedPort()
	require.True(t, ok)
	assert.Equal(t, firstPort, secondPort, "the session's allocated port is reused across respawns")
	assert.Equal(t, sup.PreviewURL(), url)

	sup.TerminateAll(2 * time.Second)
}

func TestTerminateAll_KillsProcessGroup(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	child, err := sup.StartBackground(ctx, "call-1", "sleep 30")
	require.NoError(t, err)
	require.True(t, child.Alive())

	sup.TerminateAll(1 * time.Second)
	require.Eventually(t, func() bool { return !child.Alive() }, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, sup.Children())
}
