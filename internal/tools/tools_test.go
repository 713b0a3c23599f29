package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/core/internal/sandbox"
	"github.com/agentforge/core/internal/state"
)

func newTestContext(t *testing.T) Context {
	t.Helper()
	sup, err := sandbox.NewSupervisor(sandbox.Config{
		WorkspaceRoot:  t.TempDir(),
		SessionID:      "session-1",
		PortRangeStart: 19100,
		PortRangeEnd:   19199,
		PublicBase:     "http://localhost",
	})
	require.NoError(t, err)
	rs := state.ReviewNone
	return Context{Supervisor: sup, ReviewState: &rs}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	tc := newTestContext(t)
	ctx := context.Background()

	res, err := Execute(ctx, tc, Call{Tool: ToolWrite, Input: map[string]any{
		"file_path": "app/page.tsx",
		"content":   "export default function Page() { return <div>Hello</div> }",
	}})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = Execute(ctx, tc, Call{Tool: ToolRead, Input: map[string]any{"file_path": "app/page.tsx"}})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "Hello")
}

func TestEdit_RequiresUniqueMatch(t *testing.T) {
	tc := newTestContext(t)
	ctx := context.Background()

	_, _ = Execute(ctx, tc, Call{Tool: ToolWrite, Input: map[string]any{
		"file_path": "a.txt", "content": "foo foo",
	}})
	res, err := Execute(ctx, tc, Call{Tool: ToolEdit, Input: map[string]any{
		"file_path": "a.txt", "old_string": "foo", "new_string": "bar",
	}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "not unique")
}

func TestMarkReviewPassed_TransitionsState(t *testing.T) {
	tc := newTestContext(t)
	ctx := context.Background()

	_, err := Execute(ctx, tc, Call{Tool: ToolMarkReviewPassed})
	require.NoError(t, err)
	assert.Equal(t, state.ReviewPassed, *tc.ReviewState)
}

func TestIsMutating(t *testing.T) {
	assert.True(t, IsMutating(ToolWrite))
	assert.True(t, IsMutating(ToolEdit))
	assert.False(t, IsMutating(ToolRead))
	assert.False(t, IsMutating(ToolBash))
}

func TestExecBash_ForegroundCapturesOutput(t *testing.T) {
	tc := newTestContext(t)
	res, err := Execute(context.Background(), tc, Call{Tool: ToolBash, Input: map[string]any{"command": "echo hi"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Output, "hi")
	assert.Equal(t, 0, *res.ExitCode)
}

func TestExecBash_NonZeroExit(t *testing.T) {
	tc := newTestContext(t)
	res, err := Execute(context.Background(), tc, Call{Tool: ToolBash, Input: map[string]any{"command": "exit 7"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, 7, *res.ExitCode)
}
