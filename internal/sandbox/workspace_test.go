package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkspace_SeedsScaffoldAndCurated(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, "session-1")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws.Root, "package.json"))
	assert.FileExists(t, filepath.Join(ws.Root, "app/page.tsx"))
	assert.FileExists(t, filepath.Join(ws.Root, "curated/components.json"))
}

func TestWorkspace_Resolve_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, "session-1")
	require.NoError(t, err)

	_, err = ws.Resolve("../../etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfSandbox)
}

func TestWorkspace_Resolve_AllowsInsidePaths(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, "session-1")
	require.NoError(t, err)

	resolved, err := ws.Resolve("app/new-page.tsx")
	require.NoError(t, err)
	assert.True(t, filepathHasPrefix(resolved, ws.Root))
}

func TestWorkspace_Resolve_ResolvesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, "session-1")
	require.NoError(t, err)

	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("x"), 0o644))

	link := filepath.Join(ws.Root, "link")
	require.NoError(t, os.Symlink(outside, link))

	_, err = ws.Resolve("link/secret.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfSandbox)
}

func TestWorkspace_Reset_PreservesIdentity(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, "session-1")
	require.NoError(t, err)

	agentFile := filepath.Join(ws.Root, "app", "custom.tsx")
	require.NoError(t, os.WriteFile(agentFile, []byte("x"), 0o644))

	originalRoot := ws.Root
	require.NoError(t, ws.Reset())
	assert.Equal(t, originalRoot, ws.Root)
	assert.NoFileExists(t, agentFile)
	assert.FileExists(t, filepath.Join(ws.Root, "package.json"))
}

func filepathHasPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathStartsWithDotDot(rel)
}

func filepathStartsWithDotDot(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}
