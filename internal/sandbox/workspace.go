// Package sandbox implements the Sandbox Supervisor (C1): per-session
// workspace containment, port allocation, and background child-process
// lifecycle. Grounded on the teacher's internal/sandbox/v2 (language
// templates, resource quotas) and internal/preview/server_runner.go
// (process-group spawn, readiness probing).
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutOfSandbox is returned when a resolved path escapes the workspace root.
var ErrOutOfSandbox = errors.New("sandbox: path escapes workspace root")

// Workspace is the filesystem subtree rooted at
// <workspace-root>/<session-id>, per spec §3.
type Workspace struct {
	Root string
}

// NewWorkspace creates (if absent) the workspace directory for sessionID
// under root, then copies in the project scaffold and curated component
// library. Idempotent: re-running on an existing directory is a no-op for
// directory creation but re-copies any scaffold or curated files that are
// still missing.
func NewWorkspace(root, sessionID string) (*Workspace, error) {
	dir := filepath.Join(root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create workspace dir: %w", err)
	}
	ws := &Workspace{Root: dir}
	if err := ws.seedScaffold(); err != nil {
		return nil, err
	}
	if err := ws.seedCuratedComponents(); err != nil {
		return nil, err
	}
	return ws, nil
}

// Reset removes and recreates the workspace directory, keeping the session
// identity (and hence the workspace path) unchanged, per spec §3 Lifecycle.
func (w *Workspace) Reset() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("sandbox: reset workspace: %w", err)
	}
	if err := os.MkdirAll(w.Root, 0o755); err != nil {
		return fmt.Errorf("sandbox: recreate workspace dir: %w", err)
	}
	if err := w.seedScaffold(); err != nil {
		return err
	}
	return w.seedCuratedComponents()
}

// Remove deletes the workspace directory entirely. Used by teardown when
// RemoveWorkspaceOnTeardown is enabled; retained on disk otherwise (spec §4.6).
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Root)
}

// Resolve joins path against the workspace root (if relative), canonicalises
// the result (resolving symlinks), and rejects it unless the canonical form
// is the workspace root itself or lies under it. This is the single path-
// containment helper every file-family tool and the Policy Gate share.
func (w *Workspace) Resolve(path string) (string, error) {
	var joined string
	if filepath.IsAbs(path) {
		joined = path
	} else {
		joined = filepath.Join(w.Root, path)
	}

	canonicalRoot, err := canonicalize(w.Root)
	if err != nil {
		return "", fmt.Errorf("sandbox: canonicalize workspace root: %w", err)
	}

	resolved, err := canonicalize(joined)
	if err != nil {
		// The target may not exist yet (e.g. a Write to a new file); fall
		// back to canonicalising its parent directory and re-joining the leaf.
		parent, errParent := canonicalize(filepath.Dir(joined))
		if errParent != nil {
			return "", fmt.Errorf("%w: %s", ErrOutOfSandbox, path)
		}
		resolved = filepath.Join(parent, filepath.Base(joined))
	}

	if resolved != canonicalRoot && !strings.HasPrefix(resolved, canonicalRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutOfSandbox, path)
	}
	return resolved, nil
}

// canonicalize resolves symlinks on an existing path, or on the longest
// existing ancestor of a not-yet-created one, joining back the missing tail.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	// Walk up until we find an existing ancestor, then re-append the tail.
	dir := filepath.Dir(abs)
	tail := []string{filepath.Base(abs)}
	for {
		resolvedDir, derr := filepath.EvalSymlinks(dir)
		if derr == nil {
			parts := append([]string{resolvedDir}, tail...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(derr) {
			return "", derr
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("sandbox: no existing ancestor for %s", abs)
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
	}
}

// seedScaffold copies the built-in project template into the workspace,
// skipping files that already exist so a Reset on a still-partially-built
// workspace doesn't clobber agent-written content it shouldn't have kept
// anyway (Reset always starts from a clean RemoveAll, so in practice this
// only matters for the lazy first-create path).
func (w *Workspace) seedScaffold() error {
	return copyTemplateTree(projectScaffold, w.Root)
}

// seedCuratedComponents writes curated/components.json plus the curated
// component sources the planner and system-prompt composer reference
// (spec SPEC_FULL §3 supplement).
func (w *Workspace) seedCuratedComponents() error {
	return copyTemplateTree(curatedComponents, w.Root)
}

// templateFile is an in-memory scaffold entry; kept as plain Go data
// instead of embed.FS so the scaffold can be extended without a build step.
type templateFile struct {
	path    string
	content string
}

func copyTemplateTree(files []templateFile, root string) error {
	for _, f := range files {
		dest := filepath.Join(root, f.path)
		if _, err := os.Stat(dest); err == nil {
			continue // already present, never overwrite agent-authored content
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("sandbox: seed %s: %w", f.path, err)
		}
		if err := writeFile(dest, f.content); err != nil {
			return fmt.Errorf("sandbox: seed %s: %w", f.path, err)
		}
	}
	return nil
}

func writeFile(path, content string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.WriteString(f, content)
	return err
}
