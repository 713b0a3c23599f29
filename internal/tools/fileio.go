package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

func inputString(call Call, key string) (string, error) {
	v, ok := call.Input[key]
	if !ok {
		return "", fmt.Errorf("tools: %s missing required field %q", call.Tool, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("tools: %s field %q must be a string", call.Tool, key)
	}
	return s, nil
}

func execRead(tc Context, call Call) (Result, error) {
	path, err := inputString(call, "file_path")
	if err != nil {
		return Result{}, err
	}
	resolved, err := tc.Supervisor.Workspace.Resolve(path)
	if err != nil {
		return Result{IsError: true, Output: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("read failed: %v", err)}, nil
	}
	return Result{Output: string(data)}, nil
}

func execWrite(tc Context, call Call) (Result, error) {
	path, err := inputString(call, "file_path")
	if err != nil {
		return Result{}, err
	}
	content, err := inputString(call, "content")
	if err != nil {
		return Result{}, err
	}
	resolved, err := tc.Supervisor.Workspace.Resolve(path)
	if err != nil {
		return Result{IsError: true, Output: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("write failed: %v", err)}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("write failed: %v", err)}, nil
	}
	return Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

func execEdit(tc Context, call Call) (Result, error) {
	path, err := inputString(call, "file_path")
	if err != nil {
		return Result{}, err
	}
	oldString, err := inputString(call, "old_string")
	if err != nil {
		return Result{}, err
	}
	newString, err := inputString(call, "new_string")
	if err != nil {
		return Result{}, err
	}
	resolved, err := tc.Supervisor.Workspace.Resolve(path)
	if err != nil {
		return Result{IsError: true, Output: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("edit failed: %v", err)}, nil
	}
	content := string(data)
	count := strings.Count(content, oldString)
	if count == 0 {
		return Result{IsError: true, Output: "old_string not found in file"}, nil
	}
	if count > 1 {
		return Result{IsError: true, Output: fmt.Sprintf("old_string is not unique: %d occurrences", count)}, nil
	}
	updated := strings.Replace(content, oldString, newString, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("edit failed: %v", err)}, nil
	}
	return Result{Output: fmt.Sprintf("edited %s", path)}, nil
}

func execGlob(tc Context, call Call) (Result, error) {
	pattern, err := inputString(call, "pattern")
	if err != nil {
		return Result{}, err
	}
	root := tc.Supervisor.Workspace.Root
	var matches []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return Result{IsError: true, Output: err.Error()}, nil
	}
	return Result{Output: strings.Join(matches, "\n")}, nil
}

func execGrep(tc Context, call Call) (Result, error) {
	pattern, err := inputString(call, "pattern")
	if err != nil {
		return Result{}, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Result{IsError: true, Output: fmt.Sprintf("invalid pattern: %v", err)}, nil
	}
	root := tc.Supervisor.Workspace.Root
	var lines []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				lines = append(lines, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
			}
		}
		return nil
	})
	return Result{Output: strings.Join(lines, "\n")}, nil
}
