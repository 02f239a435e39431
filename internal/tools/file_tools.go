package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileTools gives the model read/write/edit/list access to a single
// workspace directory. Every path is resolved inside the workspace.
type FileTools struct {
	workspacePath string
	readOnlyDirs  []string
}

// NewFileTools creates a new FileTools instance. If workspacePath is
// empty, file tools are disabled. readOnlyDirs are workspace-relative
// directories where writes and edits are refused.
func NewFileTools(workspacePath string, readOnlyDirs []string) *FileTools {
	return &FileTools{
		workspacePath: workspacePath,
		readOnlyDirs:  readOnlyDirs,
	}
}

// Enabled reports whether file tools are available.
func (ft *FileTools) Enabled() bool {
	return ft.workspacePath != ""
}

// WorkspacePath returns the configured workspace path.
func (ft *FileTools) WorkspacePath() string {
	return ft.workspacePath
}

// resolvePath converts a relative path to an absolute path within the
// workspace. Returns an error if the path would escape the workspace.
func (ft *FileTools) resolvePath(path string) (string, error) {
	if ft.workspacePath == "" {
		return "", fmt.Errorf("workspace not configured")
	}

	workspaceAbs, err := filepath.Abs(ft.workspacePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Clean(filepath.Join(workspaceAbs, path))
	}

	rel, err := filepath.Rel(workspaceAbs, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	return absPath, nil
}

// checkWritable returns an error if the path falls inside a read-only
// directory.
func (ft *FileTools) checkWritable(absPath string) error {
	workspaceAbs, err := filepath.Abs(ft.workspacePath)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	rel, err := filepath.Rel(workspaceAbs, absPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	for _, dir := range ft.readOnlyDirs {
		clean := filepath.Clean(dir)
		if rel == clean || strings.HasPrefix(rel, clean+string(filepath.Separator)) {
			return fmt.Errorf("path is read-only: %s", rel)
		}
	}
	return nil
}

// Read returns file content, optionally windowed by a 1-indexed line
// offset and a line limit. Output is capped at 50 KiB.
func (ft *FileTools) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	if offset > 0 || limit > 0 {
		content, err = windowLines(content, offset, limit)
		if err != nil {
			return "", err
		}
	}

	const maxBytes = 50 << 10
	if len(content) > maxBytes {
		content = content[:maxBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}
	return content, nil
}

// windowLines cuts content to a 1-indexed line window, prefixing the
// result with its position when anything was cut.
func windowLines(content string, offset, limit int) (string, error) {
	lines := strings.Split(content, "\n")

	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	window := strings.Join(lines[start:end], "\n")
	if start > 0 || end < len(lines) {
		window = fmt.Sprintf("[Lines %d-%d of %d]\n%s", start+1, end, len(lines), window)
	}
	return window, nil
}

// Write replaces a file's content wholesale, creating parent
// directories as needed. Read-only directories are refused.
func (ft *FileTools) Write(ctx context.Context, path, content string) error {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	if err := ft.checkWritable(absPath); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Edit replaces oldText with newText in a file. oldText must appear
// exactly once; anything else is refused rather than guessed at.
func (ft *FileTools) Edit(ctx context.Context, path, oldText, newText string) error {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	if err := ft.checkWritable(absPath); err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	switch n := strings.Count(content, oldText); {
	case n == 0:
		if len(oldText) > 100 {
			return fmt.Errorf("old text not found in file (first 100 chars: %q...)", oldText[:100])
		}
		return fmt.Errorf("old text not found in file: %q", oldText)
	case n > 1:
		return fmt.Errorf("old text appears %d times in file; must be unique for safe editing", n)
	}

	newContent := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(absPath, []byte(newContent), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// List returns the entries at a workspace directory, with directories
// suffixed by "/".
func (ft *FileTools) List(ctx context.Context, path string) ([]string, error) {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name()+"/")
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// SetFileTools registers the workspace file tools on the registry.
func (r *Registry) SetFileTools(ft *FileTools) {
	if ft == nil || !ft.Enabled() {
		return
	}

	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace. Supports line offset and limit for large files.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-indexed line to start reading from (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to read (optional)",
				},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			offset := intArg(args, "offset")
			limit := intArg(args, "limit")
			return ft.Read(ctx, path, offset, limit)
		},
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The full file content to write",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			if err := ft.Write(ctx, path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(&Tool{
		Name:        "edit_file",
		Description: "Replace a unique text fragment in a file. The old text must appear exactly once.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"old_text": map[string]any{
					"type":        "string",
					"description": "The exact text to replace (must be unique in the file)",
				},
				"new_text": map[string]any{
					"type":        "string",
					"description": "The replacement text",
				},
			},
			"required": []string{"path", "old_text", "new_text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			if path == "" || oldText == "" {
				return "", fmt.Errorf("path and old_text are required")
			}
			if err := ft.Edit(ctx, path, oldText, newText); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_files",
		Description: "List files and directories at a path in the workspace. Directories are suffixed with '/'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path relative to the workspace root (default: workspace root)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			entries, err := ft.List(ctx, path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(entries, "\n"), nil
		},
	})
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return 0
}
