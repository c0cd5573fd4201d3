package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxFileRead = 256 * 1024

// RegisterFiles adds fs.read and fs.write rooted at workspace. An
// empty workspace registers nothing.
func RegisterFiles(r *Registry, workspace string) {
	if workspace == "" {
		return
	}

	r.Register(&Tool{
		Name:        "fs.read",
		Description: "Read a text file from the workspace.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := resolvePath(workspace, args)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read file: %w", err)
			}
			if len(data) > maxFileRead {
				return string(data[:maxFileRead]) + "\n\n[... file truncated ...]", nil
			}
			return string(data), nil
		},
	})

	r.Register(&Tool{
		Name:        "fs.write",
		Description: "Write a text file in the workspace, creating parent directories as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The file content",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := resolvePath(workspace, args)
			if err != nil {
				return "", err
			}
			content, _ := args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("create directories: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), args["path"]), nil
		},
	})
}

// resolvePath joins and confines the requested path to the workspace.
func resolvePath(workspace string, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Join(workspace, filepath.Clean("/"+rel))
	check, err := filepath.Rel(workspace, full)
	if err != nil || check == ".." || strings.HasPrefix(check, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return full, nil
}
