package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestResolveLenientNames(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "fs.read", Description: "read"})

	tests := []struct {
		in   string
		want bool
	}{
		{"fs.read", true},
		{"fs-read", true},
		{" fs.read ", true},
		{"fs_read", false},
		{"fs.write", false},
	}
	for _, tt := range tests {
		if got := r.Resolve(tt.in) != nil; got != tt.want {
			t.Errorf("Resolve(%q) found = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "zeta"})
	r.Register(&Tool{Name: "alpha"})
	r.Register(&Tool{Name: "mid"})

	names := r.Names()
	if len(names) != 3 || names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("Names = %v", names)
	}
}

func TestExecuteJSONArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			s, _ := args["text"].(string)
			return s, nil
		},
	})

	out, err := r.Execute(context.Background(), "echo", `{"text":"hello"}`)
	if err != nil || out != "hello" {
		t.Errorf("Execute = %q, %v", out, err)
	}
	if _, err := r.Execute(context.Background(), "echo", `{bad json`); err == nil {
		t.Error("expected error for invalid arguments")
	}
	if _, err := r.Execute(context.Background(), "missing", ""); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestListSchema(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:        "fs.read",
		Description: "Read a file.",
		Parameters:  map[string]any{"type": "object"},
	})

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("got %d entries, want 1", len(list))
	}
	if list[0]["type"] != "function" {
		t.Errorf("entry type = %v", list[0]["type"])
	}
	fn := list[0]["function"].(map[string]any)
	if fn["name"] != "fs.read" || fn["description"] != "Read a file." {
		t.Errorf("function = %v", fn)
	}
}

func TestPromptRendersTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:        "fs.read",
		Description: "Read a file.",
		Parameters:  map[string]any{"type": "object"},
	})

	p := r.Prompt()
	for _, want := range []string{"# Tools", "## fs.read", "Read a file.", "Parameters:"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestFilesRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	RegisterFiles(r, t.TempDir())

	if _, err := r.ExecuteArgs(ctx, "fs.write", map[string]any{
		"path":    "notes/hello.txt",
		"content": "hi there",
	}); err != nil {
		t.Fatalf("fs.write: %v", err)
	}
	out, err := r.ExecuteArgs(ctx, "fs.read", map[string]any{"path": "notes/hello.txt"})
	if err != nil {
		t.Fatalf("fs.read: %v", err)
	}
	if out != "hi there" {
		t.Errorf("read back %q", out)
	}
}

func TestFilesPathConfinement(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	RegisterFiles(r, t.TempDir())

	// Clean("/"+rel) strips traversal before the join, so dotted paths
	// resolve inside the workspace instead of escaping it.
	if _, err := r.ExecuteArgs(ctx, "fs.write", map[string]any{
		"path": "a/../b.txt", "content": "ok",
	}); err != nil {
		t.Errorf("in-workspace dotted path rejected: %v", err)
	}
	out, err := r.ExecuteArgs(ctx, "fs.read", map[string]any{"path": "b.txt"})
	if err != nil || out != "ok" {
		t.Errorf("confined write landed wrong: %q, %v", out, err)
	}
	if _, err := r.ExecuteArgs(ctx, "fs.read", map[string]any{"path": ""}); err == nil {
		t.Error("empty path was not rejected")
	}
}

func TestFilesEmptyWorkspace(t *testing.T) {
	r := NewRegistry()
	RegisterFiles(r, "")
	if r.Get("fs.read") != nil {
		t.Error("fs.read registered with empty workspace")
	}
}

func TestShellDisabledRegistersNothing(t *testing.T) {
	r := NewRegistry()
	RegisterShell(r, DefaultShellConfig())
	if r.Get("shell.exec") != nil {
		t.Error("shell.exec registered while disabled")
	}
}

func TestShellDeniedPatterns(t *testing.T) {
	cfg := DefaultShellConfig()
	cfg.Enabled = true
	r := NewRegistry()
	RegisterShell(r, cfg)

	out, err := r.ExecuteArgs(context.Background(), "shell.exec",
		map[string]any{"command": "rm -rf / --no-preserve-root"})
	if err != nil {
		t.Fatalf("shell.exec: %v", err)
	}
	var res struct {
		ExitCode int    `json:"exit_code"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if res.ExitCode != -1 || !strings.Contains(res.Error, "blocked") {
		t.Errorf("result = %+v", res)
	}
}

func TestShellExec(t *testing.T) {
	cfg := DefaultShellConfig()
	cfg.Enabled = true
	r := NewRegistry()
	RegisterShell(r, cfg)

	out, err := r.ExecuteArgs(context.Background(), "shell.exec",
		map[string]any{"command": "echo hello; exit 3"})
	if err != nil {
		t.Fatalf("shell.exec: %v", err)
	}
	var res struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || res.ExitCode != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := truncateOutput("short", 100); got != "short" {
		t.Errorf("truncateOutput(short) = %q", got)
	}
	got := truncateOutput(strings.Repeat("x", 200), 100)
	if len(got) <= 100 || !strings.Contains(got, "truncated") {
		t.Errorf("truncated output = %q", got)
	}
}
