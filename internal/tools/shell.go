package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellConfig configures the shell.exec tool.
type ShellConfig struct {
	Enabled        bool
	WorkingDir     string
	DeniedPatterns []string
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// DefaultShellConfig returns safe defaults: disabled, with a denylist
// covering the classic footguns.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Enabled: false,
		DeniedPatterns: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:",
		},
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 100 * 1024,
	}
}

// execResult is the JSON returned to the model.
type execResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RegisterShell adds the shell.exec tool when enabled. A disabled
// config registers nothing; the model never sees a tool it cannot use.
func RegisterShell(r *Registry, cfg ShellConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}

	r.Register(&Tool{
		Name:        "shell.exec",
		Description: "Run a shell command and return its stdout, stderr, and exit code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to run via sh -c",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 30, max 300)",
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return "", fmt.Errorf("command is required")
			}
			timeoutSec := 0
			if v, ok := args["timeout_sec"].(float64); ok {
				timeoutSec = int(v)
			}
			res := runShell(ctx, cfg, command, timeoutSec)
			out, err := json.Marshal(res)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	})
}

func runShell(ctx context.Context, cfg ShellConfig, command string, timeoutSec int) *execResult {
	cmdLower := strings.ToLower(command)
	for _, denied := range cfg.DeniedPatterns {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return &execResult{
				ExitCode: -1,
				Error:    fmt.Sprintf("command blocked: matches denied pattern %q", denied),
			}
		}
	}

	timeout := cfg.DefaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := &execResult{
		Stdout: truncateOutput(stdout.String(), cfg.MaxOutputBytes),
		Stderr: truncateOutput(stderr.String(), cfg.MaxOutputBytes),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.Error = "command timed out"
		res.ExitCode = -1
		return res
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.Error = err.Error()
			res.ExitCode = -1
		}
	}
	return res
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
