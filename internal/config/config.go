// Package config handles Halyard configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/halyard/config.yaml, /etc/halyard/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "halyard", "config.yaml"))
	}

	paths = append(paths, "/etc/halyard/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Halyard configuration.
type Config struct {
	LLM       LLMConfig        `yaml:"llm"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Context   ContextConfig    `yaml:"context"`
	History   HistoryConfig    `yaml:"history"`
	Agent     AgentConfig      `yaml:"agent"`
	Workspace WorkspaceConfig  `yaml:"workspace"`
	ShellExec ShellExecConfig  `yaml:"shell_exec"`
	DataDir   string           `yaml:"data_dir"`
	LogLevel  string           `yaml:"log_level"`
}

// LLMConfig defines completion request parameters and gateway behavior.
type LLMConfig struct {
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	Stream           bool    `yaml:"stream"`
	// NativeToolCalls sends the tool schema with each request so the
	// provider emits structured tool_calls. When false, tools are
	// described in the system prompt and parsed out of step text.
	NativeToolCalls bool `yaml:"native_tool_calls"`
	// RetryTimes is the initial retry budget for a single Chat call.
	RetryTimes int `yaml:"retry_times"`
}

// EndpointConfig is one upstream credential set. Multiple endpoints
// spread load: each attempt picks one at random.
type EndpointConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ContextConfig tunes the conversation context thresholds.
type ContextConfig struct {
	// TokenMax is the context window budget in tokens.
	TokenMax int `yaml:"token_max"`
	// TokenRatio triggers archival when count/TokenMax reaches it.
	TokenRatio float64 `yaml:"token_ratio"`
	// SlimLength is the message-count trigger, floored at 27.
	SlimLength int `yaml:"slim_length"`
	// ArchiveMaxSize is the serialized step size above which a step
	// is offloaded to the history store.
	ArchiveMaxSize int `yaml:"archive_max_size"`
	// EnvPrompt is extra environment text, or a path to a file of it.
	EnvPrompt string `yaml:"env_prompt"`
}

// HistoryConfig selects chat history backends. Both may be active;
// writes fan out to all configured backends.
type HistoryConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	Name          string `yaml:"name"`
	MaxIterations int    `yaml:"max_iterations"`
	MaxCallDepth  int    `yaml:"max_call_depth"`
	// SystemPrompt is the agent's identity: inline text or a path to
	// a file holding it.
	SystemPrompt string `yaml:"system_prompt"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations.
	// All file tool paths are relative to this directory.
	// If empty, file tools are disabled.
	Path string `yaml:"path"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command patterns to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gpt-4o",
			MaxTokens:   8000,
			Temperature: 0.3,
			TopP:        0.97,
			Stream:      true,
			RetryTimes:  10,
		},
		Context: ContextConfig{
			TokenMax:       128000,
			TokenRatio:     0.8,
			SlimLength:     43,
			ArchiveMaxSize: 1024,
		},
		Agent: AgentConfig{
			Name:          "halyard",
			MaxIterations: 100,
			MaxCallDepth:  3,
			SystemPrompt: "You are Halyard, a careful assistant that works in " +
				"small steps and uses tools when they help.",
		},
		DataDir: "./data",
	}
}
