// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Handler runs a tool against its decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
	// Terminal marks tools whose successful invocation ends the task.
	Terminal bool `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by exact name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Resolve retrieves a tool leniently: exact match first, then with
// '.' and '-' treated as the same separator. Models flip between the
// two spellings constantly.
func (r *Registry) Resolve(name string) *Tool {
	if t := r.tools[name]; t != nil {
		return t
	}
	want := normalizeName(name)
	for n, t := range r.tools {
		if normalizeName(n) == want {
			return t
		}
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "-", ".")
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in chat-completions schema form.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, n := range r.Names() {
		t := r.tools[n]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Prompt renders the tool docs as markdown for text-protocol prompting,
// where the model learns tools from the system prompt instead of the
// wire schema.
func (r *Registry) Prompt() string {
	var b strings.Builder
	b.WriteString("# Tools\n\n")
	for _, n := range r.Names() {
		t := r.tools[n]
		fmt.Fprintf(&b, "## %s\n\n%s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			if params, err := json.Marshal(t.Parameters); err == nil {
				fmt.Fprintf(&b, "\nParameters: %s\n", params)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Execute runs a tool by name with JSON-encoded arguments. Name
// resolution is lenient.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return r.ExecuteArgs(ctx, name, args)
}

// ExecuteArgs runs a tool by name with decoded arguments.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.Resolve(name)
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(ctx, args)
}
