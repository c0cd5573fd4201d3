package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testModel(t *testing.T, opts ...Option) *Model {
	t.Helper()
	m, err := New(Params{Model: "test"}, []Endpoint{{BaseURL: "http://unused"}}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m
}

func TestReadStreamContentDeltas(t *testing.T) {
	var deltas []string
	m := testModel(t, WithStreamHandler(func(s string) { deltas = append(deltas, s) }))

	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12},"choices":[]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after done, ignored"}}]}`,
	}, "\n")

	msg, u, err := m.readStream(strings.NewReader(body))
	if err != nil {
		t.Fatalf("readStream: %v", err)
	}
	if msg.Content != "Hello" {
		t.Errorf("content = %q, want Hello", msg.Content)
	}
	if msg.Role != RoleAssistant {
		t.Errorf("role = %q", msg.Role)
	}
	if u.CompletionTokens != 2 || u.PromptTokens != 10 {
		t.Errorf("usage = %+v", u)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestReadStreamToolCallFragments(t *testing.T) {
	m := testModel(t)

	// Two calls, fragments interleaved and the higher index first.
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"fs."}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"shell.exec"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"read","arguments":"{\"path\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"go.mod\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
	}, "\n")

	msg, _, err := m.readStream(strings.NewReader(body))
	if err != nil {
		t.Fatalf("readStream: %v", err)
	}
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].ID != "call_a" || msg.ToolCalls[0].Function.Name != "shell.exec" {
		t.Errorf("call 0 = %+v", msg.ToolCalls[0])
	}
	if msg.ToolCalls[1].Function.Name != "fs.read" {
		t.Errorf("call 1 name = %q, want fs.read", msg.ToolCalls[1].Function.Name)
	}
	if msg.ToolCalls[1].Function.Arguments != `{"path":"go.mod"}` {
		t.Errorf("call 1 args = %q", msg.ToolCalls[1].Function.Arguments)
	}
}

func TestReadStreamBadChunk(t *testing.T) {
	m := testModel(t)
	if _, _, err := m.readStream(strings.NewReader("data: {not json\n")); err == nil {
		t.Fatal("expected error for malformed chunk")
	}
}

func TestReadCompletion(t *testing.T) {
	body := `{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],` +
		`"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`
	msg, u, err := readCompletion(strings.NewReader(body))
	if err != nil {
		t.Fatalf("readCompletion: %v", err)
	}
	if msg.Content != "hi" || msg.Role != RoleAssistant {
		t.Errorf("message = %+v", msg)
	}
	if u.TotalTokens != 6 {
		t.Errorf("usage = %+v", u)
	}
}

func TestReadCompletionNoChoices(t *testing.T) {
	if _, _, err := readCompletion(strings.NewReader(`{"choices":[]}`)); !errors.Is(err, ErrNoResponse) {
		t.Errorf("err = %v, want ErrNoResponse", err)
	}
}
