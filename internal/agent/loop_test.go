package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/halyardai/halyard/internal/llm"
	"github.com/halyardai/halyard/internal/prompt"
	"github.com/halyardai/halyard/internal/stepfmt"
)

type fakeGateway struct {
	calls   int
	results []*llm.Result
	err     error
}

func (g *fakeGateway) Chat(ctx context.Context, msgs []llm.Message, sessionID string) (*llm.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	res := g.results[g.calls-1]
	if res.Message.Content == "" {
		res.Message = llm.Message{Role: llm.RoleAssistant, Content: "step"}
	}
	return res, nil
}

func testLoop(t *testing.T, gw *fakeGateway) *Loop {
	t.Helper()
	c, err := prompt.New("be helpful")
	if err != nil {
		t.Fatalf("prompt.New: %v", err)
	}
	return &Loop{
		Ctx:   c,
		Model: gw,
		Call:  &ReActCall{Registry: testRegistry(t)},
	}
}

func TestRunEmptyInput(t *testing.T) {
	l := testLoop(t, &fakeGateway{})
	if _, err := l.Run(context.Background(), NewRunContext("halyard", 0), ""); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestRunFinalAnswer(t *testing.T) {
	gw := &fakeGateway{results: []*llm.Result{
		{Steps: []stepfmt.Step{{
			StepName: stepfmt.StepAction,
			ToolCall: "echo",
			ToolArgs: map[string]any{"text": "one"},
		}}},
		{Steps: []stepfmt.Step{{
			StepName: stepfmt.StepFinalAnswer,
			RawText:  "the answer",
		}}},
	}}
	l := testLoop(t, gw)

	answer, err := l.Run(context.Background(), NewRunContext("halyard", 0), "do the task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "the answer" {
		t.Errorf("answer = %q", answer)
	}
	if gw.calls != 2 {
		t.Errorf("gateway called %d times, want 2", gw.calls)
	}
	// header + user + (assistant + follow-up + observation) + assistant
	if got := l.Ctx.Len(); got != 7 {
		t.Errorf("context length = %d, want 7", got)
	}
}

func TestRunAppendsFollowUpBeforeToolResult(t *testing.T) {
	gw := &fakeGateway{results: []*llm.Result{
		{Steps: []stepfmt.Step{{
			StepName: stepfmt.StepAction,
			ToolCall: "echo",
			ToolArgs: map[string]any{"text": "one"},
		}}},
		{Steps: []stepfmt.Step{{
			StepName: stepfmt.StepFinalAnswer,
			RawText:  "done",
		}}},
	}}
	l := testLoop(t, gw)

	if _, err := l.Run(context.Background(), NewRunContext("halyard", 0), "do the task"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := l.Ctx.Messages()
	followUp, result := msgs[4], msgs[5]
	if followUp.Role != llm.RoleUser || followUp.ToolResult {
		t.Errorf("follow-up = %+v, want plain user message", followUp)
	}
	if !strings.Contains(followUp.Content, "echo") {
		t.Errorf("follow-up %q does not name the tool", followUp.Content)
	}
	if result.Role != llm.RoleUser || !result.ToolResult {
		t.Errorf("tool result = %+v, want flagged user message", result)
	}
	if !strings.Contains(result.Content, "echo: one") {
		t.Errorf("tool result content = %q", result.Content)
	}
}

func TestRunStagnation(t *testing.T) {
	// A completion with nothing actionable must end the run after a
	// single call, not spin.
	gw := &fakeGateway{results: []*llm.Result{
		{Steps: []stepfmt.Step{{StepName: stepfmt.StepThought, RawText: "hmm"}}},
	}}
	l := testLoop(t, gw)

	answer, err := l.Run(context.Background(), NewRunContext("halyard", 0), "do the task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "" {
		t.Errorf("answer = %q, want empty", answer)
	}
	if gw.calls != 1 {
		t.Errorf("gateway called %d times, want 1", gw.calls)
	}
}

func TestRunTaskFailed(t *testing.T) {
	gw := &fakeGateway{results: []*llm.Result{
		{Steps: []stepfmt.Step{{StepName: stepfmt.StepTaskFailed, RawText: "cannot"}}},
	}}
	l := testLoop(t, gw)

	answer, err := l.Run(context.Background(), NewRunContext("halyard", 0), "do the task")
	if err != nil || answer != "" {
		t.Errorf("Run = %q, %v; want empty, nil", answer, err)
	}
}

func TestRunIterationCap(t *testing.T) {
	action := func() *llm.Result {
		return &llm.Result{Steps: []stepfmt.Step{{
			StepName: stepfmt.StepAction,
			ToolCall: "echo",
			ToolArgs: map[string]any{"text": "again"},
		}}}
	}
	gw := &fakeGateway{results: []*llm.Result{action(), action(), action()}}
	l := testLoop(t, gw)
	l.MaxIterations = 2

	answer, err := l.Run(context.Background(), NewRunContext("halyard", 0), "do the task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "" {
		t.Errorf("answer = %q, want empty", answer)
	}
	if gw.calls != 2 {
		t.Errorf("gateway called %d times, want 2", gw.calls)
	}
}

func TestRunGatewayError(t *testing.T) {
	boom := errors.New("boom")
	l := testLoop(t, &fakeGateway{err: boom})
	if _, err := l.Run(context.Background(), NewRunContext("halyard", 0), "task"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRunTerminalTool(t *testing.T) {
	gw := &fakeGateway{results: []*llm.Result{
		{Steps: []stepfmt.Step{{
			StepName: stepfmt.StepAction,
			ToolCall: "task.complete",
			ToolArgs: map[string]any{"answer": "done via tool"},
		}}},
	}}
	l := testLoop(t, gw)

	answer, err := l.Run(context.Background(), NewRunContext("halyard", 0), "do the task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "done via tool" {
		t.Errorf("answer = %q", answer)
	}
}
