// Package stepfmt implements the structured step protocol the agent
// speaks with its model. On the wire a reply is a JSON list of steps;
// the equivalent "#>" marker text form is what models actually emit,
// since they follow line markers more reliably than strict JSON.
package stepfmt

import (
	"encoding/json"
	"strings"
)

// Prefix marks the start of a step in text form: "#>name" on its own
// line, followed by the step body until the next marker.
const Prefix = "#>"

// Well-known step names.
const (
	StepThought     = "thought"
	StepAction      = "action"
	StepObservation = "observation"
	StepFinalAnswer = "final_answer"
	StepTaskFailed  = "task_failed"
	StepArchive     = "archive"
)

// ActionPlaceholder substitutes for empty assistant content when the
// completion carried structured tool calls. Downstream consumers need
// a non-empty, parseable body to dispatch on.
const ActionPlaceholder = Prefix + StepAction + "\nissuing tool calls"

// Step is one unit of model output: a named phase with free text and,
// for action steps, an optional embedded tool invocation.
type Step struct {
	StepName string         `json:"step_name"`
	RawText  string         `json:"raw_text"`
	ToolCall string         `json:"tool_call,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`
}

// HasMarker reports whether s contains a step marker at the start of a
// line.
func HasMarker(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), Prefix) ||
		strings.Contains(s, "\n"+Prefix)
}

// Parse splits marker text into ordered steps. Text before the first
// marker becomes a leading thought step. Returns nil when s carries no
// marker at all.
func Parse(s string) []Step {
	if !HasMarker(s) {
		return nil
	}

	var steps []Step
	cur := -1
	var body []string
	flush := func() {
		if cur >= 0 {
			steps[cur].RawText = strings.TrimSpace(strings.Join(body, "\n"))
		}
		body = body[:0]
	}

	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, Prefix) {
			name := strings.TrimSpace(strings.TrimPrefix(t, Prefix))
			if name != "" {
				flush()
				steps = append(steps, Step{StepName: name})
				cur = len(steps) - 1
				continue
			}
		}
		if cur < 0 {
			if t == "" {
				continue
			}
			steps = append(steps, Step{StepName: StepThought})
			cur = 0
		}
		body = append(body, line)
	}
	flush()
	return steps
}

// Text renders steps in marker form. Action steps carrying a tool call
// embed it as JSON in the body so a later Parse round trip can still
// recover the invocation.
func Text(steps []Step) string {
	var b strings.Builder
	for i, st := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Prefix)
		b.WriteString(st.StepName)
		b.WriteByte('\n')
		b.WriteString(st.RawText)
		if st.ToolCall != "" {
			call, err := json.Marshal(map[string]any{
				"tool_call": st.ToolCall,
				"tool_args": st.ToolArgs,
			})
			if err == nil {
				if st.RawText != "" {
					b.WriteByte('\n')
				}
				b.Write(call)
			}
		}
	}
	return b.String()
}

// FromList converts generic decoded JSON step objects into Steps.
// Objects without a step_name are dropped.
func FromList(items []map[string]any) []Step {
	var steps []Step
	for _, m := range items {
		st := Step{}
		if v, ok := m["step_name"].(string); ok {
			st.StepName = v
		}
		if st.StepName == "" {
			continue
		}
		if v, ok := m["raw_text"].(string); ok {
			st.RawText = v
		}
		if v, ok := m["tool_call"].(string); ok {
			st.ToolCall = v
		}
		if v, ok := m["tool_args"].(map[string]any); ok {
			st.ToolArgs = v
		}
		steps = append(steps, st)
	}
	return steps
}
