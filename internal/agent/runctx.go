// Package agent runs the reason-act loop: one completion per
// iteration, at most one tool call dispatched from it, results fed
// back into the conversation until a final answer or a hard stop.
package agent

import "fmt"

// DefaultMaxCallDepth bounds nested agent invocations.
const DefaultMaxCallDepth = 3

// RunContext carries a run's identity explicitly through every layer:
// which agent is speaking, which session it is bound to, and how deep
// in a delegation chain it sits.
type RunContext struct {
	AgentName string
	SessionID string
	Depth     int

	maxDepth int
}

// NewRunContext starts a top-level run context. maxDepth <= 0 uses the
// default.
func NewRunContext(agentName string, maxDepth int) RunContext {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCallDepth
	}
	return RunContext{AgentName: agentName, maxDepth: maxDepth}
}

// WithSession returns a copy bound to a session.
func (rc RunContext) WithSession(id string) RunContext {
	rc.SessionID = id
	return rc
}

// Child returns a context one delegation level deeper. Exceeding the
// depth limit fails: a runaway delegation chain is a programming
// error, not something to retry.
func (rc RunContext) Child(agentName string) (RunContext, error) {
	if rc.Depth+1 > rc.maxDepth {
		return RunContext{}, fmt.Errorf("agent call depth %d exceeds limit %d", rc.Depth+1, rc.maxDepth)
	}
	child := rc
	child.AgentName = agentName
	child.Depth++
	return child, nil
}
