package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halyardai/halyard/internal/llm"
	"github.com/halyardai/halyard/internal/stepfmt"
)

// Archiver offloads oversized action and observation steps from the
// live conversation into the history store, replacing each with a
// small archive stub the model can resolve via the retrieve_msg tool.
type Archiver struct {
	store  Store
	logger *slog.Logger

	// SkipHead protects the context header block at the front of the
	// conversation; SkipTail keeps the most recent exchanges intact.
	SkipHead int
	SkipTail int
	// MaxSize is the serialized step size (bytes) above which a step
	// is offloaded.
	MaxSize int
}

// Archiver defaults.
const (
	DefaultSkipHead = 3
	DefaultSkipTail = 11
	DefaultMaxSize  = 1024
)

// RefText builds the stub body pointing at an archived message.
func RefText(msgID string) string {
	return "retrieve_msg by msg_id=" + msgID
}

// NewArchiver builds an archiver over store with default windows.
func NewArchiver(store Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:    store,
		logger:   logger,
		SkipHead: DefaultSkipHead,
		SkipTail: DefaultSkipTail,
		MaxSize:  DefaultMaxSize,
	}
}

// Archive scans msgs inside the archival window and offloads oversized
// steps in place. Returns the number of steps archived. Already
// archived stubs are naturally skipped: they are small and their
// step_name is not in the attention set.
func (a *Archiver) Archive(ctx context.Context, sessionID string, msgs []llm.Message) (int, error) {
	hi := len(msgs) - a.SkipTail
	if hi <= a.SkipHead {
		return 0, nil
	}

	archived := 0
	for i := a.SkipHead; i < hi; i++ {
		msg := &msgs[i]
		if msg.Role == llm.RoleSystem {
			continue
		}
		// Plain user input is never archived; user-role messages are
		// only eligible when they carry tool output, including degraded
		// tool results that ride with no call ID.
		if msg.Role == llm.RoleUser && msg.ToolCallID == "" && !msg.ToolResult {
			continue
		}

		content := strings.TrimSpace(msg.Content)
		if content == "" || (content[0] != '{' && content[0] != '[') {
			continue
		}

		var decoded any
		if err := json.Unmarshal([]byte(content), &decoded); err != nil {
			// Not our serialized step shape. Leave it alone.
			continue
		}

		steps, wasList := toStepList(decoded)
		if steps == nil {
			continue
		}

		changed := false
		for j, step := range steps {
			name, _ := step["step_name"].(string)
			if name != stepfmt.StepAction && name != stepfmt.StepObservation {
				continue
			}
			serialized, err := json.Marshal(step)
			if err != nil || len(serialized) <= a.MaxSize {
				continue
			}

			payload := string(serialized)
			// The bare {step_name, raw_text} shape stores just the
			// text; richer steps keep their full JSON.
			if raw, ok := step["raw_text"].(string); ok && len(step) == 2 {
				payload = raw
			}

			id, err := a.store.AddMessage(ctx, sessionID, payload)
			if err != nil {
				return archived, fmt.Errorf("archive step: %w", err)
			}

			steps[j] = map[string]any{
				"step_name": stepfmt.StepArchive,
				"raw_text":  RefText(id),
			}
			changed = true
			archived++
			a.logger.Debug("archived oversized step",
				"session_id", sessionID,
				"msg_id", id,
				"step_name", name,
				"size", len(serialized))
		}

		if changed {
			var toWrite any = steps
			if !wasList {
				toWrite = steps[0]
			}
			out, err := json.Marshal(toWrite)
			if err != nil {
				return archived, fmt.Errorf("reserialize message: %w", err)
			}
			msg.Content = string(out)
		}
	}
	return archived, nil
}

// toStepList returns the message's step objects and whether the
// original value was a list. A bare step object counts as a one-step
// non-list; anything else yields nil.
func toStepList(v any) ([]map[string]any, bool) {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	case map[string]any:
		if _, ok := t["step_name"]; !ok {
			return nil, false
		}
		return []map[string]any{t}, false
	}
	return nil, false
}
