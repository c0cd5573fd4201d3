package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// streamChunk is one SSE data event from a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Role      string          `json:"role"`
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// toolCallDelta is a partial tool call. The provider splits one call
// across many chunks keyed by index; id, type, and name fragments
// arrive early, argument fragments trickle in after.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// readStream reassembles a streamed completion: content deltas are
// concatenated, tool calls accumulated per provider index and
// materialized in index order.
func (m *Model) readStream(body io.Reader) (Message, Usage, error) {
	var content strings.Builder
	calls := make(map[int]*ToolCall)
	var u Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return Message{}, Usage{}, fmt.Errorf("parse stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			u = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if m.onDelta != nil {
				m.onDelta(delta.Content)
			}
		}
		for _, d := range delta.ToolCalls {
			tc, ok := calls[d.Index]
			if !ok {
				tc = &ToolCall{}
				calls[d.Index] = tc
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Type != "" {
				tc.Type = d.Type
			}
			// Name and arguments are fragments: always concatenate.
			tc.Function.Name += d.Function.Name
			tc.Function.Arguments += d.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return Message{}, Usage{}, fmt.Errorf("read stream: %w", err)
	}

	msg := Message{Role: RoleAssistant, Content: content.String()}
	if len(calls) > 0 {
		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			msg.ToolCalls = append(msg.ToolCalls, *calls[idx])
		}
	}
	return msg, u, nil
}

// completion is a non-streaming chat completions response.
type completion struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func readCompletion(body io.Reader) (Message, Usage, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Message{}, Usage{}, fmt.Errorf("read completion: %w", err)
	}
	var c completion
	if err := json.Unmarshal(data, &c); err != nil {
		return Message{}, Usage{}, fmt.Errorf("parse completion: %w", err)
	}
	if len(c.Choices) == 0 {
		return Message{}, Usage{}, ErrNoResponse
	}
	msg := c.Choices[0].Message
	msg.Role = RoleAssistant
	return msg, c.Usage, nil
}
