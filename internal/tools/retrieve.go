package tools

import (
	"context"
	"fmt"

	"github.com/halyardai/halyard/internal/history"
)

// RegisterRetrieve adds retrieve_msg, the counterpart of context
// archival: archived steps leave behind a stub naming a msg_id, and
// this tool fetches the original content back.
func RegisterRetrieve(r *Registry, store history.Store) {
	r.Register(&Tool{
		Name:        "retrieve_msg",
		Description: "Retrieve an archived message's full content by its msg_id. Use when an earlier step was replaced by an archive stub.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"msg_id": map[string]any{
					"type":        "string",
					"description": "The archived message ID from the stub",
				},
			},
			"required": []string{"msg_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			msgID, _ := args["msg_id"].(string)
			if msgID == "" {
				return "", fmt.Errorf("msg_id is required")
			}
			rec, err := store.GetMessage(ctx, msgID)
			if err != nil {
				return "", fmt.Errorf("retrieve message: %w", err)
			}
			return rec.Content, nil
		},
	})
}

// RegisterTaskComplete adds the terminal marker tool. Some models end
// tasks by calling a tool instead of emitting a final answer step;
// this gives them one, and the dispatcher treats it as the answer.
func RegisterTaskComplete(r *Registry) {
	r.Register(&Tool{
		Name:        "task.complete",
		Description: "Finish the task and deliver the final answer to the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"answer": map[string]any{
					"type":        "string",
					"description": "The final answer text",
				},
			},
			"required": []string{"answer"},
		},
		Terminal: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			answer, _ := args["answer"].(string)
			return answer, nil
		},
	})
}
