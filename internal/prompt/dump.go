package prompt

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/halyardai/halyard/internal/llm"
)

// Dump writes the full message slice to path as indented JSON. Meant
// for debugging a stuck conversation, not for durable storage.
func (c *Context) Dump(path string) error {
	data, err := json.MarshalIndent(c.messages, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize messages: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write message dump: %w", err)
	}
	return nil
}

// LoadMessages replaces everything after the header with messages read
// from a Dump file. The header in the file is ignored; the live header
// stays authoritative.
func (c *Context) LoadMessages(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read message dump: %w", err)
	}
	var msgs []llm.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("parse message dump: %w", err)
	}

	skip := 0
	for skip < len(msgs) && msgs[skip].Role == llm.RoleSystem {
		skip++
	}
	c.messages = append(c.messages[:c.HeaderLen()], msgs[skip:]...)
	return nil
}
