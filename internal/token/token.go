// Package token estimates token counts for context budgeting.
package token

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// Count returns the number of cl100k_base tokens in text. The count is
// advisory: if the encoder cannot be loaded it logs a warning once and
// reports zero rather than failing the caller.
func Count(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			slog.Warn("token encoder unavailable, counts report zero", "error", err)
			return
		}
		enc = e
	})
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// CountAll sums Count over texts.
func CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Count(t)
	}
	return total
}
