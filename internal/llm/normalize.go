package llm

import (
	"encoding/json"
	"fmt"

	"github.com/halyardai/halyard/internal/jsonx"
	"github.com/halyardai/halyard/internal/stepfmt"
)

// normalize turns raw assistant content into an ordered step list.
// Three attempts, strictest first:
//
//  1. already-structured JSON passes straight through;
//  2. marker text is parsed with the step protocol, tried once;
//  3. the content is fence-stripped and bracket-repaired, then parsed
//     as JSON again.
//
// When all three fail the content is unusable and the caller gets
// ErrBadFormat, which the retry policy treats as free to retry.
func normalizeContent(content string) ([]stepfmt.Step, error) {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		if steps := stepfmt.FromList(jsonx.ToList(v)); len(steps) > 0 {
			return steps, nil
		}
	}

	if stepfmt.HasMarker(content) {
		if steps := stepfmt.Parse(content); len(steps) > 0 {
			return steps, nil
		}
	}

	if v, err := jsonx.Decode(content); err == nil {
		if steps := stepfmt.FromList(jsonx.ToList(v)); len(steps) > 0 {
			return steps, nil
		}
	}

	return nil, fmt.Errorf("%w: no parseable steps in %d bytes", ErrBadFormat, len(content))
}
