package prompt

// MinSlimLength is the hard floor on the message-count trigger. A
// conversation shorter than this is never slimmed no matter how low
// the configured trigger is.
const MinSlimLength = 27

// Default threshold tuning.
const (
	DefaultTokenRatio = 0.8
	DefaultSlimLength = 43
)

// Threshold decides when a conversation has grown enough to archive.
// Either trigger fires it: token budget ratio reached, or message
// count at the slim length.
type Threshold struct {
	// TokenMax is the context window budget. Zero disables the token
	// trigger.
	TokenMax int
	// TokenRatio fires the token trigger at count/TokenMax.
	TokenRatio float64
	// SlimLength fires the length trigger, floored at MinSlimLength.
	SlimLength int
}

// Exceeded reports whether either trigger has fired. Raising TokenMax
// or SlimLength never makes a non-exceeded state exceeded.
func (t Threshold) Exceeded(tokens, msgs int) bool {
	if t.TokenMax > 0 {
		ratio := t.TokenRatio
		if ratio <= 0 {
			ratio = DefaultTokenRatio
		}
		if float64(tokens)/float64(t.TokenMax) >= ratio {
			return true
		}
	}

	slim := t.SlimLength
	if slim <= 0 {
		slim = DefaultSlimLength
	}
	if slim < MinSlimLength {
		slim = MinSlimLength
	}
	return msgs >= slim
}
