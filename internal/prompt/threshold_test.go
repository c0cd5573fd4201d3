package prompt

import "testing"

func TestThresholdExceeded(t *testing.T) {
	tests := []struct {
		name   string
		th     Threshold
		tokens int
		msgs   int
		want   bool
	}{
		{"below everything", Threshold{TokenMax: 1000}, 100, 5, false},
		{"token ratio hit", Threshold{TokenMax: 100}, 80, 5, true},
		{"token ratio just under", Threshold{TokenMax: 100}, 79, 5, false},
		{"custom ratio", Threshold{TokenMax: 100, TokenRatio: 0.5}, 50, 5, true},
		{"default slim length", Threshold{}, 0, 43, true},
		{"default slim just under", Threshold{}, 0, 42, false},
		{"slim floor holds", Threshold{SlimLength: 5}, 0, 26, false},
		{"slim floor fires", Threshold{SlimLength: 5}, 0, 27, true},
		{"no token budget no token trigger", Threshold{}, 1 << 30, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.th.Exceeded(tt.tokens, tt.msgs); got != tt.want {
				t.Errorf("Exceeded(%d, %d) = %v, want %v", tt.tokens, tt.msgs, got, tt.want)
			}
		})
	}
}

func TestThresholdMonotonic(t *testing.T) {
	// Raising limits must never turn a calm state into an exceeded one.
	base := Threshold{TokenMax: 100, SlimLength: 30}
	tokens, msgs := 50, 20
	if base.Exceeded(tokens, msgs) {
		t.Fatal("base state should not be exceeded")
	}
	bigger := Threshold{TokenMax: 200, SlimLength: 60}
	if bigger.Exceeded(tokens, msgs) {
		t.Error("raising limits made the state exceeded")
	}
}
