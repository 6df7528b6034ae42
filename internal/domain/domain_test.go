package domain

import "testing"

func TestEffectiveTotal(t *testing.T) {
	tests := []struct {
		name     string
		declared int
		steps    int
		expected int
	}{
		{name: "agree", declared: 3, steps: 3, expected: 3},
		{name: "backend under-reports", declared: 2, steps: 3, expected: 3},
		{name: "backend over-reports", declared: 5, steps: 3, expected: 5},
		{name: "empty", declared: 0, steps: 0, expected: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := OnboardingSession{TotalSteps: tt.declared, Steps: make([]Step, tt.steps)}
			if got := s.EffectiveTotal(); got != tt.expected {
				t.Fatalf("EffectiveTotal() = %d want %d", got, tt.expected)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusInProgress.Terminal() {
		t.Fatalf("in progress must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatalf("completed and cancelled must be terminal")
	}
	if Status("PAUSED").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}

func TestMetaInt(t *testing.T) {
	meta := map[string]any{"a": float64(12), "b": 3, "c": "7"}
	if v, ok := MetaInt(meta, "a"); !ok || v != 12 {
		t.Fatalf("float64 entry: got %d %v", v, ok)
	}
	if v, ok := MetaInt(meta, "b"); !ok || v != 3 {
		t.Fatalf("int entry: got %d %v", v, ok)
	}
	if _, ok := MetaInt(meta, "c"); ok {
		t.Fatalf("string entry should not parse")
	}
	if _, ok := MetaInt(nil, "a"); ok {
		t.Fatalf("nil map should not parse")
	}
}
