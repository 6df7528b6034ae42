package progress

import (
	"reflect"
	"testing"

	"rosterline/internal/domain"
)

func steps(n int) []domain.Step {
	out := make([]domain.Step, n)
	for i := range out {
		out[i] = domain.Step{ID: string(rune('a' + i)), Title: "step"}
	}
	return out
}

func TestScenarioMidway(t *testing.T) {
	s := domain.OnboardingSession{TotalSteps: 3, Steps: steps(3), CompletedSteps: 1}
	v := Calculate(s)
	if v.CurrentStepNumber != 2 {
		t.Fatalf("current step = %d want 2", v.CurrentStepNumber)
	}
	if v.ProgressPercentage != 33 {
		t.Fatalf("percentage = %d want 33", v.ProgressPercentage)
	}
	want := []StepState{StateCompleted, StateCurrent, StateUpcoming}
	for i, st := range v.Steps {
		if st.State != want[i] {
			t.Errorf("step %d state = %s want %s", i, st.State, want[i])
		}
	}
}

func TestScenarioUnderReportedTotal(t *testing.T) {
	s := domain.OnboardingSession{TotalSteps: 2, Steps: steps(3), CompletedSteps: 0}
	v := Calculate(s)
	if v.TotalSteps != 3 {
		t.Fatalf("total = %d want 3", v.TotalSteps)
	}
	if v.ProgressPercentage != 0 {
		t.Fatalf("percentage = %d want 0", v.ProgressPercentage)
	}
	if v.CurrentStepNumber != 1 {
		t.Fatalf("current step = %d want 1", v.CurrentStepNumber)
	}
}

func TestScenarioFullyCompleted(t *testing.T) {
	s := domain.OnboardingSession{TotalSteps: 3, Steps: steps(3), CompletedSteps: 3}
	v := Calculate(s)
	if v.ProgressPercentage != 100 {
		t.Fatalf("percentage = %d want 100", v.ProgressPercentage)
	}
	if v.CurrentStepNumber != 3 {
		t.Fatalf("current step = %d want 3 (clamped)", v.CurrentStepNumber)
	}
	for i, st := range v.Steps {
		if st.State != StateCompleted {
			t.Errorf("step %d state = %s want completed", i, st.State)
		}
	}
}

func TestZeroSteps(t *testing.T) {
	v := Calculate(domain.OnboardingSession{})
	if v.TotalSteps != 0 || v.ProgressPercentage != 0 || v.CurrentStepNumber != 0 {
		t.Fatalf("unexpected view for empty session: %+v", v)
	}
	v = Calculate(domain.OnboardingSession{CompletedSteps: 4})
	if v.ProgressPercentage != 0 || v.CurrentStepNumber != 0 || v.CompletedSteps != 0 {
		t.Fatalf("unexpected view for empty session with completed count: %+v", v)
	}
}

func TestPercentageBounds(t *testing.T) {
	for total := 0; total <= 6; total++ {
		for listLen := 0; listLen <= 6; listLen++ {
			for completed := -2; completed <= 9; completed++ {
				s := domain.OnboardingSession{TotalSteps: total, Steps: steps(listLen), CompletedSteps: completed}
				v := Calculate(s)
				if v.ProgressPercentage < 0 || v.ProgressPercentage > 100 {
					t.Fatalf("percentage %d out of range for %d/%d/%d", v.ProgressPercentage, total, listLen, completed)
				}
				if v.TotalSteps < listLen {
					t.Fatalf("total %d narrower than step list %d", v.TotalSteps, listLen)
				}
				if v.CurrentStepNumber > v.TotalSteps {
					t.Fatalf("current %d beyond total %d", v.CurrentStepNumber, v.TotalSteps)
				}
				eff := v.TotalSteps
				if eff > 0 && completed <= 0 && v.ProgressPercentage != 0 {
					t.Fatalf("expected 0%% with no completed steps, got %d", v.ProgressPercentage)
				}
				if eff > 0 && completed >= eff && v.ProgressPercentage != 100 {
					t.Fatalf("expected 100%% when completed >= total, got %d", v.ProgressPercentage)
				}
			}
		}
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	s := domain.OnboardingSession{
		ID:             "s1",
		TotalSteps:     4,
		Steps:          steps(4),
		CompletedSteps: 2,
		Metadata:       map[string]any{domain.MetaEstimatedMinutes: float64(20)},
	}
	first := Calculate(s)
	second := Calculate(s)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("views differ:\n%+v\n%+v", first, second)
	}
}

func TestEstimatedMinutesRemaining(t *testing.T) {
	withEstimates := steps(3)
	withEstimates[0].Metadata = map[string]any{domain.MetaEstimatedMinutes: float64(5)}
	withEstimates[1].Metadata = map[string]any{domain.MetaEstimatedMinutes: float64(7)}
	withEstimates[2].Metadata = map[string]any{domain.MetaEstimatedMinutes: float64(3)}

	tests := []struct {
		name     string
		session  domain.OnboardingSession
		expected int
	}{
		{
			name:     "no metadata falls back to default",
			session:  domain.OnboardingSession{TotalSteps: 3, Steps: steps(3)},
			expected: DefaultEstimatedMinutes,
		},
		{
			name:     "step estimates summed for remaining steps",
			session:  domain.OnboardingSession{TotalSteps: 3, Steps: withEstimates, CompletedSteps: 1},
			expected: 10,
		},
		{
			name:     "step estimates all done",
			session:  domain.OnboardingSession{TotalSteps: 3, Steps: withEstimates, CompletedSteps: 3},
			expected: 0,
		},
		{
			name: "session estimate scaled by remaining share",
			session: domain.OnboardingSession{
				TotalSteps: 4, Steps: steps(4), CompletedSteps: 1,
				Metadata: map[string]any{domain.MetaEstimatedMinutes: float64(20)},
			},
			expected: 15,
		},
		{
			name: "session estimate rounds up",
			session: domain.OnboardingSession{
				TotalSteps: 3, Steps: steps(3), CompletedSteps: 1,
				Metadata: map[string]any{domain.MetaEstimatedMinutes: float64(10)},
			},
			expected: 7,
		},
		{
			name: "negative estimate ignored",
			session: domain.OnboardingSession{
				TotalSteps: 3, Steps: steps(3),
				Metadata: map[string]any{domain.MetaEstimatedMinutes: float64(-4)},
			},
			expected: DefaultEstimatedMinutes,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimatedMinutesRemaining(tt.session); got != tt.expected {
				t.Fatalf("EstimatedMinutesRemaining() = %d want %d", got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		index, completed int
		expected         StepState
	}{
		{0, 0, StateCurrent},
		{0, 1, StateCompleted},
		{2, 1, StateUpcoming},
		{1, 1, StateCurrent},
	}
	for _, tt := range tests {
		if got := Classify(tt.index, tt.completed); got != tt.expected {
			t.Errorf("Classify(%d,%d) = %s want %s", tt.index, tt.completed, got, tt.expected)
		}
	}
}
