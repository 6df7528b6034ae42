// Package progress derives the display state of an onboarding session.
//
// Everything here is a pure function of the session record. Nothing is cached
// and nothing returns an error: a malformed ratio degrades to a clamped value
// so that a progress display never takes the surrounding page down with it.
package progress

import (
	"math"

	"rosterline/internal/domain"
)

// DefaultEstimatedMinutes is reported when neither the session nor its steps
// carry an estimate.
const DefaultEstimatedMinutes = 10

type StepState string

const (
	StateCompleted StepState = "completed"
	StateCurrent   StepState = "current"
	StateUpcoming  StepState = "upcoming"
)

// Classify places the step at index relative to the number of completed steps.
func Classify(index, completedSteps int) StepState {
	switch {
	case index < completedSteps:
		return StateCompleted
	case index == completedSteps:
		return StateCurrent
	default:
		return StateUpcoming
	}
}

type StepView struct {
	Position         int       `json:"position"`
	Number           int       `json:"number"`
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	State            StepState `json:"state"`
	EstimatedMinutes *int      `json:"estimatedMinutes,omitempty"`
}

// View is the model handed to a renderer.
type View struct {
	SessionID                 string     `json:"sessionId"`
	Type                      string     `json:"type"`
	Status                    string     `json:"status"`
	TotalSteps                int        `json:"totalSteps"`
	CurrentStepNumber         int        `json:"currentStepNumber"`
	CompletedSteps            int        `json:"completedSteps"`
	ProgressPercentage        int        `json:"progressPercentage"`
	EstimatedMinutesRemaining int        `json:"estimatedMinutesRemaining"`
	Steps                     []StepView `json:"steps"`
}

// Calculate builds the view for s.
func Calculate(s domain.OnboardingSession) View {
	total := TotalSteps(s)
	completed := clamp(s.CompletedSteps, 0, total)
	v := View{
		SessionID:                 s.ID,
		Type:                      string(s.Type),
		Status:                    string(s.Status),
		TotalSteps:                total,
		CurrentStepNumber:         CurrentStepNumber(s),
		CompletedSteps:            completed,
		ProgressPercentage:        Percentage(s),
		EstimatedMinutesRemaining: EstimatedMinutesRemaining(s),
		Steps:                     make([]StepView, 0, len(s.Steps)),
	}
	for i, st := range s.Steps {
		sv := StepView{
			Position:    i,
			Number:      i + 1,
			ID:          st.ID,
			Title:       st.Title,
			Description: st.Description,
			State:       Classify(i, completed),
		}
		if m, ok := stepEstimate(st); ok {
			sv.EstimatedMinutes = &m
		}
		v.Steps = append(v.Steps, sv)
	}
	return v
}

// TotalSteps widens the declared total to the real step list, never narrows it.
func TotalSteps(s domain.OnboardingSession) int {
	total := s.EffectiveTotal()
	if total < 0 {
		return 0
	}
	return total
}

// CurrentStepNumber is the 1-based number of the step in progress, clamped to
// the total so a finished session still points at its last step. A session
// without steps reports 0.
func CurrentStepNumber(s domain.OnboardingSession) int {
	total := TotalSteps(s)
	n := clamp(s.CompletedSteps, 0, total) + 1
	if n > total {
		return total
	}
	return n
}

// Percentage is round(100*completed/total) in [0,100]; 0 when there are no steps.
func Percentage(s domain.OnboardingSession) int {
	total := TotalSteps(s)
	if total == 0 {
		return 0
	}
	completed := clamp(s.CompletedSteps, 0, total)
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// EstimatedMinutesRemaining resolves the remaining time in this order: the sum
// of per-step estimates for steps not yet completed, then the session-level
// estimate scaled by the remaining share of steps, then DefaultEstimatedMinutes.
func EstimatedMinutesRemaining(s domain.OnboardingSession) int {
	total := TotalSteps(s)
	completed := clamp(s.CompletedSteps, 0, total)

	anyStepEstimate := false
	remaining := 0
	for i, st := range s.Steps {
		m, ok := stepEstimate(st)
		if !ok {
			continue
		}
		anyStepEstimate = true
		if i >= completed {
			remaining += m
		}
	}
	if anyStepEstimate {
		return remaining
	}

	if est, ok := domain.MetaInt(s.Metadata, domain.MetaEstimatedMinutes); ok && est >= 0 {
		if total == 0 {
			return est
		}
		left := total - completed
		return int(math.Ceil(float64(est) * float64(left) / float64(total)))
	}
	return DefaultEstimatedMinutes
}

func stepEstimate(st domain.Step) (int, bool) {
	m, ok := domain.MetaInt(st.Metadata, domain.MetaEstimatedMinutes)
	if !ok || m < 0 {
		return 0, false
	}
	return m, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
