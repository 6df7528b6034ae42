// Package sequence orders the steps of an onboarding session and guards
// completion so that no step is completed while an earlier one is still open.
package sequence

import (
	"errors"
	"fmt"

	"rosterline/internal/domain"
	"rosterline/internal/progress"
)

var (
	ErrUnknownStep      = errors.New("unknown step")
	ErrStepOutOfRange   = errors.New("step position out of range")
	ErrAlreadyCompleted = errors.New("step already completed")
	ErrSkipAhead        = errors.New("earlier steps are not completed")
)

// Error describes a rejected completion attempt.
type Error struct {
	StepID  string
	Index   int
	Current int
	Err     error
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("cannot complete step %s at position %d: %v (current position %d)", e.StepID, e.Index, e.Err, e.Current)
	}
	return fmt.Sprintf("cannot complete position %d: %v (current position %d)", e.Index, e.Err, e.Current)
}

func (e *Error) Unwrap() error { return e.Err }

type Position struct {
	Index int
	Step  domain.Step
	State progress.StepState
}

// Sequencer is a read-only projection of a session's steps. Build a new one
// from each fresh session record.
type Sequencer struct {
	steps     []domain.Step
	completed int
}

func New(s domain.OnboardingSession) Sequencer {
	completed := s.CompletedSteps
	if completed < 0 {
		completed = 0
	}
	if total := progress.TotalSteps(s); completed > total {
		completed = total
	}
	return Sequencer{steps: s.Steps, completed: completed}
}

func (q Sequencer) Len() int { return len(q.steps) }

// Completed is the clamped number of completed steps.
func (q Sequencer) Completed() int { return q.completed }

// Done reports whether every listed step is completed.
func (q Sequencer) Done() bool { return q.completed >= len(q.steps) }

func (q Sequencer) Positions() []Position {
	out := make([]Position, 0, len(q.steps))
	for i, st := range q.steps {
		out = append(out, Position{Index: i, Step: st, State: progress.Classify(i, q.completed)})
	}
	return out
}

func (q Sequencer) State(index int) (progress.StepState, error) {
	if index < 0 || index >= len(q.steps) {
		return "", fmt.Errorf("%w: %d", ErrStepOutOfRange, index)
	}
	return progress.Classify(index, q.completed), nil
}

// Current returns the step in progress, if any.
func (q Sequencer) Current() (Position, bool) {
	if q.completed >= len(q.steps) {
		return Position{}, false
	}
	return Position{Index: q.completed, Step: q.steps[q.completed], State: progress.StateCurrent}, true
}

func (q Sequencer) IndexOf(stepID string) (int, bool) {
	for i, st := range q.steps {
		if st.ID == stepID {
			return i, true
		}
	}
	return -1, false
}

// CanComplete reports whether the step at index may be completed next.
func (q Sequencer) CanComplete(index int) error {
	if index < 0 || index >= len(q.steps) {
		return &Error{Index: index, Current: q.completed, Err: ErrStepOutOfRange}
	}
	stepID := q.steps[index].ID
	switch progress.Classify(index, q.completed) {
	case progress.StateCompleted:
		return &Error{StepID: stepID, Index: index, Current: q.completed, Err: ErrAlreadyCompleted}
	case progress.StateUpcoming:
		return &Error{StepID: stepID, Index: index, Current: q.completed, Err: ErrSkipAhead}
	}
	return nil
}

// CanCompleteStep resolves stepID and applies CanComplete.
func (q Sequencer) CanCompleteStep(stepID string) (int, error) {
	idx, ok := q.IndexOf(stepID)
	if !ok {
		return -1, &Error{StepID: stepID, Index: -1, Current: q.completed, Err: ErrUnknownStep}
	}
	return idx, q.CanComplete(idx)
}
