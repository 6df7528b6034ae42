package domain

// Status is the lifecycle state of an onboarding session.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is one of the known session states.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// FlowType names an onboarding flow. The set is open; the flow catalog decides
// which types exist.
type FlowType string

const (
	FlowVenueSetup FlowType = "VENUE_SETUP"
	FlowStaffSetup FlowType = "STAFF_SETUP"
	FlowPhaseSetup FlowType = "PHASE_SETUP"
)

// Metadata keys shared by sessions and steps.
const (
	MetaEstimatedMinutes = "estimatedMinutes"
	MetaContextRef       = "contextRef"
)

type Step struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type OnboardingSession struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	Type           FlowType       `json:"type"`
	Status         Status         `json:"status" enum:"IN_PROGRESS,COMPLETED,CANCELLED"`
	Steps          []Step         `json:"steps"`
	TotalSteps     int            `json:"totalSteps"`
	CompletedSteps int            `json:"completedSteps"`
	ContextRef     string         `json:"contextRef,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"createdAt" format:"date-time"`
	UpdatedAt      string         `json:"updatedAt" format:"date-time"`
	CompletedAt    *string        `json:"completedAt,omitempty" format:"date-time"`
	CancelledAt    *string        `json:"cancelledAt,omitempty" format:"date-time"`
}

// EffectiveTotal is the step count used for display and completion: the larger
// of the declared total and the actual step list.
func (s OnboardingSession) EffectiveTotal() int {
	if len(s.Steps) > s.TotalSteps {
		return len(s.Steps)
	}
	return s.TotalSteps
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ActorID   string `json:"actorId"`
	Payload   string `json:"payloadJson"`
}

// MetaInt reads an integer-valued metadata entry. JSON decoding yields
// float64, so numeric kinds are all accepted; anything else reports false.
func MetaInt(meta map[string]any, key string) (int, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}
