// Package lifecycle drives onboarding sessions from the caller's side: it
// starts, resumes, cancels and advances sessions through a Provider and
// decides where the caller should be routed next.
//
// The server owns session state. Nothing here caches the active session;
// every answer comes from a fresh request.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"rosterline/internal/domain"
	"rosterline/internal/logging"
	"rosterline/internal/progress"
	"rosterline/internal/sequence"
	rosterlinesdk "rosterline/sdk/go"
)

// DefaultReconcileTimeout bounds the active-session lookup that follows a
// start request with an unknown outcome.
const DefaultReconcileTimeout = 5 * time.Second

// Provider is the session backend. *rosterlinesdk.Client implements it.
type Provider interface {
	StartSession(ctx context.Context, flowType domain.FlowType, contextRef string) (domain.OnboardingSession, error)
	ActiveSession(ctx context.Context) (domain.OnboardingSession, error)
	GetSession(ctx context.Context, id string) (domain.OnboardingSession, error)
	ListSessions(ctx context.Context, opts rosterlinesdk.ListOptions) ([]domain.OnboardingSession, error)
	CancelSession(ctx context.Context, id string) (domain.OnboardingSession, error)
	CompleteStep(ctx context.Context, sessionID, stepID string) (domain.OnboardingSession, error)
}

type Controller struct {
	Provider Provider
	// Authenticated reports whether a user is signed in. Nil means always.
	Authenticated    func() bool
	Logger           *zap.Logger
	ReconcileTimeout time.Duration
}

func New(p Provider, logger *zap.Logger) *Controller {
	return &Controller{
		Provider:         p,
		Logger:           logging.OrNop(logger),
		ReconcileTimeout: DefaultReconcileTimeout,
	}
}

// ForClient builds a controller over an SDK client; the user counts as signed
// in while the client holds a bearer token.
func ForClient(c *rosterlinesdk.Client, logger *zap.Logger) *Controller {
	ctl := New(c, logger)
	ctl.Authenticated = func() bool { return strings.TrimSpace(c.BearerToken) != "" }
	return ctl
}

func (c *Controller) log() *zap.Logger { return logging.OrNop(c.Logger) }

func (c *Controller) signedIn() bool {
	return c.Authenticated == nil || c.Authenticated()
}

// StartFlow starts a session of flowType. An existing in-progress session
// yields ErrActiveSessionConflict; the caller should offer resume or
// cancel-and-restart. When the request times out the active session is
// fetched again instead of retrying.
func (c *Controller) StartFlow(ctx context.Context, flowType domain.FlowType, contextRef string) (*domain.OnboardingSession, error) {
	const op = "start flow"
	if !c.signedIn() {
		return nil, &Error{Kind: ErrUnauthenticated, Op: op}
	}
	if strings.TrimSpace(string(flowType)) == "" {
		return nil, errorf(ErrRejected, op, "flow type is required")
	}
	s, err := c.Provider.StartSession(ctx, flowType, contextRef)
	if err != nil {
		lerr := classify(op, err)
		if errors.Is(lerr, ErrNetworkOrTimeout) && !errors.Is(err, context.Canceled) {
			return c.reconcileStart(ctx, flowType, lerr)
		}
		return nil, lerr
	}
	if verr := Validate(s); verr != nil {
		return nil, malformed(op, s, verr)
	}
	c.log().Info("onboarding flow started", zap.String("session_id", s.ID), zap.String("type", string(s.Type)))
	return &s, nil
}

func (c *Controller) reconcileStart(ctx context.Context, flowType domain.FlowType, cause *Error) (*domain.OnboardingSession, error) {
	cause.UnknownOutcome = true
	timeout := c.ReconcileTimeout
	if timeout <= 0 {
		timeout = DefaultReconcileTimeout
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	active, err := c.ResumeActiveSession(rctx)
	if err != nil || active == nil {
		c.log().Warn("start outcome unknown", zap.String("type", string(flowType)), zap.Error(cause.Err))
		return nil, cause
	}
	if active.Type == flowType {
		c.log().Info("start reconciled with active session", zap.String("session_id", active.ID))
		return active, nil
	}
	// only one session can be in progress, so the start cannot have applied
	return nil, &Error{Kind: ErrActiveSessionConflict, Op: cause.Op, SessionID: active.ID, Err: cause.Err}
}

// ResumeActiveSession returns the caller's in-progress session, or nil when
// there is none.
func (c *Controller) ResumeActiveSession(ctx context.Context) (*domain.OnboardingSession, error) {
	const op = "resume active session"
	if !c.signedIn() {
		return nil, nil
	}
	s, err := c.Provider.ActiveSession(ctx)
	if err != nil {
		lerr := classify(op, err)
		if errors.Is(lerr, ErrNotFound) || errors.Is(lerr, ErrUnauthenticated) {
			return nil, nil
		}
		return nil, lerr
	}
	if !c.usable(op, s) {
		return nil, nil
	}
	if s.Status != domain.StatusInProgress {
		return nil, nil
	}
	return &s, nil
}

// GetSession returns the session, or nil when it is absent, foreign or
// malformed. Nil means the caller should go back to flow selection.
func (c *Controller) GetSession(ctx context.Context, id string) (*domain.OnboardingSession, error) {
	const op = "get session"
	if !c.signedIn() || strings.TrimSpace(id) == "" {
		return nil, nil
	}
	s, err := c.Provider.GetSession(ctx, id)
	if err != nil {
		lerr := classify(op, err)
		if errors.Is(lerr, ErrNotFound) || errors.Is(lerr, ErrUnauthenticated) {
			return nil, nil
		}
		return nil, lerr
	}
	if !c.usable(op, s) {
		return nil, nil
	}
	return &s, nil
}

// CancelSession moves the session to CANCELLED.
func (c *Controller) CancelSession(ctx context.Context, id string) error {
	const op = "cancel session"
	if !c.signedIn() {
		return &Error{Kind: ErrNotFound, Op: op, SessionID: id}
	}
	if _, err := c.Provider.CancelSession(ctx, id); err != nil {
		lerr := classify(op, err)
		lerr.SessionID = id
		if errors.Is(lerr, ErrUnauthenticated) {
			lerr.Kind = ErrNotFound
		}
		return lerr
	}
	c.log().Info("onboarding session cancelled", zap.String("session_id", id))
	return nil
}

// ListUserSessions returns the caller's well-formed sessions, newest first.
func (c *Controller) ListUserSessions(ctx context.Context) ([]domain.OnboardingSession, error) {
	const op = "list sessions"
	if !c.signedIn() {
		return []domain.OnboardingSession{}, nil
	}
	items, err := c.Provider.ListSessions(ctx, rosterlinesdk.ListOptions{})
	if err != nil {
		lerr := classify(op, err)
		if errors.Is(lerr, ErrUnauthenticated) {
			return []domain.OnboardingSession{}, nil
		}
		return nil, lerr
	}
	out := make([]domain.OnboardingSession, 0, len(items))
	for _, s := range items {
		if c.usable(op, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// CompletedFlows lists the flow types the caller has completed at least once.
func (c *Controller) CompletedFlows(ctx context.Context) ([]domain.FlowType, error) {
	items, err := c.ListUserSessions(ctx)
	if err != nil {
		return nil, err
	}
	return CompletedTypes(items), nil
}

// CompletedTypes is the set of types with a COMPLETED session, sorted.
func CompletedTypes(sessions []domain.OnboardingSession) []domain.FlowType {
	seen := map[domain.FlowType]bool{}
	out := []domain.FlowType{}
	for _, s := range sessions {
		if s.Status == domain.StatusCompleted && !seen[s.Type] {
			seen[s.Type] = true
			out = append(out, s.Type)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CompleteStep completes stepID of the session. The step must be the current
// one; skipping ahead is refused before any request is sent.
func (c *Controller) CompleteStep(ctx context.Context, sessionID, stepID string) (*domain.OnboardingSession, error) {
	const op = "complete step"
	if !c.signedIn() {
		return nil, &Error{Kind: ErrUnauthenticated, Op: op, SessionID: sessionID}
	}
	s, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &Error{Kind: ErrNotFound, Op: op, SessionID: sessionID}
	}
	if s.Status != domain.StatusInProgress {
		return nil, &Error{Kind: ErrInvalidTransition, Op: op, SessionID: sessionID, Err: fmt.Errorf("session is %s", s.Status)}
	}
	if _, err := sequence.New(*s).CanCompleteStep(stepID); err != nil {
		kind := ErrInvalidTransition
		if errors.Is(err, sequence.ErrUnknownStep) {
			kind = ErrNotFound
		}
		return nil, &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
	}
	updated, err := c.Provider.CompleteStep(ctx, sessionID, stepID)
	if err != nil {
		lerr := classify(op, err)
		lerr.SessionID = sessionID
		return nil, lerr
	}
	if verr := Validate(updated); verr != nil {
		return nil, malformed(op, updated, verr)
	}
	return &updated, nil
}

func (c *Controller) usable(op string, s domain.OnboardingSession) bool {
	if err := Validate(s); err != nil {
		c.log().Warn("dropping malformed session record", zap.String("op", op), zap.String("session_id", s.ID), zap.Error(err))
		return false
	}
	return true
}

// Validate reports why a session record cannot be displayed.
func Validate(s domain.OnboardingSession) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return errors.New("id missing")
	case strings.TrimSpace(s.UserID) == "":
		return errors.New("userId missing")
	case strings.TrimSpace(string(s.Type)) == "":
		return errors.New("type missing")
	case !s.Status.Valid():
		return fmt.Errorf("unknown status %q", s.Status)
	}
	for i, st := range s.Steps {
		if strings.TrimSpace(st.ID) == "" {
			return fmt.Errorf("step %d has no id", i)
		}
	}
	return nil
}

// Destination is where a caller should be sent for a session.
type Destination string

const (
	DestFlowSelection  Destination = "flow-selection"
	DestOnboardingStep Destination = "onboarding-step"
	DestDashboard      Destination = "dashboard"
)

type Route struct {
	Destination Destination
	SessionID   string
	// StepNumber is the 1-based step to show for DestOnboardingStep.
	StepNumber int
}

// RouteFor maps a possibly absent session to a destination.
func RouteFor(s *domain.OnboardingSession) Route {
	if s == nil || Validate(*s) != nil {
		return Route{Destination: DestFlowSelection}
	}
	switch s.Status {
	case domain.StatusInProgress:
		return Route{Destination: DestOnboardingStep, SessionID: s.ID, StepNumber: progress.CurrentStepNumber(*s)}
	case domain.StatusCompleted:
		return Route{Destination: DestDashboard, SessionID: s.ID}
	default:
		return Route{Destination: DestFlowSelection}
	}
}
