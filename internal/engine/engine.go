package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rosterline/internal/config"
	"rosterline/internal/domain"
	"rosterline/internal/events"
	"rosterline/internal/logging"
	"rosterline/internal/repo"
	"rosterline/internal/sequence"
)

var (
	ErrUnknownFlow   = errors.New("unknown flow type")
	ErrActorRequired = errors.New("actor is required")
)

// ActiveSessionError is returned when the actor already has an in-progress
// session. The message is matched by clients, keep the wording stable.
type ActiveSessionError struct {
	ActorID   string
	SessionID string
	Type      domain.FlowType
}

func (e ActiveSessionError) Error() string {
	return fmt.Sprintf("actor %s already has an active onboarding session %s", e.ActorID, e.SessionID)
}

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Logger: logging.OrNop(logger),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger { return logging.OrNop(e.Logger) }

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Flows lists the startable flows.
func (e Engine) Flows() []config.Flow {
	if e.Config == nil {
		return nil
	}
	return e.Config.Flows
}

// StartOptions are parameters for starting a session.
type StartOptions struct {
	ActorID    string
	Type       domain.FlowType
	ContextRef string
}

// StartSession creates an in-progress session for the actor. It fails with
// ActiveSessionError when one already exists.
func (e Engine) StartSession(ctx context.Context, opts StartOptions) (domain.OnboardingSession, error) {
	if e.Config == nil {
		return domain.OnboardingSession{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.ActorID) == "" {
		return domain.OnboardingSession{}, ErrActorRequired
	}
	flow, ok := e.Config.Flow(opts.Type)
	if !ok {
		return domain.OnboardingSession{}, fmt.Errorf("%w: %s", ErrUnknownFlow, opts.Type)
	}
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := e.now().UTC().Format(time.RFC3339)
	steps := flow.DomainSteps()
	s := domain.OnboardingSession{
		ID:             newID(),
		UserID:         opts.ActorID,
		Type:           opts.Type,
		Status:         domain.StatusInProgress,
		Steps:          steps,
		TotalSteps:     len(steps),
		CompletedSteps: 0,
		ContextRef:     opts.ContextRef,
		Metadata:       map[string]any{domain.MetaEstimatedMinutes: flow.EstimatedMinutes()},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.ContextRef != "" {
		s.Metadata[domain.MetaContextRef] = opts.ContextRef
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OnboardingSession{}, err
	}
	defer tx.Rollback()

	if active, err := e.Repo.ActiveSession(ctx, tx, opts.ActorID); err == nil {
		return domain.OnboardingSession{}, ActiveSessionError{ActorID: opts.ActorID, SessionID: active.ID, Type: active.Type}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.OnboardingSession{}, err
	}
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.OnboardingSession{}, ActiveSessionError{ActorID: opts.ActorID}
		}
		return domain.OnboardingSession{}, err
	}
	if err := e.events().Append(ctx, tx, events.SessionStarted, s.ID, opts.ActorID, events.EventPayload{
		"type":        string(s.Type),
		"total_steps": s.TotalSteps,
		"context_ref": s.ContextRef,
	}); err != nil {
		return domain.OnboardingSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OnboardingSession{}, err
	}
	e.log().Debug("session started", zap.String("session_id", s.ID), zap.String("actor_id", opts.ActorID), zap.String("type", string(s.Type)))
	return s, nil
}

// GetSession returns the session when it exists and belongs to the actor.
func (e Engine) GetSession(ctx context.Context, actorID, id string) (domain.OnboardingSession, error) {
	return e.ownedSession(ctx, nil, actorID, id)
}

func (e Engine) ownedSession(ctx context.Context, tx *sql.Tx, actorID, id string) (domain.OnboardingSession, error) {
	s, err := e.Repo.GetSession(ctx, tx, id)
	if err != nil {
		return s, err
	}
	if s.UserID != actorID {
		return domain.OnboardingSession{}, repo.ErrNotFound
	}
	return s, nil
}

// ActiveSession returns the actor's in-progress session or repo.ErrNotFound.
func (e Engine) ActiveSession(ctx context.Context, actorID string) (domain.OnboardingSession, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.OnboardingSession{}, ErrActorRequired
	}
	return e.Repo.ActiveSession(ctx, nil, actorID)
}

type ListOptions struct {
	Status domain.Status
	Type   domain.FlowType
}

// ListSessions returns the actor's sessions, newest first.
func (e Engine) ListSessions(ctx context.Context, actorID string, opts ListOptions) ([]domain.OnboardingSession, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, ErrActorRequired
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("invalid status filter %s", opts.Status)
	}
	return e.Repo.ListSessions(ctx, repo.SessionFilters{
		UserID: actorID,
		Status: string(opts.Status),
		Type:   string(opts.Type),
	})
}

func ensureSessionTransition(from, to domain.Status) error {
	switch from {
	case domain.StatusInProgress:
		if to == domain.StatusCompleted || to == domain.StatusCancelled {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

// CompleteStep marks stepID done. Only the current step can be completed; the
// session moves to COMPLETED when the last step is done.
func (e Engine) CompleteStep(ctx context.Context, actorID, sessionID, stepID string) (domain.OnboardingSession, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OnboardingSession{}, err
	}
	defer tx.Rollback()

	s, err := e.ownedSession(ctx, tx, actorID, sessionID)
	if err != nil {
		return s, err
	}
	if s.Status != domain.StatusInProgress {
		return s, TransitionError{From: s.Status, To: domain.StatusInProgress}
	}
	idx, err := sequence.New(s).CanCompleteStep(stepID)
	if err != nil {
		return s, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s.CompletedSteps = idx + 1
	s.UpdatedAt = now
	finished := s.CompletedSteps >= s.EffectiveTotal()
	if finished {
		if err := ensureSessionTransition(s.Status, domain.StatusCompleted); err != nil {
			return s, err
		}
		s.Status = domain.StatusCompleted
		s.CompletedAt = &now
	}
	if err := e.Repo.UpdateSessionProgress(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, events.SessionStepCompleted, s.ID, actorID, events.EventPayload{
		"step_id":         stepID,
		"position":        idx,
		"completed_steps": s.CompletedSteps,
	}); err != nil {
		return s, err
	}
	if finished {
		if err := e.events().Append(ctx, tx, events.SessionCompleted, s.ID, actorID, events.EventPayload{"type": string(s.Type)}); err != nil {
			return s, err
		}
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	e.log().Debug("step completed",
		zap.String("session_id", s.ID),
		zap.String("step_id", stepID),
		zap.Int("completed_steps", s.CompletedSteps),
		zap.String("status", string(s.Status)))
	return s, nil
}

// CancelSession moves an in-progress session to CANCELLED.
func (e Engine) CancelSession(ctx context.Context, actorID, sessionID string) (domain.OnboardingSession, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OnboardingSession{}, err
	}
	defer tx.Rollback()

	s, err := e.ownedSession(ctx, tx, actorID, sessionID)
	if err != nil {
		return s, err
	}
	if err := ensureSessionTransition(s.Status, domain.StatusCancelled); err != nil {
		return s, err
	}
	from := s.Status
	now := e.now().UTC().Format(time.RFC3339)
	s.Status = domain.StatusCancelled
	s.UpdatedAt = now
	s.CancelledAt = &now
	if err := e.Repo.UpdateSessionProgress(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, events.SessionCancelled, s.ID, actorID, events.EventPayload{
		"from":            string(from),
		"completed_steps": s.CompletedSteps,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	e.log().Debug("session cancelled", zap.String("session_id", s.ID), zap.String("actor_id", actorID))
	return s, nil
}

// ListSessionEvents returns the event trail of an owned session.
func (e Engine) ListSessionEvents(ctx context.Context, actorID, sessionID string, limit int) ([]domain.Event, error) {
	if _, err := e.ownedSession(ctx, nil, actorID, sessionID); err != nil {
		return nil, err
	}
	return e.Repo.ListSessionEvents(ctx, sessionID, limit)
}
