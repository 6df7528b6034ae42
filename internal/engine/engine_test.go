package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterline/internal/config"
	"rosterline/internal/db"
	"rosterline/internal/domain"
	"rosterline/internal/engine"
	"rosterline/internal/migrate"
	"rosterline/internal/progress"
	"rosterline/internal/repo"
	"rosterline/internal/sequence"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	n := 0
	eng.NewID = func() string {
		n++
		return fmt.Sprintf("sess-%d", n)
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestStartSessionFromCatalog(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowVenueSetup, ContextRef: "venue-1"})
	require.NoError(t, err)

	flow, _ := config.Default().Flow(domain.FlowVenueSetup)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, domain.StatusInProgress, s.Status)
	assert.Equal(t, len(flow.Steps), s.TotalSteps)
	assert.Len(t, s.Steps, len(flow.Steps))
	assert.Equal(t, 0, s.CompletedSteps)
	assert.Equal(t, "venue-1", s.ContextRef)
	est, ok := domain.MetaInt(s.Metadata, domain.MetaEstimatedMinutes)
	assert.True(t, ok)
	assert.Equal(t, flow.EstimatedMinutes(), est)

	stored, err := env.Engine.GetSession(env.Ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Steps[0].ID, stored.Steps[0].ID)
	assert.Equal(t, 1, progress.CurrentStepNumber(stored))
}

func TestStartRejectsSecondActiveSession(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowVenueSetup})
	require.NoError(t, err)

	_, err = env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowStaffSetup})
	var active engine.ActiveSessionError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, first.ID, active.SessionID)
	assert.Contains(t, err.Error(), "active onboarding session")

	// another actor is unaffected
	_, err = env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "bob", Type: domain.FlowStaffSetup})
	require.NoError(t, err)
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: "NOPE"})
	assert.ErrorIs(t, err, engine.ErrUnknownFlow)
	_, err = env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: " ", Type: domain.FlowVenueSetup})
	assert.ErrorIs(t, err, engine.ErrActorRequired)
}

func TestCompleteStepsInOrder(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowStaffSetup})
	require.NoError(t, err)

	// skipping ahead is refused
	_, err = env.Engine.CompleteStep(env.Ctx, "alice", s.ID, s.Steps[1].ID)
	assert.ErrorIs(t, err, sequence.ErrSkipAhead)
	_, err = env.Engine.CompleteStep(env.Ctx, "alice", s.ID, "missing")
	assert.ErrorIs(t, err, sequence.ErrUnknownStep)

	for i, st := range s.Steps {
		s, err = env.Engine.CompleteStep(env.Ctx, "alice", s.ID, st.ID)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, i+1, s.CompletedSteps)
	}
	assert.Equal(t, domain.StatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, 100, progress.Percentage(s))

	_, err = env.Engine.CompleteStep(env.Ctx, "alice", s.ID, s.Steps[0].ID)
	var terr engine.TransitionError
	assert.ErrorAs(t, err, &terr)

	_, err = env.Engine.ActiveSession(env.Ctx, "alice")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	// completed flow frees the actor for a new session
	_, err = env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowPhaseSetup})
	require.NoError(t, err)
}

func TestRecompletingDoneStepIsRejected(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowVenueSetup})
	require.NoError(t, err)
	_, err = env.Engine.CompleteStep(env.Ctx, "alice", s.ID, s.Steps[0].ID)
	require.NoError(t, err)
	_, err = env.Engine.CompleteStep(env.Ctx, "alice", s.ID, s.Steps[0].ID)
	assert.ErrorIs(t, err, sequence.ErrAlreadyCompleted)
}

func TestCancelSession(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowVenueSetup})
	require.NoError(t, err)

	_, err = env.Engine.CancelSession(env.Ctx, "mallory", s.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	s, err = env.Engine.CancelSession(env.Ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, s.Status)
	require.NotNil(t, s.CancelledAt)

	_, err = env.Engine.CancelSession(env.Ctx, "alice", s.ID)
	var terr engine.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StatusCancelled, terr.From)

	evts, err := env.Engine.ListSessionEvents(env.Ctx, "alice", s.ID, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, "session.started,session.cancelled", strings.Join(types, ","))
}

func TestGetSessionOwnership(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowVenueSetup})
	require.NoError(t, err)
	_, err = env.Engine.GetSession(env.Ctx, "bob", s.ID)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = env.Engine.ListSessionEvents(env.Ctx, "bob", s.ID, 10)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	a, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowVenueSetup})
	require.NoError(t, err)
	_, err = env.Engine.CancelSession(env.Ctx, "alice", a.ID)
	require.NoError(t, err)
	b, err := env.Engine.StartSession(env.Ctx, engine.StartOptions{ActorID: "alice", Type: domain.FlowStaffSetup})
	require.NoError(t, err)

	all, err := env.Engine.ListSessions(env.Ctx, "alice", engine.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	cancelled, err := env.Engine.ListSessions(env.Ctx, "alice", engine.ListOptions{Status: domain.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)

	_, err = env.Engine.ListSessions(env.Ctx, "alice", engine.ListOptions{Status: "BOGUS"})
	assert.Error(t, err)

	none, err := env.Engine.ListSessions(env.Ctx, "bob", engine.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
