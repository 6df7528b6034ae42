package rosterlinesdk

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterline/internal/domain"
)

func TestStartSessionSendsTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/sessions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"type":"VENUE_SETUP","contextRef":"venue-1"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"s1","userId":"u1","type":"VENUE_SETUP","status":"IN_PROGRESS","steps":[{"id":"a","title":"A"}],"totalSteps":1,"completedSteps":0,"progress":{"currentStepNumber":1}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	s, err := c.StartSession(context.Background(), domain.FlowVenueSetup, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, domain.StatusInProgress, s.Status)
	require.Len(t, s.Steps, 1)
}

func TestConflictIsRecognised(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":{"code":"active_session_conflict","message":"actor u1 already has an active onboarding session s0","details":{"session_id":"s0"}}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).StartSession(context.Background(), domain.FlowStaffSetup, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsActiveSessionConflict())
	assert.Equal(t, "s0", apiErr.Details["session_id"])
	assert.False(t, apiErr.IsNotFound())
}

func TestConflictRecognisedByMessageOnly(t *testing.T) {
	e := &APIError{StatusCode: http.StatusConflict, Body: "User already has an active onboarding session"}
	assert.True(t, e.IsActiveSessionConflict())
	e = &APIError{StatusCode: http.StatusConflict, Code: "invalid_transition", Message: "invalid session transition"}
	assert.False(t, e.IsActiveSessionConflict())
}

func TestListSessionsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/sessions", r.URL.Path)
		assert.Equal(t, "COMPLETED", r.URL.Query().Get("status"))
		io.WriteString(w, `{"items":[{"id":"s1","userId":"u1","type":"STAFF_SETUP","status":"COMPLETED","steps":[],"totalSteps":2,"completedSteps":2}]}`)
	}))
	defer srv.Close()

	items, err := New(srv.URL).ListSessions(context.Background(), ListOptions{Status: domain.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].CompletedSteps)
}

func TestCompleteStepPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/sessions/s1/steps/areas/complete", r.URL.Path)
		io.WriteString(w, `{"id":"s1","userId":"u1","type":"VENUE_SETUP","status":"IN_PROGRESS","steps":[],"totalSteps":4,"completedSteps":3}`)
	}))
	defer srv.Close()

	s, err := New(srv.URL).CompleteStep(context.Background(), "s1", "areas")
	require.NoError(t, err)
	assert.Equal(t, 3, s.CompletedSteps)
}

func TestDevLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"token":"abc"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	tok, err := c.DevLogin(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, "abc", c.BearerToken)
}
