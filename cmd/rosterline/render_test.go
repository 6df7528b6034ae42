package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"rosterline/internal/domain"
	"rosterline/internal/lifecycle"
)

func TestRenderSessionInProgress(t *testing.T) {
	s := domain.OnboardingSession{
		ID:     "s1",
		UserID: "u1",
		Type:   domain.FlowVenueSetup,
		Status: domain.StatusInProgress,
		Steps: []domain.Step{
			{ID: "a", Title: "Profile", Metadata: map[string]any{domain.MetaEstimatedMinutes: 5}},
			{ID: "b", Title: "Hours"},
			{ID: "c", Title: "Areas"},
		},
		TotalSteps:     3,
		CompletedSteps: 1,
	}
	var buf bytes.Buffer
	renderSession(&buf, s)
	out := buf.String()
	for _, want := range []string{"Step 2 of 3", "33%", "[x]", "[>]", "[ ]", "Profile"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatPayloadSorted(t *testing.T) {
	got := formatPayload(map[string]any{"step_id": "a", "position": 0})
	if got != "position=0 step_id=a" {
		t.Fatalf("payload = %q", got)
	}
}

func TestErrorHint(t *testing.T) {
	conflict := &lifecycle.Error{Kind: lifecycle.ErrActiveSessionConflict, Op: "start flow", SessionID: "s9"}
	if h := errorHint(conflict); !strings.Contains(h, "flow cancel s9") {
		t.Fatalf("hint = %q", h)
	}
	unknown := &lifecycle.Error{Kind: lifecycle.ErrNetworkOrTimeout, Op: "start flow", UnknownOutcome: true}
	if h := errorHint(fmt.Errorf("wrapped: %w", unknown)); !strings.Contains(h, "may have gone through") {
		t.Fatalf("hint = %q", h)
	}
	if h := errorHint(fmt.Errorf("plain")); h != "" {
		t.Fatalf("unexpected hint %q", h)
	}
}
