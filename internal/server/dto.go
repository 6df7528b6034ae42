package server

import (
	"encoding/json"

	"rosterline/internal/config"
	"rosterline/internal/domain"
	"rosterline/internal/progress"
)

// Request payloads

type StartSessionRequest struct {
	Type       string `json:"type" example:"VENUE_SETUP"`
	ContextRef string `json:"contextRef,omitempty" example:"venue-42"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

// SessionResponse is the stored session plus its derived progress.
type SessionResponse struct {
	domain.OnboardingSession
	Progress progress.View `json:"progress"`
}

type SessionListResponse struct {
	Items []SessionResponse `json:"items"`
}

type FlowStepResponse struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
}

type FlowResponse struct {
	Type             string             `json:"type"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	EstimatedMinutes int                `json:"estimatedMinutes"`
	Steps            []FlowStepResponse `json:"steps"`
}

type FlowListResponse struct {
	Items []FlowResponse `json:"items"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	ActorID   string         `json:"actorId"`
	Payload   map[string]any `json:"payload"`
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func sessionResponse(s domain.OnboardingSession) SessionResponse {
	s.Steps = nonNilSlice(s.Steps)
	return SessionResponse{OnboardingSession: s, Progress: progress.Calculate(s)}
}

func flowResponse(f config.Flow) FlowResponse {
	res := FlowResponse{
		Type:             f.Type,
		Title:            f.Title,
		Description:      f.Description,
		EstimatedMinutes: f.EstimatedMinutes(),
		Steps:            []FlowStepResponse{},
	}
	for _, st := range f.Steps {
		res.Steps = append(res.Steps, FlowStepResponse{
			ID:               st.ID,
			Title:            st.Title,
			Description:      st.Description,
			EstimatedMinutes: st.EstimatedMinutes,
		})
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		SessionID: e.SessionID,
		ActorID:   e.ActorID,
		Payload:   decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
