package server

import (
	"recordline/internal/domain"
)

// The domain documents are themselves the wire model, so responses reuse
// them directly. Only request payloads and small envelopes live here.

type CreateEventRequest struct {
	Type          string         `json:"type" example:"birth"`
	TransactionID string         `json:"transactionId" example:"tx-8f2a"`
	Declaration   map[string]any `json:"declaration,omitempty"`
	Annotation    map[string]any `json:"annotation,omitempty"`
}

type AppendActionRequest struct {
	Type               domain.ActionType   `json:"type" example:"DECLARE"`
	Status             domain.ActionStatus `json:"status,omitempty" example:"Accepted"`
	TransactionID      string              `json:"transactionId,omitempty"`
	Declaration        map[string]any      `json:"declaration,omitempty"`
	Annotation         map[string]any      `json:"annotation,omitempty"`
	AssignedTo         string              `json:"assignedTo,omitempty"`
	RegistrationNumber string              `json:"registrationNumber,omitempty"`
	RequestID          string              `json:"requestId,omitempty"`
	OriginalActionID   string              `json:"originalActionId,omitempty"`
	Duplicates         []string            `json:"duplicates,omitempty"`
	CustomType         string              `json:"customType,omitempty"`
}

type AvailableActionsResponse struct {
	EventID string              `json:"eventId"`
	Actions []domain.ActionType `json:"actions"`
}

type LocationRequest struct {
	ID       string `json:"id" example:"district-7"`
	ParentID string `json:"parentId,omitempty" example:"province-west"`
	Name     string `json:"name" example:"District 7 Civil Office"`
}

type DevLoginRequest struct {
	ActorID  string   `json:"actorId" example:"registrar-1"`
	Location string   `json:"location,omitempty" example:"district-7"`
	Scopes   []string `json:"scopes,omitempty" example:"[\"record.declare\"]"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID  string   `json:"actorId"`
	Location string   `json:"location,omitempty"`
	Scopes   []string `json:"scopes"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
