package main

import (
	"time"

	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/workspaceengine"
)

// API request and response models

// EventRequest is the body of POST /api/v1/events
type EventRequest struct {
	EventType   rules.EventType  `json:"eventType" example:"task_created"`
	EntityType  rules.EntityKind `json:"entityType" example:"task"`
	EntityID    string           `json:"entityId" example:"task-123"`
	WorkspaceID string           `json:"workspaceId,omitempty" example:"acme"`
	Data        map[string]any   `json:"data"`
	Async       bool             `json:"async,omitempty"`
}

func (r EventRequest) event() rules.Event {
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	return rules.Event{
		Type:       r.EventType,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Data:       data,
	}
}

// EventResponse is returned for synchronously processed events
type EventResponse struct {
	Executions     []*rules.Execution `json:"executions"`
	ProcessingTime string             `json:"processingTime" example:"2.3ms"`
}

// QueuedResponse is returned for events accepted onto a queue
type QueuedResponse struct {
	Status     string `json:"status" example:"queued"`
	QueueDepth int    `json:"queueDepth" example:"3"`
}

// RuleResponse wraps a rule with any validation warnings
type RuleResponse struct {
	Rule     *rules.Rule `json:"rule"`
	Warnings []string    `json:"warnings,omitempty"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// ExecutionsListResponse represents the response for listing executions
type ExecutionsListResponse struct {
	Executions []*rules.Execution `json:"executions"`
}

// WorkspaceRequest is the body of PUT /api/v1/workspaces/{workspaceId}
type WorkspaceRequest struct {
	Schema workspaceengine.Schema `json:"schema"`
}

// WorkspaceResponse represents a workspace in API responses
type WorkspaceResponse struct {
	ID         string                 `json:"id" example:"acme"`
	Schema     workspaceengine.Schema `json:"schema"`
	QueueDepth int                    `json:"queueDepth"`
}

// WorkspacesListResponse represents the response for listing workspaces
type WorkspacesListResponse struct {
	Workspaces []string `json:"workspaces"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string   `json:"error" example:"rule not found"`
	Details  string   `json:"details,omitempty"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string    `json:"status" example:"healthy"`
	Error            string    `json:"error,omitempty"`
	Storage          string    `json:"storage" example:"postgres"`
	QueueDepth       int       `json:"queueDepth"`
	WorkspacesLoaded int       `json:"workspacesLoaded"`
	Warnings         int64     `json:"warnings"`
	Errors           int64     `json:"errors"`
	Time             time.Time `json:"time"`
}
