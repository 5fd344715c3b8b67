package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Session status values.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Turn status values.
const (
	TurnStatusInProgress = "in_progress"
	TurnStatusCompleted  = "completed"
	TurnStatusFailed     = "failed"
	TurnStatusCancelled  = "cancelled"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session represents one agent conversation within a workspace, unique by
// (workspace, external_session_id).
type Session struct {
	ID                surrealmodels.RecordID `json:"id"`
	Workspace         surrealmodels.RecordID `json:"workspace"`
	ExternalSessionID string                 `json:"external_session_id"`
	AgentType         string                 `json:"agent_type"`
	ModelID           *string                `json:"model_id,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	EndedAt           *time.Time             `json:"ended_at,omitempty"`
	MessageCount      int                    `json:"message_count"`
	TotalTokens       int                    `json:"total_tokens"`
	Status            string                 `json:"status"`
	Outcome           *string                `json:"outcome,omitempty"`
}

// Turn groups the messages of one request/response cycle within a session.
type Turn struct {
	ID          surrealmodels.RecordID `json:"id"`
	Session     surrealmodels.RecordID `json:"session"`
	Status      string                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Message is a single user or assistant message within a turn.
type Message struct {
	ID        surrealmodels.RecordID `json:"id"`
	Turn      surrealmodels.RecordID `json:"turn"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// SessionFilter narrows session queries.
type SessionFilter struct {
	WorkspaceRef *string
	AgentType    *string
	Status       *string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
}

// SessionStats aggregates over the sessions matching a filter.
type SessionStats struct {
	Count           int     `json:"count"`
	ActiveCount     int     `json:"active_count"`
	AverageDuration float64 `json:"average_duration_seconds"`
	TotalMessages   int     `json:"total_messages"`
	TotalTokens     int     `json:"total_tokens"`
}
