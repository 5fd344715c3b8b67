package models

import "time"

// Event type vocabulary reported by collectors.
const (
	EventTypeSessionStart    = "session_start"
	EventTypeSessionEnd      = "session_end"
	EventTypeLLMRequest      = "llm_request"
	EventTypeLLMResponse     = "llm_response"
	EventTypeToolUse         = "tool_use"
	EventTypeFileRead        = "file_read"
	EventTypeFileWrite       = "file_write"
	EventTypeCommandExec     = "command_execution"
	EventTypeUserInteraction = "user_interaction"
	EventTypeError           = "error_encountered"
)

// Event severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// AgentEvent is one immutable telemetry event emitted by an agent. The
// collector-assigned ID is globally unique and doubles as the deduplication
// key: re-ingesting the same id is a no-op.
type AgentEvent struct {
	ID            string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	AgentID       string         `json:"agent_id"`
	SessionID     *string        `json:"session_id,omitempty"`
	ProjectID     string         `json:"project_id"`
	Context       map[string]any `json:"context,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Metrics       *EventMetrics  `json:"metrics,omitempty"`
	ParentEventID *string        `json:"parent_event_id,omitempty"`
	Severity      string         `json:"severity,omitempty"`
}

// EventMetrics carries performance metrics attached to an event.
type EventMetrics struct {
	TokenCount     int     `json:"token_count,omitempty"`
	PromptTokens   int     `json:"prompt_tokens,omitempty"`
	ResponseTokens int     `json:"response_tokens,omitempty"`
	DurationMs     int64   `json:"duration_ms,omitempty"`
	Cost           float64 `json:"cost,omitempty"`
}

// EventFilter narrows event queries. Limit is a hard cap, never unbounded.
type EventFilter struct {
	ProjectID *string
	SessionID *string
	EventType *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}
