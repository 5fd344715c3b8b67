package db

import (
	"context"
	"fmt"
	"time"

	"github.com/codervisor/devlog/internal/models"
)

// SessionID derives the deterministic session record id from the workspace
// reference and the agent-reported external session id.
func SessionID(workspaceRef, externalID string) string {
	return workspaceRef + "/" + externalID
}

// QueryGetSession retrieves a session by record id string.
// Returns nil if not found.
func (c *Client) QueryGetSession(ctx context.Context, id string) (*models.Session, error) {
	results, err := query[models.Session](ctx, c, `
		SELECT * FROM type::record("session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return first(results), nil
}

// QueryUpsertSession creates or updates a session. Message and token counters
// only ever grow, and a completed session never reverts to active.
// Returns (session, wasCreated, error).
func (c *Client) QueryUpsertSession(ctx context.Context, in models.Session, workspaceRef string) (*models.Session, bool, error) {
	id := SessionID(workspaceRef, in.ExternalSessionID)

	wasCreated, err := c.recordMissing(ctx, "session", id)
	if err != nil {
		return nil, false, fmt.Errorf("check session exists: %w", err)
	}

	results, err := query[models.Session](ctx, c, `
		UPSERT type::record("session", $id) SET
			workspace = type::record("workspace", $workspace_ref),
			external_session_id = $external_id,
			agent_type = $agent_type,
			model_id = $model_id,
			started_at = $started_at,
			ended_at = $ended_at ?? ended_at,
			message_count = math::max([message_count ?? 0, $message_count]),
			total_tokens = math::max([total_tokens ?? 0, $total_tokens]),
			status = IF status = "completed" THEN status ELSE $status END,
			outcome = $outcome ?? outcome
		RETURN AFTER
	`, map[string]any{
		"id":            id,
		"workspace_ref": workspaceRef,
		"external_id":   in.ExternalSessionID,
		"agent_type":    in.AgentType,
		"model_id":      in.ModelID,
		"started_at":    in.StartedAt,
		"ended_at":      in.EndedAt,
		"message_count": in.MessageCount,
		"total_tokens":  in.TotalTokens,
		"status":        in.Status,
		"outcome":       in.Outcome,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert session: %w", err)
	}

	sess := first(results)
	if sess == nil {
		return nil, false, fmt.Errorf("upsert session: no result returned")
	}
	return sess, wasCreated, nil
}

// QueryListSessions returns sessions matching the filter, most recent first.
func (c *Client) QueryListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	clause := "WHERE true"
	vars := map[string]any{"limit": filter.Limit}

	if filter.WorkspaceRef != nil {
		clause += ` AND workspace = type::record("workspace", $workspace_ref)`
		vars["workspace_ref"] = *filter.WorkspaceRef
	}
	if filter.AgentType != nil {
		clause += " AND agent_type = $agent_type"
		vars["agent_type"] = *filter.AgentType
	}
	if filter.Status != nil {
		clause += " AND status = $status"
		vars["status"] = *filter.Status
	}
	if filter.StartTime != nil {
		clause += " AND started_at >= $start_time"
		vars["start_time"] = *filter.StartTime
	}
	if filter.EndTime != nil {
		clause += " AND started_at <= $end_time"
		vars["end_time"] = *filter.EndTime
	}

	sql := fmt.Sprintf(`
		SELECT * FROM session %s
		ORDER BY started_at DESC
		LIMIT $limit
	`, clause)

	results, err := query[models.Session](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return rows(results), nil
}

// QueryEndSession transitions an active session to completed in one
// conditional statement. Returns nil when the session was not active (either
// missing or already completed); the caller disambiguates.
func (c *Client) QueryEndSession(ctx context.Context, id string, outcome *string) (*models.Session, error) {
	results, err := query[models.Session](ctx, c, `
		UPDATE type::record("session", $id) SET
			status = "completed",
			outcome = $outcome,
			ended_at = time::now()
		WHERE status = "active"
		RETURN AFTER
	`, map[string]any{"id": id, "outcome": outcome})
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return first(results), nil
}

// SessionFacts is the projection used for stats aggregation.
type SessionFacts struct {
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count"`
	TotalTokens  int        `json:"total_tokens"`
}

// QuerySessionFacts returns the stat-relevant fields of every session
// matching the filter, without a row cap. Aggregation happens in the caller.
func (c *Client) QuerySessionFacts(ctx context.Context, filter models.SessionFilter) ([]SessionFacts, error) {
	clause := "WHERE true"
	vars := map[string]any{}

	if filter.WorkspaceRef != nil {
		clause += ` AND workspace = type::record("workspace", $workspace_ref)`
		vars["workspace_ref"] = *filter.WorkspaceRef
	}
	if filter.AgentType != nil {
		clause += " AND agent_type = $agent_type"
		vars["agent_type"] = *filter.AgentType
	}
	if filter.Status != nil {
		clause += " AND status = $status"
		vars["status"] = *filter.Status
	}
	if filter.StartTime != nil {
		clause += " AND started_at >= $start_time"
		vars["start_time"] = *filter.StartTime
	}
	if filter.EndTime != nil {
		clause += " AND started_at <= $end_time"
		vars["end_time"] = *filter.EndTime
	}

	sql := fmt.Sprintf(`
		SELECT status, started_at, ended_at, message_count, total_tokens
		FROM session %s
	`, clause)

	results, err := query[SessionFacts](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("session facts: %w", err)
	}
	return rows(results), nil
}

// QueryExistingSessionIDs returns which of the given session record ids,
// as produced by SessionID, are already stored. Matching happens on the
// record id itself so the same external session id under two different
// workspaces never collides.
func (c *Client) QueryExistingSessionIDs(ctx context.Context, sessionIDs []string) ([]string, error) {
	if len(sessionIDs) == 0 {
		return []string{}, nil
	}

	results, err := query[string](ctx, c, `
		SELECT VALUE record::id(id) FROM session WHERE record::id(id) IN $ids
	`, map[string]any{"ids": sessionIDs})
	if err != nil {
		return nil, fmt.Errorf("existing session ids: %w", err)
	}
	return rows(results), nil
}

// QueryUpsertTurn writes one turn of a session. The record id is derived from
// the session id and turn index so re-imports are idempotent.
func (c *Client) QueryUpsertTurn(ctx context.Context, sessionID string, index int, turn models.RawTurn) (string, error) {
	id := fmt.Sprintf("%s/t%d", sessionID, index)
	status := turn.Status
	if status == "" {
		status = models.TurnStatusCompleted
	}

	_, err := query[any](ctx, c, `
		UPSERT type::record("turn", $id) SET
			session = type::record("session", $session_id),
			status = $status,
			started_at = $started_at,
			completed_at = $completed_at
	`, map[string]any{
		"id":           id,
		"session_id":   sessionID,
		"status":       status,
		"started_at":   turn.StartedAt,
		"completed_at": turn.CompletedAt,
	})
	if err != nil {
		return "", fmt.Errorf("upsert turn: %w", err)
	}
	return id, nil
}

// QueryUpsertMessage writes one message of a turn, idempotent by (turn, index).
func (c *Client) QueryUpsertMessage(ctx context.Context, turnID string, index int, msg models.RawMessage) error {
	id := fmt.Sprintf("%s/m%d", turnID, index)

	_, err := query[any](ctx, c, `
		UPSERT type::record("message", $id) SET
			turn = type::record("turn", $turn_id),
			role = $role,
			content = $content,
			timestamp = $timestamp,
			metadata = $metadata
	`, map[string]any{
		"id":        id,
		"turn_id":   turnID,
		"role":      msg.Role,
		"content":   msg.Content,
		"timestamp": msg.Timestamp,
		"metadata":  msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}
