package db

import (
	"context"
	"fmt"

	"github.com/codervisor/devlog/internal/models"
)

// QueryExistingEventIDs returns which of the given event ids already exist.
func (c *Client) QueryExistingEventIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	results, err := query[struct {
		ID string `json:"event_id"`
	}](ctx, c, `
		SELECT event_id FROM agent_event WHERE event_id IN $ids
	`, map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("existing event ids: %w", err)
	}

	out := make([]string, 0, len(ids))
	for _, r := range rows(results) {
		out = append(out, r.ID)
	}
	return out, nil
}

// QueryCreateEvent writes one immutable agent event. The record id is the
// collector-assigned event id, so a duplicate insert fails with
// ErrAlreadyExists and the caller counts it as skipped.
func (c *Client) QueryCreateEvent(ctx context.Context, ev models.AgentEvent) error {
	severity := ev.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}

	var metricsMap map[string]any
	if ev.Metrics != nil {
		metricsMap = map[string]any{
			"token_count":     ev.Metrics.TokenCount,
			"prompt_tokens":   ev.Metrics.PromptTokens,
			"response_tokens": ev.Metrics.ResponseTokens,
			"duration_ms":     ev.Metrics.DurationMs,
			"cost":            ev.Metrics.Cost,
		}
	}

	_, err := query[any](ctx, c, `
		CREATE type::record("agent_event", $id) SET
			event_id = $id,
			timestamp = $timestamp,
			event_type = $event_type,
			agent_id = $agent_id,
			session_id = $session_id,
			project_id = $project_id,
			context = $context,
			data = $data,
			metrics = $metrics,
			parent_event_id = $parent_event_id,
			severity = $severity
	`, map[string]any{
		"id":              ev.ID,
		"timestamp":       ev.Timestamp,
		"event_type":      ev.EventType,
		"agent_id":        ev.AgentID,
		"session_id":      ev.SessionID,
		"project_id":      ev.ProjectID,
		"context":         ev.Context,
		"data":            ev.Data,
		"metrics":         metricsMap,
		"parent_event_id": ev.ParentEventID,
		"severity":        severity,
	})
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// QueryGetEvents returns events matching the filter, ordered by timestamp
// ascending. Limit is always applied.
func (c *Client) QueryGetEvents(ctx context.Context, filter models.EventFilter) ([]models.AgentEvent, error) {
	clause := "WHERE true"
	vars := map[string]any{"limit": filter.Limit}

	if filter.ProjectID != nil {
		clause += " AND project_id = $project_id"
		vars["project_id"] = *filter.ProjectID
	}
	if filter.SessionID != nil {
		clause += " AND session_id = $session_id"
		vars["session_id"] = *filter.SessionID
	}
	if filter.EventType != nil {
		clause += " AND event_type = $event_type"
		vars["event_type"] = *filter.EventType
	}
	if filter.StartTime != nil {
		clause += " AND timestamp >= $start_time"
		vars["start_time"] = *filter.StartTime
	}
	if filter.EndTime != nil {
		clause += " AND timestamp <= $end_time"
		vars["end_time"] = *filter.EndTime
	}

	sql := fmt.Sprintf(`
		SELECT event_id, timestamp, event_type, agent_id, session_id,
			project_id, context, data, metrics, parent_event_id, severity
		FROM agent_event %s
		ORDER BY timestamp ASC
		LIMIT $limit
	`, clause)

	results, err := query[models.AgentEvent](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return rows(results), nil
}
