package db

import (
	"context"
	"fmt"
	"time"
)

// IngestRunRow is the persisted form of an ingestion run.
type IngestRunRow struct {
	Status            string           `json:"status"`
	TotalSessions     int              `json:"total_sessions"`
	ProcessedSessions int              `json:"processed_sessions"`
	FailedSessions    int              `json:"failed_sessions"`
	Errors            []map[string]any `json:"errors"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
}

// QueryCreateIngestRun persists a new pending run.
func (c *Client) QueryCreateIngestRun(ctx context.Context, runID string, total int) error {
	_, err := query[any](ctx, c, `
		CREATE type::record("ingest_run", $id) SET
			status = "pending",
			total_sessions = $total,
			started_at = time::now()
	`, map[string]any{"id": runID, "total": total})
	if err != nil {
		return fmt.Errorf("create ingest run: %w", err)
	}
	return nil
}

// QueryUpdateIngestRun persists run progress (debounced by the caller).
func (c *Client) QueryUpdateIngestRun(ctx context.Context, runID, status string, processed, failed int) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_run", $id) SET
			status = $status,
			processed_sessions = $processed,
			failed_sessions = $failed
	`, map[string]any{"id": runID, "status": status, "processed": processed, "failed": failed})
	if err != nil {
		return fmt.Errorf("update ingest run: %w", err)
	}
	return nil
}

// QueryFinishIngestRun persists the terminal state of a run.
func (c *Client) QueryFinishIngestRun(ctx context.Context, runID, status string, processed, failed int, errs []map[string]any) error {
	if errs == nil {
		errs = []map[string]any{}
	}
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_run", $id) SET
			status = $status,
			processed_sessions = $processed,
			failed_sessions = $failed,
			errors = $errors,
			finished_at = time::now()
	`, map[string]any{"id": runID, "status": status, "processed": processed, "failed": failed, "errors": errs})
	if err != nil {
		return fmt.Errorf("finish ingest run: %w", err)
	}
	return nil
}

// QueryGetIngestRun retrieves a persisted run. Returns nil if not found.
func (c *Client) QueryGetIngestRun(ctx context.Context, runID string) (*IngestRunRow, error) {
	results, err := query[IngestRunRow](ctx, c, `
		SELECT * FROM type::record("ingest_run", $id)
	`, map[string]any{"id": runID})
	if err != nil {
		return nil, fmt.Errorf("get ingest run: %w", err)
	}
	return first(results), nil
}

// QueryPruneIngestRuns deletes runs that finished before the cutoff.
func (c *Client) QueryPruneIngestRuns(ctx context.Context, cutoff time.Time) error {
	_, err := query[any](ctx, c, `
		DELETE ingest_run WHERE finished_at != NONE AND finished_at < $cutoff
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return fmt.Errorf("prune ingest runs: %w", err)
	}
	return nil
}
