// Package db provides SurrealDB query functions for hierarchy operations.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/codervisor/devlog/internal/models"
)

// query executes a typed SurrealQL query, recording timing and mapping known
// SurrealDB errors to sentinels. Each result set holds a slice of T rows.
func query[T any](ctx context.Context, c *Client, sql string, vars map[string]any) (*[]surrealdb.QueryResult[[]T], error) {
	start := time.Now()
	results, err := surrealdb.Query[[]T](ctx, c.db, sql, vars)
	c.recordTiming(time.Since(start))
	return results, wrapQueryError(err)
}

// first extracts the first row of the first result set, or nil.
func first[T any](results *[]surrealdb.QueryResult[[]T]) *T {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil
	}
	return &(*results)[0].Result[0]
}

// rows extracts the rows of the first result set, never nil.
func rows[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return []T{}
	}
	return (*results)[0].Result
}

// ApplicationID derives the deterministic application record id from its
// natural key. Concurrent upserts of the same (platform, path) converge on
// one row because they target the same record.
func ApplicationID(platform, path string) string {
	return platform + "|" + path
}

// QueryGetWorkspaceByRef retrieves a workspace by its reference.
// Returns nil if not found.
func (c *Client) QueryGetWorkspaceByRef(ctx context.Context, ref string) (*models.Workspace, error) {
	results, err := query[models.Workspace](ctx, c, `
		SELECT * FROM type::record("workspace", $ref)
	`, map[string]any{"ref": ref})
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return first(results), nil
}

// QueryGetApplication retrieves an application by record id string.
func (c *Client) QueryGetApplication(ctx context.Context, id string) (*models.Application, error) {
	results, err := query[models.Application](ctx, c, `
		SELECT * FROM type::record("application", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return first(results), nil
}

// QueryGetMachine retrieves a machine by hostname.
func (c *Client) QueryGetMachine(ctx context.Context, hostname string) (*models.Machine, error) {
	results, err := query[models.Machine](ctx, c, `
		SELECT * FROM type::record("machine", $hostname)
	`, map[string]any{"hostname": hostname})
	if err != nil {
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return first(results), nil
}

// QueryUpsertApplication creates or updates an application.
// Returns (application, wasCreated, error).
func (c *Client) QueryUpsertApplication(
	ctx context.Context,
	platform string,
	path string,
	name string,
	parser *string,
) (*models.Application, bool, error) {
	id := ApplicationID(platform, path)

	wasCreated, err := c.recordMissing(ctx, "application", id)
	if err != nil {
		return nil, false, fmt.Errorf("check application exists: %w", err)
	}

	results, err := query[models.Application](ctx, c, `
		UPSERT type::record("application", $id) SET
			name = $name,
			path = $path,
			platform = $platform,
			parser = $parser
		RETURN AFTER
	`, map[string]any{
		"id":       id,
		"name":     name,
		"path":     path,
		"platform": platform,
		"parser":   parser,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert application: %w", err)
	}

	app := first(results)
	if app == nil {
		return nil, false, fmt.Errorf("upsert application: no result returned")
	}
	return app, wasCreated, nil
}

// QueryUpsertMachine creates or updates a machine keyed by hostname.
// Returns (machine, wasCreated, error).
func (c *Client) QueryUpsertMachine(
	ctx context.Context,
	hostname string,
	username *string,
	osType *string,
) (*models.Machine, bool, error) {
	wasCreated, err := c.recordMissing(ctx, "machine", hostname)
	if err != nil {
		return nil, false, fmt.Errorf("check machine exists: %w", err)
	}

	results, err := query[models.Machine](ctx, c, `
		UPSERT type::record("machine", $hostname) SET
			hostname = $hostname,
			username = $username,
			os_type = $os_type
		RETURN AFTER
	`, map[string]any{
		"hostname": hostname,
		"username": username,
		"os_type":  osType,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert machine: %w", err)
	}

	machine := first(results)
	if machine == nil {
		return nil, false, fmt.Errorf("upsert machine: no result returned")
	}
	return machine, wasCreated, nil
}

// QueryUpsertWorkspace creates or updates a workspace keyed by its reference.
// Non-key fields are last-writer-wins; identity fields converge because the
// record id is the reference itself. Returns (workspace, wasCreated, error).
func (c *Client) QueryUpsertWorkspace(
	ctx context.Context,
	ref string,
	applicationID string,
	machineHostname string,
	path string,
	repoURL *string,
) (*models.Workspace, bool, error) {
	wasCreated, err := c.recordMissing(ctx, "workspace", ref)
	if err != nil {
		return nil, false, fmt.Errorf("check workspace exists: %w", err)
	}

	results, err := query[models.Workspace](ctx, c, `
		UPSERT type::record("workspace", $ref) SET
			workspace_ref = $ref,
			application = type::record("application", $application_id),
			machine = type::record("machine", $hostname),
			path = $path,
			repo_url = $repo_url,
			last_seen_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"ref":            ref,
		"application_id": applicationID,
		"hostname":       machineHostname,
		"path":           path,
		"repo_url":       repoURL,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert workspace: %w", err)
	}

	ws := first(results)
	if ws == nil {
		return nil, false, fmt.Errorf("upsert workspace: no result returned")
	}
	return ws, wasCreated, nil
}

// QueryLinkWorkspaceProject sets the project link on a workspace.
func (c *Client) QueryLinkWorkspaceProject(ctx context.Context, ref, projectID string) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("workspace", $ref) SET project = type::record("project", $project_id)
	`, map[string]any{"ref": ref, "project_id": projectID})
	if err != nil {
		return fmt.Errorf("link workspace project: %w", err)
	}
	return nil
}

// recordMissing reports whether no record with the given id exists yet.
func (c *Client) recordMissing(ctx context.Context, table, id string) (bool, error) {
	results, err := query[struct {
		C int `json:"c"`
	}](ctx, c, fmt.Sprintf(`SELECT count() AS c FROM type::record("%s", $id)`, table),
		map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	row := first(results)
	return row == nil || row.C == 0, nil
}
