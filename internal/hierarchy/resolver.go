// Package hierarchy resolves opaque workspace references into the
// application/machine/workspace hierarchy.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/metrics"
	"github.com/codervisor/devlog/internal/models"
	"github.com/codervisor/devlog/internal/service"
)

// Resolver resolves workspace references. With hints it creates any missing
// hierarchy entities; without hints it is a strict lookup. Resolution is
// idempotent: record ids derive from the natural keys, so concurrent
// resolutions of the same reference converge on the same rows and a repeat
// resolution creates nothing.
type Resolver struct {
	src     service.Source
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewResolver creates a resolver over the given store source.
func NewResolver(src service.Source, mc *metrics.Collector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{src: src, logger: logger, metrics: mc}
}

// ResolveWorkspace resolves ref into its full hierarchy context. A nil hints
// value makes this a strict lookup that fails with service.ErrNotFound for
// unknown references; with hints, missing entities are created and reported
// in the returned CreatedSet.
func (r *Resolver) ResolveWorkspace(ctx context.Context, ref string, hints *models.WorkspaceHints) (*models.WorkspaceContext, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty workspace reference", service.ErrValidation)
	}
	if r.metrics != nil {
		defer r.metrics.TimeOp(metrics.OpResolveWorkspace)()
	}

	store, release, err := r.src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if hints == nil {
		return r.lookup(ctx, store, ref)
	}
	return r.resolveWithCreation(ctx, store, ref, hints)
}

func (r *Resolver) lookup(ctx context.Context, store service.Store, ref string) (*models.WorkspaceContext, error) {
	ws, err := store.QueryGetWorkspaceByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup workspace: %v", service.ErrInfrastructure, err)
	}
	if ws == nil {
		return nil, fmt.Errorf("%w: workspace %q", service.ErrNotFound, ref)
	}
	return r.loadContext(ctx, store, ws, models.CreatedSet{})
}

func (r *Resolver) resolveWithCreation(ctx context.Context, store service.Store, ref string, hints *models.WorkspaceHints) (*models.WorkspaceContext, error) {
	if err := validateHints(hints); err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrValidation, err)
	}

	appName := hints.AppName
	if appName == "" {
		appName = filepath.Base(hints.AppPath)
	}

	app, appCreated, err := store.QueryUpsertApplication(ctx, hints.Platform, hints.AppPath, appName, hints.Parser)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert application: %v", service.ErrInfrastructure, err)
	}
	machine, machineCreated, err := store.QueryUpsertMachine(ctx, hints.Hostname, hints.Username, hints.OSType)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert machine: %v", service.ErrInfrastructure, err)
	}
	ws, wsCreated, err := store.QueryUpsertWorkspace(ctx,
		ref,
		db.ApplicationID(hints.Platform, hints.AppPath),
		hints.Hostname,
		hints.WorkspacePath,
		hints.RepoURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert workspace: %v", service.ErrInfrastructure, err)
	}

	created := models.CreatedSet{
		Application: appCreated,
		Machine:     machineCreated,
		Workspace:   wsCreated,
	}
	if created.Workspace {
		r.logger.Info("workspace registered",
			"ref", ref,
			"application", app.Name,
			"machine", machine.Hostname,
			"path", hints.WorkspacePath)
	}

	return buildContext(app, machine, ws, created), nil
}

// loadContext fills in the application and machine rows a looked-up
// workspace links to.
func (r *Resolver) loadContext(ctx context.Context, store service.Store, ws *models.Workspace, created models.CreatedSet) (*models.WorkspaceContext, error) {
	appID, err := models.RecordIDString(ws.Application)
	if err != nil {
		return nil, fmt.Errorf("%w: workspace application link: %v", service.ErrInfrastructure, err)
	}
	machineID, err := models.RecordIDString(ws.Machine)
	if err != nil {
		return nil, fmt.Errorf("%w: workspace machine link: %v", service.ErrInfrastructure, err)
	}

	app, err := store.QueryGetApplication(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("%w: load application: %v", service.ErrInfrastructure, err)
	}
	machine, err := store.QueryGetMachine(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("%w: load machine: %v", service.ErrInfrastructure, err)
	}
	if app == nil || machine == nil {
		return nil, fmt.Errorf("%w: workspace %q has dangling hierarchy links", service.ErrInfrastructure, ws.WorkspaceRef)
	}
	return buildContext(app, machine, ws, created), nil
}

func buildContext(app *models.Application, machine *models.Machine, ws *models.Workspace, created models.CreatedSet) *models.WorkspaceContext {
	wc := &models.WorkspaceContext{
		Application: *app,
		Machine:     *machine,
		Workspace:   *ws,
		Created:     created,
	}
	if ws.Project != nil {
		if id, err := models.RecordIDString(*ws.Project); err == nil {
			wc.ProjectID = &id
		}
	}
	return wc
}

func validateHints(h *models.WorkspaceHints) error {
	switch {
	case h.Platform == "":
		return fmt.Errorf("missing platform")
	case h.AppPath == "":
		return fmt.Errorf("missing application path")
	case h.Hostname == "":
		return fmt.Errorf("missing hostname")
	case h.WorkspacePath == "":
		return fmt.Errorf("missing workspace path")
	}
	return nil
}
