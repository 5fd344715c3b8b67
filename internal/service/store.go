package service

import (
	"context"
	"fmt"
	"time"

	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/models"
	"github.com/codervisor/devlog/internal/pool"
)

// Store is the persistence surface the services depend on. *db.Client
// implements it; tests substitute an in-memory fake.
type Store interface {
	// Hierarchy.
	QueryGetWorkspaceByRef(ctx context.Context, ref string) (*models.Workspace, error)
	QueryGetApplication(ctx context.Context, id string) (*models.Application, error)
	QueryGetMachine(ctx context.Context, hostname string) (*models.Machine, error)
	QueryUpsertApplication(ctx context.Context, platform, path, name string, parser *string) (*models.Application, bool, error)
	QueryUpsertMachine(ctx context.Context, hostname string, username, osType *string) (*models.Machine, bool, error)
	QueryUpsertWorkspace(ctx context.Context, ref, applicationID, machineHostname, path string, repoURL *string) (*models.Workspace, bool, error)
	QueryLinkWorkspaceProject(ctx context.Context, ref, projectID string) error

	// Sessions.
	QueryGetSession(ctx context.Context, id string) (*models.Session, error)
	QueryUpsertSession(ctx context.Context, in models.Session, workspaceRef string) (*models.Session, bool, error)
	QueryListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	QueryEndSession(ctx context.Context, id string, outcome *string) (*models.Session, error)
	QuerySessionFacts(ctx context.Context, filter models.SessionFilter) ([]db.SessionFacts, error)
	QueryExistingSessionIDs(ctx context.Context, sessionIDs []string) ([]string, error)
	QueryUpsertTurn(ctx context.Context, sessionID string, index int, turn models.RawTurn) (string, error)
	QueryUpsertMessage(ctx context.Context, turnID string, index int, msg models.RawMessage) error

	// Events.
	QueryExistingEventIDs(ctx context.Context, ids []string) ([]string, error)
	QueryCreateEvent(ctx context.Context, ev models.AgentEvent) error
	QueryGetEvents(ctx context.Context, filter models.EventFilter) ([]models.AgentEvent, error)

	// Ingest runs.
	QueryCreateIngestRun(ctx context.Context, runID string, total int) error
	QueryUpdateIngestRun(ctx context.Context, runID, status string, processed, failed int) error
	QueryFinishIngestRun(ctx context.Context, runID, status string, processed, failed int, errs []map[string]any) error
	QueryGetIngestRun(ctx context.Context, runID string) (*db.IngestRunRow, error)
	QueryPruneIngestRuns(ctx context.Context, cutoff time.Time) error
}

// Source yields the live store, or ErrDegraded when the backing connection is
// down. The release func must be called when the caller is done.
type Source interface {
	Acquire(ctx context.Context) (Store, func(), error)
}

// PoolSource adapts a connection pool entry to a Source.
type PoolSource struct {
	Pool *pool.Pool[*db.Client]
	Key  string
}

func (s *PoolSource) Acquire(ctx context.Context) (Store, func(), error) {
	key := s.Key
	if key == "" {
		key = pool.DefaultKey
	}
	h, err := s.Pool.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire store: %w", err)
	}
	if h.Degraded() {
		connectErr := h.ConnectErr()
		h.Release()
		return nil, nil, fmt.Errorf("%w: %v", ErrDegraded, connectErr)
	}
	return h.Value(), h.Release, nil
}

// StaticSource serves a fixed store. Used in tests and single-connection
// setups.
type StaticSource struct {
	Store Store
	Err   error
}

func (s *StaticSource) Acquire(ctx context.Context) (Store, func(), error) {
	if s.Err != nil {
		return nil, nil, s.Err
	}
	return s.Store, func() {}, nil
}

// Publisher is the fan-out surface the services publish envelopes to.
// hub.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// WorkspaceResolver resolves a workspace reference into its hierarchy
// context. hierarchy.Resolver implements it.
type WorkspaceResolver interface {
	ResolveWorkspace(ctx context.Context, ref string, hints *models.WorkspaceHints) (*models.WorkspaceContext, error)
}
