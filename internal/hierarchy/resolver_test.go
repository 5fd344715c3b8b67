package hierarchy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/models"
	"github.com/codervisor/devlog/internal/service"
)

// fakeStore implements the hierarchy queries over maps; the embedded nil
// interface covers the store methods the resolver never touches.
type fakeStore struct {
	service.Store

	mu           sync.Mutex
	applications map[string]models.Application
	machines     map[string]models.Machine
	workspaces   map[string]models.Workspace
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		applications: make(map[string]models.Application),
		machines:     make(map[string]models.Machine),
		workspaces:   make(map[string]models.Workspace),
	}
}

func (f *fakeStore) QueryGetWorkspaceByRef(ctx context.Context, ref string) (*models.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ws, ok := f.workspaces[ref]; ok {
		return &ws, nil
	}
	return nil, nil
}

func (f *fakeStore) QueryGetApplication(ctx context.Context, id string) (*models.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if app, ok := f.applications[id]; ok {
		return &app, nil
	}
	return nil, nil
}

func (f *fakeStore) QueryGetMachine(ctx context.Context, hostname string) (*models.Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.machines[hostname]; ok {
		return &m, nil
	}
	return nil, nil
}

func (f *fakeStore) QueryUpsertApplication(ctx context.Context, platform, path, name string, parser *string) (*models.Application, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := db.ApplicationID(platform, path)
	_, existed := f.applications[id]
	app := models.Application{
		ID:       surrealmodels.NewRecordID("application", id),
		Name:     name,
		Path:     path,
		Platform: platform,
		Parser:   parser,
	}
	f.applications[id] = app
	return &app, !existed, nil
}

func (f *fakeStore) QueryUpsertMachine(ctx context.Context, hostname string, username, osType *string) (*models.Machine, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.machines[hostname]
	m := models.Machine{
		ID:       surrealmodels.NewRecordID("machine", hostname),
		Hostname: hostname,
		Username: username,
		OSType:   osType,
	}
	f.machines[hostname] = m
	return &m, !existed, nil
}

func (f *fakeStore) QueryUpsertWorkspace(ctx context.Context, ref, applicationID, machineHostname, path string, repoURL *string) (*models.Workspace, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.workspaces[ref]
	ws := models.Workspace{
		ID:           surrealmodels.NewRecordID("workspace", ref),
		WorkspaceRef: ref,
		Application:  surrealmodels.NewRecordID("application", applicationID),
		Machine:      surrealmodels.NewRecordID("machine", machineHostname),
		Path:         path,
		RepoURL:      repoURL,
		LastSeenAt:   time.Now(),
	}
	f.workspaces[ref] = ws
	return &ws, !existed, nil
}

func testHints() *models.WorkspaceHints {
	return &models.WorkspaceHints{
		Platform:      "vscode",
		AppPath:       "/usr/share/code",
		AppName:       "Visual Studio Code",
		Hostname:      "dev-laptop",
		WorkspacePath: "/home/dev/projects/devlog",
	}
}

func TestResolveCreatesFullHierarchy(t *testing.T) {
	r := NewResolver(&service.StaticSource{Store: newFakeStore()}, nil, nil)

	got, err := r.ResolveWorkspace(context.Background(), "ws-abc", testHints())
	require.NoError(t, err)

	assert.True(t, got.Created.Application)
	assert.True(t, got.Created.Machine)
	assert.True(t, got.Created.Workspace)
	assert.Equal(t, "Visual Studio Code", got.Application.Name)
	assert.Equal(t, "dev-laptop", got.Machine.Hostname)
	assert.Equal(t, "ws-abc", got.Workspace.WorkspaceRef)
	assert.Equal(t, "/home/dev/projects/devlog", got.Workspace.Path)
}

func TestRepeatResolutionCreatesNothing(t *testing.T) {
	r := NewResolver(&service.StaticSource{Store: newFakeStore()}, nil, nil)
	ctx := context.Background()

	first, err := r.ResolveWorkspace(ctx, "ws-abc", testHints())
	require.NoError(t, err)
	second, err := r.ResolveWorkspace(ctx, "ws-abc", testHints())
	require.NoError(t, err)

	assert.Equal(t, models.CreatedSet{}, second.Created)
	assert.Equal(t, first.Workspace.ID, second.Workspace.ID)
	assert.Equal(t, first.Application.ID, second.Application.ID)
	assert.Equal(t, first.Machine.ID, second.Machine.ID)
}

func TestSharedEntitiesAreReused(t *testing.T) {
	fake := newFakeStore()
	r := NewResolver(&service.StaticSource{Store: fake}, nil, nil)
	ctx := context.Background()

	_, err := r.ResolveWorkspace(ctx, "ws-one", testHints())
	require.NoError(t, err)

	// Second workspace from the same editor on the same machine.
	hints := testHints()
	hints.WorkspacePath = "/home/dev/projects/other"
	got, err := r.ResolveWorkspace(ctx, "ws-two", hints)
	require.NoError(t, err)

	assert.False(t, got.Created.Application)
	assert.False(t, got.Created.Machine)
	assert.True(t, got.Created.Workspace)
	assert.Len(t, fake.applications, 1)
	assert.Len(t, fake.machines, 1)
	assert.Len(t, fake.workspaces, 2)
}

func TestStrictLookupUnknownIsNotFound(t *testing.T) {
	r := NewResolver(&service.StaticSource{Store: newFakeStore()}, nil, nil)

	_, err := r.ResolveWorkspace(context.Background(), "ws-ghost", nil)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestStrictLookupReturnsFullContext(t *testing.T) {
	r := NewResolver(&service.StaticSource{Store: newFakeStore()}, nil, nil)
	ctx := context.Background()

	_, err := r.ResolveWorkspace(ctx, "ws-abc", testHints())
	require.NoError(t, err)

	got, err := r.ResolveWorkspace(ctx, "ws-abc", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CreatedSet{}, got.Created)
	assert.Equal(t, "vscode", got.Application.Platform)
	assert.Equal(t, "dev-laptop", got.Machine.Hostname)
}

func TestResolveRejectsBadInput(t *testing.T) {
	r := NewResolver(&service.StaticSource{Store: newFakeStore()}, nil, nil)
	ctx := context.Background()

	_, err := r.ResolveWorkspace(ctx, "", testHints())
	assert.ErrorIs(t, err, service.ErrValidation)

	hints := testHints()
	hints.Hostname = ""
	_, err = r.ResolveWorkspace(ctx, "ws-abc", hints)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestAppNameFallsBackToPathBase(t *testing.T) {
	r := NewResolver(&service.StaticSource{Store: newFakeStore()}, nil, nil)

	hints := testHints()
	hints.AppName = ""
	got, err := r.ResolveWorkspace(context.Background(), "ws-abc", hints)
	require.NoError(t, err)
	assert.Equal(t, "code", got.Application.Name)
}
