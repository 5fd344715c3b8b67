package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/models"
)

// fakeStore is an in-memory Store for unit tests. Behavior mirrors the
// SurrealDB-backed client: deterministic record ids, upsert convergence,
// duplicate event ids rejected with db.ErrAlreadyExists.
type fakeStore struct {
	mu           sync.Mutex
	applications map[string]models.Application
	machines     map[string]models.Machine
	workspaces   map[string]models.Workspace
	sessions     map[string]models.Session
	turns        map[string]models.RawTurn
	messages     map[string]models.RawMessage
	events       map[string]models.AgentEvent
	runs         map[string]*db.IngestRunRow

	// Injected failures.
	createEventErr   map[string]error
	upsertSessionErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		applications:     make(map[string]models.Application),
		machines:         make(map[string]models.Machine),
		workspaces:       make(map[string]models.Workspace),
		sessions:         make(map[string]models.Session),
		turns:            make(map[string]models.RawTurn),
		messages:         make(map[string]models.RawMessage),
		events:           make(map[string]models.AgentEvent),
		runs:             make(map[string]*db.IngestRunRow),
		createEventErr:   make(map[string]error),
		upsertSessionErr: make(map[string]error),
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

func (f *fakeStore) QueryLinkWorkspaceProject(ctx context.Context, ref, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[ref]
	if !ok {
		return nil
	}
	pid := surrealmodels.NewRecordID("project", projectID)
	ws.Project = &pid
	f.workspaces[ref] = ws
	return nil
}

func (f *fakeStore) QueryGetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeStore) QueryUpsertSession(ctx context.Context, in models.Session, workspaceRef string) (*models.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := db.SessionID(workspaceRef, in.ExternalSessionID)
	if err, ok := f.upsertSessionErr[id]; ok {
		return nil, false, err
	}
	existing, existed := f.sessions[id]

	s := in
	s.ID = surrealmodels.NewRecordID("session", id)
	s.Workspace = surrealmodels.NewRecordID("workspace", workspaceRef)
	if existed {
		// Monotonic counters, sticky completion.
		s.MessageCount = max(existing.MessageCount, in.MessageCount)
		s.TotalTokens = max(existing.TotalTokens, in.TotalTokens)
		if existing.Status == models.SessionStatusCompleted {
			s.Status = existing.Status
		}
		if in.EndedAt == nil {
			s.EndedAt = existing.EndedAt
		}
	}
	f.sessions[id] = s
	return &s, !existed, nil
}

func (f *fakeStore) QueryListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		if matchesSessionFilter(s, filter) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b models.Session) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) QueryEndSession(ctx context.Context, id string, outcome *string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.SessionStatusActive {
		return nil, nil
	}
	now := time.Now()
	s.Status = models.SessionStatusCompleted
	s.EndedAt = &now
	s.Outcome = outcome
	f.sessions[id] = s
	return &s, nil
}

func (f *fakeStore) QuerySessionFacts(ctx context.Context, filter models.SessionFilter) ([]db.SessionFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var facts []db.SessionFacts
	for _, s := range f.sessions {
		if !matchesSessionFilter(s, filter) {
			continue
		}
		facts = append(facts, db.SessionFacts{
			Status:       s.Status,
			StartedAt:    s.StartedAt,
			EndedAt:      s.EndedAt,
			MessageCount: s.MessageCount,
			TotalTokens:  s.TotalTokens,
		})
	}
	return facts, nil
}

func (f *fakeStore) QueryExistingSessionIDs(ctx context.Context, sessionIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var existing []string
	for _, id := range sessionIDs {
		if _, ok := f.sessions[id]; ok {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

func (f *fakeStore) QueryUpsertTurn(ctx context.Context, sessionID string, index int, turn models.RawTurn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("%s/t%d", sessionID, index)
	f.turns[id] = turn
	return id, nil
}

func (f *fakeStore) QueryUpsertMessage(ctx context.Context, turnID string, index int, msg models.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[fmt.Sprintf("%s/m%d", turnID, index)] = msg
	return nil
}

func (f *fakeStore) QueryExistingEventIDs(ctx context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var existing []string
	for _, id := range ids {
		if _, ok := f.events[id]; ok {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

func (f *fakeStore) QueryCreateEvent(ctx context.Context, ev models.AgentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.createEventErr[ev.ID]; ok {
		return err
	}
	if _, dup := f.events[ev.ID]; dup {
		return db.ErrAlreadyExists
	}
	f.events[ev.ID] = ev
	return nil
}

func (f *fakeStore) QueryGetEvents(ctx context.Context, filter models.EventFilter) ([]models.AgentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AgentEvent, 0, len(f.events))
	for _, ev := range f.events {
		if matchesEventFilter(ev, filter) {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b models.AgentEvent) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) QueryCreateIngestRun(ctx context.Context, runID string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID] = &db.IngestRunRow{
		Status:        string(RunStatusPending),
		TotalSessions: total,
		StartedAt:     time.Now(),
	}
	return nil
}

func (f *fakeStore) QueryUpdateIngestRun(ctx context.Context, runID, status string, processed, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		r.Status = status
		r.ProcessedSessions = processed
		r.FailedSessions = failed
	}
	return nil
}

func (f *fakeStore) QueryFinishIngestRun(ctx context.Context, runID, status string, processed, failed int, errs []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		r.Status = status
		r.ProcessedSessions = processed
		r.FailedSessions = failed
		r.Errors = errs
		now := time.Now()
		r.FinishedAt = &now
	}
	return nil
}

func (f *fakeStore) QueryGetIngestRun(ctx context.Context, runID string) (*db.IngestRunRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		row := *r
		return &row, nil
	}
	return nil, nil
}

func (f *fakeStore) QueryPruneIngestRuns(ctx context.Context, cutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.runs {
		if r.FinishedAt != nil && r.FinishedAt.Before(cutoff) {
			delete(f.runs, id)
		}
	}
	return nil
}

var _ Store = (*fakeStore)(nil)
