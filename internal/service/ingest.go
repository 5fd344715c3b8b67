package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/metrics"
	"github.com/codervisor/devlog/internal/models"
)

// IngestionPipeline turns exported chat sessions into the persisted
// workspace/session/turn/message hierarchy. Submission is synchronous up to
// validation and run creation; the actual writes happen on a background
// worker pool so large exports do not hold the HTTP request open.
type IngestionPipeline struct {
	src         Source
	resolver    WorkspaceResolver
	runs        *RunManager
	hub         Publisher
	sessions    *SessionStore
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// NewIngestionPipeline creates a pipeline with the given worker concurrency.
func NewIngestionPipeline(
	src Source,
	resolver WorkspaceResolver,
	runs *RunManager,
	hub Publisher,
	sessions *SessionStore,
	concurrency int,
	mc *metrics.Collector,
	logger *slog.Logger,
) *IngestionPipeline {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionPipeline{
		src:         src,
		resolver:    resolver,
		runs:        runs,
		hub:         hub,
		sessions:    sessions,
		concurrency: concurrency,
		logger:      logger,
		metrics:     mc,
	}
}

// IngestChatSessions registers a run and returns its pending snapshot
// immediately; processing continues in the background and is observable
// through RunManager.GetProgress. Malformed sessions fail individually
// inside the run without sinking the rest of the batch.
func (p *IngestionPipeline) IngestChatSessions(ctx context.Context, batch []models.RawChatSession) (*Progress, error) {
	progress, err := p.runs.CreateRun(ctx, len(batch))
	if err != nil {
		return nil, err
	}

	if len(batch) == 0 {
		p.runs.Finish(ctx, progress.RunID, RunStatusCompleted)
		return p.runs.GetProgress(ctx, progress.RunID), nil
	}

	// The run outlives the submitting request.
	go p.process(context.WithoutCancel(ctx), progress.RunID, batch)

	return progress, nil
}

func (p *IngestionPipeline) process(ctx context.Context, runID string, batch []models.RawChatSession) {
	p.runs.SetRunning(ctx, runID)

	store, release, err := p.src.Acquire(ctx)
	if err != nil {
		p.logger.Error("import run aborted, store unavailable", "run_id", runID, "error", err)
		p.abort(ctx, runID, err)
		return
	}
	defer release()

	var (
		succeeded atomic.Int32
		failed    atomic.Int32
	)

	// Malformed sessions fail here as individual items; duplicate external
	// ids within the batch are skipped, first occurrence wins.
	type workItem struct {
		index int
		raw   models.RawChatSession
	}
	seen := make(map[string]struct{}, len(batch))
	var work []workItem
	for i, raw := range batch {
		if err := validateRawSession(raw); err != nil {
			failed.Add(1)
			itemErr := newItemError(i, raw.ExternalID, fmt.Errorf("%w: %v", ErrValidation, err))
			p.runs.RecordItem(ctx, runID, &itemErr, false)
			continue
		}
		id := db.SessionID(raw.WorkspaceRef, raw.ExternalID)
		if _, dup := seen[id]; dup {
			p.runs.RecordItem(ctx, runID, nil, true)
			continue
		}
		seen[id] = struct{}{}
		work = append(work, workItem{index: i, raw: raw})
	}

	// Already-ingested sessions are skipped, not re-imported.
	sessionIDs := make([]string, 0, len(work))
	for _, w := range work {
		sessionIDs = append(sessionIDs, db.SessionID(w.raw.WorkspaceRef, w.raw.ExternalID))
	}
	existing, err := store.QueryExistingSessionIDs(ctx, sessionIDs)
	if err != nil {
		p.logger.Error("import run aborted", "run_id", runID, "error", err)
		p.abort(ctx, runID, err)
		return
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	workChan := make(chan workItem, len(work))
	var wg sync.WaitGroup

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for item := range workChan {
				if ctx.Err() != nil {
					return
				}

				id := db.SessionID(item.raw.WorkspaceRef, item.raw.ExternalID)
				if _, dup := existingSet[id]; dup {
					p.runs.RecordItem(ctx, runID, nil, true)
					continue
				}

				p.logger.Debug("ingesting session", "worker", workerID, "run_id", runID, "session", id)
				session, err := p.ingestOne(ctx, store, item.raw)
				if err != nil {
					failed.Add(1)
					itemErr := newItemError(item.index, item.raw.ExternalID, err)
					p.runs.RecordItem(ctx, runID, &itemErr, false)
					p.logger.Warn("session ingest failed", "run_id", runID, "session", id, "error", err)
					continue
				}

				succeeded.Add(1)
				p.runs.RecordItem(ctx, runID, nil, false)
				if p.sessions != nil {
					p.sessions.cache.put(*session)
				}
				if p.hub != nil {
					p.hub.Publish("session.imported", session)
				}
			}
		}(i)
	}

	for _, w := range work {
		workChan <- w
	}
	close(workChan)
	wg.Wait()

	status := RunStatusCompleted
	if failed.Load() > 0 && succeeded.Load() == 0 {
		// Nothing useful landed: skips alone still count as success.
		status = RunStatusFailed
	}
	p.runs.Finish(ctx, runID, status)
}

// ingestOne writes a single chat session: hierarchy first, then turns and
// messages, then the session row, so a session never references entities
// that do not exist yet.
func (p *IngestionPipeline) ingestOne(ctx context.Context, store Store, raw models.RawChatSession) (*models.Session, error) {
	if p.metrics != nil {
		defer p.metrics.TimeOp(metrics.OpIngestSession)()
	}

	wsCtx, err := p.resolver.ResolveWorkspace(ctx, raw.WorkspaceRef, raw.Hints)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	sessionID := db.SessionID(raw.WorkspaceRef, raw.ExternalID)
	for ti, turn := range raw.Turns {
		turnID, err := store.QueryUpsertTurn(ctx, sessionID, ti, turn)
		if err != nil {
			return nil, fmt.Errorf("write turn %d: %w", ti, err)
		}
		for mi, msg := range turn.Messages {
			if err := store.QueryUpsertMessage(ctx, turnID, mi, msg); err != nil {
				return nil, fmt.Errorf("write message %d/%d: %w", ti, mi, err)
			}
		}
	}

	status := models.SessionStatusActive
	if raw.EndedAt != nil {
		status = models.SessionStatusCompleted
	}
	in := models.Session{
		ExternalSessionID: raw.ExternalID,
		AgentType:         raw.AgentType,
		ModelID:           raw.ModelID,
		StartedAt:         raw.StartedAt,
		EndedAt:           raw.EndedAt,
		MessageCount:      raw.MessageCount(),
		TotalTokens:       raw.TokenCount(),
		Status:            status,
	}
	session, _, err := store.QueryUpsertSession(ctx, in, wsCtx.Workspace.WorkspaceRef)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	return session, nil
}

// abort fails the run, attributing the infrastructure error to it.
func (p *IngestionPipeline) abort(ctx context.Context, runID string, cause error) {
	itemErr := newItemError(0, "", fmt.Errorf("%w: %v", ErrInfrastructure, cause))
	p.runs.RecordItem(ctx, runID, &itemErr, false)
	p.runs.Finish(ctx, runID, RunStatusFailed)
}

func validateRawSession(raw models.RawChatSession) error {
	switch {
	case raw.ExternalID == "":
		return fmt.Errorf("missing external session id")
	case raw.WorkspaceRef == "":
		return fmt.Errorf("missing workspace reference")
	case raw.AgentType == "":
		return fmt.Errorf("missing agent type")
	case raw.StartedAt.IsZero():
		return fmt.Errorf("missing start time")
	}
	for ti, turn := range raw.Turns {
		for mi, msg := range turn.Messages {
			if msg.Role == "" {
				return fmt.Errorf("turn %d message %d: missing role", ti, mi)
			}
		}
	}
	return nil
}
