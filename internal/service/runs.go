package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the state of an import run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Progress is a point-in-time snapshot of an import run. ProcessedSessions
// counts sessions that were handled successfully, including skips;
// FailedSessions is disjoint from it, so processed+failed never exceeds
// total. SkippedSessions is the skip subset of ProcessedSessions.
type Progress struct {
	RunID             string      `json:"run_id"`
	Status            RunStatus   `json:"status"`
	TotalSessions     int         `json:"total_sessions"`
	ProcessedSessions int         `json:"processed_sessions"`
	FailedSessions    int         `json:"failed_sessions"`
	SkippedSessions   int         `json:"skipped_sessions"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        *time.Time  `json:"finished_at,omitempty"`
	Errors            []ItemError `json:"errors,omitempty"`
}

// Percentage returns the run's completion in whole percent. A run with no
// sessions reports 0, terminal or not.
func (p Progress) Percentage() int {
	if p.TotalSessions <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(p.ProcessedSessions) / float64(p.TotalSessions)))
}

// MarshalJSON includes the derived percentage so API consumers read it
// instead of re-deriving it.
func (p Progress) MarshalJSON() ([]byte, error) {
	type progressAlias Progress
	return json.Marshal(struct {
		progressAlias
		Percentage int `json:"percentage"`
	}{progressAlias(p), p.Percentage()})
}

type run struct {
	mu sync.Mutex
	Progress

	// Debounce for DB persistence of progress updates.
	lastPersist time.Time
}

func (r *run) snapshot() *Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.Progress
	p.Errors = append([]ItemError(nil), r.Errors...)
	return &p
}

// RunManager tracks import runs in memory and mirrors their state to the
// store so progress survives a restart. Counters only ever grow, and a run
// reaches a terminal status exactly once.
type RunManager struct {
	mu   sync.RWMutex
	runs map[string]*run

	src       Source
	retention time.Duration
	logger    *slog.Logger
}

// NewRunManager creates a run manager. Finished runs are forgotten after the
// retention window.
func NewRunManager(src Source, retention time.Duration, logger *slog.Logger) *RunManager {
	if retention <= 0 {
		retention = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunManager{
		runs:      make(map[string]*run),
		src:       src,
		retention: retention,
		logger:    logger,
	}
}

// CreateRun registers a new pending run and persists it.
func (m *RunManager) CreateRun(ctx context.Context, total int) (*Progress, error) {
	r := &run{
		Progress: Progress{
			RunID:         uuid.New().String()[:8], // short id for the CLI
			Status:        RunStatusPending,
			TotalSessions: total,
			StartedAt:     time.Now().UTC(),
		},
	}

	if store, release, err := m.src.Acquire(ctx); err == nil {
		persistErr := store.QueryCreateIngestRun(ctx, r.RunID, total)
		release()
		if persistErr != nil {
			m.logger.Warn("failed to persist run", "run_id", r.RunID, "error", persistErr)
		}
	}

	m.mu.Lock()
	m.runs[r.RunID] = r
	m.mu.Unlock()

	m.logger.Info("import run created", "run_id", r.RunID, "sessions", total)
	return r.snapshot(), nil
}

// GetProgress returns the run's current snapshot, or nil when the run is
// unknown or past retention. Runs missing from memory (after a restart) are
// looked up in the store.
func (m *RunManager) GetProgress(ctx context.Context, runID string) *Progress {
	m.mu.RLock()
	r, ok := m.runs[runID]
	m.mu.RUnlock()
	if ok {
		if m.expired(r) {
			return nil
		}
		return r.snapshot()
	}

	store, release, err := m.src.Acquire(ctx)
	if err != nil {
		return nil
	}
	defer release()

	row, err := store.QueryGetIngestRun(ctx, runID)
	if err != nil || row == nil {
		return nil
	}
	p := &Progress{
		RunID:             runID,
		Status:            RunStatus(row.Status),
		TotalSessions:     row.TotalSessions,
		ProcessedSessions: row.ProcessedSessions,
		FailedSessions:    row.FailedSessions,
		StartedAt:         row.StartedAt,
		FinishedAt:        row.FinishedAt,
	}
	for _, e := range row.Errors {
		item := ItemError{}
		if v, ok := e["index"].(int64); ok {
			item.Index = int(v)
		}
		if v, ok := e["id"].(string); ok {
			item.ID = v
		}
		if v, ok := e["reason"].(string); ok {
			item.Reason = v
		}
		p.Errors = append(p.Errors, item)
	}
	if p.FinishedAt != nil && time.Since(*p.FinishedAt) > m.retention {
		return nil
	}
	return p
}

// SetRunning moves a pending run to running.
func (m *RunManager) SetRunning(ctx context.Context, runID string) {
	r := m.get(runID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.Status == RunStatusPending {
		r.Status = RunStatusRunning
	}
	r.mu.Unlock()
	m.persist(ctx, r, false)
}

// RecordItem records one handled session. failure and skipped are mutually
// exclusive; a plain success passes nil and false. A failed session counts
// only toward FailedSessions, never ProcessedSessions.
func (m *RunManager) RecordItem(ctx context.Context, runID string, failure *ItemError, skipped bool) {
	r := m.get(runID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if failure != nil {
		r.FailedSessions++
		r.Errors = append(r.Errors, *failure)
	} else {
		r.ProcessedSessions++
		if skipped {
			r.SkippedSessions++
		}
	}
	r.mu.Unlock()
	m.persist(ctx, r, false)
}

// Finish moves the run to its terminal status. The first call wins; repeats
// are ignored.
func (m *RunManager) Finish(ctx context.Context, runID string, status RunStatus) {
	r := m.get(runID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.Status = status
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.mu.Unlock()

	m.persist(ctx, r, true)
	m.logger.Info("import run finished",
		"run_id", runID,
		"status", status,
		"processed", r.snapshot().ProcessedSessions,
		"failed", r.snapshot().FailedSessions)
}

// StartReaper prunes finished runs past retention until ctx is done.
func (m *RunManager) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.retention / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.prune(ctx)
			}
		}
	}()
}

func (m *RunManager) get(runID string) *run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[runID]
}

func (m *RunManager) expired(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FinishedAt != nil && time.Since(*r.FinishedAt) > m.retention
}

// persist mirrors run state to the store, debounced for progress updates and
// unconditional for terminal transitions.
func (m *RunManager) persist(ctx context.Context, r *run, terminal bool) {
	r.mu.Lock()
	shouldPersist := terminal ||
		time.Since(r.lastPersist) > 5*time.Second ||
		r.ProcessedSessions+r.FailedSessions == r.TotalSessions
	if shouldPersist {
		r.lastPersist = time.Now()
	}
	p := r.Progress
	errs := make([]map[string]any, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, map[string]any{"index": e.Index, "id": e.ID, "reason": e.Reason})
	}
	r.mu.Unlock()

	if !shouldPersist {
		return
	}
	store, release, err := m.src.Acquire(ctx)
	if err != nil {
		return
	}
	defer release()

	if terminal {
		err = store.QueryFinishIngestRun(ctx, p.RunID, string(p.Status), p.ProcessedSessions, p.FailedSessions, errs)
	} else {
		err = store.QueryUpdateIngestRun(ctx, p.RunID, string(p.Status), p.ProcessedSessions, p.FailedSessions)
	}
	if err != nil {
		m.logger.Warn("failed to persist run progress", "run_id", p.RunID, "error", err)
	}
}

func (m *RunManager) prune(ctx context.Context) {
	cutoff := time.Now().Add(-m.retention)

	m.mu.Lock()
	for id, r := range m.runs {
		r.mu.Lock()
		done := r.FinishedAt != nil && r.FinishedAt.Before(cutoff)
		r.mu.Unlock()
		if done {
			delete(m.runs, id)
		}
	}
	m.mu.Unlock()

	store, release, err := m.src.Acquire(ctx)
	if err != nil {
		return
	}
	defer release()
	if err := store.QueryPruneIngestRuns(ctx, cutoff); err != nil {
		m.logger.Warn("failed to prune finished runs", "error", err)
	}
}
