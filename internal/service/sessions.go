package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/codervisor/devlog/internal/models"
)

// sessionCache is a bounded cache of recently observed sessions, keyed by
// session id. It backs read operations while the store is degraded.
type sessionCache struct {
	mu       sync.RWMutex
	max      int
	sessions map[string]models.Session
	order    []string // insertion order, oldest first
}

func newSessionCache(max int) *sessionCache {
	if max <= 0 {
		max = 256
	}
	return &sessionCache{max: max, sessions: make(map[string]models.Session)}
}

func (c *sessionCache) put(s models.Session) {
	id, err := models.RecordIDString(s.ID)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[id]; !exists {
		c.order = append(c.order, id)
		if len(c.order) > c.max {
			delete(c.sessions, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.sessions[id] = s
}

func (c *sessionCache) get(id string) (models.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *sessionCache) list(filter models.SessionFilter) []models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
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
	return out
}

func matchesSessionFilter(s models.Session, f models.SessionFilter) bool {
	if f.AgentType != nil && s.AgentType != *f.AgentType {
		return false
	}
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.StartTime != nil && s.StartedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && s.StartedAt.After(*f.EndTime) {
		return false
	}
	if f.WorkspaceRef != nil {
		wsID, err := models.RecordIDString(s.Workspace)
		if err != nil || wsID != *f.WorkspaceRef {
			return false
		}
	}
	return true
}

// SessionStore serves session reads and lifecycle writes. While the backing
// store is degraded it answers reads from the cache of recently observed
// sessions and fails writes with ErrDegraded.
type SessionStore struct {
	src    Source
	cache  *sessionCache
	logger *slog.Logger
}

// NewSessionStore creates a session store with a cache of cacheSize recent
// sessions.
func NewSessionStore(src Source, cacheSize int, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{src: src, cache: newSessionCache(cacheSize), logger: logger}
}

// GetSession returns a session by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	store, release, err := s.src.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrDegraded) {
			if cached, ok := s.cache.get(id); ok {
				return &cached, nil
			}
		}
		return nil, err
	}
	defer release()

	session, err := store.QueryGetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", ErrInfrastructure, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	s.cache.put(*session)
	return session, nil
}

// ListSessions returns sessions matching the filter, most recent first.
func (s *SessionStore) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	store, release, err := s.src.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrDegraded) {
			s.logger.Warn("serving session list from cache, store degraded")
			return s.cache.list(filter), nil
		}
		return nil, err
	}
	defer release()

	sessions, err := store.QueryListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrInfrastructure, err)
	}
	for _, session := range sessions {
		s.cache.put(session)
	}
	return sessions, nil
}

// GetActiveSessions returns sessions that have not ended yet.
func (s *SessionStore) GetActiveSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	active := models.SessionStatusActive
	filter.Status = &active
	return s.ListSessions(ctx, filter)
}

// EndSession moves an active session to completed, recording the outcome.
// Ending an unknown session returns ErrNotFound; ending one that already
// completed returns ErrInvalidState.
func (s *SessionStore) EndSession(ctx context.Context, id string, outcome *string) (*models.Session, error) {
	store, release, err := s.src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ended, err := store.QueryEndSession(ctx, id, outcome)
	if err != nil {
		return nil, fmt.Errorf("%w: end session: %v", ErrInfrastructure, err)
	}
	if ended != nil {
		s.cache.put(*ended)
		return ended, nil
	}

	// The conditional update matched nothing: either the session does not
	// exist, or it is no longer active.
	existing, err := store.QueryGetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: end session: %v", ErrInfrastructure, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return nil, fmt.Errorf("%w: session %q is %s", ErrInvalidState, id, existing.Status)
}

// GetSessionStats aggregates sessions matching the filter. Average duration
// covers ended sessions only, in seconds.
func (s *SessionStore) GetSessionStats(ctx context.Context, filter models.SessionFilter) (*models.SessionStats, error) {
	store, release, err := s.src.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrDegraded) {
			s.logger.Warn("serving session stats from cache, store degraded")
			return statsFromSessions(s.cache.list(filter)), nil
		}
		return nil, err
	}
	defer release()

	// Aggregation happens here rather than in the query so that a session
	// count beyond any result cap still produces exact totals.
	facts, err := store.QuerySessionFacts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: session stats: %v", ErrInfrastructure, err)
	}

	stats := &models.SessionStats{Count: len(facts)}
	var totalDuration time.Duration
	var ended int
	for _, f := range facts {
		stats.TotalMessages += f.MessageCount
		stats.TotalTokens += f.TotalTokens
		if f.Status == models.SessionStatusActive {
			stats.ActiveCount++
		}
		if f.EndedAt != nil {
			totalDuration += f.EndedAt.Sub(f.StartedAt)
			ended++
		}
	}
	if ended > 0 {
		stats.AverageDuration = totalDuration.Seconds() / float64(ended)
	}
	return stats, nil
}

func statsFromSessions(sessions []models.Session) *models.SessionStats {
	stats := &models.SessionStats{Count: len(sessions)}
	var totalDuration time.Duration
	var ended int
	for _, s := range sessions {
		stats.TotalMessages += s.MessageCount
		stats.TotalTokens += s.TotalTokens
		if s.Status == models.SessionStatusActive {
			stats.ActiveCount++
		}
		if s.EndedAt != nil {
			totalDuration += s.EndedAt.Sub(s.StartedAt)
			ended++
		}
	}
	if ended > 0 {
		stats.AverageDuration = totalDuration.Seconds() / float64(ended)
	}
	return stats
}
