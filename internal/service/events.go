package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/metrics"
	"github.com/codervisor/devlog/internal/models"
)

// DefaultEventLimit caps event reads when the filter does not set one.
const DefaultEventLimit = 500

// AppendResult summarizes one event batch. The batch commits even when some
// items fail; failures surface as item errors, not as the call's error.
type AppendResult struct {
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// eventCache is a bounded ring of recently appended events per project,
// serving reads while the store is degraded.
type eventCache struct {
	mu     sync.RWMutex
	max    int
	events []models.AgentEvent
	seen   map[string]struct{}
}

func newEventCache(max int) *eventCache {
	if max <= 0 {
		max = 512
	}
	return &eventCache{max: max, seen: make(map[string]struct{})}
}

func (c *eventCache) put(ev models.AgentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[ev.ID]; dup {
		return
	}
	c.seen[ev.ID] = struct{}{}
	c.events = append(c.events, ev)
	if len(c.events) > c.max {
		delete(c.seen, c.events[0].ID)
		c.events = c.events[1:]
	}
}

func (c *eventCache) list(filter models.EventFilter) []models.AgentEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.AgentEvent, 0, len(c.events))
	for _, ev := range c.events {
		if matchesEventFilter(ev, filter) {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b models.AgentEvent) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesEventFilter(ev models.AgentEvent, f models.EventFilter) bool {
	if f.ProjectID != nil && ev.ProjectID != *f.ProjectID {
		return false
	}
	if f.SessionID != nil && (ev.SessionID == nil || *ev.SessionID != *f.SessionID) {
		return false
	}
	if f.EventType != nil && ev.EventType != *f.EventType {
		return false
	}
	if f.StartTime != nil && ev.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && ev.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// EventStore appends and reads agent telemetry events.
type EventStore struct {
	src      Source
	hub      Publisher
	cache    *eventCache
	maxBatch int
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewEventStore creates an event store. maxBatch caps AppendEvents input;
// batches over the cap are rejected before any write.
func NewEventStore(src Source, hub Publisher, maxBatch int, mc *metrics.Collector, logger *slog.Logger) *EventStore {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{
		src:      src,
		hub:      hub,
		cache:    newEventCache(maxBatch),
		maxBatch: maxBatch,
		logger:   logger,
		metrics:  mc,
	}
}

// AppendEvents writes a batch of events. Duplicate ids are skipped, invalid
// items and dangling session/parent references are reported per item, and
// every event that commits is published to the hub as "event.appended".
func (s *EventStore) AppendEvents(ctx context.Context, events []models.AgentEvent) (*AppendResult, error) {
	if len(events) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d events exceeds cap of %d", ErrPayloadTooLarge, len(events), s.maxBatch)
	}
	if len(events) == 0 {
		return &AppendResult{}, nil
	}
	if s.metrics != nil {
		defer s.metrics.TimeOp(metrics.OpAppendEvents)()
	}

	store, release, err := s.src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &AppendResult{}

	// One pass of per-item validation; invalid items never reach the store.
	valid := make([]int, 0, len(events))
	ids := make([]string, 0, len(events))
	batchIDs := make(map[string]int, len(events))
	for i, ev := range events {
		if err := validateEvent(ev); err != nil {
			result.Errors = append(result.Errors, newItemError(i, ev.ID, err))
			continue
		}
		if _, dup := batchIDs[ev.ID]; dup {
			// Same id twice in one batch: first occurrence wins.
			result.Skipped++
			continue
		}
		batchIDs[ev.ID] = i
		valid = append(valid, i)
		ids = append(ids, ev.ID)
	}

	existing, err := store.QueryExistingEventIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: check existing events: %v", ErrInfrastructure, err)
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	// Parents resolve against the store plus what this batch has committed so
	// far, so a child never points at a later item whose write can still fail.
	written := make(map[string]struct{}, len(valid))
	sessionOK := make(map[string]bool)
	for _, i := range valid {
		ev := events[i]
		if _, dup := existingSet[ev.ID]; dup {
			result.Skipped++
			written[ev.ID] = struct{}{}
			continue
		}

		if ev.SessionID != nil {
			ok, checkErr := s.sessionExists(ctx, store, sessionOK, *ev.SessionID)
			if checkErr != nil {
				return result, fmt.Errorf("%w: check session: %v", ErrInfrastructure, checkErr)
			}
			if !ok {
				result.Errors = append(result.Errors,
					newItemError(i, ev.ID, fmt.Errorf("unknown session %q", *ev.SessionID)))
				continue
			}
		}
		if ev.ParentEventID != nil {
			if _, committed := written[*ev.ParentEventID]; !committed {
				known, checkErr := store.QueryExistingEventIDs(ctx, []string{*ev.ParentEventID})
				if checkErr != nil {
					return result, fmt.Errorf("%w: check parent event: %v", ErrInfrastructure, checkErr)
				}
				if len(known) == 0 {
					result.Errors = append(result.Errors,
						newItemError(i, ev.ID, fmt.Errorf("unknown parent event %q", *ev.ParentEventID)))
					continue
				}
			}
		}

		if err := store.QueryCreateEvent(ctx, ev); err != nil {
			if errors.Is(err, db.ErrAlreadyExists) {
				// Lost a race with a concurrent writer of the same id.
				result.Skipped++
				written[ev.ID] = struct{}{}
				continue
			}
			result.Errors = append(result.Errors, newItemError(i, ev.ID, err))
			continue
		}

		result.Created++
		written[ev.ID] = struct{}{}
		s.cache.put(ev)
		if s.hub != nil {
			s.hub.Publish("event.appended", ev)
		}
	}

	s.logger.Debug("event batch appended",
		"created", result.Created, "skipped", result.Skipped, "errors", len(result.Errors))
	return result, nil
}

// GetEvents returns events matching the filter ordered by timestamp
// ascending, capped at the filter limit (DefaultEventLimit when unset).
func (s *EventStore) GetEvents(ctx context.Context, filter models.EventFilter) ([]models.AgentEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultEventLimit
	}

	store, release, err := s.src.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrDegraded) {
			s.logger.Warn("serving events from cache, store degraded")
			return s.cache.list(filter), nil
		}
		return nil, err
	}
	defer release()

	events, err := store.QueryGetEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: get events: %v", ErrInfrastructure, err)
	}
	for _, ev := range events {
		s.cache.put(ev)
	}
	return events, nil
}

func (s *EventStore) sessionExists(ctx context.Context, store Store, memo map[string]bool, id string) (bool, error) {
	if ok, seen := memo[id]; seen {
		return ok, nil
	}
	session, err := store.QueryGetSession(ctx, id)
	if err != nil {
		return false, err
	}
	memo[id] = session != nil
	return session != nil, nil
}

func validateEvent(ev models.AgentEvent) error {
	switch {
	case ev.ID == "":
		return errors.New("missing event_id")
	case ev.EventType == "":
		return errors.New("missing event_type")
	case ev.AgentID == "":
		return errors.New("missing agent_id")
	case ev.ProjectID == "":
		return errors.New("missing project_id")
	case ev.Timestamp.IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}
