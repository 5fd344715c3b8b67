package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codervisor/devlog/internal/models"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []string
}

func (p *capturingPublisher) Publish(eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, eventType)
}

func (p *capturingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.published {
		if t == eventType {
			n++
		}
	}
	return n
}

func testEvent(id string) models.AgentEvent {
	return models.AgentEvent{
		ID:        id,
		Timestamp: time.Now(),
		EventType: models.EventTypeToolUse,
		AgentID:   "agent-1",
		ProjectID: "proj-1",
	}
}

func TestAppendEventsDeduplicates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	pub := &capturingPublisher{}
	store := NewEventStore(&StaticSource{Store: fake}, pub, 100, nil, nil)

	first, err := store.AppendEvents(ctx, []models.AgentEvent{testEvent("e1")})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Skipped)

	// Same id again: skipped, no error, nothing re-published.
	second, err := store.AppendEvents(ctx, []models.AgentEvent{testEvent("e1")})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, pub.count("event.appended"))
}

func TestAppendEventsDuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(&StaticSource{Store: newFakeStore()}, nil, 100, nil, nil)

	res, err := store.AppendEvents(ctx, []models.AgentEvent{testEvent("e1"), testEvent("e1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors)
}

func TestAppendEventsBatchCap(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	store := NewEventStore(&StaticSource{Store: fake}, nil, 1000, nil, nil)

	batch := make([]models.AgentEvent, 1001)
	for i := range batch {
		batch[i] = testEvent(fmt.Sprintf("e%d", i))
	}
	_, err := store.AppendEvents(ctx, batch)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	// Nothing was written.
	assert.Empty(t, fake.events)
}

func TestAppendEventsPartialFailureCommitsRest(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	store := NewEventStore(&StaticSource{Store: fake}, nil, 100, nil, nil)

	bad := testEvent("") // missing id
	missingType := testEvent("e-nometa")
	missingType.EventType = ""
	good := testEvent("e-good")

	res, err := store.AppendEvents(ctx, []models.AgentEvent{bad, missingType, good})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.Equal(t, 1, res.Errors[1].Index)
	assert.Contains(t, fake.events, "e-good")
}

func TestAppendEventsRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	store := NewEventStore(&StaticSource{Store: fake}, nil, 100, nil, nil)

	ghost := "ws-1/ghost"
	withSession := testEvent("e-sess")
	withSession.SessionID = &ghost

	parent := "never-seen"
	withParent := testEvent("e-par")
	withParent.ParentEventID = &parent

	res, err := store.AppendEvents(ctx, []models.AgentEvent{withSession, withParent})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Reason, "unknown session")
	assert.Contains(t, res.Errors[1].Reason, "unknown parent")
}

func TestAppendEventsParentWithinBatch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	store := NewEventStore(&StaticSource{Store: fake}, nil, 100, nil, nil)

	root := testEvent("e-root")
	child := testEvent("e-child")
	rootID := "e-root"
	child.ParentEventID = &rootID

	res, err := store.AppendEvents(ctx, []models.AgentEvent{root, child})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Empty(t, res.Errors)
}

func TestAppendEventsRejectsParentLaterInBatch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	store := NewEventStore(&StaticSource{Store: fake}, nil, 100, nil, nil)

	// The child arrives before its parent; the parent has not committed yet,
	// so the reference must not be trusted.
	parentID := "e-root"
	child := testEvent("e-child")
	child.ParentEventID = &parentID
	root := testEvent("e-root")

	res, err := store.AppendEvents(ctx, []models.AgentEvent{child, root})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "e-child", res.Errors[0].ID)
	assert.Contains(t, res.Errors[0].Reason, "unknown parent")
	_, childStored := fake.events["e-child"]
	assert.False(t, childStored)
}

func TestGetEventsOrderedWithLimit(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	store := NewEventStore(&StaticSource{Store: fake}, nil, 100, nil, nil)

	base := time.Now().Add(-time.Hour)
	var batch []models.AgentEvent
	for i := 0; i < 5; i++ {
		ev := testEvent(fmt.Sprintf("e%d", i))
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		batch = append(batch, ev)
	}
	_, err := store.AppendEvents(ctx, batch)
	require.NoError(t, err)

	got, err := store.GetEvents(ctx, models.EventFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e0", got[0].ID)
	assert.Equal(t, "e2", got[2].ID)
}

func TestGetEventsDegradedServesCache(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	src := &StaticSource{Store: fake}
	store := NewEventStore(src, nil, 100, nil, nil)

	_, err := store.AppendEvents(ctx, []models.AgentEvent{testEvent("e1")})
	require.NoError(t, err)

	src.Err = ErrDegraded
	got, err := store.GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)

	// Writes are refused while degraded.
	_, err = store.AppendEvents(ctx, []models.AgentEvent{testEvent("e2")})
	assert.ErrorIs(t, err, ErrDegraded)
}
