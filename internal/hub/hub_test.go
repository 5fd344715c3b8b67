package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(8, nil)
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	h.Publish("session.imported", map[string]string{"session": "s1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case env := <-sub.C:
			assert.Equal(t, "session.imported", env.Type)
			assert.False(t, env.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the envelope")
		}
	}
}

func TestSubscriberObservesPublishOrder(t *testing.T) {
	h := New(16, nil)
	sub := h.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 10; i++ {
		h.Publish("event.appended", fmt.Sprintf("e%d", i))
	}

	for i := 0; i < 10; i++ {
		env := <-sub.C
		assert.Equal(t, fmt.Sprintf("e%d", i), env.Data)
	}
}

func TestSlowSubscriberIsDroppedNotBlockedOn(t *testing.T) {
	h := New(1, nil)
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer fast.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("event.appended", i)
			// Keep the fast subscriber's buffer clear.
			select {
			case <-fast.C:
			default:
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Positive(t, h.Dropped())
	// The slow subscriber was unsubscribed on first failed delivery; its
	// channel drains the buffered envelope and then closes.
	<-slow.C
	_, open := <-slow.C
	assert.False(t, open)
	assert.Equal(t, 1, h.SubscriberCount())
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	h := New(8, nil)
	sub := h.Subscribe()
	require.Equal(t, 1, h.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, h.SubscriberCount())

	// Publishing after unsubscribe must not panic on the closed channel.
	h.Publish("session.ended", nil)

	_, open := <-sub.C
	assert.False(t, open)
}

func TestConcurrentSubscribeUnsubscribePublish(t *testing.T) {
	h := New(4, nil)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := h.Subscribe()
				h.Publish("event.appended", j)
				s.Unsubscribe()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.SubscriberCount())
}
