package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	key    string
	closed atomic.Bool
}

func TestGetConstructsOncePerKey(t *testing.T) {
	var constructed atomic.Int32
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		constructed.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeConn{key: key}, nil
	}, nil, Options{})
	defer p.Close(context.Background())

	const callers = 16
	handles := make([]*Handle[*fakeConn], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := p.Get(context.Background(), "proj-a")
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructed.Load())
	for _, h := range handles {
		assert.Same(t, handles[0].Value(), h.Value())
		h.Release()
	}
}

func TestDistinctKeysGetDistinctInstances(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, nil, Options{})
	defer p.Close(context.Background())

	a, err := p.Get(context.Background(), "a")
	require.NoError(t, err)
	defer a.Release()
	b, err := p.Get(context.Background(), "b")
	require.NoError(t, err)
	defer b.Release()

	assert.NotSame(t, a.Value(), b.Value())
	assert.Equal(t, 2, p.Len())
}

func TestConnectFailureYieldsDegradedHandle(t *testing.T) {
	connectErr := errors.New("store unreachable")
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return nil, connectErr
	}, nil, Options{})
	defer p.Close(context.Background())

	h, err := p.Get(context.Background(), "down")
	require.NoError(t, err)
	defer h.Release()

	assert.True(t, h.Degraded())
	assert.ErrorIs(t, h.ConnectErr(), connectErr)
	assert.Nil(t, h.Value())
}

func TestGetAfterDisposeRecreates(t *testing.T) {
	var constructed atomic.Int32
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		constructed.Add(1)
		return &fakeConn{key: key}, nil
	}, func(ctx context.Context, c *fakeConn) error {
		c.closed.Store(true)
		return nil
	}, Options{})
	defer p.Close(context.Background())

	h1, err := p.Get(context.Background(), "proj")
	require.NoError(t, err)
	first := h1.Value()
	h1.Release()

	p.Dispose(context.Background(), "proj")
	assert.True(t, first.closed.Load())

	h2, err := p.Get(context.Background(), "proj")
	require.NoError(t, err)
	defer h2.Release()

	assert.Equal(t, int32(2), constructed.Load())
	assert.NotSame(t, first, h2.Value())
	assert.False(t, h2.Degraded())
}

func TestDisposeWaitsForInFlightHandles(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, func(ctx context.Context, c *fakeConn) error {
		c.closed.Store(true)
		return nil
	}, Options{})
	defer p.Close(context.Background())

	h, err := p.Get(context.Background(), "proj")
	require.NoError(t, err)
	conn := h.Value()

	p.Dispose(context.Background(), "proj")
	assert.False(t, conn.closed.Load(), "close must not happen while a handle is held")

	h.Release()
	assert.True(t, conn.closed.Load())
}

func TestDisposeDuringConnectClosesFreshInstance(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var conns []*fakeConn
	var attempts atomic.Int32
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		if attempts.Add(1) == 1 {
			<-gate
		}
		c := &fakeConn{key: key}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}, func(ctx context.Context, c *fakeConn) error {
		c.closed.Store(true)
		return nil
	}, Options{})
	defer p.Close(context.Background())

	done := make(chan *Handle[*fakeConn], 1)
	go func() {
		h, err := p.Get(context.Background(), "proj")
		require.NoError(t, err)
		done <- h
	}()
	time.Sleep(10 * time.Millisecond)

	// Nothing is connected yet, so there is nothing for Dispose to close.
	p.Dispose(context.Background(), "proj")
	close(gate)

	h := <-done
	defer h.Release()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].closed.Load(), "connection established after dispose must be closed")
	assert.False(t, conns[1].closed.Load())
	assert.Same(t, conns[1], h.Value())
}

func TestReaperEvictsIdleButSparesHeld(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, func(ctx context.Context, c *fakeConn) error {
		c.closed.Store(true)
		return nil
	}, Options{IdleTTL: 30 * time.Millisecond, ReapInterval: 10 * time.Millisecond})
	defer p.Close(context.Background())

	idle, err := p.Get(context.Background(), "idle")
	require.NoError(t, err)
	idleConn := idle.Value()
	idle.Release()

	held, err := p.Get(context.Background(), "held")
	require.NoError(t, err)
	heldConn := held.Value()

	require.Eventually(t, func() bool {
		return idleConn.closed.Load()
	}, time.Second, 5*time.Millisecond)

	assert.False(t, heldConn.closed.Load())
	held.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		return &fakeConn{key: key}, nil
	}, nil, Options{})
	defer p.Close(context.Background())

	h, err := p.Get(context.Background(), "proj")
	require.NoError(t, err)
	h.Release()
	h.Release()

	// A second handle still works after double release of the first.
	h2, err := p.Get(context.Background(), "proj")
	require.NoError(t, err)
	h2.Release()
}

func TestGetHonorsContextWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	p := New(func(ctx context.Context, key string) (*fakeConn, error) {
		<-release
		return &fakeConn{key: key}, nil
	}, nil, Options{})
	defer p.Close(context.Background())

	go p.Get(context.Background(), "slow")
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Get(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
