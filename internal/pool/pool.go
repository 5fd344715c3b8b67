// Package pool provides a keyed singleton registry for per-project service
// instances. One live handle exists per key; concurrent first callers for an
// unseen key never race-construct two instances. Instances whose connection
// attempt fails are kept in a degraded state instead of failing the caller,
// and idle instances are reaped after a TTL without disrupting in-flight use.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultKey is the pool key used when no project scoping applies.
const DefaultKey = "default"

// Status is the connection state of a pooled instance.
type Status int

const (
	// StatusConnecting is the zero value: the construction attempt has not
	// finished yet and there is no instance to close.
	StatusConnecting Status = iota
	// StatusConnected means the backing store connection is live.
	StatusConnected
	// StatusDegraded means the connection attempt failed; only cached reads
	// should be served and writes must be rejected.
	StatusDegraded
)

// Connector constructs and connects the instance for a key.
type Connector[T any] func(ctx context.Context, key string) (T, error)

// Closer releases a connected instance.
type Closer[T any] func(ctx context.Context, value T) error

type entry[T any] struct {
	mu         sync.Mutex
	value      T
	status     Status
	connectErr error
	ready      chan struct{}
	refs       int
	idleSince  time.Time
	disposed   bool
}

// Handle is a ref-counted reference to a pooled instance. Callers must call
// Release when done so the reaper and Dispose can drain safely.
type Handle[T any] struct {
	Key   string
	entry *entry[T]
	pool  *Pool[T]

	releaseOnce sync.Once
}

// Value returns the pooled instance. Only valid when not degraded.
func (h *Handle[T]) Value() T {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.value
}

// Degraded reports whether the instance failed to connect.
func (h *Handle[T]) Degraded() bool {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.status == StatusDegraded
}

// ConnectErr returns the connection failure, if any.
func (h *Handle[T]) ConnectErr() error {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.connectErr
}

// Release drops the caller's reference. Idempotent.
func (h *Handle[T]) Release() {
	h.releaseOnce.Do(func() {
		h.pool.release(h.entry)
	})
}

// Options configures a Pool.
type Options struct {
	// IdleTTL evicts instances unused for this long. Zero disables the reaper.
	IdleTTL time.Duration
	// ReapInterval overrides the reaper cadence (default IdleTTL/2).
	ReapInterval time.Duration
	Logger       *slog.Logger
}

// Pool is a keyed singleton registry. Mutation of the key space is exclusive
// per key: unrelated keys connect and evict independently.
type Pool[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]

	connect Connector[T]
	closer  Closer[T]
	idleTTL time.Duration
	logger  *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a pool and starts the idle reaper if a TTL is configured.
func New[T any](connect Connector[T], closer Closer[T], opts Options) *Pool[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool[T]{
		entries: make(map[string]*entry[T]),
		connect: connect,
		closer:  closer,
		idleTTL: opts.IdleTTL,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	if opts.IdleTTL > 0 {
		interval := opts.ReapInterval
		if interval <= 0 {
			interval = opts.IdleTTL / 2
		}
		go p.reapLoop(interval)
	}
	return p
}

// Get returns the handle for key, constructing the instance exactly once.
// Later callers for the same key block until the first construction finishes
// and then share the same instance. A failed connection yields a degraded
// handle, not an error; callers gate writes on Handle.Degraded.
func (p *Pool[T]) Get(ctx context.Context, key string) (*Handle[T], error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry[T]{ready: make(chan struct{}), idleSince: time.Now()}
		p.entries[key] = e
	}
	p.mu.Unlock()

	if !ok {
		// This caller won the construction race.
		value, err := p.connect(ctx, key)
		e.mu.Lock()
		if err != nil {
			e.status = StatusDegraded
			e.connectErr = err
		} else {
			e.value = value
			e.status = StatusConnected
		}
		disposed := e.disposed
		e.mu.Unlock()
		close(e.ready)
		if err != nil {
			p.logger.Warn("pool instance degraded", "key", key, "error", err)
		}
		if disposed {
			// Dispose ran mid-connect and found nothing to close; the fresh
			// instance is ours to release before retrying.
			p.closeEntry(ctx, key, e)
			return p.Get(ctx, key)
		}
	} else {
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		// Lost a race against Dispose; construct a fresh instance.
		return p.Get(ctx, key)
	}
	e.refs++
	e.mu.Unlock()

	return &Handle[T]{Key: key, entry: e, pool: p}, nil
}

// Dispose removes the key from the pool and releases its connection. The
// underlying instance is closed once all in-flight handles are released; a
// Get after Dispose creates a fresh instance.
func (p *Pool[T]) Dispose(ctx context.Context, key string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.disposed = true
	drained := e.refs == 0
	e.mu.Unlock()

	if drained {
		p.closeEntry(ctx, key, e)
	}
}

// Close stops the reaper and disposes every instance.
func (p *Pool[T]) Close(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	for _, k := range keys {
		p.Dispose(ctx, k)
	}
}

// Len returns the number of live entries.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool[T]) release(e *entry[T]) {
	e.mu.Lock()
	if e.refs > 0 {
		e.refs--
	}
	drained := e.refs == 0
	disposed := e.disposed
	if drained {
		e.idleSince = time.Now()
	}
	e.mu.Unlock()

	if drained && disposed {
		p.closeEntry(context.Background(), "", e)
	}
}

func (p *Pool[T]) closeEntry(ctx context.Context, key string, e *entry[T]) {
	e.mu.Lock()
	connected := e.status == StatusConnected
	value := e.value
	e.mu.Unlock()

	if connected && p.closer != nil {
		if err := p.closer(ctx, value); err != nil {
			p.logger.Warn("pool instance close failed", "key", key, "error", err)
		}
	}
}

func (p *Pool[T]) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

// reapIdle evicts entries with no in-flight handles that have been idle past
// the TTL. Entries with live refs are never touched.
func (p *Pool[T]) reapIdle() {
	cutoff := time.Now().Add(-p.idleTTL)

	p.mu.Lock()
	var victims []struct {
		key string
		e   *entry[T]
	}
	for key, e := range p.entries {
		e.mu.Lock()
		idle := e.refs == 0 && e.idleSince.Before(cutoff)
		if idle {
			e.disposed = true
			victims = append(victims, struct {
				key string
				e   *entry[T]
			}{key, e})
			delete(p.entries, key)
		}
		e.mu.Unlock()
	}
	p.mu.Unlock()

	for _, v := range victims {
		p.logger.Debug("reaping idle pool instance", "key", v.key)
		p.closeEntry(context.Background(), v.key, v.e)
	}
}
