// Package collection owns the in-memory copy of one user's entity collection
// and coordinates it with the local cache and the remote store.
//
// A Controller hydrates once from the cache, is replaced wholesale by every
// successful remote load, and applies mutations optimistically: memory first,
// then the cache, then the remote write in the background. Failed remote
// writes are not rolled back; they are reported through a notices.Publisher.
package collection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/notices"
	"go.uber.org/zap"
)

var (
	// ErrClosed indicates a mutation attempted after Close.
	ErrClosed = errors.New("collection: controller closed")

	errMissingUserID = errors.New("collection: user id is required")
	errMissingCache  = errors.New("collection: cache is required")
	errMissingLoader = errors.New("collection: loader is required")
)

// Cache is the best-effort snapshot storage of one kind.
type Cache[T any] interface {
	Get(ctx context.Context, userID string) ([]T, bool)
	Set(ctx context.Context, userID string, values []T) error
}

// Loader fetches the full remote collection.
type Loader[T any] func(ctx context.Context) ([]T, error)

// WriteFunc performs one remote write.
type WriteFunc func(ctx context.Context) error

// Config describes a Controller.
type Config[T any] struct {
	UserID  string
	Kind    string
	Cache   Cache[T]
	Load    Loader[T]
	Notices notices.Publisher
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Controller is the single writer of an in-memory collection.
type Controller[T any] struct {
	userID  string
	kind    string
	cache   Cache[T]
	load    Loader[T]
	notices notices.Publisher
	logger  *zap.Logger
	clock   func() time.Time

	mu        sync.RWMutex
	values    []T
	hydrated  bool
	fromCache bool
	refreshed bool
	closed    bool
	// version counts state replacements; cacheMu orders cache writes.
	version uint64
	cacheMu sync.Mutex

	hydrateOnce sync.Once
	markOnce    sync.Once
	hydratedCh  chan struct{}
	inflight    sync.WaitGroup
}

// New constructs a Controller in the uninitialized state.
func New[T any](cfg Config[T]) (*Controller[T], error) {
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	if cfg.Load == nil {
		return nil, errMissingLoader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller[T]{
		userID:     cfg.UserID,
		kind:       cfg.Kind,
		cache:      cfg.Cache,
		load:       cfg.Load,
		notices:    cfg.Notices,
		logger:     logger.With(zap.String("kind", cfg.Kind), zap.String("user_id", cfg.UserID)),
		clock:      clock,
		hydratedCh: make(chan struct{}),
	}, nil
}

// Hydrate reads the cached snapshot once. The snapshot is applied only when
// no remote load has landed in the meantime.
func (c *Controller[T]) Hydrate(ctx context.Context) {
	c.hydrateOnce.Do(func() {
		cached, found := c.cache.Get(ctx, c.userID)

		c.mu.Lock()
		if !c.closed && !c.refreshed && found {
			c.values = slices.Clone(cached)
			c.fromCache = true
		}
		c.mu.Unlock()

		c.markHydrated()
		c.logger.Debug("collection hydrated", zap.Bool("from_cache", found), zap.Int("count", len(cached)))
	})
}

// Load replaces the collection with the remote one and writes it through to
// the cache. On error the current state is left untouched. Concurrent loads
// are not coordinated: the last to finish wins.
func (c *Controller[T]) Load(ctx context.Context) error {
	values, err := c.load(ctx)
	if err != nil {
		c.logger.Warn("collection load failed", zap.Error(err))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.values = slices.Clone(values)
	c.refreshed = true
	c.version++
	version := c.version
	c.mu.Unlock()

	c.markHydrated()
	c.persist(ctx, version)
	return nil
}

// Mutate replaces the collection with next, awaits the cache write and starts
// write in the background. The returned PendingWrite resolves with the remote
// outcome; a failure leaves next in place and is published as a notice.
func (c *Controller[T]) Mutate(ctx context.Context, operation string, next []T, write WriteFunc) (*PendingWrite, error) {
	return c.mutate(ctx, operation, next, write, false)
}

// MutateAndRefresh behaves like Mutate and reloads the collection after a
// successful write so server assigned values become visible.
func (c *Controller[T]) MutateAndRefresh(ctx context.Context, operation string, next []T, write WriteFunc) (*PendingWrite, error) {
	return c.mutate(ctx, operation, next, write, true)
}

func (c *Controller[T]) mutate(ctx context.Context, operation string, next []T, write WriteFunc, refresh bool) (*PendingWrite, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.values = slices.Clone(next)
	c.version++
	version := c.version
	c.mu.Unlock()

	c.persist(ctx, version)

	pending := newPendingWrite()
	if write == nil {
		pending.resolve(nil)
		return pending, nil
	}

	background := context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		err := write(background)
		if err != nil {
			c.report(operation, err)
			pending.resolve(err)
			return
		}
		if refresh {
			if loadErr := c.Load(background); loadErr != nil {
				err = fmt.Errorf("refresh after %s: %w", operation, loadErr)
				c.report(operation, err)
			}
		}
		pending.resolve(err)
	}()
	return pending, nil
}

// persist writes the state identified by version to the cache. Writes are
// serialized, and a state already replaced in memory is skipped because its
// successor writes itself, so the cache never ends on an older state.
func (c *Controller[T]) persist(ctx context.Context, version uint64) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.mu.RLock()
	current := c.version
	values := slices.Clone(c.values)
	c.mu.RUnlock()
	if current != version {
		return
	}
	if err := c.cache.Set(ctx, c.userID, values); err != nil {
		c.logger.Debug("cache write failed", zap.Error(err))
	}
}

func (c *Controller[T]) report(operation string, err error) {
	c.logger.Warn("remote write failed", zap.String("operation", operation), zap.Error(err))
	if c.notices == nil {
		return
	}
	c.notices.Publish(notices.Notice{
		UserID:    c.userID,
		Kind:      c.kind,
		Operation: operation,
		Err:       err,
		Time:      c.clock().UTC(),
	})
}

func (c *Controller[T]) markHydrated() {
	c.markOnce.Do(func() {
		c.mu.Lock()
		c.hydrated = true
		c.mu.Unlock()
		close(c.hydratedCh)
	})
}

// Snapshot returns a copy of the current collection.
func (c *Controller[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.values)
}

// IsHydrated reports whether the initial hydration has completed.
func (c *Controller[T]) IsHydrated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hydrated
}

// HydratedFromCache reports whether hydration applied a cached snapshot.
func (c *Controller[T]) HydratedFromCache() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fromCache
}

// Hydrated is closed once the controller has been hydrated.
func (c *Controller[T]) Hydrated() <-chan struct{} {
	return c.hydratedCh
}

// Close stops applying late results. In-flight remote writes keep running.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Flush waits for in-flight remote writes or for ctx to end.
func (c *Controller[T]) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingWrite is the result handle of a background remote write.
type PendingWrite struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPendingWrite() *PendingWrite {
	return &PendingWrite{done: make(chan struct{})}
}

func (p *PendingWrite) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed when the write has finished.
func (p *PendingWrite) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write finishes or ctx ends.
func (p *PendingWrite) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the write outcome, or nil while it is still running.
func (p *PendingWrite) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
