package partitionpager

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// PrefetchDataSource wraps a DataSource and fetches the page after the one just
// returned in the background. Background fetches run on a bounded goroutine pool and
// are skipped when the pool is saturated.
type PrefetchDataSource[T any] struct {
	source        DataSource[T]
	prefetchLimit int
	pool          *ants.Pool

	mu    sync.Mutex
	cache map[Cursor]*prefetchResult[T]
}

// prefetchResult holds the result of a prefetch operation.
type prefetchResult[T any] struct {
	result ListResult[T]
	err    error
	done   chan struct{}
}

// NewPrefetchDataSource creates a new PrefetchDataSource that wraps the given source.
// prefetchLimit is the page size used for background fetches and workers bounds how
// many of them run at once.
func NewPrefetchDataSource[T any](source DataSource[T], prefetchLimit, workers int) (*PrefetchDataSource[T], error) {
	if prefetchLimit <= 0 {
		prefetchLimit = 10
	}
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create prefetch pool: %w", err)
	}
	return &PrefetchDataSource[T]{
		source:        source,
		prefetchLimit: prefetchLimit,
		pool:          pool,
		cache:         make(map[Cursor]*prefetchResult[T]),
	}, nil
}

// List retrieves items from the data source, using prefetched data if available.
func (p *PrefetchDataSource[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	if err := ctx.Err(); err != nil {
		return ListResult[T]{}, err
	}

	p.mu.Lock()
	cached, ok := p.cache[cursor]
	if ok {
		delete(p.cache, cursor)
	}
	p.mu.Unlock()

	if ok {
		select {
		case <-cached.done:
			if cached.err != nil {
				return ListResult[T]{}, cached.err
			}
			p.prefetchAfter(cached.result)
			return cached.result, nil
		case <-ctx.Done():
			return ListResult[T]{}, ctx.Err()
		}
	}

	result, err := p.source.List(ctx, cursor, limit)
	if err != nil {
		return ListResult[T]{}, err
	}
	p.prefetchAfter(result)
	return result, nil
}

func (p *PrefetchDataSource[T]) prefetchAfter(result ListResult[T]) {
	if result.HasMore && result.NextCursor != "" {
		p.startPrefetch(result.NextCursor)
	}
}

// startPrefetch schedules a background fetch of the page at cursor.
func (p *PrefetchDataSource[T]) startPrefetch(cursor Cursor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.cache[cursor]; ok {
		return
	}

	pr := &prefetchResult[T]{
		done: make(chan struct{}),
	}
	err := p.pool.Submit(func() {
		defer close(pr.done)
		// The caller's context ends with its List call; the prefetch outlives it.
		pr.result, pr.err = p.source.List(context.Background(), cursor, p.prefetchLimit)
	})
	if err != nil {
		return
	}
	p.cache[cursor] = pr
}

// ClearCache drops all prefetched pages.
func (p *PrefetchDataSource[T]) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[Cursor]*prefetchResult[T])
}

// Close releases the worker pool. Pending background fetches still complete.
func (p *PrefetchDataSource[T]) Close() {
	p.pool.Release()
}
