package partitionpager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type cacheKey struct {
	cursor Cursor
	limit  int
}

// CachedDataSource wraps a DataSource and caches successful pages for a fixed TTL.
type CachedDataSource[T any] struct {
	source DataSource[T]
	ttl    time.Duration
	cache  *ttlcache.Cache[cacheKey, ListResult[T]]
}

// NewCachedDataSource creates a new CachedDataSource with the specified TTL.
// If ttl is 0 or negative, a default TTL of 5 minutes is used.
func NewCachedDataSource[T any](source DataSource[T], ttl time.Duration) *CachedDataSource[T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDataSource[T]{
		source: source,
		ttl:    ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[cacheKey, ListResult[T]](ttl),
			ttlcache.WithDisableTouchOnHit[cacheKey, ListResult[T]](),
		),
	}
}

// List returns a cached page when one is present and unexpired. Failed fetches are
// never cached.
func (c *CachedDataSource[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	key := cacheKey{cursor: cursor, limit: limit}
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	result, err := c.source.List(ctx, cursor, limit)
	if err != nil {
		return result, err
	}
	c.cache.Set(key, result, ttlcache.DefaultTTL)
	return result, nil
}

// ClearCache removes all cached entries.
func (c *CachedDataSource[T]) ClearCache() {
	c.cache.DeleteAll()
}

// EvictExpired removes expired entries from the cache.
func (c *CachedDataSource[T]) EvictExpired() {
	c.cache.DeleteExpired()
}

// CacheSize returns the number of entries held, including expired ones not yet evicted.
func (c *CachedDataSource[T]) CacheSize() int {
	return c.cache.Len()
}

// RateLimitedDataSource wraps a DataSource and limits how often it is called.
type RateLimitedDataSource[T any] struct {
	source  DataSource[T]
	limiter *rate.Limiter
}

// NewRateLimitedDataSource creates a new RateLimitedDataSource.
// requestsPerSecond specifies how many requests are allowed per second.
// burst specifies the maximum number of requests that can be made in a burst.
func NewRateLimitedDataSource[T any](source DataSource[T], requestsPerSecond float64, burst int) *RateLimitedDataSource[T] {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = max(1, int(requestsPerSecond))
	}
	return &RateLimitedDataSource[T]{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// List waits for the limiter, then calls the wrapped source.
func (r *RateLimitedDataSource[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ListResult[T]{}, err
	}
	return r.source.List(ctx, cursor, limit)
}

// RetryDataSource wraps a DataSource and retries failed requests with exponential backoff.
// A Producer does not retry, so wrap its source in one when transient failures are expected.
type RetryDataSource[T any] struct {
	source      DataSource[T]
	maxRetries  int
	initialWait time.Duration
}

// NewRetryDataSource creates a new RetryDataSource.
// maxRetries is the number of retries after the first attempt; a negative value means 3.
// initialWait is doubled after every retry.
func NewRetryDataSource[T any](source DataSource[T], maxRetries int, initialWait time.Duration) *RetryDataSource[T] {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if initialWait <= 0 {
		initialWait = 100 * time.Millisecond
	}
	return &RetryDataSource[T]{
		source:      source,
		maxRetries:  maxRetries,
		initialWait: initialWait,
	}
}

// List calls the wrapped source until it succeeds, the retries are used up or ctx ends.
func (r *RetryDataSource[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	var lastErr error
	wait := r.initialWait

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		result, err := r.source.List(ctx, cursor, limit)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ListResult[T]{}, ctx.Err()
		}
		if attempt == r.maxRetries {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ListResult[T]{}, ctx.Err()
		case <-timer.C:
			wait *= 2
		}
	}

	return ListResult[T]{}, fmt.Errorf("giving up after %d attempts: %w", r.maxRetries+1, lastErr)
}

// LoggingDataSource logs every page fetch of the wrapped source.
type LoggingDataSource[T any] struct {
	source DataSource[T]
	logger *slog.Logger
}

// NewLoggingDataSource creates a new LoggingDataSource.
// If logger is nil, slog.Default() is used.
func NewLoggingDataSource[T any](source DataSource[T], logger *slog.Logger) *LoggingDataSource[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingDataSource[T]{
		source: source,
		logger: logger,
	}
}

// List fetches a page from the wrapped source and logs the outcome.
func (l *LoggingDataSource[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	start := time.Now()
	result, err := l.source.List(ctx, cursor, limit)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.WarnContext(ctx, "Page fetch failed",
			slog.String("cursor", cursor),
			slog.Int("limit", limit),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return result, err
	}

	l.logger.InfoContext(ctx, "Page fetched",
		slog.String("cursor", cursor),
		slog.Int("limit", limit),
		slog.Duration("elapsed", elapsed),
		slog.Int("items", len(result.Items)),
		slog.Bool("hasMore", result.HasMore),
		slog.Float64("requestCharge", result.Metadata.RequestCharge))
	return result, nil
}

// TransformDataSource maps the items of a DataSource from type S to type T.
type TransformDataSource[S any, T any] struct {
	source    DataSource[S]
	transform func(S) (T, error)
}

// NewTransformDataSource creates a TransformDataSource with an infallible mapping.
func NewTransformDataSource[S any, T any](source DataSource[S], transform func(S) T) *TransformDataSource[S, T] {
	return &TransformDataSource[S, T]{
		source: source,
		transform: func(s S) (T, error) {
			return transform(s), nil
		},
	}
}

// NewDecodingDataSource creates a TransformDataSource whose mapping may fail, such as
// decoding raw records into order-by documents.
func NewDecodingDataSource[S any, T any](source DataSource[S], decode func(S) (T, error)) *TransformDataSource[S, T] {
	return &TransformDataSource[S, T]{source: source, transform: decode}
}

// List fetches a page and maps every item. A nil page stays nil so end of data is kept.
func (t *TransformDataSource[S, T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	result, err := t.source.List(ctx, cursor, limit)
	if err != nil {
		return ListResult[T]{Metadata: result.Metadata}, err
	}

	var items []T
	if result.Items != nil {
		items = make([]T, len(result.Items))
		for i, item := range result.Items {
			if items[i], err = t.transform(item); err != nil {
				return ListResult[T]{Metadata: result.Metadata}, fmt.Errorf("transform item %d: %w", i, err)
			}
		}
	}

	return ListResult[T]{
		Items:      items,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
		Metadata:   result.Metadata,
	}, nil
}
