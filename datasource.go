// Package partitionpager turns one logical query over a horizontally partitioned store into
// an ordered stream of results. Each partition is read by its own Producer, which pages
// through a DataSource and keeps a lookahead buffer; an OrderByComparator ranks producers by
// their head items so that a merge coordinator such as MergePager can pick the globally next
// item at every step.
package partitionpager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Cursor is an opaque continuation token handed out by a data source.
// The empty string means there is no further data to resume from.
type Cursor = string

// ListResult represents one page fetched from a data source.
type ListResult[T any] struct {
	// Items contains the page's items in the partition's document order.
	// A nil slice signals definitive end of data for the partition.
	Items []T
	// NextCursor is the cursor to use for the next page of results.
	// Empty string indicates no more data is available.
	NextCursor Cursor
	// HasMore indicates whether there are more items available after this page.
	HasMore bool
	// Metadata carries per-fetch accounting such as request charge.
	Metadata Metadata
}

// DataSource is the page-fetch abstraction a Producer pulls from.
// Each data source is expected to return items in its partition's intrinsic order.
type DataSource[T any] interface {
	// List retrieves a page of items from the data source.
	// - ctx: context for cancellation and timeout control
	// - cursor: pagination cursor (empty string for the first page)
	// - limit: maximum number of items to return
	List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error)
}

// DataSourceFunc is a function adapter that implements the DataSource interface.
type DataSourceFunc[T any] func(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error)

// List implements the DataSource interface for DataSourceFunc.
func (f DataSourceFunc[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	return f(ctx, cursor, limit)
}

// FetchOptions are handed to a callback-style fetch function.
type FetchOptions struct {
	Cursor   Cursor
	PageSize int
	// ActivityID correlates a single fetch across client and server logs.
	ActivityID string
}

// CallbackFunc is a continuation-passing page fetch. It must eventually call done;
// only the first call is honored.
type CallbackFunc[T any] func(opts FetchOptions, done func(ListResult[T], error))

// FromCallback adapts a callback-style fetch into a DataSource. List suspends on the
// completion and resumes exactly once, whichever goroutine the callback fires on.
func FromCallback[T any](fn CallbackFunc[T], logger *slog.Logger) DataSource[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &callbackSource[T]{fn: fn, logger: logger}
}

type callbackSource[T any] struct {
	fn     CallbackFunc[T]
	logger *slog.Logger
}

type completion[T any] struct {
	result ListResult[T]
	err    error
}

func (c *callbackSource[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	opts := FetchOptions{
		Cursor:     cursor,
		PageSize:   limit,
		ActivityID: uuid.NewString(),
	}

	ch := make(chan completion[T], 1)
	var once sync.Once
	c.fn(opts, func(result ListResult[T], err error) {
		fired := false
		once.Do(func() {
			ch <- completion[T]{result: result, err: err}
			fired = true
		})
		if !fired {
			c.logger.Warn("Ignoring repeated fetch completion", slog.String("activityId", opts.ActivityID))
		}
	})

	select {
	case done := <-ch:
		return done.result, done.err
	case <-ctx.Done():
		return ListResult[T]{}, ctx.Err()
	}
}
