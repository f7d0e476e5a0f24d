package partitionpager

import (
	"context"
	"slices"
	"strconv"
	"sync/atomic"
)

// pagedSource serves items in pages, using the offset of the next item as cursor.
type pagedSource[T any] struct {
	items  []T
	charge float64
	calls  atomic.Int32
}

func newPagedSource[T any](items ...T) *pagedSource[T] {
	return &pagedSource[T]{items: items}
}

func (s *pagedSource[T]) List(_ context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	s.calls.Add(1)
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := min(start+limit, len(s.items))

	var page []T
	if start < end {
		page = slices.Clone(s.items[start:end])
	}
	hasMore := end < len(s.items)
	var next Cursor
	if hasMore {
		next = strconv.Itoa(end)
	}
	return ListResult[T]{
		Items:      page,
		NextCursor: next,
		HasMore:    hasMore,
		Metadata:   Metadata{RequestCharge: s.charge},
	}, nil
}

// scriptedSource replays fixed pages and errors by call index.
type scriptedSource[T any] struct {
	pages   []ListResult[T]
	errs    map[int]error
	cursors []Cursor
}

func (s *scriptedSource[T]) List(_ context.Context, cursor Cursor, _ int) (ListResult[T], error) {
	i := len(s.cursors)
	s.cursors = append(s.cursors, cursor)
	if err := s.errs[i]; err != nil {
		return ListResult[T]{}, err
	}
	if i >= len(s.pages) {
		return ListResult[T]{}, nil
	}
	return s.pages[i], nil
}

func (s *scriptedSource[T]) calls() int { return len(s.cursors) }

// doc builds a Document whose projection holds the given scalars. Passing
// AbsentValue() leaves a key absent.
func doc(values ...any) Document {
	p := make(Projection, len(values))
	for i, v := range values {
		val, err := ValueOf(v)
		if err != nil {
			panic(err)
		}
		p[i] = val
	}
	return Document{OrderByItems: p}
}

// fullRanges splits the key space at the given bounds.
func fullRanges(bounds ...string) []PartitionRange {
	edges := append([]string{MinEffectiveKey}, bounds...)
	edges = append(edges, MaxEffectiveKey)
	out := make([]PartitionRange, len(edges)-1)
	for i := range out {
		out[i] = PartitionRange{ID: strconv.Itoa(i), MinInclusive: edges[i], MaxExclusive: edges[i+1]}
	}
	return out
}
