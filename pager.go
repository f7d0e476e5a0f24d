package partitionpager

import (
	"container/heap"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidCursor is returned when a continuation token cannot be decoded or does not
// belong to the pager's partitions.
var ErrInvalidCursor = errors.New("invalid continuation token")

const (
	defaultLimit       = 10
	defaultConcurrency = 8
)

// PagerOption configures a MergePager.
type PagerOption func(*pagerOptions)

type pagerOptions struct {
	pageSize    int
	concurrency int
	logger      *slog.Logger
}

// WithPartitionPageSize sets the page size each producer requests. By default the
// producers request the limit passed to List.
func WithPartitionPageSize(n int) PagerOption {
	return func(o *pagerOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithFetchConcurrency bounds how many partitions are fetched in parallel when a page
// is started.
func WithFetchConcurrency(n int) PagerOption {
	return func(o *pagerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPagerLogger sets the logger handed to the pager and its producers.
func WithPagerLogger(l *slog.Logger) PagerOption {
	return func(o *pagerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// MergePager merges the partitions of one query into a single data source. Every List
// call drives one Producer per partition and picks the next item with the comparator.
type MergePager[T any] struct {
	ranges     []PartitionRange
	sources    []DataSource[T]
	comparator ProducerComparator[T]
	opts       pagerOptions

	mu   sync.Mutex
	last Metadata
}

// NewMergePager creates a MergePager over the partitions described by ranges, where
// sources[i] reads ranges[i]. The ranges must cover the key space without overlap.
// If comparator is nil, items will be returned in round-robin order from partitions.
func NewMergePager[T any](ranges []PartitionRange, sources []DataSource[T], comparator ProducerComparator[T], opts ...PagerOption) (*MergePager[T], error) {
	if len(ranges) != len(sources) {
		return nil, fmt.Errorf("got %d partition ranges for %d sources", len(ranges), len(sources))
	}
	if err := ValidateRanges(ranges); err != nil {
		return nil, fmt.Errorf("invalid partition ranges: %w", err)
	}
	o := pagerOptions{
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &MergePager[T]{
		ranges:     ranges,
		sources:    sources,
		comparator: comparator,
		opts:       o,
	}, nil
}

// partitionState is the per-partition part of a continuation token.
type partitionState struct {
	ID        string `cbor:"i"`
	Cursor    Cursor `cbor:"c"`
	Fetched   bool   `cbor:"f"`
	Exhausted bool   `cbor:"e"`
	// Buffer holds fetched but unreturned items, CBOR encoded.
	Buffer []byte `cbor:"b,omitempty"`
}

type mergeState struct {
	Partitions []partitionState `cbor:"p"`
}

type tokenEnvelope struct {
	State []byte `cbor:"s"`
	Sum   uint64 `cbor:"h"`
}

// encodeCursor encodes the merge state into a checksummed continuation token.
func encodeCursor(state *mergeState) (Cursor, error) {
	data, err := cbor.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	env, err := cbor.Marshal(tokenEnvelope{State: data, Sum: xxhash.Sum64(data)})
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(env), nil
}

// decodeCursor decodes a continuation token back into merge state.
func decodeCursor(cursor Cursor) (*mergeState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var env tokenEnvelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if xxhash.Sum64(env.State) != env.Sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidCursor)
	}
	var state mergeState
	if err := cbor.Unmarshal(env.State, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &state, nil
}

func (m *MergePager[T]) newProducers(limit int) []*Producer[T] {
	pageSize := m.opts.pageSize
	if pageSize == 0 {
		pageSize = limit
	}
	producers := make([]*Producer[T], len(m.sources))
	for i, src := range m.sources {
		producers[i] = NewProducer(m.ranges[i], src, WithPageSize(pageSize), WithLogger(m.opts.logger))
	}
	return producers
}

func (m *MergePager[T]) restore(producers []*Producer[T], cursor Cursor) error {
	state, err := decodeCursor(cursor)
	if err != nil {
		return err
	}
	if len(state.Partitions) != len(producers) {
		return fmt.Errorf("%w: token has %d partitions, query has %d", ErrInvalidCursor, len(state.Partitions), len(producers))
	}
	for i, ps := range state.Partitions {
		if ps.ID != m.ranges[i].ID {
			return fmt.Errorf("%w: unexpected partition %q at position %d", ErrInvalidCursor, ps.ID, i)
		}
		var items []T
		if len(ps.Buffer) > 0 {
			if err := cbor.Unmarshal(ps.Buffer, &items); err != nil {
				return fmt.Errorf("%w: partition %s buffer: %v", ErrInvalidCursor, ps.ID, err)
			}
		}
		producers[i].restore(ps.Cursor, ps.Fetched, ps.Exhausted, items)
	}
	return nil
}

func (m *MergePager[T]) snapshot(producers []*Producer[T]) (Cursor, error) {
	state := &mergeState{Partitions: make([]partitionState, len(producers))}
	for i, p := range producers {
		ps := partitionState{
			ID:        p.Range().ID,
			Cursor:    p.cursor,
			Fetched:   p.fetched,
			Exhausted: p.exhausted,
		}
		if p.Buffered() > 0 {
			data, err := cbor.Marshal(p.Peek())
			if err != nil {
				return "", fmt.Errorf("failed to marshal buffer of partition %s: %w", ps.ID, err)
			}
			ps.Buffer = data
		}
		state.Partitions[i] = ps
	}
	return encodeCursor(state)
}

// List implements the DataSource interface, returning a merged page of items.
// The returned metadata is everything the producers accumulated during the call.
func (m *MergePager[T]) List(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	result, err := m.list(ctx, cursor, limit)
	m.mu.Lock()
	m.last = result.Metadata.Clone()
	m.mu.Unlock()
	return result, err
}

// Metadata returns the metadata drained from the producers during the most recent List.
func (m *MergePager[T]) Metadata() Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Clone()
}

func (m *MergePager[T]) list(ctx context.Context, cursor Cursor, limit int) (ListResult[T], error) {
	producers := m.newProducers(limit)
	if cursor != "" {
		if err := m.restore(producers, cursor); err != nil {
			return ListResult[T]{}, err
		}
	}

	md, err := m.prime(ctx, producers)
	if err != nil {
		return ListResult[T]{Metadata: md}, err
	}

	var items []T
	if m.comparator == nil {
		items, err = m.roundRobinMerge(ctx, producers, limit, &md)
	} else {
		items, err = m.heapMerge(ctx, producers, limit, &md)
	}
	if err != nil {
		return ListResult[T]{Metadata: md}, err
	}

	hasMore := false
	for _, p := range producers {
		if !p.Done() {
			hasMore = true
			break
		}
	}

	var nextCursor Cursor
	if hasMore {
		if nextCursor, err = m.snapshot(producers); err != nil {
			return ListResult[T]{Metadata: md}, err
		}
	}

	m.opts.logger.Debug("Merged page",
		slog.Int("items", len(items)),
		slog.Bool("hasMore", hasMore),
		slog.Float64("requestCharge", md.RequestCharge))

	return ListResult[T]{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
		Metadata:   md,
	}, nil
}

// prime makes sure every live producer has a head item. Partitions are fetched in
// parallel, each producer by exactly one goroutine, and all failures are reported.
func (m *MergePager[T]) prime(ctx context.Context, producers []*Producer[T]) (Metadata, error) {
	mds := make([]Metadata, len(producers))
	errs := make([]error, len(producers))

	var g errgroup.Group
	g.SetLimit(m.opts.concurrency)
	for i, p := range producers {
		if p.Buffered() > 0 || p.Exhausted() {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			_, md, err := p.Current(ctx)
			mds[i] = md
			if err != nil && !errors.Is(err, io.EOF) {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var md Metadata
	var merr *multierror.Error
	for i := range producers {
		md.Merge(mds[i])
		if errs[i] != nil {
			merr = multierror.Append(merr, errs[i])
		}
	}
	return md, merr.ErrorOrNil()
}

// producerHeap implements heap.Interface over producers ordered by their head items.
// The first comparator error is kept and stops the merge.
type producerHeap[T any] struct {
	items      []*Producer[T]
	comparator ProducerComparator[T]
	err        error
}

func (h *producerHeap[T]) Len() int { return len(h.items) }

func (h *producerHeap[T]) Less(i, j int) bool {
	if h.err != nil {
		return false
	}
	r, err := h.comparator(h.items[i], h.items[j])
	if err != nil {
		h.err = err
		return false
	}
	return r < 0
}

func (h *producerHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *producerHeap[T]) Push(x any) {
	h.items = append(h.items, x.(*Producer[T]))
}

func (h *producerHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return p
}

// heapMerge performs a heap-based multi-way merge of the producers' head items.
func (m *MergePager[T]) heapMerge(ctx context.Context, producers []*Producer[T], limit int, md *Metadata) ([]T, error) {
	result := make([]T, 0, limit)

	h := &producerHeap[T]{
		items:      make([]*Producer[T], 0, len(producers)),
		comparator: m.comparator,
	}
	for _, p := range producers {
		if p.Buffered() > 0 {
			h.items = append(h.items, p)
		}
	}
	heap.Init(h)

	for len(result) < limit && h.Len() > 0 {
		if h.err != nil {
			return nil, h.err
		}
		p := heap.Pop(h).(*Producer[T])
		if h.err != nil {
			return nil, h.err
		}

		item, itemMD, err := p.Next(ctx)
		md.Merge(itemMD)
		if err != nil {
			return nil, err
		}
		result = append(result, item)

		if p.Buffered() == 0 && !p.Exhausted() {
			_, refillMD, err := p.Current(ctx)
			md.Merge(refillMD)
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
		}
		if p.Buffered() > 0 {
			heap.Push(h, p)
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	return result, nil
}

// roundRobinMerge takes one item from each live producer in turn, without sorting.
func (m *MergePager[T]) roundRobinMerge(ctx context.Context, producers []*Producer[T], limit int, md *Metadata) ([]T, error) {
	result := make([]T, 0, limit)
	for len(result) < limit {
		progressed := false
		for _, p := range producers {
			if len(result) >= limit {
				break
			}
			if p.Done() {
				continue
			}
			item, itemMD, err := p.Next(ctx)
			md.Merge(itemMD)
			if errors.Is(err, io.EOF) {
				continue
			}
			if err != nil {
				return nil, err
			}
			result = append(result, item)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return result, nil
}
