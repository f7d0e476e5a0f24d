package partitionpager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

const defaultPageSize = 100

// ErrNoProgress is returned when a source answers with an empty page whose cursor
// points back at the page just requested.
var ErrNoProgress = errors.New("data source returned an empty page without advancing")

// ProducerOption configures a Producer.
type ProducerOption func(*producerOptions)

type producerOptions struct {
	pageSize    int
	startCursor Cursor
	logger      *slog.Logger
}

// WithPageSize sets the page size requested from the data source.
func WithPageSize(n int) ProducerOption {
	return func(o *producerOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithStartCursor resumes the producer from a previously returned cursor.
func WithStartCursor(c Cursor) ProducerOption {
	return func(o *producerOptions) {
		o.startCursor = c
	}
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(l *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// bufferedItem tags each fetched item with its position in the partition's stream.
type bufferedItem[T any] struct {
	seq  uint64
	item T
}

// Producer owns the pagination state of one partition: a FIFO lookahead buffer of
// fetched but unconsumed items, the continuation cursor, sticky error and exhaustion
// flags, and the metadata accumulated since it was last read.
//
// A Producer is not safe for concurrent use. Different producers may be driven from
// different goroutines.
type Producer[T any] struct {
	rng      PartitionRange
	source   DataSource[T]
	pageSize int
	logger   *slog.Logger

	buffer      []bufferedItem[T]
	nextSeq     uint64
	observed    uint64
	hasObserved bool

	cursor         Cursor
	previousCursor Cursor
	fetched        bool
	fetching       bool
	exhausted      bool
	err            error

	metadata Metadata
}

// NewProducer creates a producer for the partition rng that pages through source.
func NewProducer[T any](rng PartitionRange, source DataSource[T], opts ...ProducerOption) *Producer[T] {
	o := producerOptions{
		pageSize: defaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Producer[T]{
		rng:      rng,
		source:   source,
		pageSize: o.pageSize,
		logger:   o.logger.With(slog.String("partition", rng.ID)),
		cursor:   o.startCursor,
	}
}

// Range returns the partition the producer reads.
func (p *Producer[T]) Range() PartitionRange { return p.rng }

// Cursor returns the cursor the next fetch resumes from.
func (p *Producer[T]) Cursor() Cursor { return p.cursor }

// PreviousCursor returns the cursor that was replaced by the last cursor change.
func (p *Producer[T]) PreviousCursor() Cursor { return p.previousCursor }

// Exhausted reports whether the data source has signaled the end of the partition.
func (p *Producer[T]) Exhausted() bool { return p.exhausted }

// Err returns the sticky fetch error, if any.
func (p *Producer[T]) Err() error { return p.err }

// Buffered returns the number of unconsumed items.
func (p *Producer[T]) Buffered() int { return len(p.buffer) }

// Done reports whether the producer will never yield another item.
func (p *Producer[T]) Done() bool {
	return p.err != nil || (p.exhausted && len(p.buffer) == 0)
}

// Peek returns a copy of the buffered items without changing the producer.
func (p *Producer[T]) Peek() []T {
	items := make([]T, len(p.buffer))
	for i, b := range p.buffer {
		items[i] = b.item
	}
	return items
}

// Head returns the first buffered item without fetching.
func (p *Producer[T]) Head() (T, bool) {
	if len(p.buffer) == 0 {
		var zero T
		return zero, false
	}
	return p.buffer[0].item, true
}

// ConsumeAll returns and empties the buffer. Once a fetch has happened and no cursor is
// left, the producer is marked exhausted.
func (p *Producer[T]) ConsumeAll() []T {
	items := p.Peek()
	if n := len(items); n > 0 {
		itemsConsumedCounter.Add(context.Background(), int64(n), partitionAttrs(p.rng))
	}
	p.buffer = nil
	p.hasObserved = false
	if p.fetched && p.cursor == "" {
		p.exhausted = true
	}
	return items
}

// Refill fetches the next page and appends it to the buffer. It returns the metadata of
// that page; the same metadata is also merged into the accumulator drained by Current.
// A producer that has failed before returns its sticky error without any I/O, and an
// exhausted producer returns immediately.
func (p *Producer[T]) Refill(ctx context.Context) (Metadata, error) {
	if p.err != nil {
		return Metadata{}, p.err
	}
	if p.exhausted {
		return Metadata{}, nil
	}
	result, err := p.fetch(ctx)

	page := result.Metadata.Clone()
	page.Fetches++
	fetchCounter.Add(ctx, 1, partitionAttrs(p.rng))

	if err == nil && result.Items != nil && len(result.Items) == 0 &&
		result.NextCursor != "" && result.NextCursor == p.cursor {
		err = fmt.Errorf("cursor %q: %w", p.cursor, ErrNoProgress)
	}
	if err != nil {
		p.err = fmt.Errorf("fetch partition %s: %w", p.rng.ID, err)
		fetchErrorCounter.Add(ctx, 1, partitionAttrs(p.rng))
		p.logger.Warn("Partition fetch failed", slog.String("cursor", p.cursor), slog.Any("error", err))
		p.metadata.Merge(page)
		return page, p.err
	}
	p.fetched = true

	page.Items += len(result.Items)
	for _, item := range result.Items {
		p.buffer = append(p.buffer, bufferedItem[T]{seq: p.nextSeq, item: item})
		p.nextSeq++
	}
	if n := len(result.Items); n > 0 {
		itemsFetchedCounter.Add(ctx, int64(n), partitionAttrs(p.rng))
	}

	p.updateState(result)
	p.metadata.Merge(page)

	p.logger.Debug("Fetched partition page",
		slog.Int("items", len(result.Items)),
		slog.String("cursor", p.cursor),
		slog.Bool("exhausted", p.exhausted))
	return page, nil
}

// fetch calls the source with the fetching flag held, releasing it even if the
// source panics.
func (p *Producer[T]) fetch(ctx context.Context) (ListResult[T], error) {
	checkSingleWriter(p.rng, p.fetching)
	p.fetching = true
	defer func() { p.fetching = false }()
	return p.source.List(ctx, p.cursor, p.pageSize)
}

// updateState applies the cursor and exhaustion signals of a successful fetch.
func (p *Producer[T]) updateState(result ListResult[T]) {
	if result.Items == nil || result.NextCursor == "" {
		p.exhausted = true
	}
	if result.NextCursor == p.cursor {
		return
	}
	p.previousCursor = p.cursor
	p.cursor = result.NextCursor
}

// Current returns the head item without removing it, together with the metadata
// accumulated since the last read. An empty buffer is refilled first. When the partition
// is exhausted and nothing is buffered, Current returns io.EOF.
func (p *Producer[T]) Current(ctx context.Context) (T, Metadata, error) {
	var zero T
	for {
		if p.err != nil {
			return zero, p.drainMetadata(), p.err
		}
		if len(p.buffer) > 0 {
			head := p.buffer[0]
			p.observed = head.seq
			p.hasObserved = true
			return head.item, p.drainMetadata(), nil
		}
		if p.exhausted {
			return zero, p.drainMetadata(), io.EOF
		}
		if _, err := p.Refill(ctx); err != nil {
			return zero, p.drainMetadata(), err
		}
	}
}

// Next returns and removes the head item. It is the only operation that removes a
// single item from the buffer.
func (p *Producer[T]) Next(ctx context.Context) (T, Metadata, error) {
	item, md, err := p.Current(ctx)
	if err != nil {
		return item, md, err
	}

	head := p.buffer[0]
	checkConsumedObserved(p.rng, head.seq, p.observed, p.hasObserved)
	p.buffer[0] = bufferedItem[T]{}
	p.buffer = p.buffer[1:]
	p.hasObserved = false
	itemsConsumedCounter.Add(ctx, 1, partitionAttrs(p.rng))
	return head.item, md, nil
}

func (p *Producer[T]) drainMetadata() Metadata {
	md := p.metadata
	p.metadata = Metadata{}
	return md
}

// restore reinstates state captured by a continuation token.
func (p *Producer[T]) restore(cursor Cursor, fetched, exhausted bool, items []T) {
	p.cursor = cursor
	p.fetched = fetched
	p.exhausted = exhausted
	p.buffer = slices.Grow(p.buffer[:0], len(items))
	for _, item := range items {
		p.buffer = append(p.buffer, bufferedItem[T]{seq: p.nextSeq, item: item})
		p.nextSeq++
	}
}
