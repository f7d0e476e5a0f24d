package partitionpager

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
)

// Comparator is a function type that compares two items.
// It returns:
//   - negative value if a < b
//   - zero if a == b
//   - positive value if a > b
type Comparator[T any] func(a, b T) int

// ProducerComparator ranks two producers by their head items. It is only defined when
// both producers have at least one buffered item.
type ProducerComparator[T any] func(a, b *Producer[T]) (int, error)

var (
	// ErrNoHead is returned when a producer handed to a comparator has nothing buffered.
	ErrNoHead = errors.New("producer has no buffered item")
	// ErrValidation marks order-by projections that disagree in shape or kind.
	ErrValidation = errors.New("order-by validation failed")
)

// ValidationError reports inconsistent order-by materialization between two partitions.
type ValidationError struct {
	Left, Right string
	// Position is the offending key index, or -1 for a length mismatch.
	Position int
	Reason   string
}

// Error describes the partitions and key involved.
func (e *ValidationError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("order-by validation failed (%s vs %s): %s", e.Left, e.Right, e.Reason)
	}
	return fmt.Sprintf("order-by validation failed (%s vs %s) at key %d: %s", e.Left, e.Right, e.Position, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ReverseComparator returns a new comparator that reverses the order of the original.
func ReverseComparator[T any](c Comparator[T]) Comparator[T] {
	return func(a, b T) int {
		return c(b, a)
	}
}

// CompareBy creates a comparator that extracts a key from items and compares the keys
// by their natural ordering.
func CompareBy[T any, K cmp.Ordered](keyFunc func(T) K) Comparator[T] {
	return func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	}
}

// CompareByDesc is CompareBy in descending order.
func CompareByDesc[T any, K cmp.Ordered](keyFunc func(T) K) Comparator[T] {
	return ReverseComparator(CompareBy[T, K](keyFunc))
}

// ChainComparators applies each comparator in order until one returns a non-zero result.
func ChainComparators[T any](comparators ...Comparator[T]) Comparator[T] {
	return func(a, b T) int {
		for _, c := range comparators {
			if result := c(a, b); result != 0 {
				return result
			}
		}
		return 0
	}
}

// compareRanges breaks ties between producers by partition lower bound.
func compareRanges(a, b PartitionRange) int {
	return strings.Compare(a.MinInclusive, b.MinInclusive)
}

func heads[T any](a, b *Producer[T]) (T, T, error) {
	ha, ok := a.Head()
	if !ok {
		return ha, ha, fmt.Errorf("partition %s: %w", a.Range().ID, ErrNoHead)
	}
	hb, ok := b.Head()
	if !ok {
		return ha, hb, fmt.Errorf("partition %s: %w", b.Range().ID, ErrNoHead)
	}
	return ha, hb, nil
}

// ByItem lifts an item comparator to producers. Ties fall back to the partition
// lower bound.
func ByItem[T any](c Comparator[T]) ProducerComparator[T] {
	return func(a, b *Producer[T]) (int, error) {
		ha, hb, err := heads(a, b)
		if err != nil {
			return 0, err
		}
		if r := c(ha, hb); r != 0 {
			return r, nil
		}
		return compareRanges(a.Range(), b.Range()), nil
	}
}

// ComparatorOption configures an OrderByComparator.
type ComparatorOption func(*comparatorOptions)

type comparatorOptions struct {
	mixedKinds bool
}

// WithMixedKinds lets values of different kinds meet at the same key position; they
// are then ordered by kind rank instead of failing validation.
func WithMixedKinds() ComparatorOption {
	return func(o *comparatorOptions) {
		o.mixedKinds = true
	}
}

// OrderByComparator ranks producers by the order-by projections of their head items.
// Equal projections are ordered by partition lower bound, ascending, whatever the sort
// directions, so the result is a strict weak ordering over distinct partitions.
type OrderByComparator[T OrderByItem] struct {
	spec       SortSpec
	mixedKinds bool
}

// NewOrderByComparator creates a comparator for the given sort directions.
func NewOrderByComparator[T OrderByItem](spec SortSpec, opts ...ComparatorOption) *OrderByComparator[T] {
	var o comparatorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &OrderByComparator[T]{spec: spec, mixedKinds: o.mixedKinds}
}

// Spec returns the sort directions.
func (c *OrderByComparator[T]) Spec() SortSpec { return c.spec }

// Compare returns a negative number when a's head sorts before b's head. It does not
// mutate either producer.
func (c *OrderByComparator[T]) Compare(a, b *Producer[T]) (int, error) {
	ha, hb, err := heads(a, b)
	if err != nil {
		return 0, err
	}
	pa, pb := ha.OrderByProjection(), hb.OrderByProjection()
	if err := c.validate(a.Range(), b.Range(), pa, pb); err != nil {
		return 0, err
	}
	if r := CompareProjections(c.spec, pa, pb); r != 0 {
		return r, nil
	}
	return compareRanges(a.Range(), b.Range()), nil
}

// Func returns Compare as a ProducerComparator.
func (c *OrderByComparator[T]) Func() ProducerComparator[T] {
	return c.Compare
}

func (c *OrderByComparator[T]) validate(ra, rb PartitionRange, pa, pb Projection) error {
	if len(pa) != len(pb) {
		return &ValidationError{
			Left: ra.ID, Right: rb.ID, Position: -1,
			Reason: fmt.Sprintf("expected %d order-by values, got %d", len(pa), len(pb)),
		}
	}
	if len(pa) != len(c.spec) {
		return &ValidationError{
			Left: ra.ID, Right: rb.ID, Position: -1,
			Reason: fmt.Sprintf("%d order-by values for %d sort keys", len(pa), len(c.spec)),
		}
	}
	if c.mixedKinds {
		return nil
	}
	for i := range pa {
		ka, kb := pa[i].Kind(), pb[i].Kind()
		if ka == kb {
			continue
		}
		reason := fmt.Sprintf("expected %s, got %s", ka, kb)
		if pa[i].IsMissing() && pb[i].IsMissing() {
			reason = fmt.Sprintf("missing values disagree: expected %s, got %s", ka, kb)
		}
		return &ValidationError{Left: ra.ID, Right: rb.ID, Position: i, Reason: reason}
	}
	return nil
}
