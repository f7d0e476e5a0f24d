package partitionpager

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intOrder = ByItem(CompareBy(func(n int) int { return n }))

func collectAll[T any](t *testing.T, pager *MergePager[T], limit int) []T {
	t.Helper()
	var all []T
	cursor := ""
	for i := 0; i < 100; i++ {
		result, err := pager.List(context.Background(), cursor, limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(result.Items), limit)
		all = append(all, result.Items...)
		if !result.HasMore {
			assert.Empty(t, result.NextCursor)
			return all
		}
		require.NotEmpty(t, result.NextCursor)
		cursor = result.NextCursor
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func TestNewMergePagerRejectsBadRanges(t *testing.T) {
	_, err := NewMergePager[int](nil, nil, intOrder)
	assert.Error(t, err)

	ranges := []PartitionRange{{ID: "a", MinInclusive: "", MaxExclusive: "80"}, {ID: "b", MinInclusive: "70", MaxExclusive: "FF"}}
	_, err = NewMergePager(ranges, []DataSource[int]{newPagedSource[int](), newPagedSource[int]()}, intOrder)
	assert.Error(t, err)

	_, err = NewMergePager(fullRanges(), []DataSource[int]{newPagedSource[int](), newPagedSource[int]()}, intOrder)
	assert.Error(t, err, "range and source counts differ")
}

func TestMergePagerSingleSource(t *testing.T) {
	pager, err := NewMergePager(fullRanges(), []DataSource[int]{newPagedSource(1, 2, 3, 4, 5)}, intOrder)
	require.NoError(t, err)

	result, err := pager.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, result.Items)
	assert.False(t, result.HasMore)
	assert.Empty(t, result.NextCursor)
}

func TestMergePagerMultipleSources(t *testing.T) {
	odd := newPagedSource(1, 3, 5, 7, 9)
	even := newPagedSource(2, 4, 6, 8, 10)
	pager, err := NewMergePager(fullRanges("80"), []DataSource[int]{odd, even}, intOrder)
	require.NoError(t, err)

	result, err := pager.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, result.Items)
}

func TestMergePagerPagination(t *testing.T) {
	sources := []DataSource[int]{
		newPagedSource(1, 4, 7, 10, 13),
		newPagedSource(2, 5, 8, 11),
		newPagedSource(3, 6, 9, 12, 14, 15),
	}
	pager, err := NewMergePager(fullRanges("40", "80"), sources, intOrder, WithPartitionPageSize(2))
	require.NoError(t, err)

	all := collectAll(t, pager, 4)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, all)
}

func TestMergePagerEqualItemsFollowPartitionOrder(t *testing.T) {
	docs := func(id string) DataSource[Document] {
		d := doc(10)
		d.Payload = []byte(`"` + id + `"`)
		return newPagedSource(d)
	}
	ranges := fullRanges("40", "80")
	sources := []DataSource[Document]{docs("P0"), docs("P1"), docs("P2")}
	// Declare the partitions out of key order so the lower bound, not the slice
	// position, decides.
	ranges[0], ranges[2] = ranges[2], ranges[0]
	sources[0], sources[2] = sources[2], sources[0]

	pager, err := NewMergePager(ranges, sources, NewOrderByComparator[Document](SortSpec{Descending}).Func())
	require.NoError(t, err)

	result, err := pager.List(context.Background(), "", 10)
	require.NoError(t, err)
	var got []string
	for _, d := range result.Items {
		got = append(got, string(d.Payload))
	}
	assert.Equal(t, []string{`"P0"`, `"P1"`, `"P2"`}, got)
}

func TestMergePagerOrderByDocuments(t *testing.T) {
	sources := []DataSource[Document]{
		newPagedSource(doc("c", 1), doc("b", 5), doc("a", 0)),
		newPagedSource(doc("c", 2), doc("b", 1)),
	}
	spec := SortSpec{Descending, Ascending}
	pager, err := NewMergePager(fullRanges("80"), sources, NewOrderByComparator[Document](spec).Func(), WithPartitionPageSize(1))
	require.NoError(t, err)

	all := collectAll(t, pager, 2)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, CompareProjections(spec, all[i-1].OrderByItems, all[i].OrderByItems), 0)
	}
	assert.Equal(t, "a", all[4].OrderByItems[0].Text())
}

func TestMergePagerRoundRobin(t *testing.T) {
	sources := []DataSource[int]{newPagedSource(1, 2, 3), newPagedSource(10, 20)}
	pager, err := NewMergePager(fullRanges("80"), sources, nil)
	require.NoError(t, err)

	all := collectAll(t, pager, 10)
	assert.Equal(t, []int{1, 10, 2, 20, 3}, all)
}

func TestMergePagerMetadata(t *testing.T) {
	a := newPagedSource(1, 3)
	a.charge = 1
	b := newPagedSource(2, 4)
	b.charge = 2
	pager, err := NewMergePager(fullRanges("80"), []DataSource[int]{a, b}, intOrder)
	require.NoError(t, err)

	result, err := pager.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.Metadata.RequestCharge)
	assert.Equal(t, 2, result.Metadata.Fetches)
	assert.Equal(t, 4, result.Metadata.Items)
}

func TestMergePagerReportsEveryFailedPartition(t *testing.T) {
	errA := errors.New("partition a down")
	errB := errors.New("partition b down")
	sources := []DataSource[int]{
		&scriptedSource[int]{errs: map[int]error{0: errA}},
		newPagedSource(1),
		&scriptedSource[int]{errs: map[int]error{0: errB}},
	}
	pager, err := NewMergePager(fullRanges("40", "80"), sources, intOrder)
	require.NoError(t, err)

	_, err = pager.List(context.Background(), "", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
}

func TestMergePagerFailsOnLaterFetch(t *testing.T) {
	boom := errors.New("boom")
	flaky := &scriptedSource[int]{
		pages: []ListResult[int]{{Items: []int{1}, NextCursor: "next", HasMore: true}},
		errs:  map[int]error{1: boom},
	}
	pager, err := NewMergePager(fullRanges("80"), []DataSource[int]{flaky, newPagedSource(5, 6)}, intOrder)
	require.NoError(t, err)

	_, err = pager.List(context.Background(), "", 10)
	assert.ErrorIs(t, err, boom)
}

func TestMergePagerValidationError(t *testing.T) {
	sources := []DataSource[Document]{newPagedSource(doc(1)), newPagedSource(doc("x"))}
	pager, err := NewMergePager(fullRanges("80"), sources, NewOrderByComparator[Document](SortSpec{Ascending}).Func())
	require.NoError(t, err)

	_, err = pager.List(context.Background(), "", 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMergePagerInvalidCursor(t *testing.T) {
	pager, err := NewMergePager(fullRanges("80"), []DataSource[int]{newPagedSource(1, 2, 3), newPagedSource(4, 5, 6)}, intOrder)
	require.NoError(t, err)

	_, err = pager.List(context.Background(), "not a token!", 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)

	result, err := pager.List(context.Background(), "", 2)
	require.NoError(t, err)
	require.True(t, result.HasMore)

	raw, err := base64.RawURLEncoding.DecodeString(result.NextCursor)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	_, err = pager.List(context.Background(), base64.RawURLEncoding.EncodeToString(raw), 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)

	other, err := NewMergePager(fullRanges("40", "80"), []DataSource[int]{newPagedSource[int](), newPagedSource[int](), newPagedSource[int]()}, intOrder)
	require.NoError(t, err)
	_, err = other.List(context.Background(), result.NextCursor, 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCursorRoundTrip(t *testing.T) {
	state := &mergeState{Partitions: []partitionState{
		{ID: "0", Cursor: "abc", Fetched: true, Buffer: []byte(`[1,2]`)},
		{ID: "1", Exhausted: true, Fetched: true},
	}}
	token, err := encodeCursor(state)
	require.NoError(t, err)

	decoded, err := decodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestMergePagerCarriesNonFiniteNumbersAcrossPages(t *testing.T) {
	sources := []DataSource[Document]{
		newPagedSource(doc(math.NaN()), doc(math.Inf(1))),
		newPagedSource(doc(math.Inf(-1)), doc(1)),
	}
	pager, err := NewMergePager(fullRanges("80"), sources, NewOrderByComparator[Document](SortSpec{Ascending}).Func(),
		WithPartitionPageSize(5))
	require.NoError(t, err)

	all := collectAll(t, pager, 1)
	require.Len(t, all, 4)
	assert.True(t, math.IsNaN(all[0].OrderByItems[0].Number()))
	assert.True(t, math.IsInf(all[1].OrderByItems[0].Number(), -1))
	assert.Equal(t, 1.0, all[2].OrderByItems[0].Number())
	assert.True(t, math.IsInf(all[3].OrderByItems[0].Number(), 1))
}

func TestMergePagerMetadataOfLastList(t *testing.T) {
	a := newPagedSource(1, 3)
	a.charge = 1
	b := newPagedSource(2, 4)
	b.charge = 2
	pager, err := NewMergePager(fullRanges("80"), []DataSource[int]{a, b}, intOrder, WithPartitionPageSize(2))
	require.NoError(t, err)
	assert.True(t, pager.Metadata().IsZero())

	result, err := pager.List(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Equal(t, result.Metadata, pager.Metadata())
	assert.Equal(t, 3.0, pager.Metadata().RequestCharge)

	_, err = pager.List(context.Background(), "not a token!", 1)
	require.Error(t, err)
	assert.True(t, pager.Metadata().IsZero(), "a failed List replaces the previous metadata")
}
