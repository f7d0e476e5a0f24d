package partitionpager_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	pp "github.com/zhangzqs/partitionpager-go"
)

// sliceSource pages through a fixed slice, using the offset as cursor.
func sliceSource[T any](items ...T) pp.DataSource[T] {
	return pp.DataSourceFunc[T](func(ctx context.Context, cursor pp.Cursor, limit int) (pp.ListResult[T], error) {
		start := 0
		if cursor != "" {
			start, _ = strconv.Atoi(cursor)
		}
		end := min(start+limit, len(items))
		if start >= end {
			return pp.ListResult[T]{}, nil
		}
		res := pp.ListResult[T]{Items: items[start:end], HasMore: end < len(items)}
		if res.HasMore {
			res.NextCursor = strconv.Itoa(end)
		}
		return res, nil
	})
}

func document(v any, id string) pp.Document {
	val, err := pp.ValueOf(v)
	if err != nil {
		panic(err)
	}
	return pp.Document{OrderByItems: pp.Projection{val}, Payload: []byte(strconv.Quote(id))}
}

func Example() {
	ranges := []pp.PartitionRange{
		{ID: "P0", MinInclusive: "", MaxExclusive: "3FFF"},
		{ID: "P1", MinInclusive: "3FFF", MaxExclusive: "7FFF"},
		{ID: "P2", MinInclusive: "7FFF", MaxExclusive: "FF"},
	}
	sources := []pp.DataSource[pp.Document]{
		sliceSource(document(30, "a"), document(10, "b")),
		sliceSource(document(20, "c"), document(10, "d")),
		sliceSource(document(25, "e")),
	}
	order := pp.NewOrderByComparator[pp.Document](pp.SortSpec{pp.Descending})

	pager, err := pp.NewMergePager(ranges, sources, order.Func(), pp.WithPartitionPageSize(1))
	if err != nil {
		fmt.Println(err)
		return
	}
	result, err := pager.List(context.Background(), "", 10)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, d := range result.Items {
		fmt.Println(d.OrderByItems[0], string(d.Payload))
	}
	// Output:
	// 30 "a"
	// 25 "e"
	// 20 "c"
	// 10 "b"
	// 10 "d"
}

func ExampleProducer() {
	p := pp.NewProducer(pp.PartitionRange{ID: "p", MaxExclusive: "FF"}, sliceSource(1, 2, 3), pp.WithPageSize(2))
	ctx := context.Background()

	head, md, _ := p.Current(ctx)
	fmt.Println("head", head, "fetches", md.Fetches)
	for {
		item, _, err := p.Next(ctx)
		if err != nil {
			break
		}
		fmt.Println("item", item)
	}
	fmt.Println("exhausted", p.Exhausted())
	// Output:
	// head 1 fetches 1
	// item 1
	// item 2
	// item 3
	// exhausted true
}

func ExampleNewTransformDataSource() {
	squares := pp.NewTransformDataSource(sliceSource(1, 2, 3), func(n int) string {
		return strconv.Itoa(n * n)
	})
	result, _ := squares.List(context.Background(), "", 10)
	fmt.Println(result.Items)
	// Output: [1 4 9]
}

func ExampleNewLoggingDataSource() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == "elapsed" {
				return slog.Attr{}
			}
			return a
		},
	}))
	source := pp.NewLoggingDataSource(
		pp.NewRetryDataSource(
			pp.NewCachedDataSource(sliceSource("x", "y"), time.Minute),
			2, time.Millisecond),
		logger)

	_, _ = source.List(context.Background(), "", 1)
	// Output:
	// level=INFO msg="Page fetched" cursor="" limit=1 items=1 hasMore=true requestCharge=0
}
