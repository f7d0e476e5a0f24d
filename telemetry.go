package partitionpager

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	fetchCounter         otelmetric.Int64Counter
	fetchErrorCounter    otelmetric.Int64Counter
	itemsFetchedCounter  otelmetric.Int64Counter
	itemsConsumedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/zhangzqs/partitionpager-go")

	var err error
	fetchCounter, err = meter.Int64Counter(
		"partitionpager.producer.fetches",
		otelmetric.WithDescription("Number of pages fetched by partition producers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetches counter: %w", err))
	}

	fetchErrorCounter, err = meter.Int64Counter(
		"partitionpager.producer.fetch.errors",
		otelmetric.WithDescription("Number of page fetches that failed and left a producer errored"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.errors counter: %w", err))
	}

	itemsFetchedCounter, err = meter.Int64Counter(
		"partitionpager.producer.items.fetched",
		otelmetric.WithDescription("Number of items appended to producer buffers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create items.fetched counter: %w", err))
	}

	itemsConsumedCounter, err = meter.Int64Counter(
		"partitionpager.producer.items.consumed",
		otelmetric.WithDescription("Number of items removed from producer buffers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create items.consumed counter: %w", err))
	}
}

func partitionAttrs(r PartitionRange) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(partitionAttributes(r)...)
}

// partitionAttributes identifies a partition on every producer measurement.
func partitionAttributes(r PartitionRange) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("partition", r.ID),
		attribute.Int64("partition.hash", int64(r.Hash())),
	}
}
