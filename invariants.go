package partitionpager

import "fmt"

// checkConsumedObserved verifies that the item removed from a buffer is the one the
// caller just observed as the head. Panics on mismatch (buffer corruption).
func checkConsumedObserved(r PartitionRange, consumed, observed uint64, hasObserved bool) {
	if !hasObserved || consumed != observed {
		panic(fmt.Sprintf("partitionpager invariant: partition %s consumed item #%d but observed #%d (observed=%v)",
			r.ID, consumed, observed, hasObserved))
	}
}

// checkSingleWriter panics when a fetch re-enters the producer it is filling. It is a
// plain flag, so unsynchronized use from two goroutines is left to the race detector.
func checkSingleWriter(r PartitionRange, fetching bool) {
	if fetching {
		panic(fmt.Sprintf("partitionpager invariant: concurrent fetch on partition %s", r.ID))
	}
}
