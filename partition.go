package partitionpager

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
)

// Bounds of the effective partition key space.
const (
	MinEffectiveKey = ""
	MaxEffectiveKey = "FF"
)

// PartitionRange describes the slice of the key space owned by one partition.
type PartitionRange struct {
	ID           string `json:"id" mapstructure:"id"`
	MinInclusive string `json:"minInclusive" mapstructure:"min"`
	MaxExclusive string `json:"maxExclusive" mapstructure:"max"`
}

// Contains reports whether key falls inside the range.
func (r PartitionRange) Contains(key string) bool {
	return key >= r.MinInclusive && key < r.MaxExclusive
}

// Hash returns a stable hash of the partition id.
func (r PartitionRange) Hash() uint64 {
	return xxhash.Sum64String(r.ID)
}

// String formats the range as id["min","max").
func (r PartitionRange) String() string {
	return fmt.Sprintf("%s[%q,%q)", r.ID, r.MinInclusive, r.MaxExclusive)
}

// ValidateRanges checks that ranges are non-overlapping and jointly cover the key space.
// Every defect found is reported, not only the first.
func ValidateRanges(ranges []PartitionRange) error {
	if len(ranges) == 0 {
		return errors.New("no partition ranges")
	}

	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b PartitionRange) int {
		return strings.Compare(a.MinInclusive, b.MinInclusive)
	})

	var errs *multierror.Error
	ids := make(map[string]struct{}, len(sorted))
	for i, r := range sorted {
		if _, dup := ids[r.ID]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate partition id %q", r.ID))
		}
		ids[r.ID] = struct{}{}

		if r.MinInclusive >= r.MaxExclusive {
			errs = multierror.Append(errs, fmt.Errorf("partition %s is empty", r))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		switch {
		case prev.MaxExclusive > r.MinInclusive:
			errs = multierror.Append(errs, fmt.Errorf("partition %s overlaps %s", prev, r))
		case prev.MaxExclusive < r.MinInclusive:
			errs = multierror.Append(errs, fmt.Errorf("gap between %s and %s", prev, r))
		}
	}

	if first := sorted[0]; first.MinInclusive != MinEffectiveKey {
		errs = multierror.Append(errs, fmt.Errorf("partition %s does not start at the minimum key", first))
	}
	if last := sorted[len(sorted)-1]; last.MaxExclusive != MaxEffectiveKey {
		errs = multierror.Append(errs, fmt.Errorf("partition %s does not end at %q", last, MaxEffectiveKey))
	}
	return errs.ErrorOrNil()
}
