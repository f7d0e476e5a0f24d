package partitionpager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SortOrder is the direction of one sort key.
type SortOrder int8

const (
	Ascending SortOrder = iota
	Descending
)

// String returns "asc" or "desc".
func (o SortOrder) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// ParseSortOrder accepts asc, ascending, desc and descending in any case.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown sort order %q", s)
	}
}

// SortSpec lists the direction of every sort key, in key order.
type SortSpec []SortOrder

// ParseSortSpec parses one direction per key.
func ParseSortSpec(orders []string) (SortSpec, error) {
	spec := make(SortSpec, 0, len(orders))
	for _, s := range orders {
		o, err := ParseSortOrder(s)
		if err != nil {
			return nil, err
		}
		spec = append(spec, o)
	}
	return spec, nil
}

// Projection is the tuple of sort-key values materialized for one result item.
// On the wire it is a list of {"value": x} entries; an entry without a value is Absent.
type Projection []Value

// OrderByItem is implemented by result items that carry an order-by projection.
type OrderByItem interface {
	OrderByProjection() Projection
}

// Document is a result item of an order-by query: the projection used for ranking
// and the raw document payload.
type Document struct {
	OrderByItems Projection      `json:"orderByItems"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// OrderByProjection implements OrderByItem.
func (d Document) OrderByProjection() Projection { return d.OrderByItems }

// Kinds returns the kind of every value.
func (p Projection) Kinds() []Kind {
	out := make([]Kind, len(p))
	for i, v := range p {
		out[i] = v.Kind()
	}
	return out
}

// MarshalJSON writes one {"value": x} entry per key and {} for Absent.
func (p Projection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		if v.Kind() == KindAbsent {
			buf.WriteString("{}")
			continue
		}
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteString(`{"value":`)
		buf.Write(b)
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the list written by MarshalJSON. Nested values are rejected.
func (p *Projection) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entries []map[string]any
	if err := dec.Decode(&entries); err != nil {
		return fmt.Errorf("decode order-by projection: %w", err)
	}

	out := make(Projection, len(entries))
	for i, entry := range entries {
		raw, ok := entry["value"]
		if !ok {
			// Older payloads name the field "item".
			raw, ok = entry["item"]
		}
		if !ok {
			out[i] = AbsentValue()
			continue
		}
		v, err := ValueOf(raw)
		if err != nil {
			return fmt.Errorf("order-by value %d: %w", i, err)
		}
		out[i] = v
	}
	*p = out
	return nil
}

// CompareProjections orders a and b key by key under spec and returns at the first
// non-equal key, with the key's direction applied. Keys beyond the shorter of the three
// lengths are ignored.
func CompareProjections(spec SortSpec, a, b Projection) int {
	n := min(len(spec), len(a), len(b))
	for i := 0; i < n; i++ {
		c := CompareValues(a[i], b[i])
		if c == 0 {
			continue
		}
		if spec[i] == Descending {
			return -c
		}
		return c
	}
	return 0
}
