package partitionpager

import "maps"

// Metadata accumulates per-fetch accounting. Merging is additive in every field.
type Metadata struct {
	RequestCharge float64
	Fetches       int
	Items         int
	// Metrics holds backend-reported counters keyed by name.
	Metrics map[string]float64
}

// Merge adds other into m.
func (m *Metadata) Merge(other Metadata) {
	m.RequestCharge += other.RequestCharge
	m.Fetches += other.Fetches
	m.Items += other.Items
	if len(other.Metrics) == 0 {
		return
	}
	if m.Metrics == nil {
		m.Metrics = make(map[string]float64, len(other.Metrics))
	}
	for k, v := range other.Metrics {
		m.Metrics[k] += v
	}
}

// IsZero reports whether nothing has been accumulated.
func (m Metadata) IsZero() bool {
	return m.RequestCharge == 0 && m.Fetches == 0 && m.Items == 0 && len(m.Metrics) == 0
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	out := m
	out.Metrics = maps.Clone(m.Metrics)
	return out
}
