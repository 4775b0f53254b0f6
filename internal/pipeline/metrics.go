package pipeline

import (
	"sync/atomic"
)

// Metrics contains pipeline counters.
type Metrics struct {
	Read      atomic.Uint64
	Filtered  atomic.Uint64
	Published atomic.Uint64
	Failed    atomic.Uint64 // published packets whose chain reported an error
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Read:      m.Read.Load(),
		Filtered:  m.Filtered.Load(),
		Published: m.Published.Load(),
		Failed:    m.Failed.Load(),
	}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Read.Store(0)
	m.Filtered.Store(0)
	m.Published.Store(0)
	m.Failed.Store(0)
}

// Stats represents pipeline statistics.
type Stats struct {
	Read      uint64 `yaml:"read"`
	Filtered  uint64 `yaml:"filtered"`
	Published uint64 `yaml:"published"`
	Failed    uint64 `yaml:"failed"`
}
