// Package cost tracks how many platform API calls a run spends, broken down
// by operation.
package cost

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Operation names counted by the client.
const (
	OpSearchPage   = "search_page"
	OpDetail       = "property_detail"
	OpParcelPins   = "parcel_pins"
	OpParcelDetail = "parcel_detail"
	OpGraphQL      = "graphql"
)

// Meter counts API calls per operation. Safe for concurrent use. The zero
// value is ready to use.
type Meter struct {
	mu     sync.Mutex
	counts map[string]*atomic.Int64
}

// NewMeter returns an empty Meter.
func NewMeter() *Meter {
	return &Meter{}
}

// Add records n calls for op.
func (m *Meter) Add(op string, n int64) {
	if m == nil {
		return
	}
	m.counter(op).Add(n)
}

// Inc records one call for op.
func (m *Meter) Inc(op string) { m.Add(op, 1) }

// Count returns the calls recorded for op.
func (m *Meter) Count(op string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	c, ok := m.counts[op]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Total returns the calls recorded across all operations.
func (m *Meter) Total() int64 {
	var total int64
	for _, n := range m.Snapshot() {
		total += n
	}
	return total
}

// Snapshot returns a copy of the per-operation counts.
func (m *Meter) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for op, c := range m.counts {
		out[op] = c.Load()
	}
	return out
}

// Operations returns the recorded operation names in sorted order.
func (m *Meter) Operations() []string {
	snap := m.Snapshot()
	ops := make([]string, 0, len(snap))
	for op := range snap {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Since returns the per-operation difference between the current counts and
// an earlier snapshot.
func (m *Meter) Since(before map[string]int64) map[string]int64 {
	now := m.Snapshot()
	out := make(map[string]int64, len(now))
	for op, n := range now {
		if d := n - before[op]; d > 0 {
			out[op] = d
		}
	}
	return out
}

func (m *Meter) counter(op string) *atomic.Int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]*atomic.Int64)
	}
	c, ok := m.counts[op]
	if !ok {
		c = new(atomic.Int64)
		m.counts[op] = c
	}
	return c
}
