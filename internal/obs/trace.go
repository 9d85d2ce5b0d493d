package obs

import "sync/atomic"

// IDGenerator hands out monotonically increasing identifiers, used for order
// ids. Starting from a fixed value keeps simulated runs reproducible.
type IDGenerator struct {
	next uint64
}

// NewIDGenerator returns a generator whose first id is start+1.
func NewIDGenerator(start uint64) *IDGenerator {
	return &IDGenerator{next: start}
}

// Next returns the next id.
func (g *IDGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}

// Last returns the most recently issued id.
func (g *IDGenerator) Last() uint64 {
	if g == nil {
		return 0
	}
	return atomic.LoadUint64(&g.next)
}
