package obs

import (
	"sync/atomic"
	"time"

	"hftsim/internal/schema"
)

const maxRejectReason = int(schema.RejectReasonOther)

// Metrics collects lightweight counters and latency stats. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	ticks           uint64
	fills           uint64
	rejectionCounts [maxRejectReason + 1]uint64
	feedPolls       uint64
	feedFailures    uint64
	quotesAccepted  uint64
	quotesDiscarded uint64
	queueDrops      uint64
	queueClosed     uint64

	tickLatency     LatencyStats
	feedLatency     LatencyStats
	riskEvalLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Ticks           uint64
	Fills           uint64
	Rejections      map[schema.RejectReason]uint64
	FeedPolls       uint64
	FeedFailures    uint64
	QuotesAccepted  uint64
	QuotesDiscarded uint64
	QueueDrops      uint64
	QueueClosed     uint64
	TickLatency     LatencySnapshot
	FeedLatency     LatencySnapshot
	RiskEvalLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveTick counts a completed tick and its duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticks, 1)
	m.tickLatency.Observe(d)
}

// IncFill records an executed order.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// IncRejection increments the rejection counter for reason.
func (m *Metrics) IncRejection(reason schema.RejectReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.rejectionCounts) {
		atomic.AddUint64(&m.rejectionCounts[idx], 1)
	}
}

// ObserveFeedPoll records one feed poll, failed or not.
func (m *Metrics) ObserveFeedPoll(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.feedPolls, 1)
	if failed {
		atomic.AddUint64(&m.feedFailures, 1)
	}
	m.feedLatency.Observe(d)
}

// ObserveQuote records whether market state accepted a quote.
func (m *Metrics) ObserveQuote(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		atomic.AddUint64(&m.quotesAccepted, 1)
		return
	}
	atomic.AddUint64(&m.quotesDiscarded, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	rejections := make(map[schema.RejectReason]uint64)
	for i := range m.rejectionCounts {
		if v := atomic.LoadUint64(&m.rejectionCounts[i]); v > 0 {
			rejections[schema.RejectReason(i)] = v
		}
	}
	return Snapshot{
		Ticks:           atomic.LoadUint64(&m.ticks),
		Fills:           atomic.LoadUint64(&m.fills),
		Rejections:      rejections,
		FeedPolls:       atomic.LoadUint64(&m.feedPolls),
		FeedFailures:    atomic.LoadUint64(&m.feedFailures),
		QuotesAccepted:  atomic.LoadUint64(&m.quotesAccepted),
		QuotesDiscarded: atomic.LoadUint64(&m.quotesDiscarded),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		QueueClosed:     atomic.LoadUint64(&m.queueClosed),
		TickLatency:     m.tickLatency.Snapshot(),
		FeedLatency:     m.feedLatency.Snapshot(),
		RiskEvalLatency: m.riskEvalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
