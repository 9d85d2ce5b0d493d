package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/schema"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveTick(2 * time.Millisecond)
	m.ObserveTick(4 * time.Millisecond)
	m.IncFill()
	m.IncRejection(schema.RejectReasonStaleQuote)
	m.IncRejection(schema.RejectReasonStaleQuote)
	m.IncRejection(schema.RejectReasonNoQuote)
	m.ObserveFeedPoll(time.Millisecond, false)
	m.ObserveFeedPoll(time.Millisecond, true)
	m.ObserveQuote(true)
	m.ObserveQuote(false)
	m.IncQueueDrop()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Ticks)
	assert.Equal(t, uint64(1), snap.Fills)
	assert.Equal(t, uint64(2), snap.Rejections[schema.RejectReasonStaleQuote])
	assert.Equal(t, uint64(1), snap.Rejections[schema.RejectReasonNoQuote])
	assert.Equal(t, uint64(2), snap.FeedPolls)
	assert.Equal(t, uint64(1), snap.FeedFailures)
	assert.Equal(t, uint64(1), snap.QuotesAccepted)
	assert.Equal(t, uint64(1), snap.QuotesDiscarded)
	assert.Equal(t, uint64(1), snap.QueueDrops)

	require.Equal(t, uint64(2), snap.TickLatency.Count)
	assert.Equal(t, 2*time.Millisecond, snap.TickLatency.Min)
	assert.Equal(t, 4*time.Millisecond, snap.TickLatency.Max)
	assert.Equal(t, 3*time.Millisecond, snap.TickLatency.Avg)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick(time.Second)
	m.IncFill()
	m.IncRejection(schema.RejectReasonRisk)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator(0)
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.Next()
				if _, dup := seen.LoadOrStore(id, struct{}{}); dup {
					t.Errorf("duplicate id %d", id)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), g.Last())
}
