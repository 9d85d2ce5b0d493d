package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"hftsim/internal/schema"
)

var (
	ErrQueueFull   = errors.New("snapshot queue full")
	ErrQueueClosed = errors.New("snapshot queue closed")
)

// OverflowPolicy defines queue behavior when full.
type OverflowPolicy uint8

const (
	// OverflowBlock blocks the publisher until a reporter makes room.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropNewest drops the incoming snapshot if the queue is full.
	OverflowDropNewest
)

// ParseOverflowPolicy maps a config name to a policy.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch name {
	case "block":
		return OverflowBlock, nil
	case "drop", "drop_newest":
		return OverflowDropNewest, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", name)
	}
}

// Queue is a bounded snapshot queue between the tick loop and reporters.
// With OverflowDropNewest a slow reporter loses snapshots instead of
// stalling ticks; with OverflowBlock every snapshot is delivered.
type Queue struct {
	ch     chan schema.Snapshot
	closed uint32
	policy OverflowPolicy
}

// NewQueue allocates a queue with the given capacity and overflow policy.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Snapshot, capacity), policy: policy}
}

// Policy returns the overflow policy.
func (q *Queue) Policy() OverflowPolicy {
	return q.policy
}

// Publish enqueues a snapshot according to the overflow policy.
func (q *Queue) Publish(s schema.Snapshot) (err error) {
	if q.policy != OverflowBlock {
		return q.TryPublish(s)
	}
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	defer func() {
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	q.ch <- s
	return nil
}

// TryPublish enqueues a snapshot without blocking.
func (q *Queue) TryPublish(s schema.Snapshot) (err error) {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	defer func() {
		// Close may win the race after the check above.
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case q.ch <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new snapshots. Buffered snapshots
// are still delivered by Run.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes snapshots until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler func(schema.Snapshot)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-q.ch:
			if !ok {
				return
			}
			handler(s)
		}
	}
}

// Fanout calls every handler for each snapshot.
func Fanout(handlers ...func(schema.Snapshot)) func(schema.Snapshot) {
	return func(s schema.Snapshot) {
		for _, h := range handlers {
			if h != nil {
				h(s)
			}
		}
	}
}
