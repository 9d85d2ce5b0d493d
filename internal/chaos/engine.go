package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/feed"
	"hftsim/internal/mdg"
	"hftsim/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64         `json:"seed" yaml:"seed"`
	DropRate      float64       `json:"dropRate" yaml:"dropRate"`
	DuplicateRate float64       `json:"duplicateRate" yaml:"duplicateRate"`
	ReorderWindow int           `json:"reorderWindow" yaml:"reorderWindow"`
	MaxDelay      time.Duration `json:"-" yaml:"-"`
	OutageRate    float64       `json:"outageRate" yaml:"outageRate"`
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0 || c.OutageRate > 0
}

// Engine applies chaos rules to raw feed records.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []mdg.RawQuote
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.OutageRate < 0 || c.OutageRate > 1 {
		return fmt.Errorf("outageRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorderWindow must be >= 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Process applies chaos to a single record and returns any output records.
func (e *Engine) Process(q mdg.RawQuote) []mdg.RawQuote {
	if e == nil {
		return []mdg.RawQuote{q}
	}
	if e.shouldDrop() {
		return nil
	}
	q = e.applyDelay(q)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(q)
	}
	e.pending = append(e.pending, q)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any buffered records in random order.
func (e *Engine) Flush() []mdg.RawQuote {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]mdg.RawQuote, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		q := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(q)...)
	}
	return out
}

// Outage reports whether the next poll should fail entirely.
func (e *Engine) Outage() bool {
	return e != nil && e.cfg.OutageRate > 0 && e.rng.Float64() < e.cfg.OutageRate
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(q mdg.RawQuote) []mdg.RawQuote {
	out := []mdg.RawQuote{q}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, q)
	}
	return out
}

func (e *Engine) applyDelay(q mdg.RawQuote) mdg.RawQuote {
	if e.cfg.MaxDelay <= 0 || q.Timestamp.IsZero() {
		return q
	}
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 {
		return q
	}
	q.Timestamp = q.Timestamp.Add(time.Duration(e.rng.Int63n(maxDelay + 1)))
	return q
}

// Feed wraps another feed and injects faults into its responses. Records
// held back for reordering are delivered with a later poll.
type Feed struct {
	next   feed.Feed
	engine *Engine
}

var _ feed.Feed = (*Feed)(nil)

// NewFeed wraps next with engine.
func NewFeed(next feed.Feed, engine *Engine) (*Feed, error) {
	if next == nil || engine == nil {
		return nil, fmt.Errorf("feed and chaos engine are required")
	}
	return &Feed{next: next, engine: engine}, nil
}

// Poll implements feed.Feed.
func (f *Feed) Poll(ctx context.Context, symbols []string) ([]mdg.RawQuote, error) {
	if f.engine.Outage() {
		return nil, ierrors.Wrap(exception.ErrFeedUnavailable, "chaos: injected outage")
	}
	raws, err := f.next.Poll(ctx, symbols)
	if err != nil {
		return nil, err
	}
	out := make([]mdg.RawQuote, 0, len(raws))
	for _, raw := range raws {
		out = append(out, f.engine.Process(raw)...)
	}
	return out, nil
}
