package mdg

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"hftsim/internal/schema"
)

// Sequencer hands out per-symbol quote sequence numbers. It is shared by the
// simulated and live paths so numbering does not depend on the source.
type Sequencer struct {
	counters map[string]*atomic.Uint64
}

// NewSequencer creates counters for a fixed symbol set.
func NewSequencer(symbols []string) *Sequencer {
	counters := make(map[string]*atomic.Uint64, len(symbols))
	for _, name := range symbols {
		counters[name] = new(atomic.Uint64)
	}
	return &Sequencer{counters: counters}
}

// Next returns the next sequence for symbol, or 0 if the symbol is unknown.
func (s *Sequencer) Next(symbol string) uint64 {
	c, ok := s.counters[symbol]
	if !ok {
		return 0
	}
	return c.Add(1)
}

// Advance raises the counter to at least seq.
func (s *Sequencer) Advance(symbol string, seq uint64) {
	c, ok := s.counters[symbol]
	if !ok {
		return
	}
	for {
		cur := c.Load()
		if seq <= cur || c.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Current returns the last sequence handed out for symbol.
func (s *Sequencer) Current(symbol string) uint64 {
	c, ok := s.counters[symbol]
	if !ok {
		return 0
	}
	return c.Load()
}

// Synthesizer turns a mid price into a bid/ask pair with a class spread.
type Synthesizer struct {
	reg     *schema.Registry
	classes map[schema.AssetClass]ClassParams
	rng     *rand.Rand
	seq     *Sequencer
}

// NewSynthesizer creates a synthesizer sharing rng with the price model.
func NewSynthesizer(reg *schema.Registry, classes map[schema.AssetClass]ClassParams, rng *rand.Rand, seq *Sequencer) (*Synthesizer, error) {
	if rng == nil || seq == nil {
		return nil, fmt.Errorf("rng and sequencer are required")
	}
	if err := (ModelConfig{Classes: classes}).Validate(reg); err != nil {
		return nil, err
	}
	return &Synthesizer{reg: reg, classes: classes, rng: rng, seq: seq}, nil
}

// QuoteFromMid builds a quote around mid with a jittered spread.
func (s *Synthesizer) QuoteFromMid(symbol string, mid float64, ts time.Time) (schema.Quote, error) {
	spread, err := s.spread(symbol, mid)
	if err != nil {
		return schema.Quote{}, err
	}
	return build(symbol, mid, spread, ts, s.seq.Next(symbol)), nil
}

// quoteWithSequence is QuoteFromMid for records that already carry a venue
// sequence.
func (s *Synthesizer) quoteWithSequence(symbol string, mid float64, ts time.Time, seq uint64) (schema.Quote, error) {
	spread, err := s.spread(symbol, mid)
	if err != nil {
		return schema.Quote{}, err
	}
	return build(symbol, mid, spread, ts, seq), nil
}

func (s *Synthesizer) spread(symbol string, mid float64) (float64, error) {
	sym, ok := s.reg.SymbolByName(symbol)
	if !ok {
		return 0, fmt.Errorf("symbol not found: %s", symbol)
	}
	if mid <= 0 {
		return 0, fmt.Errorf("symbol %s: mid must be > 0, got %v", symbol, mid)
	}
	jitter := 0.5 + s.rng.Float64()
	return mid * s.classes[sym.Class].SpreadBps / 10000 * jitter, nil
}

func build(symbol string, mid, spread float64, ts time.Time, seq uint64) schema.Quote {
	half := spread / 2
	if half >= mid {
		half = mid / 2
	}
	return schema.Quote{
		Symbol:    symbol,
		Bid:       mid - half,
		Ask:       mid + half,
		Mid:       mid,
		Timestamp: ts,
		Sequence:  seq,
	}
}
