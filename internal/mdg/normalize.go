package mdg

import (
	"fmt"
	"math"
	"time"

	"hftsim/internal/schema"
)

// RawQuote is a feed record before sequencing. Either Bid/Ask or Last must
// be set; Sequence is the venue sequence when the feed provides one.
type RawQuote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
	Sequence  uint64
}

// Normalizer maps raw feed records to sequenced quotes.
type Normalizer struct {
	reg   *schema.Registry
	synth *Synthesizer
	seq   *Sequencer
}

// NewNormalizer creates a normalizer. synth is used when the feed only
// carries a last price.
func NewNormalizer(reg *schema.Registry, synth *Synthesizer, seq *Sequencer) *Normalizer {
	return &Normalizer{reg: reg, synth: synth, seq: seq}
}

// Normalize converts a raw record into a quote.
func (n *Normalizer) Normalize(raw RawQuote) (schema.Quote, error) {
	if n.reg == nil {
		return schema.Quote{}, fmt.Errorf("registry is nil")
	}
	if _, ok := n.reg.SymbolByName(raw.Symbol); !ok {
		return schema.Quote{}, fmt.Errorf("symbol not found: %s", raw.Symbol)
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now().UTC()
	}

	var q schema.Quote
	switch {
	case validPrice(raw.Bid) && validPrice(raw.Ask) && raw.Bid <= raw.Ask:
		q = schema.Quote{
			Symbol:    raw.Symbol,
			Bid:       raw.Bid,
			Ask:       raw.Ask,
			Mid:       (raw.Bid + raw.Ask) / 2,
			Timestamp: raw.Timestamp,
			Sequence:  raw.Sequence,
		}
	case validPrice(raw.Last) && n.synth != nil:
		var err error
		if q, err = n.synth.quoteWithSequence(raw.Symbol, raw.Last, raw.Timestamp, raw.Sequence); err != nil {
			return schema.Quote{}, err
		}
	default:
		return schema.Quote{}, fmt.Errorf("symbol %s: no usable price in feed record", raw.Symbol)
	}

	if raw.Sequence > 0 {
		n.seq.Advance(raw.Symbol, raw.Sequence)
	} else {
		q.Sequence = n.seq.Next(raw.Symbol)
	}
	return q, nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
