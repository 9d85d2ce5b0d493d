package mdg

import (
	"fmt"
	"time"

	"hftsim/internal/schema"
)

// Generator creates synthetic quotes for every symbol in the registry.
type Generator struct {
	symbols []schema.Symbol
	mids    []float64
	model   *PriceModel
	synth   *Synthesizer
}

// NewGenerator creates a generator seeded at each symbol's seed price.
func NewGenerator(reg *schema.Registry, model *PriceModel, synth *Synthesizer) (*Generator, error) {
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if model == nil || synth == nil {
		return nil, fmt.Errorf("price model and synthesizer are required")
	}
	symbols := make([]schema.Symbol, 0, reg.SymbolCount())
	mids := make([]float64, 0, reg.SymbolCount())
	for i := 0; i < reg.SymbolCount(); i++ {
		symbol, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		symbols = append(symbols, symbol)
		mids = append(mids, symbol.SeedPrice)
	}
	return &Generator{
		symbols: symbols,
		mids:    mids,
		model:   model,
		synth:   synth,
	}, nil
}

// Next advances every symbol by dt seconds and returns one quote per
// symbol in registration order.
func (g *Generator) Next(dt float64, now time.Time) ([]schema.Quote, error) {
	out := make([]schema.Quote, 0, len(g.symbols))
	for i, symbol := range g.symbols {
		mid, err := g.model.NextPrice(symbol.Name, g.mids[i], dt)
		if err != nil {
			return nil, err
		}
		g.mids[i] = mid
		q, err := g.synth.QuoteFromMid(symbol.Name, mid, now)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Mid returns the current mid for symbol.
func (g *Generator) Mid(symbol string) (float64, bool) {
	for i, s := range g.symbols {
		if s.Name == symbol {
			return g.mids[i], true
		}
	}
	return 0, false
}
