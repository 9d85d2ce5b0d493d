// Package strategytest provides strategies for driving the engine in tests.
package strategytest

import (
	"hftsim/internal/engine"
	"hftsim/internal/ledger"
	"hftsim/internal/market"
	"hftsim/internal/schema"
)

var _ engine.Strategy = (*Scripted)(nil)

// Scripted replays fixed orders keyed by how many times it has been asked
// about a symbol. Call numbers start at 1.
type Scripted struct {
	name  string
	plan  map[string]map[int][]schema.Order
	calls map[string]int
	seen  []schema.Rejection
}

func NewScripted(name string) *Scripted {
	return &Scripted{
		name:  name,
		plan:  make(map[string]map[int][]schema.Order),
		calls: make(map[string]int),
	}
}

// At schedules an order for the call-th evaluation of symbol.
func (s *Scripted) At(call int, symbol string, side schema.Side, qty float64) *Scripted {
	if s.plan[symbol] == nil {
		s.plan[symbol] = make(map[int][]schema.Order)
	}
	s.plan[symbol][call] = append(s.plan[symbol][call], schema.NewMarketOrder(symbol, side, qty))
	return s
}

// Rejections returns the distinct rejections observed during evaluation.
func (s *Scripted) Rejections() []schema.Rejection {
	return s.seen
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) Evaluate(symbol string, m market.View, p ledger.PortfolioView) []schema.Order {
	s.calls[symbol]++
	if rej, ok := p.LastRejection(symbol); ok {
		if n := len(s.seen); n == 0 || s.seen[n-1].OrderID != rej.OrderID {
			s.seen = append(s.seen, rej)
		}
	}
	return append([]schema.Order(nil), s.plan[symbol][s.calls[symbol]]...)
}
