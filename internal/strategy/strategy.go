package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"hftsim/internal/engine"
	"hftsim/internal/ledger"
	"hftsim/internal/market"
)

// Kinds lists the strategy kinds New understands.
var Kinds = []string{"buy_and_hold", "mean_reversion", "momentum", "bollinger"}

// New builds a reference strategy of kind named name. Unknown params are
// rejected so config typos fail fast.
func New(kind, name string, params map[string]float64) (engine.Strategy, error) {
	if name == "" {
		name = kind
	}
	p := paramReader{params: params, used: make(map[string]bool)}
	var (
		s   engine.Strategy
		err error
	)
	switch strings.ToLower(kind) {
	case "buy_and_hold":
		s, err = NewBuyAndHold(name, p.get("quantity", 1))
	case "mean_reversion":
		s, err = NewMeanReversion(name, int(p.get("window", 20)), p.get("threshold", 2), p.get("quantity", 1))
	case "momentum":
		s, err = NewMomentum(name, int(p.get("lookback", 10)), p.get("threshold", 0.001), p.get("quantity", 1))
	case "bollinger":
		s, err = NewBollinger(name, int(p.get("window", 20)), p.get("num_std", 2), p.get("quantity", 1),
			p.get("stop_loss", 0.02), p.get("take_profit", 0.05))
	default:
		return nil, fmt.Errorf("unknown strategy kind %q, want one of %s", kind, strings.Join(Kinds, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	if unused := p.unused(); len(unused) > 0 {
		return nil, fmt.Errorf("strategy %s: unknown params %s", name, strings.Join(unused, ", "))
	}
	return s, nil
}

type paramReader struct {
	params map[string]float64
	used   map[string]bool
}

func (r paramReader) get(key string, def float64) float64 {
	r.used[key] = true
	if v, ok := r.params[key]; ok {
		return v
	}
	return def
}

func (r paramReader) unused() []string {
	var out []string
	for k := range r.params {
		if !r.used[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// tradableMid returns the mid of a fresh quote.
func tradableMid(symbol string, m market.View) (float64, bool) {
	if m.IsStale(symbol) {
		return 0, false
	}
	q, err := m.Read(symbol)
	if err != nil {
		return 0, false
	}
	return q.Mid, true
}

func positionQty(p ledger.PortfolioView, symbol string) float64 {
	return p.Position(symbol).Quantity.InexactFloat64()
}

// affordable caps qty so that qty*price fits in cash.
func affordable(p ledger.PortfolioView, qty, price float64) float64 {
	if price <= 0 {
		return 0
	}
	cash := p.Cash().InexactFloat64()
	return math.Min(qty, math.Floor(cash/price))
}

// window is a fixed-size ring of recent mids.
type window struct {
	values []float64
	next   int
	full   bool
}

func newWindow(size int) *window {
	return &window{values: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.values)
	}
	return w.next
}

// oldest returns the earliest retained value.
func (w *window) oldest() float64 {
	if w.full {
		return w.values[w.next]
	}
	return w.values[0]
}

func (w *window) meanStd() (mean, std float64) {
	n := w.len()
	if n == 0 {
		return 0, 0
	}
	for i := 0; i < n; i++ {
		mean += w.values[i]
	}
	mean /= float64(n)
	for i := 0; i < n; i++ {
		d := w.values[i] - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(n))
}
