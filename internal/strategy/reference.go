package strategy

import (
	"fmt"

	"hftsim/internal/engine"
	"hftsim/internal/ledger"
	"hftsim/internal/market"
	"hftsim/internal/schema"
)

var (
	_ engine.Strategy = (*BuyAndHold)(nil)
	_ engine.Strategy = (*MeanReversion)(nil)
	_ engine.Strategy = (*Momentum)(nil)
	_ engine.Strategy = (*Bollinger)(nil)
)

// BuyAndHold buys a fixed quantity of every symbol once.
type BuyAndHold struct {
	name     string
	quantity float64
}

func NewBuyAndHold(name string, quantity float64) (*BuyAndHold, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be > 0")
	}
	return &BuyAndHold{name: name, quantity: quantity}, nil
}

func (s *BuyAndHold) Name() string { return s.name }

func (s *BuyAndHold) Evaluate(symbol string, m market.View, p ledger.PortfolioView) []schema.Order {
	if positionQty(p, symbol) != 0 {
		return nil
	}
	if rej, ok := p.LastRejection(symbol); ok && rej.Reason == schema.RejectReasonInsufficientCash {
		return nil
	}
	if _, ok := tradableMid(symbol, m); !ok {
		return nil
	}
	return []schema.Order{schema.NewMarketOrder(symbol, schema.SideBuy, s.quantity)}
}

// MeanReversion buys when the mid falls threshold standard deviations
// below its rolling mean and exits when it rises the same distance above.
type MeanReversion struct {
	name      string
	size      int
	threshold float64
	quantity  float64
	windows   map[string]*window
}

func NewMeanReversion(name string, size int, threshold, quantity float64) (*MeanReversion, error) {
	if size < 2 {
		return nil, fmt.Errorf("window must be >= 2")
	}
	if threshold <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("threshold and quantity must be > 0")
	}
	return &MeanReversion{
		name:      name,
		size:      size,
		threshold: threshold,
		quantity:  quantity,
		windows:   make(map[string]*window),
	}, nil
}

func (s *MeanReversion) Name() string { return s.name }

func (s *MeanReversion) Evaluate(symbol string, m market.View, p ledger.PortfolioView) []schema.Order {
	mid, ok := tradableMid(symbol, m)
	if !ok {
		return nil
	}
	w, ok := s.windows[symbol]
	if !ok {
		w = newWindow(s.size)
		s.windows[symbol] = w
	}
	w.push(mid)
	if w.len() < s.size {
		return nil
	}
	mean, std := w.meanStd()
	if std == 0 {
		return nil
	}
	z := (mid - mean) / std
	held := positionQty(p, symbol)
	switch {
	case z <= -s.threshold && held <= 0:
		if qty := affordable(p, s.quantity, mid); qty > 0 {
			return []schema.Order{schema.NewMarketOrder(symbol, schema.SideBuy, qty)}
		}
	case z >= s.threshold && held > 0:
		return []schema.Order{schema.NewMarketOrder(symbol, schema.SideSell, held)}
	}
	return nil
}

// Momentum buys when the return over lookback evaluations exceeds
// threshold and exits when it falls below -threshold.
type Momentum struct {
	name      string
	lookback  int
	threshold float64
	quantity  float64
	windows   map[string]*window
}

func NewMomentum(name string, lookback int, threshold, quantity float64) (*Momentum, error) {
	if lookback < 1 {
		return nil, fmt.Errorf("lookback must be >= 1")
	}
	if threshold <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("threshold and quantity must be > 0")
	}
	return &Momentum{
		name:      name,
		lookback:  lookback,
		threshold: threshold,
		quantity:  quantity,
		windows:   make(map[string]*window),
	}, nil
}

func (s *Momentum) Name() string { return s.name }

func (s *Momentum) Evaluate(symbol string, m market.View, p ledger.PortfolioView) []schema.Order {
	mid, ok := tradableMid(symbol, m)
	if !ok {
		return nil
	}
	w, ok := s.windows[symbol]
	if !ok {
		w = newWindow(s.lookback + 1)
		s.windows[symbol] = w
	}
	w.push(mid)
	if w.len() <= s.lookback {
		return nil
	}
	ret := mid/w.oldest() - 1
	held := positionQty(p, symbol)
	switch {
	case ret >= s.threshold && held <= 0:
		if qty := affordable(p, s.quantity, mid); qty > 0 {
			return []schema.Order{schema.NewMarketOrder(symbol, schema.SideBuy, qty)}
		}
	case ret <= -s.threshold && held > 0:
		return []schema.Order{schema.NewMarketOrder(symbol, schema.SideSell, held)}
	}
	return nil
}

const (
	bandEntryLow  = 0.05
	bandEntryHigh = 0.95
	bandExitLow   = 0.4
	bandExitHigh  = 0.6
)

// Bollinger trades %B, where the mid sits between bands numStd standard
// deviations around its rolling mean. It buys near the lower band, sells
// near the upper band and flattens near the middle. An open position is
// also closed once the mid moves stopLoss against, or takeProfit in favour
// of, the entry price.
type Bollinger struct {
	name       string
	size       int
	numStd     float64
	quantity   float64
	stopLoss   float64
	takeProfit float64
	windows    map[string]*window
	entries    map[string]float64
}

func NewBollinger(name string, size int, numStd, quantity, stopLoss, takeProfit float64) (*Bollinger, error) {
	if size < 2 {
		return nil, fmt.Errorf("window must be >= 2")
	}
	if numStd <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("num_std and quantity must be > 0")
	}
	if stopLoss <= 0 || takeProfit <= 0 {
		return nil, fmt.Errorf("stop_loss and take_profit must be > 0")
	}
	return &Bollinger{
		name:       name,
		size:       size,
		numStd:     numStd,
		quantity:   quantity,
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		windows:    make(map[string]*window),
		entries:    make(map[string]float64),
	}, nil
}

func (s *Bollinger) Name() string { return s.name }

func (s *Bollinger) Evaluate(symbol string, m market.View, p ledger.PortfolioView) []schema.Order {
	mid, ok := tradableMid(symbol, m)
	if !ok {
		return nil
	}
	w, ok := s.windows[symbol]
	if !ok {
		w = newWindow(s.size)
		s.windows[symbol] = w
	}
	w.push(mid)
	if w.len() < s.size {
		return nil
	}

	held := positionQty(p, symbol)
	if entry, ok := s.entries[symbol]; ok && held != 0 && s.exitHit(held, entry, mid) {
		delete(s.entries, symbol)
		return []schema.Order{flatten(symbol, held)}
	}

	mean, std := w.meanStd()
	upper, lower := mean+s.numStd*std, mean-s.numStd*std
	pctB := 0.5
	if upper > lower {
		pctB = (mid - lower) / (upper - lower)
	}
	switch {
	case pctB <= bandEntryLow && held <= 0:
		if qty := affordable(p, s.quantity, mid); qty > 0 {
			s.entries[symbol] = mid
			return []schema.Order{schema.NewMarketOrder(symbol, schema.SideBuy, qty)}
		}
	case pctB >= bandEntryHigh && held >= 0:
		s.entries[symbol] = mid
		return []schema.Order{schema.NewMarketOrder(symbol, schema.SideSell, s.quantity)}
	case pctB >= bandExitLow && pctB <= bandExitHigh && held != 0:
		delete(s.entries, symbol)
		return []schema.Order{flatten(symbol, held)}
	}
	return nil
}

func (s *Bollinger) exitHit(held, entry, mid float64) bool {
	if held > 0 {
		return mid < entry*(1-s.stopLoss) || mid > entry*(1+s.takeProfit)
	}
	return mid > entry*(1+s.stopLoss) || mid < entry*(1-s.takeProfit)
}

// flatten closes a signed position.
func flatten(symbol string, held float64) schema.Order {
	if held > 0 {
		return schema.NewMarketOrder(symbol, schema.SideSell, held)
	}
	return schema.NewMarketOrder(symbol, schema.SideBuy, -held)
}
