package report

import (
	"math"
	"sync"

	"hftsim/internal/schema"
)

const tradingDaysPerYear = 252

// Metrics summarizes a run.
type Metrics struct {
	InitialEquity float64 `json:"initialEquity"`
	FinalEquity   float64 `json:"finalEquity"`
	TotalReturn   float64 `json:"totalReturn"`
	// SharpeRatio annualizes per-sample returns as if each sample were one
	// trading day.
	SharpeRatio  float64 `json:"sharpeRatio"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
	Trades       int     `json:"trades"`
	Rejections   int     `json:"rejections"`
	ClosingFills int     `json:"closingFills"`
	WinRate      float64 `json:"winRate"`
	RealizedPnL  float64 `json:"realizedPnl"`
	Commissions  float64 `json:"commissions"`
}

// Tracker accumulates the full equity curve from the snapshot stream.
// Counts come from the portfolio's running totals, so a missed snapshot
// never loses a trade. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	curve    []schema.EquityPoint
	last     schema.PortfolioState
	observed bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records one snapshot.
func (t *Tracker) Observe(s schema.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(s.Portfolio.EquityCurve); n > 0 {
		t.curve = append(t.curve, s.Portfolio.EquityCurve[n-1])
	}
	t.last = s.Portfolio
	t.observed = true
}

// Curve returns a copy of the observed equity curve.
func (t *Tracker) Curve() []schema.EquityPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]schema.EquityPoint(nil), t.curve...)
}

// Metrics computes the summary of everything observed so far.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.observed {
		return Metrics{}
	}
	m := Compute(t.last.InitialCash, t.curve)
	m.setTotals(t.last)
	return m
}

func (m *Metrics) setTotals(p schema.PortfolioState) {
	m.Trades = p.Trades
	m.Rejections = p.Rejections
	m.ClosingFills = p.ClosingFills
	m.WinRate = 0
	if p.ClosingFills > 0 {
		m.WinRate = float64(p.WinningFills) / float64(p.ClosingFills)
	}
	m.RealizedPnL = p.RealizedPnL
	m.Commissions = p.Commissions
}

// Compute derives return, Sharpe ratio and drawdown from an equity curve.
func Compute(initial float64, curve []schema.EquityPoint) Metrics {
	m := Metrics{InitialEquity: initial, FinalEquity: initial}
	if len(curve) == 0 {
		return m
	}
	m.FinalEquity = curve[len(curve)-1].Equity
	if initial > 0 {
		m.TotalReturn = m.FinalEquity/initial - 1
	}
	m.SharpeRatio = sharpe(curve)
	m.MaxDrawdown = maxDrawdown(initial, curve)
	return m
}

func sharpe(curve []schema.EquityPoint) float64 {
	returns := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown returns the largest peak-to-trough loss as a fraction of the
// peak.
func maxDrawdown(initial float64, curve []schema.EquityPoint) float64 {
	peak := initial
	var worst float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
