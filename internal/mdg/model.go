package mdg

import (
	"fmt"
	"math"
	"math/rand"

	"hftsim/internal/schema"
)

// ClassParams describes the stochastic regime of one asset class.
type ClassParams struct {
	VolatilityMultiplier float64
	SpreadBps            float64
}

// DefaultClassParams returns the stock/crypto/forex regimes.
func DefaultClassParams() map[schema.AssetClass]ClassParams {
	return map[schema.AssetClass]ClassParams{
		schema.AssetClassStock:  {VolatilityMultiplier: 1.0, SpreadBps: 2},
		schema.AssetClassCrypto: {VolatilityMultiplier: 3.0, SpreadBps: 20},
		schema.AssetClassForex:  {VolatilityMultiplier: 0.5, SpreadBps: 1},
	}
}

// ModelConfig controls the geometric random walk.
type ModelConfig struct {
	// BaseVolatility is the per-sqrt(second) volatility of a stock.
	BaseVolatility float64
	// Drift is the per-second log drift.
	Drift   float64
	Classes map[schema.AssetClass]ClassParams
}

// Validate checks that every registered symbol has parameters for its class.
func (c ModelConfig) Validate(reg *schema.Registry) error {
	if reg == nil || reg.SymbolCount() == 0 {
		return fmt.Errorf("registry has no symbols")
	}
	if c.BaseVolatility < 0 || math.IsNaN(c.BaseVolatility) {
		return fmt.Errorf("base volatility must be >= 0")
	}
	for i := 0; i < reg.SymbolCount(); i++ {
		sym, _ := reg.SymbolAt(i)
		params, ok := c.Classes[sym.Class]
		if !ok {
			return fmt.Errorf("symbol %s: no price model parameters for class %s", sym.Name, sym.Class)
		}
		if params.VolatilityMultiplier < 0 {
			return fmt.Errorf("class %s: volatility multiplier must be >= 0", sym.Class)
		}
		if params.SpreadBps < 0 {
			return fmt.Errorf("class %s: spread bps must be >= 0", sym.Class)
		}
	}
	return nil
}

// PriceModel steps mid prices with a per-class geometric random walk.
type PriceModel struct {
	cfg ModelConfig
	reg *schema.Registry
	rng *rand.Rand
}

// NewPriceModel validates cfg against the registry. rng is run-scoped and
// shared with the quote synthesizer.
func NewPriceModel(reg *schema.Registry, cfg ModelConfig, rng *rand.Rand) (*PriceModel, error) {
	if rng == nil {
		return nil, fmt.Errorf("rng is nil")
	}
	if err := cfg.Validate(reg); err != nil {
		return nil, err
	}
	return &PriceModel{cfg: cfg, reg: reg, rng: rng}, nil
}

// NextPrice advances prevMid by dt seconds.
func (m *PriceModel) NextPrice(symbol string, prevMid float64, dt float64) (float64, error) {
	sym, ok := m.reg.SymbolByName(symbol)
	if !ok {
		return 0, fmt.Errorf("symbol not found: %s", symbol)
	}
	if prevMid <= 0 || math.IsNaN(prevMid) || math.IsInf(prevMid, 0) {
		prevMid = sym.SeedPrice
	}
	if dt < 0 {
		dt = 0
	}
	vol := m.cfg.BaseVolatility * m.cfg.Classes[sym.Class].VolatilityMultiplier
	z := m.rng.NormFloat64()
	logNext := math.Log(prevMid) + m.cfg.Drift*dt + vol*math.Sqrt(dt)*z
	logNext = reflect(logNext, math.Log(sym.MinPrice), math.Log(sym.MaxPrice))
	return math.Exp(logNext), nil
}

// reflect folds x back into [lo, hi] as if the bounds were mirrors.
func reflect(x, lo, hi float64) float64 {
	if x >= lo && x <= hi {
		return x
	}
	width := hi - lo
	if width <= 0 {
		return lo
	}
	y := math.Mod(x-lo, 2*width)
	if y < 0 {
		y += 2 * width
	}
	if y > width {
		y = 2*width - y
	}
	return lo + y
}
