package exec

import (
	"fmt"
	"math"

	"hftsim/internal/schema"
)

// maxSlippage caps the fractional price concession so a sell never prices
// at or below zero.
const maxSlippage = 0.5

// SlippageModel prices the cost of crossing the spread with size. Slippage
// is a fixed base plus a linear impact term in order notional relative to
// the class liquidity.
type SlippageModel struct {
	BaseBps   float64
	ImpactBps float64
	// Liquidity is the reference notional per class at which impact equals
	// ImpactBps.
	Liquidity map[schema.AssetClass]float64
}

// DefaultLiquidity returns reference notionals per class.
func DefaultLiquidity() map[schema.AssetClass]float64 {
	return map[schema.AssetClass]float64{
		schema.AssetClassStock:  1_000_000,
		schema.AssetClassCrypto: 500_000,
		schema.AssetClassForex:  10_000_000,
	}
}

// Validate rejects negative parameters and non-positive liquidity.
func (m SlippageModel) Validate() error {
	if m.BaseBps < 0 || math.IsNaN(m.BaseBps) {
		return fmt.Errorf("base slippage bps must be >= 0")
	}
	if m.ImpactBps < 0 || math.IsNaN(m.ImpactBps) {
		return fmt.Errorf("impact bps must be >= 0")
	}
	for class, liq := range m.Liquidity {
		if liq <= 0 {
			return fmt.Errorf("class %s: liquidity must be > 0", class)
		}
	}
	return nil
}

// Fraction returns slippage as a fraction of price for qty units at mid.
func (m SlippageModel) Fraction(class schema.AssetClass, qty, mid float64) float64 {
	return m.Bps(class, qty, mid) / 10000
}

// Bps returns slippage in basis points. It is non-decreasing in qty.
func (m SlippageModel) Bps(class schema.AssetClass, qty, mid float64) float64 {
	bps := m.BaseBps
	if liq := m.Liquidity[class]; liq > 0 && m.ImpactBps > 0 {
		bps += m.ImpactBps * math.Abs(qty) * mid / liq
	}
	return math.Min(bps, maxSlippage*10000)
}
