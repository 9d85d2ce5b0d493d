package ledger

import (
	"github.com/shopspring/decimal"

	"hftsim/internal/schema"
)

// Position is a point-in-time copy of one position. Quantity is signed;
// AverageCost is zero when flat.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	AverageCost   decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

func newPosition(symbol string, p *position) Position {
	out := Position{Symbol: symbol, Quantity: p.qty}
	if p.qty.IsZero() {
		return out
	}
	out.AverageCost = p.basis.Div(p.qty)
	if p.hasMark {
		out.MarkPrice = p.mark
	}
	out.UnrealizedPnL = p.value().Sub(p.basis)
	return out
}

// IsFlat reports whether no quantity is held.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// View is the read-only portfolio access.
type View interface {
	Cash() decimal.Decimal
	Equity() decimal.Decimal
	RealizedPnL() decimal.Decimal
	Position(symbol string) Position
	Positions() []Position
}

// PortfolioView is what a strategy sees: the portfolio plus the outcome of
// its last rejected order per symbol.
type PortfolioView interface {
	View
	LastRejection(symbol string) (schema.Rejection, bool)
}

type readOnly struct {
	l *Ledger
}

func (r readOnly) Cash() decimal.Decimal           { return r.l.Cash() }
func (r readOnly) Equity() decimal.Decimal         { return r.l.Equity() }
func (r readOnly) RealizedPnL() decimal.Decimal    { return r.l.RealizedPnL() }
func (r readOnly) Position(symbol string) Position { return r.l.Position(symbol) }
func (r readOnly) Positions() []Position           { return r.l.Positions() }
