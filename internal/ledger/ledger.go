package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

const defaultMaxCurvePoints = 100_000

// Config configures a ledger.
type Config struct {
	InitialCash float64
	AllowShort  bool
	// MaxCurvePoints bounds the retained equity curve. When full, the
	// oldest half is discarded. Zero selects the default.
	MaxCurvePoints int
}

type position struct {
	qty     decimal.Decimal
	basis   decimal.Decimal
	mark    decimal.Decimal
	hasMark bool
}

func (p *position) value() decimal.Decimal {
	if !p.hasMark {
		return p.basis
	}
	return p.qty.Mul(p.mark)
}

// Ledger tracks cash, positions and PnL. Money is kept in decimals so that
// cash moves by exactly quantity times price on every fill.
//
// Invariant: cash + sum(cost basis) + commissions - realized == initial cash.
type Ledger struct {
	cfg Config

	initial     decimal.Decimal
	cash        decimal.Decimal
	realized    decimal.Decimal
	commissions decimal.Decimal
	unrealized  decimal.Decimal

	positions map[string]*position
	symbols   []string

	curve    []schema.EquityPoint
	maxCurve int

	fills        int
	closingFills int
	winningFills int
}

// New creates a ledger funded with cfg.InitialCash.
func New(cfg Config) (*Ledger, error) {
	if cfg.InitialCash < 0 || math.IsNaN(cfg.InitialCash) || math.IsInf(cfg.InitialCash, 0) {
		return nil, fmt.Errorf("initial cash must be >= 0, got %v", cfg.InitialCash)
	}
	maxCurve := cfg.MaxCurvePoints
	if maxCurve <= 0 {
		maxCurve = defaultMaxCurvePoints
	}
	if maxCurve < 2 {
		maxCurve = 2
	}
	initial := decimal.NewFromFloat(cfg.InitialCash)
	return &Ledger{
		cfg:       cfg,
		initial:   initial,
		cash:      initial,
		positions: make(map[string]*position),
		maxCurve:  maxCurve,
	}, nil
}

// Apply books a fill. A fill that would overdraw cash or open a disallowed
// short is rejected and leaves the ledger unchanged.
func (l *Ledger) Apply(fill schema.Fill) error {
	if err := validateFill(fill); err != nil {
		return err
	}

	qty := decimal.NewFromFloat(fill.Quantity)
	price := decimal.NewFromFloat(fill.Price)
	commission := decimal.NewFromFloat(fill.Commission)
	notional := qty.Mul(price)

	pos := l.positions[fill.Symbol]
	cur := decimal.Zero
	if pos != nil {
		cur = pos.qty
	}

	var cashDelta decimal.Decimal
	switch fill.Side {
	case schema.SideBuy:
		cashDelta = notional.Add(commission).Neg()
		if l.cash.Add(cashDelta).IsNegative() {
			return ierrors.Wrapf(exception.ErrInsufficientCash, "%s: need %s, have %s",
				fill.Symbol, cashDelta.Neg().StringFixed(2), l.cash.StringFixed(2))
		}
	case schema.SideSell:
		if !l.cfg.AllowShort && qty.GreaterThan(cur) {
			return ierrors.Wrapf(exception.ErrShortNotAllowed, "%s: sell %s with position %s",
				fill.Symbol, qty.String(), cur.String())
		}
		cashDelta = notional.Sub(commission)
		if l.cash.Add(cashDelta).IsNegative() {
			return ierrors.Wrapf(exception.ErrInsufficientCash, "%s: commission exceeds cash", fill.Symbol)
		}
	}

	if pos == nil {
		pos = &position{}
		l.positions[fill.Symbol] = pos
		l.symbols = append(l.symbols, fill.Symbol)
	}
	signed := qty
	if fill.Side == schema.SideSell {
		signed = qty.Neg()
	}
	l.book(pos, signed, price)
	if !pos.hasMark {
		pos.mark, pos.hasMark = price, true
	}
	if pos.qty.IsZero() {
		l.remove(fill.Symbol)
	}

	l.cash = l.cash.Add(cashDelta)
	l.commissions = l.commissions.Add(commission)
	l.fills++
	return nil
}

// Fills returns the number of fills booked.
func (l *Ledger) Fills() int {
	return l.fills
}

// book updates position quantity and cost basis for a signed fill.
func (l *Ledger) book(pos *position, signed, price decimal.Decimal) {
	if pos.qty.IsZero() || pos.qty.Sign() == signed.Sign() {
		pos.qty = pos.qty.Add(signed)
		pos.basis = pos.basis.Add(signed.Mul(price))
		return
	}

	curAbs := pos.qty.Abs()
	closeQty := decimal.Min(signed.Abs(), curAbs)
	released := pos.basis
	if closeQty.LessThan(curAbs) {
		released = pos.basis.Mul(closeQty).Div(curAbs)
	}
	closed := closeQty.Mul(price)
	if pos.qty.IsNegative() {
		closed = closed.Neg()
	}
	pnl := closed.Sub(released)

	l.realized = l.realized.Add(pnl)
	l.closingFills++
	if pnl.IsPositive() {
		l.winningFills++
	}

	pos.basis = pos.basis.Sub(released)
	if pos.qty.IsNegative() {
		pos.qty = pos.qty.Add(closeQty)
	} else {
		pos.qty = pos.qty.Sub(closeQty)
	}

	if rem := signed.Abs().Sub(closeQty); rem.IsPositive() {
		if signed.IsNegative() {
			rem = rem.Neg()
		}
		pos.qty = rem
		pos.basis = rem.Mul(price)
	}
}

func (l *Ledger) remove(symbol string) {
	delete(l.positions, symbol)
	for i, name := range l.symbols {
		if name == symbol {
			l.symbols = append(l.symbols[:i], l.symbols[i+1:]...)
			return
		}
	}
}

// MarkToMarket revalues open positions at the quotes' mids, records an
// equity sample and returns it. Symbols without a quote keep their last
// mark. Positions are not changed.
func (l *Ledger) MarkToMarket(quotes map[string]schema.Quote, ts time.Time) schema.EquityPoint {
	unrealized := decimal.Zero
	for _, name := range l.symbols {
		pos := l.positions[name]
		if q, ok := quotes[name]; ok && q.Mid > 0 {
			pos.mark, pos.hasMark = decimal.NewFromFloat(q.Mid), true
		}
		unrealized = unrealized.Add(pos.value().Sub(pos.basis))
	}
	l.unrealized = unrealized

	point := schema.EquityPoint{Timestamp: ts, Equity: l.Equity().InexactFloat64()}
	if len(l.curve) >= l.maxCurve {
		keep := l.maxCurve / 2
		next := make([]schema.EquityPoint, keep, l.maxCurve)
		copy(next, l.curve[len(l.curve)-keep:])
		l.curve = next
	}
	l.curve = append(l.curve, point)
	return point
}

// Cash returns available cash.
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// InitialCash returns the starting cash.
func (l *Ledger) InitialCash() decimal.Decimal {
	return l.initial
}

// RealizedPnL returns PnL realized by closing fills, before commissions.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	return l.realized
}

// UnrealizedPnL returns the PnL of open positions as of the last mark.
func (l *Ledger) UnrealizedPnL() decimal.Decimal {
	return l.unrealized
}

// Commissions returns the total commission paid.
func (l *Ledger) Commissions() decimal.Decimal {
	return l.commissions
}

// Equity returns cash plus open positions at their last marks.
func (l *Ledger) Equity() decimal.Decimal {
	equity := l.cash
	for _, name := range l.symbols {
		equity = equity.Add(l.positions[name].value())
	}
	return equity
}

// Position returns the position in symbol. A flat symbol returns a zero
// position.
func (l *Ledger) Position(symbol string) Position {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{Symbol: symbol}
	}
	return newPosition(symbol, pos)
}

// Positions returns open positions in the order they were opened.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.symbols))
	for _, name := range l.symbols {
		out = append(out, newPosition(name, l.positions[name]))
	}
	return out
}

// EquityCurve returns the retained equity samples. The returned slice is
// never written to by the ledger.
func (l *Ledger) EquityCurve() []schema.EquityPoint {
	return l.curve[:len(l.curve):len(l.curve)]
}

// Snapshot returns the reported portfolio state. Everything but the equity
// curve is copied; the curve is shared read-only.
func (l *Ledger) Snapshot() schema.PortfolioState {
	positions := make([]schema.PositionState, 0, len(l.symbols))
	for _, name := range l.symbols {
		p := newPosition(name, l.positions[name])
		positions = append(positions, schema.PositionState{
			Symbol:        name,
			Quantity:      p.Quantity.InexactFloat64(),
			AverageCost:   p.AverageCost.InexactFloat64(),
			MarkPrice:     p.MarkPrice.InexactFloat64(),
			UnrealizedPnL: p.UnrealizedPnL.InexactFloat64(),
		})
	}
	return schema.PortfolioState{
		InitialCash:   l.initial.InexactFloat64(),
		Cash:          l.cash.InexactFloat64(),
		RealizedPnL:   l.realized.InexactFloat64(),
		UnrealizedPnL: l.unrealized.InexactFloat64(),
		Commissions:   l.commissions.InexactFloat64(),
		Equity:        l.Equity().InexactFloat64(),
		Positions:     positions,
		Trades:        l.fills,
		ClosingFills:  l.closingFills,
		WinningFills:  l.winningFills,
		EquityCurve:   l.EquityCurve(),
	}
}

// View returns a read-only view of the ledger.
func (l *Ledger) View() View {
	return readOnly{l: l}
}

func validateFill(f schema.Fill) error {
	if f.Symbol == "" {
		return ierrors.Wrap(exception.ErrInvalidOrder, "fill without symbol")
	}
	if f.Side != schema.SideBuy && f.Side != schema.SideSell {
		return ierrors.Wrapf(exception.ErrInvalidOrder, "%s: fill side %s", f.Symbol, f.Side)
	}
	for _, v := range []float64{f.Quantity, f.Price} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return ierrors.Wrapf(exception.ErrInvalidOrder, "%s: quantity and price must be > 0", f.Symbol)
		}
	}
	if f.Commission < 0 || math.IsNaN(f.Commission) || math.IsInf(f.Commission, 0) {
		return ierrors.Wrapf(exception.ErrInvalidOrder, "%s: commission must be >= 0", f.Symbol)
	}
	return nil
}
