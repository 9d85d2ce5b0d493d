package exec

import (
	"fmt"
	"math"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/market"
	"hftsim/internal/og"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

// Config configures the execution simulator.
type Config struct {
	Slippage       SlippageModel
	CommissionRate float64
}

// Simulator fills market orders against the latest quote. Orders always
// fill in full at the touch adjusted for slippage.
type Simulator struct {
	reg            *schema.Registry
	market         market.View
	slippage       SlippageModel
	commissionRate float64
	orders         *og.StateMachine
}

// NewSimulator creates a simulator reading quotes from view.
func NewSimulator(reg *schema.Registry, view market.View, cfg Config) (*Simulator, error) {
	if reg == nil || view == nil {
		return nil, exception.ErrNilInstance
	}
	if err := cfg.Slippage.Validate(); err != nil {
		return nil, err
	}
	if cfg.CommissionRate < 0 || cfg.CommissionRate >= 1 {
		return nil, fmt.Errorf("commission rate must be in [0, 1), got %v", cfg.CommissionRate)
	}
	return &Simulator{
		reg:            reg,
		market:         view,
		slippage:       cfg.Slippage,
		commissionRate: cfg.CommissionRate,
		orders:         og.NewStateMachine(),
	}, nil
}

// Execute prices order against the current quote. On success the order
// stays open until Settle or Reject records what the ledger did with it.
func (s *Simulator) Execute(order schema.Order) (schema.Fill, error) {
	if _, err := s.orders.ApplyOrder(order); err != nil {
		return schema.Fill{}, err
	}
	fill, err := s.price(order)
	if err != nil {
		_, _ = s.orders.ApplyReject(order.ID, err)
		return schema.Fill{}, err
	}
	return fill, nil
}

// Settle marks the fill's order as filled.
func (s *Simulator) Settle(fill schema.Fill) error {
	_, err := s.orders.ApplyFill(fill)
	return err
}

// Reject marks an executed order as rejected downstream.
func (s *Simulator) Reject(orderID uint64, cause error) error {
	_, err := s.orders.ApplyReject(orderID, cause)
	return err
}

// Orders returns lifecycle counters.
func (s *Simulator) Orders() og.Stats {
	return s.orders.Stats()
}

func (s *Simulator) price(order schema.Order) (schema.Fill, error) {
	sym, ok := s.reg.SymbolByName(order.Symbol)
	if !ok {
		return schema.Fill{}, ierrors.Wrapf(exception.ErrInvalidOrder, "unknown symbol %q", order.Symbol)
	}
	if order.Quantity <= 0 || math.IsNaN(order.Quantity) || math.IsInf(order.Quantity, 0) {
		return schema.Fill{}, ierrors.Wrapf(exception.ErrInvalidOrder, "quantity must be > 0, got %v", order.Quantity)
	}
	if order.Side != schema.SideBuy && order.Side != schema.SideSell {
		return schema.Fill{}, ierrors.Wrapf(exception.ErrInvalidOrder, "side %s", order.Side)
	}
	if order.Kind != schema.OrderKindMarket {
		return schema.Fill{}, ierrors.Wrap(exception.ErrInvalidOrder, "only market orders are supported")
	}

	q, err := s.market.Read(order.Symbol)
	if err != nil {
		return schema.Fill{}, err
	}
	if s.market.IsStale(order.Symbol) {
		return schema.Fill{}, ierrors.Wrap(exception.ErrStaleQuote, order.Symbol)
	}

	slip := s.slippage.Fraction(sym.Class, order.Quantity, q.Mid)
	var price float64
	if order.Side == schema.SideBuy {
		price = q.Ask * (1 + slip)
	} else {
		price = q.Bid * (1 - slip)
	}

	ts := order.SubmittedAt
	if ts.IsZero() {
		ts = q.Timestamp
	}
	return schema.Fill{
		OrderID:    order.ID,
		Strategy:   order.Strategy,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: price * order.Quantity * s.commissionRate,
		Timestamp:  ts,
	}, nil
}
