package risk

import (
	"math"
	"time"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

// Config defines simple pre-trade limits. Zero disables a limit.
type Config struct {
	KillSwitch       bool          `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty      float64       `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxOrderNotional float64       `json:"maxOrderNotional" yaml:"maxOrderNotional"`
	MaxPosition      float64       `json:"maxPosition" yaml:"maxPosition"`
	OrderRateLimit   int           `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindow  time.Duration `json:"-" yaml:"-"`
}

// Action is the outcome of a risk check.
type Action uint8

const (
	ActionAllow Action = iota
	ActionDeny
)

// Reason explains a denial.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidOrder
	ReasonKillSwitch
	ReasonRateLimit
	ReasonMaxQty
	ReasonMaxNotional
	ReasonPositionLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInvalidOrder:
		return "invalid order"
	case ReasonKillSwitch:
		return "kill switch"
	case ReasonRateLimit:
		return "order rate limit"
	case ReasonMaxQty:
		return "max order quantity"
	case ReasonMaxNotional:
		return "max order notional"
	case ReasonPositionLimit:
		return "position limit"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating one order.
type Decision struct {
	OrderID     uint64
	Strategy    string
	Symbol      string
	Action      Action
	Reason      Reason
	ProposedQty float64
	Notional    float64
	CurrentPos  float64
	MaxPos      float64
}

// Allowed reports whether the order may proceed.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}

// Err converts a denial into an order-level error.
func (d Decision) Err() error {
	switch {
	case d.Allowed():
		return nil
	case d.Reason == ReasonInvalidOrder:
		return ierrors.Wrap(exception.ErrInvalidOrder, d.Symbol)
	default:
		return ierrors.Wrapf(exception.ErrRiskRejected, "%s %s", d.Symbol, d.Reason)
	}
}

// StateView provides the current position and reference price.
type StateView struct {
	Position       float64
	ReferencePrice float64
	Now            time.Time
}

// Engine evaluates risk decisions. It is not safe for concurrent use.
type Engine struct {
	cfg             Config
	rateWindowStart time.Time
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate applies simple checks to an order.
func (e *Engine) Evaluate(order schema.Order, state StateView) Decision {
	decision := Decision{
		OrderID:     order.ID,
		Strategy:    order.Strategy,
		Symbol:      order.Symbol,
		Action:      ActionAllow,
		Reason:      ReasonNone,
		ProposedQty: order.Quantity,
		CurrentPos:  state.Position,
		MaxPos:      e.cfg.MaxPosition,
	}

	if !wellFormed(order) {
		return deny(decision, ReasonInvalidOrder)
	}

	if e.cfg.KillSwitch {
		return deny(decision, ReasonKillSwitch)
	}

	now := state.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		if e.rateWindowStart.IsZero() || now.Sub(e.rateWindowStart) >= e.cfg.OrderRateWindow {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return deny(decision, ReasonRateLimit)
		}
	}

	if e.cfg.MaxOrderQty > 0 && order.Quantity > e.cfg.MaxOrderQty {
		return deny(decision, ReasonMaxQty)
	}

	if state.ReferencePrice > 0 {
		decision.Notional = order.Quantity * state.ReferencePrice
		if e.cfg.MaxOrderNotional > 0 && decision.Notional > e.cfg.MaxOrderNotional {
			return deny(decision, ReasonMaxNotional)
		}
	}

	nextPos := state.Position + float64(order.Side.Sign())*order.Quantity
	if e.cfg.MaxPosition > 0 && math.Abs(nextPos) > e.cfg.MaxPosition {
		return deny(decision, ReasonPositionLimit)
	}

	return decision
}

func deny(d Decision, reason Reason) Decision {
	d.Action = ActionDeny
	d.Reason = reason
	return d
}

func wellFormed(o schema.Order) bool {
	if o.Symbol == "" || o.Kind != schema.OrderKindMarket {
		return false
	}
	if o.Side != schema.SideBuy && o.Side != schema.SideSell {
		return false
	}
	return o.Quantity > 0 && !math.IsInf(o.Quantity, 0) && !math.IsNaN(o.Quantity)
}
