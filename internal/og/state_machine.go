package og

import (
	"errors"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderState tracks the lifecycle of an order.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStateNew
	OrderStateFilled
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStateNew:
		return "new"
	case OrderStateFilled:
		return "filled"
	case OrderStateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Order holds the lifecycle view of one order.
type Order struct {
	ID       uint64
	Strategy string
	Symbol   string
	Side     schema.Side
	Quantity float64
	Price    float64
	State    OrderState
	Reason   schema.RejectReason
}

// Stats counts orders by outcome.
type Stats struct {
	Submitted uint64
	Filled    uint64
	Rejected  uint64
}

// StateMachine moves orders from New to Filled or Rejected. Ids must be
// increasing; an id at or below the highest seen one is a duplicate. Orders
// are forgotten once terminal.
type StateMachine struct {
	orders    map[uint64]*Order
	highWater uint64
	stats     Stats
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[uint64]*Order)}
}

// Order returns an open order.
func (m *StateMachine) Order(id uint64) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Open returns the number of orders that are neither filled nor rejected.
func (m *StateMachine) Open() int {
	return len(m.orders)
}

// Stats returns order outcome counters.
func (m *StateMachine) Stats() Stats {
	return m.stats
}

// ApplyOrder registers a submitted order in New state.
func (m *StateMachine) ApplyOrder(order schema.Order) (*Order, error) {
	if order.ID == 0 {
		return nil, ierrors.Wrap(exception.ErrInvalidOrder, "missing order id")
	}
	if _, ok := m.orders[order.ID]; ok || order.ID <= m.highWater {
		return nil, ierrors.Wrapf(exception.ErrDuplicateOrder, "order %d", order.ID)
	}
	m.highWater = order.ID
	o := &Order{
		ID:       order.ID,
		Strategy: order.Strategy,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		State:    OrderStateNew,
	}
	m.orders[o.ID] = o
	m.stats.Submitted++
	return o, nil
}

// ApplyFill completes an order. Market orders always fill in full.
func (m *StateMachine) ApplyFill(fill schema.Fill) (*Order, error) {
	o, ok := m.orders[fill.OrderID]
	if !ok {
		return nil, ierrors.Wrapf(exception.ErrUnknownOrder, "order %d", fill.OrderID)
	}
	if o.State != OrderStateNew {
		return o, ErrInvalidTransition
	}
	if fill.Quantity != o.Quantity || fill.Side != o.Side {
		return o, ErrInvalidFill
	}
	o.Price = fill.Price
	o.State = OrderStateFilled
	m.stats.Filled++
	delete(m.orders, o.ID)
	return o, nil
}

// ApplyReject drops an order with the reason classified from err.
func (m *StateMachine) ApplyReject(id uint64, err error) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ierrors.Wrapf(exception.ErrUnknownOrder, "order %d", id)
	}
	if o.State != OrderStateNew {
		return o, ErrInvalidTransition
	}
	o.State = OrderStateRejected
	o.Reason = exception.Reason(err)
	m.stats.Rejected++
	delete(m.orders, o.ID)
	return o, nil
}
