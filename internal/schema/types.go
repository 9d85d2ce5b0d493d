package schema

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// AssetClass selects the volatility and spread regime of a symbol.
type AssetClass uint8

const (
	_assetClassBeg AssetClass = iota
	AssetClassStock
	AssetClassCrypto
	AssetClassForex
	_assetClassEnd
)

// AssetClasses lists every supported class in declaration order.
var AssetClasses = []AssetClass{AssetClassStock, AssetClassCrypto, AssetClassForex}

func (c AssetClass) IsAvailable() bool {
	return c > _assetClassBeg && c < _assetClassEnd
}

func (c AssetClass) String() string {
	switch c {
	case AssetClassStock:
		return "stock"
	case AssetClassCrypto:
		return "crypto"
	case AssetClassForex:
		return "forex"
	default:
		return "unknown"
	}
}

// ParseAssetClass maps a config name to an asset class.
func ParseAssetClass(name string) (AssetClass, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stock", "stocks", "equity":
		return AssetClassStock, nil
	case "crypto", "cryptocurrency":
		return AssetClassCrypto, nil
	case "forex", "fx":
		return AssetClassForex, nil
	default:
		return _assetClassBeg, fmt.Errorf("unknown asset class: %q", name)
	}
}

// Side describes order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buys, -1 for sells and 0 otherwise.
func (s Side) Sign() int {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// OrderKind describes the order type. Only market orders exist.
type OrderKind uint8

const (
	OrderKindUnknown OrderKind = iota
	OrderKindMarket
)

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mid       float64   `json:"mid"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

// Valid reports whether 0 < bid <= mid <= ask.
func (q Quote) Valid() bool {
	if math.IsNaN(q.Bid) || math.IsNaN(q.Ask) || math.IsNaN(q.Mid) {
		return false
	}
	return q.Bid > 0 && q.Bid <= q.Mid && q.Mid <= q.Ask && !math.IsInf(q.Ask, 0)
}

// Spread returns ask - bid.
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// Order is a market order submitted by a strategy. ID and SubmittedAt are
// assigned by the engine.
type Order struct {
	ID          uint64    `json:"id"`
	Strategy    string    `json:"strategy"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Kind        OrderKind `json:"kind"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// NewMarketOrder builds an order request for the engine to stamp.
func NewMarketOrder(symbol string, side Side, quantity float64) Order {
	return Order{
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Kind:     OrderKindMarket,
	}
}

// Fill is the execution result of one order.
type Fill struct {
	OrderID    uint64    `json:"orderId"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// RejectReason is a coarse reason code for dropped orders.
type RejectReason uint8

const (
	RejectReasonNone RejectReason = iota
	RejectReasonNoQuote
	RejectReasonStaleQuote
	RejectReasonInsufficientCash
	RejectReasonInvalidOrder
	RejectReasonShortNotAllowed
	RejectReasonRisk
	RejectReasonOther
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonNone:
		return "none"
	case RejectReasonNoQuote:
		return "no_quote"
	case RejectReasonStaleQuote:
		return "stale_quote"
	case RejectReasonInsufficientCash:
		return "insufficient_cash"
	case RejectReasonInvalidOrder:
		return "invalid_order"
	case RejectReasonShortNotAllowed:
		return "short_not_allowed"
	case RejectReasonRisk:
		return "risk"
	default:
		return "other"
	}
}

// Rejection records why an order was dropped.
type Rejection struct {
	OrderID  uint64       `json:"orderId"`
	Strategy string       `json:"strategy"`
	Symbol   string       `json:"symbol"`
	Side     Side         `json:"side"`
	Quantity float64      `json:"quantity"`
	Reason   RejectReason `json:"reason"`
	Message  string       `json:"message"`
}
