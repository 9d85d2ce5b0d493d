package schema

import "time"

// PositionState is the reported state of one open position.
type PositionState struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AverageCost   float64 `json:"averageCost"`
	MarkPrice     float64 `json:"markPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// PortfolioState is the reported portfolio at a point in time.
type PortfolioState struct {
	InitialCash   float64         `json:"initialCash"`
	Cash          float64         `json:"cash"`
	RealizedPnL   float64         `json:"realizedPnl"`
	UnrealizedPnL float64         `json:"unrealizedPnl"`
	Commissions   float64         `json:"commissions"`
	Equity        float64         `json:"equity"`
	Positions     []PositionState `json:"positions"`
	// Trades counts booked fills and Rejections dropped orders since the
	// run started, so reporters that miss snapshots still see totals.
	Trades       int `json:"trades"`
	Rejections   int `json:"rejections"`
	ClosingFills int `json:"closingFills"`
	WinningFills int `json:"winningFills"`
	// EquityCurve shares its backing array with the ledger. Entries are
	// append-only and the slice is capped, so it is safe to read.
	EquityCurve []EquityPoint `json:"equityCurve"`
}

// Snapshot is the immutable per-tick record handed to reporters.
type Snapshot struct {
	RunID      string           `json:"runId"`
	Tick       uint64           `json:"tick"`
	Timestamp  time.Time        `json:"timestamp"`
	Final      bool             `json:"final"`
	Quotes     map[string]Quote `json:"quotes"`
	Portfolio  PortfolioState   `json:"portfolio"`
	Fills      []Fill           `json:"fills"`
	Rejections []Rejection      `json:"rejections"`
}
