package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/schema"
)

func TestRowsFromSnapshot(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	snap := schema.Snapshot{
		RunID:     "run-1",
		Tick:      7,
		Timestamp: ts,
		Portfolio: schema.PortfolioState{Cash: 90, Equity: 101, RealizedPnL: 1, UnrealizedPnL: 0.5, Commissions: 0.5},
		Fills: []schema.Fill{
			{OrderID: 3, Strategy: "mr", Symbol: "AAPL", Side: schema.SideBuy, Quantity: 1, Price: 10, Timestamp: ts},
		},
		Rejections: []schema.Rejection{
			{OrderID: 4, Strategy: "mr", Symbol: "AAPL", Side: schema.SideSell, Quantity: 2, Reason: schema.RejectReasonShortNotAllowed, Message: "no"},
		},
	}

	rows := rowsFromSnapshot(snap)
	assert.Equal(t, EquityRow{
		RunID: "run-1", Tick: 7, Timestamp: ts, Equity: 101, Cash: 90,
		RealizedPnL: 1, UnrealizedPnL: 0.5, Commissions: 0.5,
	}, rows.equity)
	require.Len(t, rows.fills, 1)
	assert.Equal(t, "buy", rows.fills[0].Side)
	assert.Equal(t, "run-1", rows.fills[0].RunID)
	require.Len(t, rows.rejections, 1)
	assert.Equal(t, "short_not_allowed", rows.rejections[0].Reason)
	assert.Equal(t, uint64(7), rows.rejections[0].Tick)
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
