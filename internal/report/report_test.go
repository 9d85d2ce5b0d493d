package report

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/schema"
)

var t0 = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func curve(values ...float64) []schema.EquityPoint {
	out := make([]schema.EquityPoint, len(values))
	for i, v := range values {
		out[i] = schema.EquityPoint{Timestamp: t0.Add(time.Duration(i) * time.Second), Equity: v}
	}
	return out
}

func TestCompute(t *testing.T) {
	testCases := []struct {
		desc     string
		initial  float64
		curve    []schema.EquityPoint
		ret      float64
		drawdown float64
	}{
		{"empty", 100, nil, 0, 0},
		{"flat", 100, curve(100, 100, 100), 0, 0},
		{"gain", 100, curve(100, 110, 120), 0.2, 0},
		{"drawdown", 100, curve(120, 90, 130), 0.3, 0.25},
		{"below start", 100, curve(80, 90), -0.1, 0.2},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m := Compute(tc.initial, tc.curve)
			assert.InDelta(t, tc.ret, m.TotalReturn, 1e-12)
			assert.InDelta(t, tc.drawdown, m.MaxDrawdown, 1e-12)
		})
	}
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, sharpe(curve(100, 100, 100)))

	c := curve(100, 101, 100, 102)
	r := []float64{0.01, 100.0/101 - 1, 0.02}
	mean := (r[0] + r[1] + r[2]) / 3
	var v float64
	for _, x := range r {
		v += (x - mean) * (x - mean)
	}
	want := mean / math.Sqrt(v/2) * math.Sqrt(252)
	assert.InDelta(t, want, sharpe(c), 1e-9)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.Observe(schema.Snapshot{
		Tick:      1,
		Portfolio: schema.PortfolioState{InitialCash: 1000, Trades: 1, EquityCurve: curve(1000)},
		Fills:     []schema.Fill{{OrderID: 1}},
	})
	tr.Observe(schema.Snapshot{
		Tick: 2,
		Portfolio: schema.PortfolioState{
			InitialCash:  1000,
			RealizedPnL:  50,
			Trades:       2,
			Rejections:   1,
			ClosingFills: 2,
			WinningFills: 1,
			EquityCurve:  curve(1000, 1050),
		},
		Fills:      []schema.Fill{{OrderID: 2}},
		Rejections: []schema.Rejection{{OrderID: 3}},
	})

	m := tr.Metrics()
	assert.Equal(t, 2, m.Trades)
	assert.Equal(t, 1, m.Rejections)
	assert.Equal(t, 0.5, m.WinRate)
	assert.InDelta(t, 0.05, m.TotalReturn, 1e-12)
	assert.Equal(t, 1050.0, m.FinalEquity)
	assert.Len(t, tr.Curve(), 2)
}

func TestExportRoundTrip(t *testing.T) {
	tr := NewTracker()
	tr.Observe(schema.Snapshot{RunID: "r1", Portfolio: schema.PortfolioState{InitialCash: 10, EquityCurve: curve(10, 11)}})
	export := NewExport(tr, schema.Snapshot{RunID: "r1"}, t0)

	path := filepath.Join(t.TempDir(), "out", "run.json")
	require.NoError(t, WriteExport(path, export))
	got, err := ReadExport(path)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	require.NoError(t, CompareCurves(export.EquityCurve, got.EquityCurve))
}

func TestCompareCurves(t *testing.T) {
	require.NoError(t, CompareCurves(curve(1, 2), curve(1, 2)))
	require.Error(t, CompareCurves(curve(1, 2), curve(1)))
	require.Error(t, CompareCurves(curve(1, 2), curve(1, 3)))
}

func TestExportFallsBackToLedgerCurve(t *testing.T) {
	tr := NewTracker()
	tr.Observe(schema.Snapshot{RunID: "r2", Portfolio: schema.PortfolioState{InitialCash: 10, EquityCurve: curve(10)}})
	final := schema.Snapshot{RunID: "r2", Final: true, Portfolio: schema.PortfolioState{InitialCash: 10, EquityCurve: curve(10, 12, 9, 11)}}

	export := NewExport(tr, final, t0)
	require.Len(t, export.EquityCurve, 4)
	assert.Equal(t, 11.0, export.Metrics.FinalEquity)
	assert.InDelta(t, 0.1, export.Metrics.TotalReturn, 1e-12)
	assert.InDelta(t, 0.25, export.Metrics.MaxDrawdown, 1e-12)
}

func TestMissedSnapshotsKeepTotals(t *testing.T) {
	tr := NewTracker()
	tr.Observe(schema.Snapshot{
		Tick:      1,
		Portfolio: schema.PortfolioState{InitialCash: 100, Trades: 1, EquityCurve: curve(100)},
		Fills:     []schema.Fill{{OrderID: 1}},
	})
	// Ticks 2 to 9 never reach the tracker.
	tr.Observe(schema.Snapshot{
		Tick:      10,
		Portfolio: schema.PortfolioState{InitialCash: 100, Trades: 12, Rejections: 3, EquityCurve: curve(100, 101)},
		Fills:     []schema.Fill{{OrderID: 20}},
	})
	m := tr.Metrics()
	assert.Equal(t, 12, m.Trades)
	assert.Equal(t, 3, m.Rejections)

	final := schema.Snapshot{
		Final: true,
		Portfolio: schema.PortfolioState{
			InitialCash:  100,
			Trades:       15,
			Rejections:   4,
			ClosingFills: 4,
			WinningFills: 3,
			Commissions:  1.5,
			EquityCurve:  curve(100, 101, 102),
		},
	}
	export := NewExport(tr, final, t0)
	assert.Equal(t, 15, export.Metrics.Trades)
	assert.Equal(t, 4, export.Metrics.Rejections)
	assert.Equal(t, 0.75, export.Metrics.WinRate)
	assert.Equal(t, 1.5, export.Metrics.Commissions)
	assert.Len(t, export.EquityCurve, 3)
}
