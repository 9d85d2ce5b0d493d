package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"hftsim/internal/schema"
)

// Export is the on-disk record of a finished run.
type Export struct {
	RunID       string                 `json:"runId"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Metrics     Metrics                `json:"metrics"`
	Positions   []schema.PositionState `json:"positions"`
	EquityCurve []schema.EquityPoint   `json:"equityCurve"`
}

// NewExport assembles an export from the tracker and the final snapshot.
// When the tracker missed snapshots (queue drops) the ledger's own curve
// is used instead. Totals of a final snapshot win over the tracker's.
func NewExport(t *Tracker, final schema.Snapshot, generatedAt time.Time) Export {
	metrics := t.Metrics()
	if final.Final {
		metrics.setTotals(final.Portfolio)
	}
	curve := t.Curve()
	if ledgerCurve := final.Portfolio.EquityCurve; len(ledgerCurve) > len(curve) {
		curve = append([]schema.EquityPoint(nil), ledgerCurve...)
		full := Compute(final.Portfolio.InitialCash, curve)
		metrics.InitialEquity = full.InitialEquity
		metrics.FinalEquity = full.FinalEquity
		metrics.TotalReturn = full.TotalReturn
		metrics.SharpeRatio = full.SharpeRatio
		metrics.MaxDrawdown = full.MaxDrawdown
	}
	return Export{
		RunID:       final.RunID,
		GeneratedAt: generatedAt.UTC(),
		Metrics:     metrics,
		Positions:   final.Portfolio.Positions,
		EquityCurve: curve,
	}
}

// WriteExport writes an export to disk as JSON.
func WriteExport(path string, export Export) error {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadExport loads an export from disk.
func ReadExport(path string) (Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Export{}, err
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return Export{}, err
	}
	return export, nil
}

// CompareCurves checks that two equity curves match point for point.
func CompareCurves(expected, actual []schema.EquityPoint) error {
	if len(expected) != len(actual) {
		return fmt.Errorf("equity curve length mismatch: expected=%d actual=%d", len(expected), len(actual))
	}
	for i := range expected {
		if !expected[i].Timestamp.Equal(actual[i].Timestamp) {
			return fmt.Errorf("equity curve timestamp mismatch at %d: expected=%s actual=%s", i, expected[i].Timestamp, actual[i].Timestamp)
		}
		if math.Float64bits(expected[i].Equity) != math.Float64bits(actual[i].Equity) {
			return fmt.Errorf("equity curve value mismatch at %d: expected=%v actual=%v", i, expected[i].Equity, actual[i].Equity)
		}
	}
	return nil
}
