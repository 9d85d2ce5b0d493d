package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/ledger"
	"hftsim/internal/market"
	"hftsim/internal/schema"
)

type fakePortfolio struct {
	cash float64
	held map[string]float64
	last map[string]schema.Rejection
}

var _ ledger.PortfolioView = (*fakePortfolio)(nil)

func newFakePortfolio(cash float64) *fakePortfolio {
	return &fakePortfolio{cash: cash, held: map[string]float64{}, last: map[string]schema.Rejection{}}
}

func (p *fakePortfolio) Cash() decimal.Decimal        { return decimal.NewFromFloat(p.cash) }
func (p *fakePortfolio) Equity() decimal.Decimal      { return decimal.NewFromFloat(p.cash) }
func (p *fakePortfolio) RealizedPnL() decimal.Decimal { return decimal.Zero }
func (p *fakePortfolio) Positions() []ledger.Position { return nil }

func (p *fakePortfolio) Position(symbol string) ledger.Position {
	return ledger.Position{Symbol: symbol, Quantity: decimal.NewFromFloat(p.held[symbol])}
}

func (p *fakePortfolio) LastRejection(symbol string) (schema.Rejection, bool) {
	r, ok := p.last[symbol]
	return r, ok
}

type feeder struct {
	t     *testing.T
	state *market.State
	seq   uint64
}

func newFeeder(t *testing.T) *feeder {
	t.Helper()
	state, err := market.NewState([]string{"AAPL"}, 2)
	require.NoError(t, err)
	return &feeder{t: t, state: state}
}

func (f *feeder) push(mid float64) {
	f.seq++
	ok := f.state.Update(schema.Quote{Symbol: "AAPL", Bid: mid - 0.01, Ask: mid + 0.01, Mid: mid, Sequence: f.seq})
	require.True(f.t, ok)
}

func TestNew(t *testing.T) {
	testCases := []struct {
		desc    string
		kind    string
		name    string
		params  map[string]float64
		want    string
		wantErr bool
	}{
		{desc: "buy and hold default name", kind: "buy_and_hold", want: "buy_and_hold"},
		{desc: "mean reversion named", kind: "mean_reversion", name: "mr", params: map[string]float64{"window": 5, "threshold": 1.5}, want: "mr"},
		{desc: "momentum upper case kind", kind: "MOMENTUM", name: "mom", params: map[string]float64{"lookback": 3}, want: "mom"},
		{desc: "bollinger defaults", kind: "bollinger", want: "bollinger"},
		{desc: "bollinger named", kind: "bollinger", name: "bb", params: map[string]float64{"window": 10, "num_std": 1.5, "stop_loss": 0.01, "take_profit": 0.03}, want: "bb"},
		{desc: "bollinger zero num_std", kind: "bollinger", params: map[string]float64{"num_std": 0}, wantErr: true},
		{desc: "bollinger zero stop loss", kind: "bollinger", params: map[string]float64{"stop_loss": 0}, wantErr: true},
		{desc: "unknown kind", kind: "vwap", wantErr: true},
		{desc: "unknown param", kind: "momentum", params: map[string]float64{"lookbak": 3}, wantErr: true},
		{desc: "window too small", kind: "mean_reversion", params: map[string]float64{"window": 1}, wantErr: true},
		{desc: "zero quantity", kind: "buy_and_hold", params: map[string]float64{"quantity": 0}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			s, err := New(tc.kind, tc.name, tc.params)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Name(), "mismatch! should be %s but got %s", tc.want, s.Name())
		})
	}
}

func TestBuyAndHold(t *testing.T) {
	f := newFeeder(t)
	p := newFakePortfolio(10000)
	s, err := NewBuyAndHold("hold", 2)
	require.NoError(t, err)

	assert.Empty(t, s.Evaluate("AAPL", f.state, p), "no quote yet")

	f.push(100)
	orders := s.Evaluate("AAPL", f.state, p)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.SideBuy, orders[0].Side)
	assert.Equal(t, 2.0, orders[0].Quantity)

	p.held["AAPL"] = 2
	assert.Empty(t, s.Evaluate("AAPL", f.state, p), "already holding")

	p.held["AAPL"] = 0
	p.last["AAPL"] = schema.Rejection{Symbol: "AAPL", Reason: schema.RejectReasonInsufficientCash}
	assert.Empty(t, s.Evaluate("AAPL", f.state, p), "gave up after insufficient cash")

	delete(p.last, "AAPL")
	for i := 0; i < 3; i++ {
		f.state.MarkMissed("AAPL")
	}
	assert.Empty(t, s.Evaluate("AAPL", f.state, p), "stale quote")
}

func TestMeanReversion(t *testing.T) {
	f := newFeeder(t)
	p := newFakePortfolio(1000)
	s, err := NewMeanReversion("mr", 3, 1, 1)
	require.NoError(t, err)

	for _, mid := range []float64{100, 100, 100} {
		f.push(mid)
		assert.Empty(t, s.Evaluate("AAPL", f.state, p))
	}

	f.push(90)
	orders := s.Evaluate("AAPL", f.state, p)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.SideBuy, orders[0].Side)

	p.held["AAPL"] = 1
	f.push(110)
	orders = s.Evaluate("AAPL", f.state, p)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.SideSell, orders[0].Side)
	assert.Equal(t, 1.0, orders[0].Quantity)
}

func TestMomentum(t *testing.T) {
	f := newFeeder(t)
	p := newFakePortfolio(1000)
	s, err := NewMomentum("mom", 2, 0.01, 1)
	require.NoError(t, err)

	for _, mid := range []float64{100, 100} {
		f.push(mid)
		assert.Empty(t, s.Evaluate("AAPL", f.state, p))
	}

	f.push(102)
	orders := s.Evaluate("AAPL", f.state, p)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.SideBuy, orders[0].Side)

	p.held["AAPL"] = 1
	f.push(98)
	orders = s.Evaluate("AAPL", f.state, p)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.SideSell, orders[0].Side)
}

func TestBollingerSignals(t *testing.T) {
	testCases := []struct {
		desc     string
		mids     []float64
		held     float64
		wantSide schema.Side
		wantQty  float64
	}{
		{desc: "window not full", mids: []float64{100, 100, 100, 90}},
		{desc: "buy below lower band when flat", mids: []float64{100, 100, 100, 100, 90}, wantSide: schema.SideBuy, wantQty: 2},
		{desc: "buy below lower band when short", mids: []float64{100, 100, 100, 100, 90}, held: -3, wantSide: schema.SideBuy, wantQty: 2},
		{desc: "no add below lower band when long", mids: []float64{100, 100, 100, 100, 90}, held: 2},
		{desc: "sell above upper band when flat", mids: []float64{100, 100, 100, 100, 110}, wantSide: schema.SideSell, wantQty: 2},
		{desc: "sell above upper band when long", mids: []float64{100, 100, 100, 100, 110}, held: 5, wantSide: schema.SideSell, wantQty: 2},
		{desc: "no add above upper band when short", mids: []float64{100, 100, 100, 100, 110}, held: -2},
		{desc: "flatten long near middle", mids: []float64{100, 102, 98, 101, 100}, held: 3, wantSide: schema.SideSell, wantQty: 3},
		{desc: "flatten short near middle", mids: []float64{100, 102, 98, 101, 100}, held: -4, wantSide: schema.SideBuy, wantQty: 4},
		{desc: "flat bands while flat", mids: []float64{100, 100, 100, 100, 100}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFeeder(t)
			p := newFakePortfolio(10000)
			p.held["AAPL"] = tc.held
			s, err := NewBollinger("bb", 5, 1, 2, 0.02, 0.05)
			require.NoError(t, err)

			var orders []schema.Order
			for _, mid := range tc.mids {
				f.push(mid)
				orders = s.Evaluate("AAPL", f.state, p)
			}
			if tc.wantQty == 0 {
				assert.Empty(t, orders)
				return
			}
			require.Len(t, orders, 1)
			if orders[0].Side != tc.wantSide {
				t.Fatalf("side mismatch! should be %s but got %s", tc.wantSide, orders[0].Side)
			}
			assert.Equal(t, tc.wantQty, orders[0].Quantity)
		})
	}
}

func TestBollingerExits(t *testing.T) {
	testCases := []struct {
		desc     string
		entry    []float64
		held     float64
		next     float64
		wantSide schema.Side
		wantQty  float64
	}{
		{desc: "long stop loss", entry: []float64{100, 100, 100, 100, 90}, held: 2, next: 88, wantSide: schema.SideSell, wantQty: 2},
		{desc: "long take profit", entry: []float64{100, 100, 100, 100, 90}, held: 2, next: 95, wantSide: schema.SideSell, wantQty: 2},
		{desc: "long inside exits", entry: []float64{100, 100, 100, 100, 90}, held: 2, next: 89},
		{desc: "short stop loss", entry: []float64{100, 100, 100, 100, 110}, held: -2, next: 113, wantSide: schema.SideBuy, wantQty: 2},
		{desc: "short take profit", entry: []float64{100, 100, 100, 100, 110}, held: -2, next: 104, wantSide: schema.SideBuy, wantQty: 2},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFeeder(t)
			p := newFakePortfolio(10000)
			s, err := NewBollinger("bb", 5, 1, 2, 0.02, 0.05)
			require.NoError(t, err)

			var orders []schema.Order
			for _, mid := range tc.entry {
				f.push(mid)
				orders = s.Evaluate("AAPL", f.state, p)
			}
			require.Len(t, orders, 1)

			p.held["AAPL"] = tc.held
			f.push(tc.next)
			orders = s.Evaluate("AAPL", f.state, p)
			if tc.wantQty == 0 {
				assert.Empty(t, orders)
				return
			}
			require.Len(t, orders, 1)
			if orders[0].Side != tc.wantSide {
				t.Fatalf("side mismatch! should be %s but got %s", tc.wantSide, orders[0].Side)
			}
			assert.Equal(t, tc.wantQty, orders[0].Quantity)
		})
	}
}

func TestAffordableCapsQuantity(t *testing.T) {
	p := newFakePortfolio(50)
	assert.Equal(t, 1.0, affordable(p, 5, 30))
	assert.Equal(t, 0.0, affordable(p, 5, 60))
	assert.Equal(t, 0.0, affordable(p, 5, 0))
}

func TestWindow(t *testing.T) {
	w := newWindow(3)
	assert.Equal(t, 0, w.len())
	for _, v := range []float64{1, 2, 3, 4} {
		w.push(v)
	}
	assert.Equal(t, 3, w.len())
	assert.Equal(t, 2.0, w.oldest())
	mean, std := w.meanStd()
	assert.InDelta(t, 3, mean, 1e-12)
	assert.InDelta(t, 0.816496580927726, std, 1e-12)
}
