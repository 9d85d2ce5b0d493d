package og

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

func newOrder(id uint64, qty float64) schema.Order {
	o := schema.NewMarketOrder("AAPL", schema.SideBuy, qty)
	o.ID = id
	return o
}

func TestFillLifecycle(t *testing.T) {
	m := NewStateMachine()
	o, err := m.ApplyOrder(newOrder(1, 10))
	require.NoError(t, err)
	assert.Equal(t, OrderStateNew, o.State)
	assert.Equal(t, 1, m.Open())

	o, err = m.ApplyFill(schema.Fill{OrderID: 1, Side: schema.SideBuy, Quantity: 10, Price: 101})
	require.NoError(t, err)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.Equal(t, 101.0, o.Price)
	assert.Zero(t, m.Open())

	_, err = m.ApplyFill(schema.Fill{OrderID: 1, Side: schema.SideBuy, Quantity: 10})
	assert.True(t, errors.Is(err, exception.ErrUnknownOrder))
}

func TestRejectLifecycle(t *testing.T) {
	m := NewStateMachine()
	_, err := m.ApplyOrder(newOrder(7, 1))
	require.NoError(t, err)

	o, err := m.ApplyReject(7, exception.ErrStaleQuote)
	require.NoError(t, err)
	assert.Equal(t, OrderStateRejected, o.State)
	assert.Equal(t, schema.RejectReasonStaleQuote, o.Reason)
	assert.Equal(t, Stats{Submitted: 1, Rejected: 1}, m.Stats())
}

func TestDuplicateIDs(t *testing.T) {
	testCases := []struct {
		desc string
		ids  []uint64
		fail uint64
	}{
		{"same id twice", []uint64{1, 1}, 1},
		{"lower id after higher", []uint64{5, 3}, 3},
		{"zero id", []uint64{0}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m := NewStateMachine()
			var err error
			for _, id := range tc.ids {
				if _, err = m.ApplyOrder(newOrder(id, 1)); err != nil {
					break
				}
			}
			require.Error(t, err)
			assert.Equal(t, schema.RejectReasonInvalidOrder, exception.Reason(err))
		})
	}
}

func TestFillMismatch(t *testing.T) {
	m := NewStateMachine()
	_, err := m.ApplyOrder(newOrder(1, 10))
	require.NoError(t, err)
	_, err = m.ApplyFill(schema.Fill{OrderID: 1, Side: schema.SideBuy, Quantity: 4})
	assert.ErrorIs(t, err, ErrInvalidFill)
}
