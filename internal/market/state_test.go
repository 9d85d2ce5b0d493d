package market

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

func quote(symbol string, seq uint64, mid float64) schema.Quote {
	return schema.Quote{
		Symbol:    symbol,
		Bid:       mid - 0.01,
		Ask:       mid + 0.01,
		Mid:       mid,
		Timestamp: time.Unix(int64(seq), 0).UTC(),
		Sequence:  seq,
	}
}

func TestStateRead(t *testing.T) {
	s, err := NewState([]string{"AAPL", "BTC-USD"}, 2)
	require.NoError(t, err)

	_, err = s.Read("AAPL")
	assert.True(t, errors.Is(err, exception.ErrNoQuote), "got %v", err)

	_, err = s.Read("TSLA")
	assert.True(t, errors.Is(err, exception.ErrUnknownSymbol), "got %v", err)

	require.True(t, s.Update(quote("AAPL", 1, 100)))
	q, err := s.Read("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Mid)
	assert.Len(t, s.Latest(), 1)
}

func TestViewIsReadOnly(t *testing.T) {
	s, err := NewState([]string{"AAPL"}, 1)
	require.NoError(t, err)
	require.True(t, s.Update(quote("AAPL", 1, 100)))

	v := s.View()
	_, writable := v.(*State)
	assert.False(t, writable)

	q, err := v.Read("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Mid)
	assert.Equal(t, []string{"AAPL"}, v.Symbols())

	s.MarkMissed("AAPL")
	s.MarkMissed("AAPL")
	assert.Equal(t, s.IsStale("AAPL"), v.IsStale("AAPL"))
}

func TestStateUpdate(t *testing.T) {
	testCases := []struct {
		desc   string
		quote  schema.Quote
		accept bool
	}{
		{"first", quote("AAPL", 5, 100), true},
		{"newer", quote("AAPL", 6, 101), true},
		{"same sequence", quote("AAPL", 6, 102), false},
		{"older", quote("AAPL", 3, 103), false},
		{"unknown symbol", quote("TSLA", 1, 10), false},
		{"invalid prices", schema.Quote{Symbol: "AAPL", Bid: 2, Ask: 1, Mid: 1.5, Sequence: 9}, false},
		{"gap", quote("AAPL", 42, 104), true},
	}

	s, err := NewState([]string{"AAPL"}, 0)
	require.NoError(t, err)
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := s.Update(tc.quote); got != tc.accept {
				t.Fatalf("accept mismatch! should be %v but got %v", tc.accept, got)
			}
		})
	}

	q, err := s.Read("AAPL")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), q.Sequence)
	accepted, discarded := s.Counts()
	assert.Equal(t, uint64(3), accepted)
	assert.Equal(t, uint64(4), discarded)
}

func TestStateStaleness(t *testing.T) {
	s, err := NewState([]string{"AAPL"}, 2)
	require.NoError(t, err)
	require.True(t, s.Update(quote("AAPL", 1, 100)))

	s.MarkMissed("AAPL")
	s.MarkMissed("AAPL")
	assert.False(t, s.IsStale("AAPL"))
	s.MarkMissed("AAPL")
	assert.True(t, s.IsStale("AAPL"))

	q, err := s.Read("AAPL")
	require.NoError(t, err, "stale quotes are retained")
	assert.Equal(t, uint64(1), q.Sequence)

	require.True(t, s.Update(quote("AAPL", 2, 100)))
	assert.False(t, s.IsStale("AAPL"))
	assert.Zero(t, s.Missed("AAPL"))
}

func TestStalenessDisabled(t *testing.T) {
	s, err := NewState([]string{"AAPL"}, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		s.MarkMissed("AAPL")
	}
	assert.False(t, s.IsStale("AAPL"))
}

func TestNewStateErrors(t *testing.T) {
	_, err := NewState(nil, 0)
	require.Error(t, err)
	_, err = NewState([]string{"AAPL", "AAPL"}, 0)
	require.Error(t, err)
}

func TestMonotonicAcceptanceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seqs := rapid.SliceOf(rapid.Uint64Range(0, 50)).Draw(t, "seqs")
		s, err := NewState([]string{"AAPL"}, 0)
		if err != nil {
			t.Fatal(err)
		}
		var max uint64
		var seen bool
		for _, seq := range seqs {
			accepted := s.Update(quote("AAPL", seq, 100))
			want := !seen || seq > max
			if accepted != want {
				t.Fatalf("seq %d after %d: accepted=%v", seq, max, accepted)
			}
			if accepted {
				max, seen = seq, true
			}
			if seen {
				q, err := s.Read("AAPL")
				if err != nil || q.Sequence != max {
					t.Fatalf("read %+v, %v; want sequence %d", q, err, max)
				}
			}
		}
	})
}

func TestConcurrentWriterAndReaders(t *testing.T) {
	s, err := NewState([]string{"AAPL"}, 0)
	require.NoError(t, err)

	const n = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			s.Update(quote("AAPL", i, 100+float64(i)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < n; i++ {
				q, err := s.Read("AAPL")
				if err != nil {
					continue
				}
				if q.Sequence < last {
					t.Errorf("sequence went backwards: %d after %d", q.Sequence, last)
					return
				}
				if q.Mid != 100+float64(q.Sequence) {
					t.Errorf("torn quote: %+v", q)
					return
				}
				last = q.Sequence
			}
		}()
	}
	wg.Wait()

	q, err := s.Read("AAPL")
	require.NoError(t, err)
	assert.Equal(t, uint64(n), q.Sequence)
}
