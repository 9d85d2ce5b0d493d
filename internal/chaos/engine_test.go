package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftsim/internal/mdg"
	"hftsim/pkg/exception"
)

func raws(n int) []mdg.RawQuote {
	out := make([]mdg.RawQuote, n)
	for i := range out {
		out[i] = mdg.RawQuote{Symbol: "AAPL", Bid: 99, Ask: 101, Sequence: uint64(i + 1), Timestamp: time.Unix(int64(i), 0)}
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
		ok   bool
	}{
		{"zero", Config{ReorderWindow: 1}, true},
		{"drop too high", Config{DropRate: 1.5, ReorderWindow: 1}, false},
		{"negative dup", Config{DuplicateRate: -0.1, ReorderWindow: 1}, false},
		{"outage too high", Config{OutageRate: 2, ReorderWindow: 1}, false},
		{"negative delay", Config{MaxDelay: -time.Second, ReorderWindow: 1}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("validate mismatch! ok should be %v but got err %v", tc.ok, err)
			}
		})
	}
}

func TestPassThrough(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1})
	require.NoError(t, err)
	var out []mdg.RawQuote
	for _, q := range raws(10) {
		out = append(out, e.Process(q)...)
	}
	assert.Equal(t, raws(10), out)
	assert.Empty(t, e.Flush())
}

func TestDropAndDuplicate(t *testing.T) {
	drop, err := NewEngine(Config{Seed: 1, DropRate: 1})
	require.NoError(t, err)
	assert.Empty(t, drop.Process(raws(1)[0]))

	dup, err := NewEngine(Config{Seed: 1, DuplicateRate: 1})
	require.NoError(t, err)
	assert.Len(t, dup.Process(raws(1)[0]), 2)
}

func TestReorderKeepsEveryRecord(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, ReorderWindow: 4})
	require.NoError(t, err)
	var out []mdg.RawQuote
	for _, q := range raws(20) {
		out = append(out, e.Process(q)...)
	}
	out = append(out, e.Flush()...)
	require.Len(t, out, 20)

	seen := make(map[uint64]bool)
	for _, q := range out {
		seen[q.Sequence] = true
	}
	assert.Len(t, seen, 20)
}

func TestDelayShiftsTimestamp(t *testing.T) {
	e, err := NewEngine(Config{Seed: 5, MaxDelay: time.Second})
	require.NoError(t, err)
	in := raws(1)[0]
	out := e.Process(in)
	require.Len(t, out, 1)
	assert.False(t, out[0].Timestamp.Before(in.Timestamp))
	assert.False(t, out[0].Timestamp.After(in.Timestamp.Add(time.Second)))
}

type staticFeed struct{ quotes []mdg.RawQuote }

func (f staticFeed) Poll(ctx context.Context, symbols []string) ([]mdg.RawQuote, error) {
	return f.quotes, nil
}

func TestFeedOutage(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, OutageRate: 1})
	require.NoError(t, err)
	f, err := NewFeed(staticFeed{quotes: raws(2)}, e)
	require.NoError(t, err)

	_, err = f.Poll(context.Background(), []string{"AAPL"})
	assert.True(t, errors.Is(err, exception.ErrFeedUnavailable), "got %v", err)
}

func TestFeedPassesRecords(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1})
	require.NoError(t, err)
	f, err := NewFeed(staticFeed{quotes: raws(3)}, e)
	require.NoError(t, err)

	out, err := f.Poll(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, raws(3), out)
}
