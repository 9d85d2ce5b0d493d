package market

import (
	"fmt"
	"sync/atomic"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

// View is the read-only market access given to strategies and execution.
type View interface {
	Read(symbol string) (schema.Quote, error)
	IsStale(symbol string) bool
	Symbols() []string
}

var _ View = (*State)(nil)

type readOnly struct {
	s *State
}

func (r readOnly) Read(symbol string) (schema.Quote, error) { return r.s.Read(symbol) }
func (r readOnly) IsStale(symbol string) bool               { return r.s.IsStale(symbol) }
func (r readOnly) Symbols() []string                        { return r.s.Symbols() }

type slot struct {
	quote  atomic.Pointer[schema.Quote]
	missed atomic.Uint32
}

// State holds the latest accepted quote per symbol. The symbol set is fixed
// at construction. Writers and readers never block each other: each slot
// publishes an immutable quote through an atomic pointer.
type State struct {
	symbols    []string
	slots      map[string]*slot
	staleAfter uint32

	accepted  atomic.Uint64
	discarded atomic.Uint64
}

// NewState creates market state for symbols. A symbol becomes stale after
// more than staleAfter consecutive missed polls; 0 disables staleness.
func NewState(symbols []string, staleAfter uint32) (*State, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("market state needs at least one symbol")
	}
	slots := make(map[string]*slot, len(symbols))
	for _, name := range symbols {
		if _, ok := slots[name]; ok {
			return nil, fmt.Errorf("duplicate symbol: %s", name)
		}
		slots[name] = &slot{}
	}
	return &State{
		symbols:    append([]string(nil), symbols...),
		slots:      slots,
		staleAfter: staleAfter,
	}, nil
}

// Update publishes q if its sequence is newer than the current one and
// reports whether it was accepted. An accepted quote clears the symbol's
// missed-poll count.
func (s *State) Update(q schema.Quote) bool {
	sl, ok := s.slots[q.Symbol]
	if !ok || !q.Valid() {
		s.discarded.Add(1)
		return false
	}
	next := q
	for {
		cur := sl.quote.Load()
		if cur != nil && q.Sequence <= cur.Sequence {
			s.discarded.Add(1)
			return false
		}
		if sl.quote.CompareAndSwap(cur, &next) {
			sl.missed.Store(0)
			s.accepted.Add(1)
			return true
		}
	}
}

// Read returns the latest quote for symbol.
func (s *State) Read(symbol string) (schema.Quote, error) {
	sl, ok := s.slots[symbol]
	if !ok {
		return schema.Quote{}, ierrors.Wrap(exception.ErrUnknownSymbol, symbol)
	}
	q := sl.quote.Load()
	if q == nil {
		return schema.Quote{}, ierrors.Wrap(exception.ErrNoQuote, symbol)
	}
	return *q, nil
}

// MarkMissed records a poll that did not refresh symbol.
func (s *State) MarkMissed(symbol string) {
	if sl, ok := s.slots[symbol]; ok {
		sl.missed.Add(1)
	}
}

// Missed returns the consecutive missed polls of symbol.
func (s *State) Missed(symbol string) uint32 {
	if sl, ok := s.slots[symbol]; ok {
		return sl.missed.Load()
	}
	return 0
}

// IsStale reports whether symbol missed more polls than allowed.
func (s *State) IsStale(symbol string) bool {
	if s.staleAfter == 0 {
		return false
	}
	return s.Missed(symbol) > s.staleAfter
}

// Latest returns a copy of every quoted symbol's latest quote.
func (s *State) Latest() map[string]schema.Quote {
	out := make(map[string]schema.Quote, len(s.symbols))
	for _, name := range s.symbols {
		if q := s.slots[name].quote.Load(); q != nil {
			out[name] = *q
		}
	}
	return out
}

// Symbols returns the fixed symbol set in construction order.
func (s *State) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Counts returns accepted and discarded update totals.
func (s *State) Counts() (accepted, discarded uint64) {
	return s.accepted.Load(), s.discarded.Load()
}

// View returns a read-only view of the state. It cannot be asserted back
// to *State.
func (s *State) View() View {
	return readOnly{s: s}
}
