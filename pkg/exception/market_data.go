package exception

import "errors"

var (
	ErrNoQuote         = errors.New("market data: no quote")
	ErrStaleQuote      = errors.New("market data: stale quote")
	ErrUnknownSymbol   = errors.New("market data: unknown symbol")
	ErrFeedUnavailable = errors.New("market data: feed unavailable")
)
