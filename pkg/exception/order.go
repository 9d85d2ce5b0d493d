package exception

import "errors"

var (
	ErrInvalidOrder     = errors.New("order: invalid order")
	ErrDuplicateOrder   = errors.New("order: duplicate order id")
	ErrUnknownOrder     = errors.New("order: unknown order")
	ErrRiskRejected     = errors.New("order: rejected by risk checks")
	ErrInsufficientCash = errors.New("portfolio: insufficient cash")
	ErrShortNotAllowed  = errors.New("portfolio: short selling disabled")
)
