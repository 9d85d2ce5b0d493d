package exception

import (
	"errors"

	"hftsim/internal/schema"
)

// Reason classifies an order-level error. Unknown symbols and duplicate
// order ids count as invalid orders.
func Reason(err error) schema.RejectReason {
	switch {
	case err == nil:
		return schema.RejectReasonNone
	case errors.Is(err, ErrNoQuote):
		return schema.RejectReasonNoQuote
	case errors.Is(err, ErrStaleQuote):
		return schema.RejectReasonStaleQuote
	case errors.Is(err, ErrInsufficientCash):
		return schema.RejectReasonInsufficientCash
	case errors.Is(err, ErrShortNotAllowed):
		return schema.RejectReasonShortNotAllowed
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrUnknownSymbol), errors.Is(err, ErrDuplicateOrder):
		return schema.RejectReasonInvalidOrder
	case errors.Is(err, ErrRiskRejected):
		return schema.RejectReasonRisk
	default:
		return schema.RejectReasonOther
	}
}

// IsOrderRejection reports whether err drops a single order rather than
// aborting the tick.
func IsOrderRejection(err error) bool {
	r := Reason(err)
	return r != schema.RejectReasonNone && r != schema.RejectReasonOther
}
