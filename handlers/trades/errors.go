package trades

import (
	"net/http"

	"github.com/pkg/errors"

	"socialpredict-amm/handlers/markets"
	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/ledger"
)

var (
	// ErrInsufficientShares is returned when a sell asks for more shares
	// than the account holds.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrSlippageExceeded is returned when the settled price is worse than
	// the caller's limit. Nothing is written.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrIdempotencyKeyReused is returned when a key already settled a
	// different trade. It is an invalid-parameter error.
	ErrIdempotencyKeyReused = errors.Wrap(lmsr.ErrInvalidParameter, "idempotency key reused")
)

// StatusFor maps settlement errors to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSlippageExceeded), errors.Is(err, ErrIdempotencyKeyReused):
		return http.StatusConflict
	}
	return markets.StatusFor(err)
}
