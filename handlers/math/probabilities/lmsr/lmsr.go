// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// Originally developed by Robin Hanson for prediction markets.
//
// LMSR provides:
// - Bounded loss for market maker (max loss = b * ln(n) where n = number of outcomes)
// - Always available liquidity
// - Price = probability interpretation
// - Well-defined cost function
//
// Every quantity in this package is a scaled integer: one share or one credit
// is Scale units. No floating point is used, so identical inputs produce
// identical outputs on every platform and settled trades can be replayed.
//
// Reference: "Logarithmic Market Scoring Rules for Modular Combinatorial Information Aggregation"
// by Robin Hanson, 2003, George Mason University
package lmsr

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidParameter is returned for a non-positive liquidity, a negative
	// quantity, a non-positive amount or an unknown outcome.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDomain is returned when the kernel is asked for a value outside its
	// domain, such as ln of a non-positive number or an exp that overflows.
	ErrDomain = errors.New("math domain error")

	// ErrInsufficientLiquidity is returned when a sell exceeds the outstanding
	// quantity of the traded outcome.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts "yes"/"no" in any case.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToUpper(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", errors.Wrapf(ErrInvalidParameter, "outcome must be YES or NO, got %q", s)
	}
	return o, nil
}

func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// MarketState is the current pricing view of an LMSR market.
type MarketState struct {
	QYes      int64 `json:"qYes"`      // Outstanding YES shares
	QNo       int64 `json:"qNo"`       // Outstanding NO shares
	Liquidity int64 `json:"liquidity"` // b
	PriceYes  int64 `json:"priceYes"`  // Current YES probability/price
	PriceNo   int64 `json:"priceNo"`   // Current NO probability/price
	MaxLoss   int64 `json:"maxLoss"`   // Worst-case market maker subsidy
}

// GetMarketState returns the current state of the market
func GetMarketState(qYes, qNo, b int64) (MarketState, error) {
	priceYes, err := Price(qYes, qNo, b)
	if err != nil {
		return MarketState{}, err
	}
	maxLoss, err := MaxLoss(b)
	if err != nil {
		return MarketState{}, err
	}
	return MarketState{
		QYes:      qYes,
		QNo:       qNo,
		Liquidity: b,
		PriceYes:  priceYes,
		PriceNo:   Scale - priceYes,
		MaxLoss:   maxLoss,
	}, nil
}

// MaxLoss returns the maximum possible loss for the market maker
// For binary markets: b * ln(2)
func MaxLoss(b int64) (int64, error) {
	// C(0, 0) = b·ln(2)
	return Cost(0, 0, b)
}
