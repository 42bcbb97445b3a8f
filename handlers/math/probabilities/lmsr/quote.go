package lmsr

import (
	"math"
	"math/big"

	"github.com/pkg/errors"
)

// BuyQuote is the result of spending at most a budget on one outcome.
type BuyQuote struct {
	ShareMicros int64 `json:"shareMicros"`
	CostMicros  int64 `json:"costMicros"`
}

// diffSlack bounds the kernel error of one cost difference, in 1/costUnit
// micros per micro of liquidity. Charges add it and proceeds subtract it,
// so the rounded amount is never on the trader's side of the exact one.
const diffSlack = 256

// QuoteBuy finds the largest share count whose charge does not exceed
// maxCost. The charge is the cost difference rounded up to whole units.
//
// The search interval starts at maxCost + (max(q) - q_outcome) + b. Since
// C(q) <= max(q) + b·ln 2 and C(q + s on outcome) >= q_outcome + s, any larger s
// costs more than maxCost. The bound is still doubled until the computed charge
// exceeds the budget so rounding can never leave it too small.
func QuoteBuy(qYes, qNo, b int64, outcome Outcome, maxCost int64) (BuyQuote, error) {
	if err := checkState(qYes, qNo, b); err != nil {
		return BuyQuote{}, err
	}
	if !outcome.Valid() {
		return BuyQuote{}, errors.Wrapf(ErrInvalidParameter, "unknown outcome %q", outcome)
	}
	if maxCost <= 0 {
		return BuyQuote{}, errors.Wrapf(ErrInvalidParameter, "max cost must be positive, got %d", maxCost)
	}

	base, err := costFine(qYes, qNo, b)
	if err != nil {
		return BuyQuote{}, err
	}
	charge := func(s int64) (int64, error) {
		return buyCharge(base, qYes, qNo, b, outcome, s)
	}

	hi, err := addAll(maxCost, max(qYes, qNo)-traded(qYes, qNo, outcome), b)
	if err != nil {
		return BuyQuote{}, err
	}
	for {
		c, err := charge(hi)
		if err != nil {
			return BuyQuote{}, err
		}
		if c > maxCost {
			break
		}
		if hi > math.MaxInt64/2 {
			return BuyQuote{}, errors.Wrapf(ErrDomain, "no share bound for budget %d", maxCost)
		}
		hi *= 2
	}

	// charge(lo) <= maxCost < charge(hi); zero shares cost nothing
	lo := int64(0)
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		c, err := charge(mid)
		if err != nil {
			return BuyQuote{}, err
		}
		if c <= maxCost {
			lo = mid
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return BuyQuote{}, nil
	}

	cost, err := charge(lo)
	if err != nil {
		return BuyQuote{}, err
	}
	return BuyQuote{ShareMicros: lo, CostMicros: cost}, nil
}

// buyCharge is the price of s more shares of outcome, rounded up. base is
// costFine at the current quantities. Charges beyond int64 saturate.
func buyCharge(base *big.Int, qYes, qNo, b int64, outcome Outcome, s int64) (int64, error) {
	y, n, err := shift(qYes, qNo, outcome, s)
	if err != nil {
		return 0, err
	}
	c, err := costFine(y, n, b)
	if err != nil {
		return 0, err
	}
	c.Sub(c, base)
	c.Add(c, slack(b))
	if c.Sign() <= 0 {
		return 0, nil
	}
	// ceil(c / costUnit)
	c.Add(c, costUnit)
	c.Sub(c, bigOne)
	c.Quo(c, costUnit)
	if !c.IsInt64() {
		return math.MaxInt64, nil
	}
	return c.Int64(), nil
}

// QuoteSell returns the proceeds of selling shares of outcome back to the
// market maker: C(q) - C(q - shares) rounded down, and never below zero.
func QuoteSell(qYes, qNo, b int64, outcome Outcome, shares int64) (int64, error) {
	if err := checkState(qYes, qNo, b); err != nil {
		return 0, err
	}
	if !outcome.Valid() {
		return 0, errors.Wrapf(ErrInvalidParameter, "unknown outcome %q", outcome)
	}
	if shares <= 0 {
		return 0, errors.Wrapf(ErrInvalidParameter, "shares must be positive, got %d", shares)
	}
	if shares > traded(qYes, qNo, outcome) {
		return 0, errors.Wrapf(ErrInsufficientLiquidity, "selling %d %s shares, %d outstanding",
			shares, outcome, traded(qYes, qNo, outcome))
	}

	before, err := costFine(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	y, n, err := shift(qYes, qNo, outcome, -shares)
	if err != nil {
		return 0, err
	}
	after, err := costFine(y, n, b)
	if err != nil {
		return 0, err
	}

	d := before.Sub(before, after)
	d.Sub(d, slack(b))
	if d.Sign() <= 0 {
		return 0, nil
	}
	d.Quo(d, costUnit)
	if !d.IsInt64() {
		return 0, errors.Wrapf(ErrDomain, "proceeds of %d shares overflow", shares)
	}
	return d.Int64(), nil
}

func slack(b int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(b), big.NewInt(diffSlack))
}

// Simulation shows what would happen if a buy is placed, without placing it.
type Simulation struct {
	ShareMicros     int64 `json:"shareMicros"`
	CostMicros      int64 `json:"costMicros"`
	PriceYesBefore  int64 `json:"priceYesBefore"`
	PriceYesAfter   int64 `json:"priceYesAfter"`
	PriceImpact     int64 `json:"priceImpact"`     // Change in YES price from this buy
	AveragePrice    int64 `json:"averagePrice"`    // Cost per whole share
	PotentialPayout int64 `json:"potentialPayout"` // If outcome is correct
}

// Simulate shows the effect of spending amount on outcome.
func Simulate(qYes, qNo, b int64, outcome Outcome, amount int64) (Simulation, error) {
	before, err := Price(qYes, qNo, b)
	if err != nil {
		return Simulation{}, err
	}
	q, err := QuoteBuy(qYes, qNo, b, outcome, amount)
	if err != nil {
		return Simulation{}, err
	}
	y, n, err := shift(qYes, qNo, outcome, q.ShareMicros)
	if err != nil {
		return Simulation{}, err
	}
	after, err := Price(y, n, b)
	if err != nil {
		return Simulation{}, err
	}

	sim := Simulation{
		ShareMicros:     q.ShareMicros,
		CostMicros:      q.CostMicros,
		PriceYesBefore:  before,
		PriceYesAfter:   after,
		PriceImpact:     after - before,
		PotentialPayout: q.ShareMicros, // Each share pays 1 unit if correct
	}
	if q.ShareMicros > 0 {
		sim.AveragePrice, _ = mulDiv(q.CostMicros, Scale, q.ShareMicros)
	}
	return sim, nil
}

func traded(qYes, qNo int64, outcome Outcome) int64 {
	if outcome == OutcomeYes {
		return qYes
	}
	return qNo
}

// shift moves the traded outcome's quantity by s.
func shift(qYes, qNo int64, outcome Outcome, s int64) (int64, int64, error) {
	q := traded(qYes, qNo, outcome)
	if s > 0 && q > math.MaxInt64-s {
		return 0, 0, errors.Wrapf(ErrDomain, "quantity %d + %d overflows", q, s)
	}
	if outcome == OutcomeYes {
		return qYes + s, qNo, nil
	}
	return qYes, qNo + s, nil
}

func addAll(vs ...int64) (int64, error) {
	var sum int64
	for _, v := range vs {
		if v > 0 && sum > math.MaxInt64-v {
			return 0, errors.Wrap(ErrDomain, "search bound overflows")
		}
		sum += v
	}
	return sum, nil
}
