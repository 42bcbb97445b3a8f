package lmsr

import (
	"math"
	"math/big"
	"math/bits"

	"github.com/pkg/errors"
)

const (
	// Scale is the number of integer units in one whole share or credit.
	Scale int64 = 1_000_000

	maxExpTerms     = 256
	maxLnIterations = 64

	// exp(x/Scale)·Scale no longer fits in an int64 above this argument.
	maxExpArg = 32 * Scale

	// exp(-64) is below one unit at every resolution used here.
	underflowUnits = 64

	// ln(2)·Scale, used to seed Newton's method from the bit length of z.
	ln2Seed int64 = 693147
)

var (
	bigOne   = big.NewInt(1)
	bigScale = big.NewInt(Scale)

	// costUnit is the internal resolution of Cost and Price. Working at
	// Scale² keeps the b·ln(...) term accurate to well under one unit for
	// any realistic liquidity.
	costUnit = new(big.Int).Mul(bigScale, bigScale)
)

// Exp returns exp(x/Scale)·Scale truncated toward zero.
func Exp(x int64) (int64, error) {
	if x > maxExpArg {
		return 0, errors.Wrapf(ErrDomain, "exp(%d) overflows", x)
	}
	r := expUnit(big.NewInt(x), bigScale)
	if !r.IsInt64() {
		return 0, errors.Wrapf(ErrDomain, "exp(%d) overflows", x)
	}
	return r.Int64(), nil
}

// Ln returns ln(z/Scale)·Scale truncated toward zero. Newton's method runs
// at costUnit resolution so that small z, where one unit of z moves the
// logarithm by many units, still lands within a unit of the true value.
func Ln(z int64) (int64, error) {
	if z <= 0 {
		return 0, errors.Wrapf(ErrDomain, "ln of non-positive value %d", z)
	}
	x := new(big.Int).Mul(big.NewInt(z), bigScale)
	r := lnUnit(x, costUnit)
	return r.Quo(r, bigScale).Int64(), nil
}

// expUnit returns exp(x/unit)·unit truncated toward zero. Negative
// arguments are evaluated as unit²/exp(-x).
func expUnit(x, unit *big.Int) *big.Int {
	if x.Sign() >= 0 {
		return expTaylor(x, unit)
	}

	y := new(big.Int).Neg(x)
	limit := new(big.Int).Mul(unit, big.NewInt(underflowUnits))
	if y.Cmp(limit) >= 0 {
		return new(big.Int)
	}
	inv := expTaylor(y, unit)
	r := new(big.Int).Mul(unit, unit)
	return r.Quo(r, inv)
}

// expTaylor sums the Taylor series of exp for x >= 0. Each term is derived
// from the previous one as term·x/(k·unit) and the sum stops once a term
// truncates to zero.
func expTaylor(x, unit *big.Int) *big.Int {
	sum := new(big.Int).Set(unit)
	term := new(big.Int).Set(unit)
	div := new(big.Int)
	for k := int64(1); k <= maxExpTerms; k++ {
		term.Mul(term, x)
		term.Quo(term, div.Mul(unit, big.NewInt(k)))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	return sum
}

// lnUnit returns ln(z/unit)·unit for z > 0, iterating
// x += (z - exp(x))·unit/exp(x) until the step is within one unit.
func lnUnit(z, unit *big.Int) *big.Int {
	// The bit length puts the seed within ln(2) of the root.
	x := big.NewInt(int64(z.BitLen()-unit.BitLen()) * ln2Seed)
	x.Mul(x, unit)
	x.Quo(x, bigScale)

	step := new(big.Int)
	for i := 0; i < maxLnIterations; i++ {
		e := expUnit(x, unit)
		if e.Sign() == 0 {
			x.Add(x, unit)
			continue
		}
		step.Sub(z, e)
		step.Mul(step, unit)
		step.Quo(step, e)
		x.Add(x, step)
		if step.CmpAbs(bigOne) <= 0 {
			break
		}
	}
	return x
}

// Cost is the LMSR cost function C = b·ln(exp(qYes/b) + exp(qNo/b)),
// truncated to whole units. The larger quantity is factored out before
// exponentiating so the arguments to exp are never positive.
func Cost(qYes, qNo, b int64) (int64, error) {
	c, err := costFine(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	c.Quo(c, costUnit)
	if !c.IsInt64() {
		return 0, errors.Wrapf(ErrDomain, "cost(%d, %d, %d) overflows", qYes, qNo, b)
	}
	return c.Int64(), nil
}

// costFine returns C(q) scaled by costUnit, so one unit of the result is
// 1/costUnit of a micro. Trade amounts are rounded from differences of
// these values, never from already truncated costs.
func costFine(qYes, qNo, b int64) (*big.Int, error) {
	if err := checkState(qYes, qNo, b); err != nil {
		return nil, err
	}

	hi := max(qYes, qNo)
	sum := expRatio(qYes-hi, b)
	sum.Add(sum, expRatio(qNo-hi, b))

	c := lnUnit(sum, costUnit)
	c.Mul(c, big.NewInt(b))
	return c.Add(c, new(big.Int).Mul(big.NewInt(hi), costUnit)), nil
}

// Price returns the YES price in [0, Scale]. It is exactly Scale/2 whenever
// qYes == qNo.
func Price(qYes, qNo, b int64) (int64, error) {
	if err := checkState(qYes, qNo, b); err != nil {
		return 0, err
	}

	hi := max(qYes, qNo)
	eYes := expRatio(qYes-hi, b)
	sum := expRatio(qNo-hi, b)
	// One of the two terms is exp(0), so the divisor is never zero.
	sum.Add(sum, eYes)

	p := new(big.Int).Mul(eYes, bigScale)
	return p.Quo(p, sum).Int64(), nil
}

// expRatio returns exp(d/b) at costUnit resolution for d <= 0.
func expRatio(d, b int64) *big.Int {
	x := new(big.Int).Mul(big.NewInt(d), costUnit)
	x.Quo(x, big.NewInt(b))
	return expUnit(x, costUnit)
}

func checkState(qYes, qNo, b int64) error {
	if b <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "liquidity must be positive, got %d", b)
	}
	if qYes < 0 || qNo < 0 {
		return errors.Wrapf(ErrInvalidParameter, "quantities must be non-negative, got (%d, %d)", qYes, qNo)
	}
	return nil
}

// mulDiv returns a·b/c truncated toward zero using a 128-bit intermediate.
// ok is false when c is zero or the quotient does not fit in an int64.
func mulDiv(a, b, c int64) (int64, bool) {
	if c == 0 {
		return 0, false
	}
	neg := (a < 0) != (b < 0) != (c < 0)

	hi, lo := bits.Mul64(abs64(a), abs64(b))
	uc := abs64(c)
	if hi >= uc {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, uc)
	if q > math.MaxInt64 {
		return 0, false
	}
	if neg {
		return -int64(q), true
	}
	return int64(q), true
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
