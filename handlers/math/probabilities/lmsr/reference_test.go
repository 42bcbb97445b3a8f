package lmsr

import (
	"math"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"
)

// floatLMSR is the floating-point LMSR used only as a tolerance oracle.
type floatLMSR struct {
	B float64
}

func (l floatLMSR) Cost(qYes, qNo float64) float64 {
	maxQ := math.Max(qYes, qNo)
	return maxQ + l.B*math.Log(math.Exp((qYes-maxQ)/l.B)+math.Exp((qNo-maxQ)/l.B))
}

func (l floatLMSR) PriceYes(qYes, qNo float64) float64 {
	maxQ := math.Max(qYes, qNo)
	expYes := math.Exp((qYes - maxQ) / l.B)
	expNo := math.Exp((qNo - maxQ) / l.B)
	return expYes / (expYes + expNo)
}

// SharesForCost solves C(q + s) - C(q) = cost for s in closed form.
func (l floatLMSR) SharesForCost(qYes, qNo, cost float64, outcome Outcome) float64 {
	c := l.Cost(qYes, qNo) + cost
	if outcome == OutcomeYes {
		return l.B*math.Log(math.Exp(c/l.B)-math.Exp(qNo/l.B)) - qYes
	}
	return l.B*math.Log(math.Exp(c/l.B)-math.Exp(qYes/l.B)) - qNo
}

func toUnits(micros int64) float64 {
	return float64(micros) / float64(Scale)
}

// apdExp returns exp(x/Scale)·Scale at 40 digits of precision.
func apdExp(t *testing.T, x int64) float64 {
	t.Helper()
	ctx := apd.BaseContext.WithPrecision(40)
	var r apd.Decimal
	_, err := ctx.Exp(&r, apd.New(x, -6))
	require.NoError(t, err)
	f, err := r.Float64()
	require.NoError(t, err)
	return f * float64(Scale)
}

// apdLn returns ln(z/Scale)·Scale at 40 digits of precision.
func apdLn(t *testing.T, z int64) float64 {
	t.Helper()
	ctx := apd.BaseContext.WithPrecision(40)
	var r apd.Decimal
	_, err := ctx.Ln(&r, apd.New(z, -6))
	require.NoError(t, err)
	f, err := r.Float64()
	require.NoError(t, err)
	return f * float64(Scale)
}

// apdCost returns C(qYes, qNo) in micros at 50 digits of precision.
func apdCost(t *testing.T, qYes, qNo, b int64) *apd.Decimal {
	t.Helper()
	ctx := apd.BaseContext.WithPrecision(50)
	hi := max(qYes, qNo)
	bd := apd.New(b, 0)

	term := func(q int64) *apd.Decimal {
		var x, e apd.Decimal
		_, err := ctx.Quo(&x, apd.New(q-hi, 0), bd)
		require.NoError(t, err)
		_, err = ctx.Exp(&e, &x)
		require.NoError(t, err)
		return &e
	}

	var sum, ln, scaled, c apd.Decimal
	_, err := ctx.Add(&sum, term(qYes), term(qNo))
	require.NoError(t, err)
	_, err = ctx.Ln(&ln, &sum)
	require.NoError(t, err)
	_, err = ctx.Mul(&scaled, &ln, bd)
	require.NoError(t, err)
	_, err = ctx.Add(&c, &scaled, apd.New(hi, 0))
	require.NoError(t, err)
	return &c
}

// apdCostDiff returns C(to) - C(from) in micros.
func apdCostDiff(t *testing.T, toYes, toNo, fromYes, fromNo, b int64) *apd.Decimal {
	t.Helper()
	var d apd.Decimal
	_, err := apd.BaseContext.WithPrecision(50).Sub(&d, apdCost(t, toYes, toNo, b), apdCost(t, fromYes, fromNo, b))
	require.NoError(t, err)
	return &d
}
