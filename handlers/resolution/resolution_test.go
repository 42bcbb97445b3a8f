package resolution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"socialpredict-amm/config"
	"socialpredict-amm/database/dbtest"
	"socialpredict-amm/handlers/markets"
	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/handlers/trades"
	"socialpredict-amm/ledger"
	"socialpredict-amm/locking"
	"socialpredict-amm/models"
)

const scale = lmsr.Scale

type fixture struct {
	ctx      context.Context
	db       *gorm.DB
	svc      *Service
	market   *models.Market
	accounts []*models.Account
	yes      map[int64]int64
}

// newFixture opens a market where seven accounts buy: even ones YES, odd
// ones NO.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)
	log := zaptest.NewLogger(t)

	m, err := markets.Open(ctx, db, markets.OpenRequest{
		QuestionTitle:   "Will the vote pass?",
		CloseAt:         time.Now().Add(24 * time.Hour),
		LiquidityMicros: 50 * scale,
	})
	require.NoError(t, err)

	f := &fixture{ctx: ctx, db: db, svc: NewService(db, log), market: m, yes: map[int64]int64{}}
	tradeSvc := trades.NewService(db, log)
	for i := 0; i < 7; i++ {
		acct, err := ledger.OpenAccount(ctx, db, fmt.Sprintf("voter%d", i))
		require.NoError(t, err)
		_, _, err = ledger.Deposit(ctx, db, acct.ID, 100*scale, fmt.Sprintf("seed-%d", i))
		require.NoError(t, err)
		f.accounts = append(f.accounts, acct)

		outcome := "YES"
		if i%2 == 1 {
			outcome = "NO"
		}
		res, err := tradeSvc.ExecuteBuy(ctx, trades.BuyRequest{
			AccountID:      acct.ID,
			MarketID:       m.ID,
			Outcome:        outcome,
			AmountMicros:   int64(i+1) * scale,
			IdempotencyKey: "open",
		})
		require.NoError(t, err)
		f.yes[acct.ID] = res.Position.YesShareMicros
	}
	return f
}

func (f *fixture) balance(t *testing.T, id int64) int64 {
	t.Helper()
	var a models.Account
	require.NoError(t, f.db.First(&a, id).Error)
	return a.BalanceMicros
}

func TestResolveAndPayout(t *testing.T) {
	f := newFixture(t)

	before := map[int64]int64{}
	for _, a := range f.accounts {
		before[a.ID] = f.balance(t, a.ID)
	}

	m, err := f.svc.MarkResolved(f.ctx, f.market.ID, "yes")
	require.NoError(t, err)
	assert.True(t, m.IsResolved)
	assert.Equal(t, "YES", m.ResolutionResult)
	require.NotNil(t, m.ResolvedAt)
	assert.Equal(t, int64(8), m.Version)

	summary, err := f.svc.PayoutInBatches(f.ctx, f.market.ID, "YES", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.PaidCount)
	assert.Equal(t, 4, summary.Batches)

	var stored models.Market
	require.NoError(t, f.db.First(&stored, f.market.ID).Error)
	assert.Equal(t, stored.QYesMicros, summary.TotalPaidMicros)

	for i, a := range f.accounts {
		got := f.balance(t, a.ID) - before[a.ID]
		if i%2 == 0 {
			assert.Equal(t, f.yes[a.ID], got, "winner %d", i)
			assert.Contains(t, summary.PaidAccountIDs, a.ID)
		} else {
			assert.Zero(t, got, "loser %d", i)
			assert.NotContains(t, summary.PaidAccountIDs, a.ID)
		}
	}

	bad, err := ledger.ReconcileAll(f.ctx, f.db)
	require.NoError(t, err)
	assert.Empty(t, bad)
}

func TestPayoutTwicePaysZero(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkResolved(f.ctx, f.market.ID, "NO")
	require.NoError(t, err)

	first, err := f.svc.PayoutInBatches(f.ctx, f.market.ID, "NO", 100)
	require.NoError(t, err)
	assert.Equal(t, 3, first.PaidCount)
	assert.Equal(t, 1, first.Batches)

	second, err := f.svc.PayoutInBatches(f.ctx, f.market.ID, "NO", 3)
	require.NoError(t, err)
	assert.Zero(t, second.PaidCount)
	assert.Zero(t, second.TotalPaidMicros)
	assert.Empty(t, second.PaidAccountIDs)

	var entries int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Where("entry_type = ?", models.LedgerEntryPayout).Count(&entries).Error)
	assert.Equal(t, int64(3), entries)
}

func TestPayoutResumesAfterPartialRun(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkResolved(f.ctx, f.market.ID, "YES")
	require.NoError(t, err)

	// The first winner was paid by a run that stopped before finishing.
	first := f.accounts[0]
	err = f.db.Transaction(func(tx *gorm.DB) error {
		acct, err := locking.New(tx).Account(first.ID)
		if err != nil {
			return err
		}
		marketID := f.market.ID
		_, err = ledger.Apply(tx, acct, ledger.Entry{
			Type:      models.LedgerEntryPayout,
			Reference: models.PayoutReference(marketID, first.ID),
			Amount:    f.yes[first.ID],
			MarketID:  &marketID,
		})
		return err
	})
	require.NoError(t, err)

	summary, err := f.svc.PayoutInBatches(f.ctx, f.market.ID, "YES", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.PaidCount)
	assert.NotContains(t, summary.PaidAccountIDs, first.ID)
}

func TestMarkResolvedErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MarkResolved(f.ctx, f.market.ID, "MAYBE")
	assert.ErrorIs(t, err, lmsr.ErrInvalidParameter)

	_, err = f.svc.MarkResolved(f.ctx, 999, "YES")
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)

	_, err = f.svc.MarkResolved(f.ctx, f.market.ID, "YES")
	require.NoError(t, err)
	_, err = f.svc.MarkResolved(f.ctx, f.market.ID, "NO")
	assert.ErrorIs(t, err, markets.ErrMarketResolved)

	pool := models.Market{QuestionTitle: "Pool", TradingMode: models.TradingModeParimutuel, LiquidityMicros: scale, CloseAt: time.Now().Add(time.Hour)}
	require.NoError(t, f.db.Create(&pool).Error)
	_, err = f.svc.MarkResolved(f.ctx, pool.ID, "YES")
	assert.ErrorIs(t, err, markets.ErrWrongTradingMode)
}

func TestPayoutErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PayoutInBatches(f.ctx, f.market.ID, "YES", 10)
	assert.ErrorIs(t, err, ErrMarketNotResolved)

	_, err = f.svc.MarkResolved(f.ctx, f.market.ID, "YES")
	require.NoError(t, err)

	_, err = f.svc.PayoutInBatches(f.ctx, f.market.ID, "NO", 10)
	assert.ErrorIs(t, err, ErrOutcomeMismatch)

	_, err = f.svc.PayoutInBatches(f.ctx, f.market.ID, "YES", 0)
	assert.ErrorIs(t, err, lmsr.ErrInvalidParameter)

	_, err = f.svc.PayoutInBatches(f.ctx, 999, "YES", 10)
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)
}

func TestTradingStopsAtResolution(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkResolved(f.ctx, f.market.ID, "YES")
	require.NoError(t, err)

	_, err = trades.NewService(f.db, nil).ExecuteBuy(f.ctx, trades.BuyRequest{
		AccountID:      f.accounts[0].ID,
		MarketID:       f.market.ID,
		Outcome:        "YES",
		AmountMicros:   scale,
		IdempotencyKey: "after",
	})
	assert.ErrorIs(t, err, markets.ErrMarketResolved)
}

func TestRunner(t *testing.T) {
	f := newFixture(t)
	r := NewRunner(f.svc, config.PayoutConfig{BatchSize: 2, BatchesPerSecond: 1000}, zaptest.NewLogger(t))

	summary, err := r.ResolveAndPayout(f.ctx, f.market.ID, "NO")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.PaidCount)
	assert.Equal(t, 4, summary.Batches)

	again, err := r.Payout(f.ctx, f.market.ID, "NO")
	require.NoError(t, err)
	assert.Zero(t, again.PaidCount)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err = r.Payout(ctx, f.market.ID, "NO")
	assert.Error(t, err)
}
