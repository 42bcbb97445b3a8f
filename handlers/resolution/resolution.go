// Package resolution settles a market once its outcome is known: it marks
// the market resolved and pays one credit per winning share.
package resolution

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"socialpredict-amm/handlers/markets"
	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/ledger"
	"socialpredict-amm/locking"
	"socialpredict-amm/logger"
	"socialpredict-amm/models"
)

var (
	// ErrOutcomeMismatch is returned when a payout names a different outcome
	// than the market was resolved to.
	ErrOutcomeMismatch = errors.New("payout outcome does not match resolution")

	ErrMarketNotResolved = errors.New("market is not resolved")
)

// PayoutSummary reports what one payout run credited.
type PayoutSummary struct {
	MarketID        int64   `json:"marketId"`
	Outcome         string  `json:"outcome"`
	PaidCount       int     `json:"paidCount"`
	PaidAccountIDs  []int64 `json:"paidAccountIds"`
	TotalPaidMicros int64   `json:"totalPaidMicros"`
	Batches         int     `json:"batches"`
}

// Service resolves markets and pays out winners.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// NewService returns a Service on db. A nil logger discards output.
func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: logger.OrNop(log), now: time.Now}
}

// MarkResolved records the winning outcome. Only the market row is locked,
// so the transaction is short; payouts follow in their own transactions.
func (s *Service) MarkResolved(ctx context.Context, marketID int64, outcome string) (*models.Market, error) {
	o, err := lmsr.ParseOutcome(outcome)
	if err != nil {
		return nil, err
	}

	var market *models.Market
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		market, err = locking.New(tx).Market(marketID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(markets.ErrMarketNotFound, "market %d", marketID)
		}
		if err != nil {
			return err
		}
		if market.TradingMode != models.TradingModeLMSR {
			return errors.Wrapf(markets.ErrWrongTradingMode, "market %d trades as %s", marketID, market.TradingMode)
		}
		if market.IsResolved {
			return errors.Wrapf(markets.ErrMarketResolved, "market %d resolved %s", marketID, market.ResolutionResult)
		}

		now := s.now().UTC()
		market.IsResolved = true
		market.ResolutionResult = string(o)
		market.ResolvedAt = &now
		market.Version++
		return tx.Model(market).Updates(map[string]any{
			"is_resolved":       true,
			"resolution_result": market.ResolutionResult,
			"resolved_at":       now,
			"version":           market.Version,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("market resolved",
		zap.Int64("market_id", marketID),
		zap.String("outcome", string(o)),
		zap.String("yes_outstanding", models.FormatMicros(market.QYesMicros)),
		zap.String("no_outstanding", models.FormatMicros(market.QNoMicros)))
	return market, nil
}

// PayoutInBatches credits every holder of the winning outcome, batchSize
// positions per transaction. Accounts already paid for this market are
// skipped, so running it again after a failure or a completed run pays only
// what is still owed.
func (s *Service) PayoutInBatches(ctx context.Context, marketID int64, outcome string, batchSize int) (*PayoutSummary, error) {
	return s.payout(ctx, marketID, outcome, batchSize, nil)
}

// payout runs batches until the positions are exhausted. wait, if set, is
// called before every batch.
func (s *Service) payout(ctx context.Context, marketID int64, outcome string, batchSize int, wait func(context.Context) error) (*PayoutSummary, error) {
	o, err := lmsr.ParseOutcome(outcome)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, errors.Wrapf(lmsr.ErrInvalidParameter, "batch size must be positive, got %d", batchSize)
	}

	summary := &PayoutSummary{MarketID: marketID, Outcome: string(o), PaidAccountIDs: []int64{}}
	var cursor int64
	for {
		if wait != nil {
			if err := wait(ctx); err != nil {
				return summary, errors.Wrap(err, "wait for payout batch")
			}
		}

		b, err := s.payoutBatch(ctx, marketID, o, cursor, batchSize)
		if err != nil {
			return summary, errors.Wrapf(err, "payout batch %d of market %d", summary.Batches+1, marketID)
		}
		summary.Batches++
		summary.PaidCount += len(b.paid)
		summary.PaidAccountIDs = append(summary.PaidAccountIDs, b.paid...)
		summary.TotalPaidMicros += b.total

		s.log.Debug("payout batch",
			zap.Int64("market_id", marketID),
			zap.Int("batch", summary.Batches),
			zap.Int("positions", b.scanned),
			zap.Int("paid", len(b.paid)),
			zap.String("amount", models.FormatMicros(b.total)))

		if b.scanned < batchSize {
			break
		}
		cursor = b.lastID
	}

	s.log.Info("payout complete",
		zap.Int64("market_id", marketID),
		zap.String("outcome", string(o)),
		zap.Int("paid", summary.PaidCount),
		zap.Int("batches", summary.Batches),
		zap.String("total", models.FormatMicros(summary.TotalPaidMicros)))
	return summary, nil
}

type batchResult struct {
	scanned int
	lastID  int64
	paid    []int64
	total   int64
}

// payoutBatch pays the positions with id > cursor, at most limit of them.
// Locks follow the settlement order: the market, the batch's accounts in
// ascending id, then their positions.
func (s *Service) payoutBatch(ctx context.Context, marketID int64, outcome lmsr.Outcome, cursor int64, limit int) (*batchResult, error) {
	res := &batchResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq := locking.New(tx)
		market, err := seq.Market(marketID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(markets.ErrMarketNotFound, "market %d", marketID)
		}
		if err != nil {
			return err
		}
		if !market.IsResolved {
			return errors.Wrapf(ErrMarketNotResolved, "market %d", marketID)
		}
		if market.ResolutionResult != string(outcome) {
			return errors.Wrapf(ErrOutcomeMismatch, "market %d resolved %s, payout asked for %s",
				marketID, market.ResolutionResult, outcome)
		}

		var page []models.Position
		err = tx.Where("market_id = ? AND id > ?", marketID, cursor).
			Order("id").
			Limit(limit).
			Find(&page).Error
		if err != nil {
			return errors.Wrap(err, "page positions")
		}
		res.scanned = len(page)
		if len(page) == 0 {
			return nil
		}
		res.lastID = page[len(page)-1].ID

		accountIDs := make([]int64, 0, len(page))
		refs := make([]string, 0, len(page))
		for _, p := range page {
			accountIDs = append(accountIDs, p.AccountID)
			refs = append(refs, models.PayoutReference(marketID, p.AccountID))
		}

		accounts, err := seq.Accounts(accountIDs)
		if err != nil {
			return err
		}
		positions, err := seq.Positions(marketID, accountIDs)
		if err != nil {
			return err
		}

		var done []string
		err = tx.Model(&models.LedgerEntry{}).Where("reference IN ?", refs).Pluck("reference", &done).Error
		if err != nil {
			return errors.Wrap(err, "read paid references")
		}
		paid := make(map[string]bool, len(done))
		for _, ref := range done {
			paid[ref] = true
		}

		byID := make(map[int64]*models.Account, len(accounts))
		for i := range accounts {
			byID[accounts[i].ID] = &accounts[i]
		}

		for _, p := range positions {
			shares := p.Shares(string(outcome))
			ref := models.PayoutReference(marketID, p.AccountID)
			if shares <= 0 || paid[ref] {
				continue
			}
			acct, ok := byID[p.AccountID]
			if !ok {
				return errors.Wrapf(ledger.ErrAccountNotFound, "account %d", p.AccountID)
			}
			// one credit per winning share
			_, err := ledger.Apply(tx, acct, ledger.Entry{
				Type:      models.LedgerEntryPayout,
				Reference: ref,
				Amount:    shares,
				MarketID:  &marketID,
			})
			if err != nil {
				return err
			}
			res.paid = append(res.paid, acct.ID)
			res.total += shares
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
