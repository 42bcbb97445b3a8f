package trades

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/ledger"
	"socialpredict-amm/models"
)

// ExecuteBuy spends at most req.AmountMicros on the largest number of
// shares the budget affords at the locked market state. Repeating a request
// with the same account and idempotency key returns the first result.
func (s *Service) ExecuteBuy(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	outcome, err := s.check(req, req.Outcome)
	if err != nil {
		return nil, err
	}

	var (
		trade    *models.Trade
		replayed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, prior, err := s.begin(tx, req.AccountID, req.MarketID, req.IdempotencyKey, models.TradeSideBuy, outcome)
		if err != nil {
			return err
		}
		if prior != nil {
			trade, replayed = prior, true
			return nil
		}

		st.position, err = st.seq.PositionOrNew(st.account.ID, st.market.ID)
		if err != nil {
			return err
		}

		m := st.market
		quote, err := lmsr.QuoteBuy(m.QYesMicros, m.QNoMicros, m.LiquidityMicros, outcome, req.AmountMicros)
		if err != nil {
			return err
		}
		if quote.ShareMicros == 0 {
			return errors.Wrapf(lmsr.ErrInvalidParameter, "%s buys no shares", models.FormatMicros(req.AmountMicros))
		}
		if quote.ShareMicros < req.MinShareMicros {
			return errors.Wrapf(ErrSlippageExceeded, "%s buys %s shares, wanted at least %s",
				models.FormatMicros(req.AmountMicros), models.FormatMicros(quote.ShareMicros), models.FormatMicros(req.MinShareMicros))
		}
		if st.account.BalanceMicros < quote.CostMicros {
			return errors.Wrapf(ledger.ErrInsufficientBalance, "account %d holds %s, buy costs %s",
				st.account.ID, models.FormatMicros(st.account.BalanceMicros), models.FormatMicros(quote.CostMicros))
		}

		qYes, qNo := m.QYesMicros, m.QNoMicros
		if outcome == lmsr.OutcomeYes {
			qYes += quote.ShareMicros
		} else {
			qNo += quote.ShareMicros
		}
		st.position.AddShares(string(outcome), quote.ShareMicros)

		trade = &models.Trade{
			IdempotencyKey: req.IdempotencyKey,
			Side:           models.TradeSideBuy,
			Outcome:        string(outcome),
			ShareMicros:    quote.ShareMicros,
		}
		return st.commit(trade, qYes, qNo, -quote.CostMicros)
	})
	if err != nil {
		trade, err = s.recoverReplay(ctx, err, req.AccountID, req.MarketID, req.IdempotencyKey, models.TradeSideBuy, outcome)
		if err != nil {
			return nil, err
		}
		replayed = true
	}

	s.logTrade(trade, replayed)
	return buyResult(trade, replayed), nil
}
