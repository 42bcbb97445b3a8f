package trades

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/models"
)

// ExecuteSell sells req.ShareMicros of an outcome back to the market maker
// for max(0, C(q) - C(q - shares)). Nothing is written when the account
// holds too few shares or the proceeds fall below req.MinProceedsMicros.
func (s *Service) ExecuteSell(ctx context.Context, req SellRequest) (*SellResult, error) {
	outcome, err := s.check(req, req.Outcome)
	if err != nil {
		return nil, err
	}

	var (
		trade    *models.Trade
		replayed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, prior, err := s.begin(tx, req.AccountID, req.MarketID, req.IdempotencyKey, models.TradeSideSell, outcome)
		if err != nil {
			return err
		}
		if prior != nil {
			trade, replayed = prior, true
			return nil
		}

		st.position, err = st.seq.Position(st.account.ID, st.market.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrInsufficientShares, "account %d has no position in market %d", st.account.ID, st.market.ID)
		}
		if err != nil {
			return err
		}
		if held := st.position.Shares(string(outcome)); held < req.ShareMicros {
			return errors.Wrapf(ErrInsufficientShares, "selling %s %s shares, holding %s",
				models.FormatMicros(req.ShareMicros), outcome, models.FormatMicros(held))
		}

		m := st.market
		proceeds, err := lmsr.QuoteSell(m.QYesMicros, m.QNoMicros, m.LiquidityMicros, outcome, req.ShareMicros)
		if err != nil {
			return err
		}
		if proceeds < req.MinProceedsMicros {
			return errors.Wrapf(ErrSlippageExceeded, "proceeds %s below minimum %s",
				models.FormatMicros(proceeds), models.FormatMicros(req.MinProceedsMicros))
		}

		qYes, qNo := m.QYesMicros, m.QNoMicros
		if outcome == lmsr.OutcomeYes {
			qYes -= req.ShareMicros
		} else {
			qNo -= req.ShareMicros
		}
		st.position.AddShares(string(outcome), -req.ShareMicros)

		trade = &models.Trade{
			IdempotencyKey: req.IdempotencyKey,
			Side:           models.TradeSideSell,
			Outcome:        string(outcome),
			ShareMicros:    req.ShareMicros,
		}
		return st.commit(trade, qYes, qNo, proceeds)
	})
	if err != nil {
		trade, err = s.recoverReplay(ctx, err, req.AccountID, req.MarketID, req.IdempotencyKey, models.TradeSideSell, outcome)
		if err != nil {
			return nil, err
		}
		replayed = true
	}

	s.logTrade(trade, replayed)
	return sellResult(trade, replayed), nil
}
