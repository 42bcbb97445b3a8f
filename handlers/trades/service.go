// Package trades settles buys and sells against LMSR markets. Every trade is
// one transaction that locks the market, then the account, then the
// position, reprices under those locks and books the result.
package trades

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"socialpredict-amm/database"
	"socialpredict-amm/handlers/markets"
	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/ledger"
	"socialpredict-amm/locking"
	"socialpredict-amm/logger"
	"socialpredict-amm/models"
)

// BuyRequest spends at most AmountMicros on Outcome.
type BuyRequest struct {
	AccountID      int64  `json:"accountId" validate:"gt=0"`
	MarketID       int64  `json:"marketId" validate:"gt=0"`
	Outcome        string `json:"outcome" validate:"required"`
	AmountMicros   int64  `json:"amountMicros" validate:"gt=0"`
	MinShareMicros int64  `json:"minShareMicros,omitempty" validate:"gte=0"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=128"`
}

// SellRequest sells ShareMicros of Outcome back to the market maker.
type SellRequest struct {
	AccountID         int64  `json:"accountId" validate:"gt=0"`
	MarketID          int64  `json:"marketId" validate:"gt=0"`
	Outcome           string `json:"outcome" validate:"required"`
	ShareMicros       int64  `json:"shareMicros" validate:"gt=0"`
	MinProceedsMicros int64  `json:"minProceedsMicros,omitempty" validate:"gte=0"`
	IdempotencyKey    string `json:"idempotencyKey" validate:"required,max=128"`
}

// BuyResult is the outcome of a buy. Every field except Replayed is built
// from the stored trade, so all requests sharing an idempotency key get the
// same result. Replayed is delivery metadata: it is false only for the
// request that settled the trade, and HTTP uses it to pick 201 or 200.
type BuyResult struct {
	Trade            models.Trade    `json:"trade"`
	Position         models.Position `json:"position"`
	ShareMicros      int64           `json:"shareMicros"`
	ActualCostMicros int64           `json:"actualCostMicros"`
	BalanceMicros    int64           `json:"balanceMicros"`
	Replayed         bool            `json:"replayed"`
}

// SellResult is the outcome of a sell. Replayed has the same meaning as in
// BuyResult.
type SellResult struct {
	Trade          models.Trade    `json:"trade"`
	Position       models.Position `json:"position"`
	ProceedsMicros int64           `json:"proceedsMicros"`
	BalanceMicros  int64           `json:"balanceMicros"`
	Replayed       bool            `json:"replayed"`
}

// Service settles trades.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService returns a Service on db. A nil logger discards output.
func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{
		db:       db,
		log:      logger.OrNop(log),
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Service) check(req any, rawOutcome string) (lmsr.Outcome, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", errors.Wrap(lmsr.ErrInvalidParameter, err.Error())
	}
	return lmsr.ParseOutcome(rawOutcome)
}

// settlement is the locked state a trade works on.
type settlement struct {
	tx       *gorm.DB
	seq      *locking.Sequence
	market   *models.Market
	account  *models.Account
	position *models.Position
}

// begin locks the market, answers a replay if the key was already used,
// and otherwise checks that the market is open. A nil settlement with a
// non-nil prior trade means the request is a replay.
func (s *Service) begin(tx *gorm.DB, accountID, marketID int64, key string, side models.TradeSide, outcome lmsr.Outcome) (*settlement, *models.Trade, error) {
	seq := locking.New(tx)
	market, err := seq.Market(marketID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, errors.Wrapf(markets.ErrMarketNotFound, "market %d", marketID)
	}
	if err != nil {
		return nil, nil, err
	}

	prior, err := findTrade(tx, accountID, key)
	if err != nil {
		return nil, nil, err
	}
	if prior != nil {
		if err := matchReplay(prior, marketID, side, outcome); err != nil {
			return nil, nil, err
		}
		return nil, prior, nil
	}

	if err := markets.CheckTradable(market, s.now()); err != nil {
		return nil, nil, err
	}

	account, err := seq.Account(accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, errors.Wrapf(ledger.ErrAccountNotFound, "account %d", accountID)
	}
	if err != nil {
		return nil, nil, err
	}
	return &settlement{tx: tx, seq: seq, market: market, account: account}, nil, nil
}

// commit writes the new market quantities, the position, the trade and its
// ledger entry. amount is the signed balance change.
func (st *settlement) commit(trade *models.Trade, qYes, qNo, amount int64) error {
	tx := st.tx
	market := st.market

	priceBefore, err := lmsr.Price(market.QYesMicros, market.QNoMicros, market.LiquidityMicros)
	if err != nil {
		return err
	}
	priceAfter, err := lmsr.Price(qYes, qNo, market.LiquidityMicros)
	if err != nil {
		return err
	}

	version := market.Version + 1
	err = tx.Model(market).Updates(map[string]any{
		"q_yes_micros": qYes,
		"q_no_micros":  qNo,
		"version":      version,
	}).Error
	if err != nil {
		return errors.Wrapf(err, "update market %d", market.ID)
	}

	err = tx.Model(st.position).Updates(map[string]any{
		"yes_share_micros": st.position.YesShareMicros,
		"no_share_micros":  st.position.NoShareMicros,
	}).Error
	if err != nil {
		return errors.Wrapf(err, "update position %d", st.position.ID)
	}

	trade.UUID = uuid.NewString()
	trade.AccountID = st.account.ID
	trade.MarketID = market.ID
	trade.CostMicros = amount
	trade.PriceYesBeforeMicros = priceBefore
	trade.PriceYesAfterMicros = priceAfter
	trade.MarketVersion = version
	trade.PositionYesMicros = st.position.YesShareMicros
	trade.PositionNoMicros = st.position.NoShareMicros
	trade.BalanceAfterMicros = st.account.BalanceMicros + amount
	if err := tx.Create(trade).Error; err != nil {
		return errors.Wrap(err, "record trade")
	}

	marketID, tradeID := market.ID, trade.ID
	_, err = ledger.Apply(tx, st.account, ledger.Entry{
		Type:      models.LedgerEntryTrade,
		Reference: models.TradeReference(trade.ID),
		Amount:    amount,
		MarketID:  &marketID,
		TradeID:   &tradeID,
	})
	return err
}

func findTrade(tx *gorm.DB, accountID int64, key string) (*models.Trade, error) {
	var trades []models.Trade
	err := tx.Where("account_id = ? AND idempotency_key = ?", accountID, key).
		Limit(1).
		Find(&trades).Error
	if err != nil {
		return nil, errors.Wrap(err, "look up idempotency key")
	}
	if len(trades) == 0 {
		return nil, nil
	}
	return &trades[0], nil
}

func matchReplay(prior *models.Trade, marketID int64, side models.TradeSide, outcome lmsr.Outcome) error {
	if prior.MarketID != marketID || prior.Side != side || prior.Outcome != string(outcome) {
		return errors.Wrapf(ErrIdempotencyKeyReused, "key %q settled trade %s (%s %s on market %d)",
			prior.IdempotencyKey, prior.UUID, prior.Side, prior.Outcome, prior.MarketID)
	}
	return nil
}

// recoverReplay handles a transaction that failed because a concurrent
// request with the same key committed first: the winner's trade is read
// back and returned as a replay. Any other error is returned unchanged.
func (s *Service) recoverReplay(ctx context.Context, cause error, accountID, marketID int64, key string, side models.TradeSide, outcome lmsr.Outcome) (*models.Trade, error) {
	if !database.IsUniqueViolation(cause) {
		return nil, cause
	}
	prior, err := findTrade(s.db.WithContext(ctx), accountID, key)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, cause
	}
	if err := matchReplay(prior, marketID, side, outcome); err != nil {
		return nil, err
	}
	return prior, nil
}

func positionOf(t *models.Trade) models.Position {
	return models.Position{
		AccountID:      t.AccountID,
		MarketID:       t.MarketID,
		YesShareMicros: t.PositionYesMicros,
		NoShareMicros:  t.PositionNoMicros,
	}
}

func buyResult(t *models.Trade, replayed bool) *BuyResult {
	return &BuyResult{
		Trade:            *t,
		Position:         positionOf(t),
		ShareMicros:      t.ShareMicros,
		ActualCostMicros: -t.CostMicros,
		BalanceMicros:    t.BalanceAfterMicros,
		Replayed:         replayed,
	}
}

func sellResult(t *models.Trade, replayed bool) *SellResult {
	return &SellResult{
		Trade:          *t,
		Position:       positionOf(t),
		ProceedsMicros: t.CostMicros,
		BalanceMicros:  t.BalanceAfterMicros,
		Replayed:       replayed,
	}
}

func (s *Service) logTrade(t *models.Trade, replayed bool) {
	fields := []zap.Field{
		zap.Int64("trade_id", t.ID),
		zap.String("trade_uuid", t.UUID),
		zap.Int64("account_id", t.AccountID),
		zap.Int64("market_id", t.MarketID),
		zap.String("side", string(t.Side)),
		zap.String("outcome", t.Outcome),
		zap.String("shares", models.FormatMicros(t.ShareMicros)),
		zap.String("amount", models.FormatMicros(t.CostMicros)),
		zap.Int64("market_version", t.MarketVersion),
	}
	if replayed {
		s.log.Debug("replayed trade", fields...)
		return
	}
	s.log.Info("settled trade", fields...)
}
