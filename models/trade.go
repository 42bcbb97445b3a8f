package models

import (
	"time"
)

// TradeSide is the direction of a trade from the account's point of view.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Trade is the immutable record of one settled buy or sell. At most one trade
// exists per (AccountID, IdempotencyKey); the unique index enforces it even
// when two requests race past the pre-check.
//
// The position and market snapshots let a retried request be answered with
// exactly the result of the original one.
type Trade struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	UUID           string    `json:"uuid" gorm:"not null;uniqueIndex;size:36"`
	AccountID      int64     `json:"accountId" gorm:"not null;uniqueIndex:idx_trade_idempotency"`
	IdempotencyKey string    `json:"idempotencyKey" gorm:"not null;size:128;uniqueIndex:idx_trade_idempotency"`
	MarketID       int64     `json:"marketId" gorm:"not null;index"`
	Side           TradeSide `json:"side" gorm:"not null;size:4"`
	Outcome        string    `json:"outcome" gorm:"not null;size:3"`
	ShareMicros    int64     `json:"shareMicros" gorm:"not null"`
	// CostMicros is negative on a buy (debit) and positive on a sell (credit).
	CostMicros int64 `json:"costMicros" gorm:"not null"`

	PriceYesBeforeMicros int64 `json:"priceYesBeforeMicros"`
	PriceYesAfterMicros  int64 `json:"priceYesAfterMicros"`
	MarketVersion        int64 `json:"marketVersion"`
	PositionYesMicros    int64 `json:"positionYesMicros"`
	PositionNoMicros     int64 `json:"positionNoMicros"`
	BalanceAfterMicros   int64 `json:"balanceAfterMicros"`

	CreatedAt time.Time `json:"createdAt"`
}

func (Trade) TableName() string {
	return "trades"
}
