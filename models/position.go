package models

import (
	"time"
)

// Position is an account's share holdings in one market. It is created on
// the account's first trade in that market.
type Position struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	AccountID      int64     `json:"accountId" gorm:"not null;uniqueIndex:idx_position_account_market"`
	MarketID       int64     `json:"marketId" gorm:"not null;uniqueIndex:idx_position_account_market;index"`
	YesShareMicros int64     `json:"yesShareMicros" gorm:"not null;default:0"`
	NoShareMicros  int64     `json:"noShareMicros" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Position) TableName() string {
	return "positions"
}

// Shares returns the holding for outcome ("YES" or "NO").
func (p *Position) Shares(outcome string) int64 {
	if outcome == "YES" {
		return p.YesShareMicros
	}
	return p.NoShareMicros
}

// AddShares adjusts the holding for outcome by delta.
func (p *Position) AddShares(outcome string, delta int64) {
	if outcome == "YES" {
		p.YesShareMicros += delta
		return
	}
	p.NoShareMicros += delta
}
