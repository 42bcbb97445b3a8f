package models

import (
	"time"
)

// Account holds a participant's credit balance. BalanceMicros is only ever
// changed by applying a LedgerEntry, so the sum of an account's entries is
// always equal to it.
type Account struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	Username      string    `json:"username" gorm:"unique;not null;size:50"`
	BalanceMicros int64     `json:"balanceMicros" gorm:"not null;default:0"`
	IsActive      bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}
