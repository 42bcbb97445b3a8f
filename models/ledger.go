package models

import (
	"fmt"
	"time"
)

// LedgerEntryType says what caused a balance mutation.
type LedgerEntryType string

const (
	LedgerEntryTrade   LedgerEntryType = "trade"
	LedgerEntryPayout  LedgerEntryType = "payout"
	LedgerEntryDeposit LedgerEntryType = "deposit"
)

// LedgerEntry is an append-only balance mutation. Reference is unique, so a
// trade, a payout of one market to one account, or a deposit can only ever
// be booked once.
type LedgerEntry struct {
	ID                 int64           `json:"id" gorm:"primaryKey"`
	AccountID          int64           `json:"accountId" gorm:"not null;index"`
	MarketID           *int64          `json:"marketId,omitempty" gorm:"index"`
	TradeID            *int64          `json:"tradeId,omitempty" gorm:"index"`
	EntryType          LedgerEntryType `json:"entryType" gorm:"not null;size:10"`
	Reference          string          `json:"reference" gorm:"not null;size:160;uniqueIndex"`
	AmountMicros       int64           `json:"amountMicros" gorm:"not null"`
	BalanceAfterMicros int64           `json:"balanceAfterMicros" gorm:"not null"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// TradeReference is the ledger reference of the entry booked for a trade.
func TradeReference(tradeID int64) string {
	return fmt.Sprintf("trade:%d", tradeID)
}

// PayoutReference is the ledger reference of the resolution payout of one
// market to one account.
func PayoutReference(marketID, accountID int64) string {
	return fmt.Sprintf("payout:%d:%d", marketID, accountID)
}

// DepositReference is the ledger reference of a caller-keyed deposit.
func DepositReference(key string) string {
	return "deposit:" + key
}
