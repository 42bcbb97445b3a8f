package models

import (
	"time"
)

// TradingMode selects how a market prices trades.
type TradingMode string

const (
	// TradingModeLMSR markets are priced by the automated market maker.
	TradingModeLMSR TradingMode = "lmsr"
	// TradingModeParimutuel markets pool wagers elsewhere and never reach the AMM.
	TradingModeParimutuel TradingMode = "parimutuel"
)

// Market is the catalog entry of a binary market together with its LMSR
// state. QYesMicros, QNoMicros and Version are owned by trade settlement and
// are only written while the row is locked.
type Market struct {
	ID            int64  `json:"id" gorm:"primaryKey"`
	QuestionTitle string `json:"questionTitle" gorm:"not null;size:160"`
	Description   string `json:"description" gorm:"size:2000"`
	YesLabel      string `json:"yesLabel" gorm:"default:YES;size:20"`
	NoLabel       string `json:"noLabel" gorm:"default:NO;size:20"`

	TradingMode TradingMode `json:"tradingMode" gorm:"not null;size:20;default:lmsr"`
	CloseAt     time.Time   `json:"closeAt" gorm:"not null"`

	// LMSR state
	QYesMicros      int64 `json:"qYesMicros" gorm:"not null;default:0"`
	QNoMicros       int64 `json:"qNoMicros" gorm:"not null;default:0"`
	LiquidityMicros int64 `json:"liquidityMicros" gorm:"not null"`
	Version         int64 `json:"version" gorm:"not null;default:0"`

	// Resolution
	IsResolved       bool       `json:"isResolved" gorm:"not null;default:false;index"`
	ResolutionResult string     `json:"resolutionResult" gorm:"size:10"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Market) TableName() string {
	return "markets"
}

// IsClosed reports whether trading has stopped at now.
func (m *Market) IsClosed(now time.Time) bool {
	return !now.Before(m.CloseAt)
}
