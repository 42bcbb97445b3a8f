// Package ledger owns account balances. A balance only changes by booking a
// LedgerEntry against it, so the sum of an account's entries always equals
// its balance.
package ledger

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"socialpredict-amm/locking"
	"socialpredict-amm/models"
)

var (
	// ErrInsufficientBalance is returned when an entry would take a balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrAccountNotFound = errors.New("account not found")

	ErrInvalidAmount = errors.New("invalid amount")
)

// Entry describes one balance mutation.
type Entry struct {
	Type      models.LedgerEntryType
	Reference string
	Amount    int64 // signed micros
	MarketID  *int64
	TradeID   *int64
}

// Apply books e against acct inside tx. The caller must hold the lock on
// acct. On success acct.BalanceMicros holds the new balance.
func Apply(tx *gorm.DB, acct *models.Account, e Entry) (*models.LedgerEntry, error) {
	if e.Reference == "" {
		return nil, errors.New("ledger entry needs a reference")
	}
	if e.Amount > 0 && acct.BalanceMicros > math.MaxInt64-e.Amount {
		return nil, errors.Wrapf(ErrInvalidAmount, "balance of account %d overflows", acct.ID)
	}
	next := acct.BalanceMicros + e.Amount
	if next < 0 {
		return nil, errors.Wrapf(ErrInsufficientBalance, "account %d holds %s, needs %s",
			acct.ID, models.FormatMicros(acct.BalanceMicros), models.FormatMicros(-e.Amount))
	}

	entry := &models.LedgerEntry{
		AccountID:          acct.ID,
		MarketID:           e.MarketID,
		TradeID:            e.TradeID,
		EntryType:          e.Type,
		Reference:          e.Reference,
		AmountMicros:       e.Amount,
		BalanceAfterMicros: next,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, errors.Wrapf(err, "book %s", e.Reference)
	}
	err := tx.Model(&models.Account{}).
		Where("id = ?", acct.ID).
		Update("balance_micros", next).Error
	if err != nil {
		return nil, errors.Wrapf(err, "update balance of account %d", acct.ID)
	}

	acct.BalanceMicros = next
	return entry, nil
}

// OpenAccount creates an empty account.
func OpenAccount(ctx context.Context, db *gorm.DB, username string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 50 {
		return nil, errors.New("username must be 1-50 characters")
	}
	acct := &models.Account{Username: username, IsActive: true}
	if err := db.WithContext(ctx).Create(acct).Error; err != nil {
		return nil, errors.Wrapf(err, "create account %q", username)
	}
	return acct, nil
}

// Deposit credits amount micros to an account. Deposits are keyed: a second
// deposit with the same key returns the first entry and replayed = true.
func Deposit(ctx context.Context, db *gorm.DB, accountID, amount int64, key string) (entry *models.LedgerEntry, replayed bool, err error) {
	if amount <= 0 {
		return nil, false, errors.Wrapf(ErrInvalidAmount, "deposit must be positive, got %d", amount)
	}
	if strings.TrimSpace(key) == "" {
		return nil, false, errors.New("deposit needs a key")
	}
	ref := models.DepositReference(key)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := locking.New(tx).Account(accountID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrAccountNotFound, "account %d", accountID)
		}
		if err != nil {
			return err
		}

		var existing models.LedgerEntry
		err = tx.Where("reference = ?", ref).Limit(1).Find(&existing).Error
		if err != nil {
			return errors.Wrapf(err, "look up %s", ref)
		}
		if existing.ID != 0 {
			if existing.AccountID != accountID || existing.AmountMicros != amount {
				return errors.Errorf("deposit key %q already used for a different deposit", key)
			}
			entry, replayed = &existing, true
			return nil
		}

		entry, err = Apply(tx, acct, Entry{
			Type:      models.LedgerEntryDeposit,
			Reference: ref,
			Amount:    amount,
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entry, replayed, nil
}

// Report compares an account's balance with the sum of its ledger.
type Report struct {
	AccountID       int64 `json:"accountId"`
	BalanceMicros   int64 `json:"balanceMicros"`
	LedgerSumMicros int64 `json:"ledgerSumMicros"`
	Entries         int64 `json:"entries"`
}

// Balanced reports whether the balance equals the ledger sum.
func (r Report) Balanced() bool {
	return r.BalanceMicros == r.LedgerSumMicros
}

// Reconcile audits one account.
func Reconcile(ctx context.Context, db *gorm.DB, accountID int64) (*Report, error) {
	db = db.WithContext(ctx)

	var acct models.Account
	if err := db.First(&acct, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrAccountNotFound, "account %d", accountID)
		}
		return nil, errors.Wrapf(err, "load account %d", accountID)
	}

	var agg struct {
		Total int64
		Count int64
	}
	err := db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount_micros), 0) AS total, COUNT(*) AS count").
		Where("account_id = ?", accountID).
		Scan(&agg).Error
	if err != nil {
		return nil, errors.Wrapf(err, "sum ledger of account %d", accountID)
	}

	return &Report{
		AccountID:       accountID,
		BalanceMicros:   acct.BalanceMicros,
		LedgerSumMicros: agg.Total,
		Entries:         agg.Count,
	}, nil
}

// ReconcileAll audits every account and returns the ones that do not
// balance.
func ReconcileAll(ctx context.Context, db *gorm.DB) ([]Report, error) {
	var ids []int64
	if err := db.WithContext(ctx).Model(&models.Account{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}

	var bad []Report
	for _, id := range ids {
		r, err := Reconcile(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if !r.Balanced() {
			bad = append(bad, *r)
		}
	}
	return bad, nil
}
