// Package locking takes the row locks of a settlement transaction in one
// global order: Market, then Account, then Position. Inside a tier keys
// must ascend. Any two transactions that lock through a Sequence therefore
// acquire overlapping rows in the same order and cannot deadlock.
package locking

import (
	"sort"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"socialpredict-amm/models"
)

// ErrLockOrder is returned when a lock would be taken out of order.
var ErrLockOrder = errors.New("lock order violation")

type tier int

const (
	tierNone tier = iota
	tierMarket
	tierAccount
	tierPosition
)

func (t tier) String() string {
	switch t {
	case tierMarket:
		return "market"
	case tierAccount:
		return "account"
	case tierPosition:
		return "position"
	}
	return "none"
}

// Sequence records the last lock taken in a transaction. It is not safe for
// concurrent use; each transaction gets its own.
type Sequence struct {
	tx   *gorm.DB
	tier tier
	last int64
}

// New starts a lock sequence on tx.
func New(tx *gorm.DB) *Sequence {
	return &Sequence{tx: tx}
}

func (s *Sequence) advance(t tier, key int64) error {
	if t < s.tier || (t == s.tier && key <= s.last) {
		return errors.Wrapf(ErrLockOrder, "%s %d after %s %d", t, key, s.tier, s.last)
	}
	s.tier = t
	s.last = key
	return nil
}

func (s *Sequence) forUpdate() *gorm.DB {
	return s.tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Market locks and loads one market. A missing row is reported as
// gorm.ErrRecordNotFound.
func (s *Sequence) Market(id int64) (*models.Market, error) {
	if err := s.advance(tierMarket, id); err != nil {
		return nil, err
	}
	var m models.Market
	if err := s.forUpdate().First(&m, id).Error; err != nil {
		return nil, errors.Wrapf(err, "lock market %d", id)
	}
	return &m, nil
}

// Account locks and loads one account.
func (s *Sequence) Account(id int64) (*models.Account, error) {
	if err := s.advance(tierAccount, id); err != nil {
		return nil, err
	}
	var a models.Account
	if err := s.forUpdate().First(&a, id).Error; err != nil {
		return nil, errors.Wrapf(err, "lock account %d", id)
	}
	return &a, nil
}

// Accounts locks several accounts in ascending id order. Missing ids are
// skipped; the result is sorted by id.
func (s *Sequence) Accounts(ids []int64) ([]models.Account, error) {
	ids = sortedUnique(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.advance(tierAccount, ids[0]); err != nil {
		return nil, err
	}
	s.last = ids[len(ids)-1]

	var accounts []models.Account
	err := s.forUpdate().Where("id IN ?", ids).Order("id").Find(&accounts).Error
	if err != nil {
		return nil, errors.Wrap(err, "lock accounts")
	}
	return accounts, nil
}

// Position locks the holding of accountID in marketID. Positions are keyed
// by account inside the tier. A missing row is reported as
// gorm.ErrRecordNotFound.
func (s *Sequence) Position(accountID, marketID int64) (*models.Position, error) {
	if err := s.advance(tierPosition, accountID); err != nil {
		return nil, err
	}
	var p models.Position
	err := s.forUpdate().
		Where("account_id = ? AND market_id = ?", accountID, marketID).
		First(&p).Error
	if err != nil {
		return nil, errors.Wrapf(err, "lock position %d/%d", accountID, marketID)
	}
	return &p, nil
}

// PositionOrNew locks the holding of accountID in marketID, creating an
// empty one on the account's first trade. The caller must already hold the
// account lock, which keeps two creations for the same account from racing.
func (s *Sequence) PositionOrNew(accountID, marketID int64) (*models.Position, error) {
	p, err := s.Position(accountID, marketID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	p = &models.Position{AccountID: accountID, MarketID: marketID}
	if err := s.tx.Create(p).Error; err != nil {
		return nil, errors.Wrapf(err, "create position %d/%d", accountID, marketID)
	}
	return p, nil
}

// Positions locks the holdings of several accounts in one market, in
// ascending account order.
func (s *Sequence) Positions(marketID int64, accountIDs []int64) ([]models.Position, error) {
	accountIDs = sortedUnique(accountIDs)
	if len(accountIDs) == 0 {
		return nil, nil
	}
	if err := s.advance(tierPosition, accountIDs[0]); err != nil {
		return nil, err
	}
	s.last = accountIDs[len(accountIDs)-1]

	var positions []models.Position
	err := s.forUpdate().
		Where("market_id = ? AND account_id IN ?", marketID, accountIDs).
		Order("account_id").
		Find(&positions).Error
	if err != nil {
		return nil, errors.Wrapf(err, "lock positions of market %d", marketID)
	}
	return positions, nil
}

func sortedUnique(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
