package locking

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"socialpredict-amm/database/dbtest"
	"socialpredict-amm/models"
)

func seed(t *testing.T, db *gorm.DB) (models.Market, []models.Account) {
	t.Helper()
	market := models.Market{QuestionTitle: "Will it rain?", LiquidityMicros: 100 * models.Scale, TradingMode: models.TradingModeLMSR}
	require.NoError(t, db.Create(&market).Error)

	accounts := []models.Account{{Username: "alice"}, {Username: "bob"}, {Username: "carol"}}
	require.NoError(t, db.Create(&accounts).Error)
	return market, accounts
}

func TestSequenceInOrder(t *testing.T) {
	db := dbtest.Open(t)
	market, accounts := seed(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		seq := New(tx)
		m, err := seq.Market(market.ID)
		require.NoError(t, err)
		assert.Equal(t, market.QuestionTitle, m.QuestionTitle)

		a, err := seq.Account(accounts[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", a.Username)

		p, err := seq.PositionOrNew(accounts[0].ID, market.ID)
		require.NoError(t, err)
		assert.NotZero(t, p.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestSequenceRejectsRegression(t *testing.T) {
	db := dbtest.Open(t)
	market, accounts := seed(t, db)

	tests := []struct {
		name  string
		locks func(*Sequence) error
	}{
		{"account before market", func(s *Sequence) error {
			if _, err := s.Account(accounts[0].ID); err != nil {
				return err
			}
			_, err := s.Market(market.ID)
			return err
		}},
		{"position before account", func(s *Sequence) error {
			if _, err := s.PositionOrNew(accounts[0].ID, market.ID); err != nil {
				return err
			}
			_, err := s.Account(accounts[1].ID)
			return err
		}},
		{"descending accounts", func(s *Sequence) error {
			if _, err := s.Account(accounts[1].ID); err != nil {
				return err
			}
			_, err := s.Account(accounts[0].ID)
			return err
		}},
		{"same market twice", func(s *Sequence) error {
			if _, err := s.Market(market.ID); err != nil {
				return err
			}
			_, err := s.Market(market.ID)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				return tt.locks(New(tx))
			})
			assert.ErrorIs(t, err, ErrLockOrder)
		})
	}
}

func TestAccountsAndPositionsAscend(t *testing.T) {
	db := dbtest.Open(t)
	market, accounts := seed(t, db)
	ids := []int64{accounts[2].ID, accounts[0].ID, accounts[1].ID, accounts[0].ID}

	err := db.Transaction(func(tx *gorm.DB) error {
		seq := New(tx)
		for _, a := range accounts {
			require.NoError(t, tx.Create(&models.Position{AccountID: a.ID, MarketID: market.ID}).Error)
		}
		if _, err := seq.Market(market.ID); err != nil {
			return err
		}
		locked, err := seq.Accounts(ids)
		if err != nil {
			return err
		}
		require.Len(t, locked, 3)
		assert.Equal(t, accounts[0].ID, locked[0].ID)
		assert.Equal(t, accounts[2].ID, locked[2].ID)

		// The whole account tier is behind us now.
		_, err = seq.Account(accounts[1].ID)
		assert.ErrorIs(t, err, ErrLockOrder)

		positions, err := seq.Positions(market.ID, ids)
		if err != nil {
			return err
		}
		require.Len(t, positions, 3)
		assert.Equal(t, accounts[0].ID, positions[0].AccountID)
		return nil
	})
	require.NoError(t, err)
}

func TestMissingRows(t *testing.T) {
	db := dbtest.Open(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := New(tx).Market(404)
		return err
	})
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := New(tx).Position(1, 404)
		return err
	})
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
