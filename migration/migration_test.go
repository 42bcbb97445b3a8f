package migration

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

type note struct {
	ID   int64 `gorm:"primaryKey"`
	Body string
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	noop := func(*gorm.DB) error { return nil }
	require.NoError(t, r.Register("001_a", noop))
	assert.Error(t, r.Register("001_a", noop))
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("002_b", nil))
}

func TestRunAppliesInOrderOnce(t *testing.T) {
	db := openDB(t)
	r := NewRegistry()

	var order []string
	require.NoError(t, r.Register("002_seed", func(tx *gorm.DB) error {
		order = append(order, "002_seed")
		return tx.Create(&note{Body: "hello"}).Error
	}))
	require.NoError(t, r.Register("001_notes", func(tx *gorm.DB) error {
		order = append(order, "001_notes")
		return tx.AutoMigrate(&note{})
	}))

	ran, err := r.Run(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_notes", "002_seed"}, ran)
	assert.Equal(t, ran, order)

	ran, err = r.Run(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Empty(t, ran)

	var count int64
	require.NoError(t, db.Model(&note{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunStopsAtFailure(t *testing.T) {
	db := openDB(t)
	r := NewRegistry()
	require.NoError(t, r.Register("001_ok", func(tx *gorm.DB) error { return tx.AutoMigrate(&note{}) }))
	require.NoError(t, r.Register("002_broken", func(*gorm.DB) error { return errors.New("boom") }))
	require.NoError(t, r.Register("003_never", func(*gorm.DB) error { return nil }))

	ran, err := r.Run(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_broken")
	assert.Equal(t, []string{"001_ok"}, ran)

	var names []string
	require.NoError(t, db.Model(&SchemaMigration{}).Order("name").Pluck("name", &names).Error)
	assert.Equal(t, []string{"001_ok"}, names)
}
