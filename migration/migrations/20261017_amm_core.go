package migrations

import (
	"log"

	"gorm.io/gorm"

	"socialpredict-amm/migration"
	"socialpredict-amm/models"
)

func init() {
	if err := migration.Register("20261017_amm_core", Migration20261017AMMCore); err != nil {
		log.Fatalf("Failed to register migration 20261017_amm_core: %v", err)
	}
}

// Migration20261017AMMCore creates the market, account, position, trade and
// ledger tables.
func Migration20261017AMMCore(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Market{},
		&models.Account{},
		&models.Position{},
		&models.Trade{},
		&models.LedgerEntry{},
	)
}

// Rollback20261017AMMCore drops the tables in reverse dependency order.
func Rollback20261017AMMCore(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&models.LedgerEntry{},
		&models.Trade{},
		&models.Position{},
		&models.Account{},
		&models.Market{},
	)
}
