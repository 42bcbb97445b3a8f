package migrations

import (
	"log"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"socialpredict-amm/migration"
)

func init() {
	if err := migration.Register("20261017_settlement_indexes", Migration20261017SettlementIndexes); err != nil {
		log.Fatalf("Failed to register migration 20261017_settlement_indexes: %v", err)
	}
}

// Migration20261017SettlementIndexes adds the indexes behind payout paging
// and ledger reconciliation. The statements are valid on Postgres and SQLite.
func Migration20261017SettlementIndexes(db *gorm.DB) error {
	statements := []string{
		// payout walks a market's positions by id
		"CREATE INDEX IF NOT EXISTS idx_positions_market_id_id ON positions (market_id, id)",
		// reconcile sums one account's entries
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_type ON ledger_entries (account_id, entry_type)",
		"CREATE INDEX IF NOT EXISTS idx_trades_market_created ON trades (market_id, created_at)",
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return errors.Wrapf(err, "exec %q", stmt)
		}
	}
	return nil
}
