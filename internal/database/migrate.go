package database

import (
	"fmt"

	"github.com/urban-engineer/sved/internal/models"
)

// Migrate creates or updates the schema for all sved models. Ordering
// matters: referenced tables must exist before the tables that declare
// foreign keys against them.
func (db *DB) Migrate() error {
	err := db.DB.AutoMigrate(
		&models.File{},
		&models.Profile{},
		&models.EncodeTask{},
		&models.MetricTask{},
		&models.Frame{},
		&models.PooledPSNR{},
		&models.PooledMSSSIM{},
		&models.PooledVMAF{},
	)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	db.logger.Info("database migrations complete")
	return nil
}
