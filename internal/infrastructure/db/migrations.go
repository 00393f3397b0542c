package db

import (
	"gorm.io/gorm"

	"github.com/pipedash/backend/internal/domain"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Run{},
		&domain.LogEntry{},
	)
	if err != nil {
		return err
	}

	// Log entries are always read in order for one run.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_log_entries_run_seq
		ON log_entries (run_id, seq)
	`).Error; err != nil {
		return err
	}

	return nil
}
