package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/domain"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

type logRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLogRepository(db *gorm.DB, log *logger.Logger) ports.LogRepository {
	return &logRepository{
		db:  db,
		log: log,
	}
}

func (r *logRepository) Append(ctx context.Context, entry *domain.LogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Errorw("log_repo_append_failed", "run_id", entry.RunID, "seq", entry.Seq, "error", err)
		return err
	}
	return nil
}

func (r *logRepository) GetByRunID(ctx context.Context, runID string) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("seq asc").
		Find(&entries).Error
	if err != nil {
		r.log.Errorw("log_repo_list_failed", "run_id", runID, "error", err)
		return nil, err
	}
	return entries, nil
}
