package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/domain"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

type runRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepository(db *gorm.DB, log *logger.Logger) ports.RunRepository {
	return &runRepository{
		db:  db,
		log: log,
	}
}

func (r *runRepository) Create(ctx context.Context, run *domain.Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		r.log.Errorw("run_repo_create_failed", "id", run.ID, "mode", run.Mode, "error", err)
		return err
	}
	r.log.Infow("run_repo_create_ok", "id", run.ID, "mode", run.Mode)
	return nil
}

func (r *runRepository) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		r.log.Errorw("run_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) GetAll(ctx context.Context, limit int) ([]domain.Run, error) {
	var runs []domain.Run
	err := r.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		r.log.Errorw("run_repo_list_failed", "error", err)
		return nil, err
	}
	return runs, nil
}

func (r *runRepository) Update(ctx context.Context, run *domain.Run) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		r.log.Errorw("run_repo_update_failed", "id", run.ID, "error", err)
		return err
	}
	r.log.Infow("run_repo_update_ok", "id", run.ID, "status", run.Status)
	return nil
}
