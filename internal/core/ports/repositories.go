package ports

import (
	"context"

	"github.com/pipedash/backend/internal/domain"
)

type RunRepository interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	GetAll(ctx context.Context, limit int) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
}

type LogRepository interface {
	Append(ctx context.Context, entry *domain.LogEntry) error
	GetByRunID(ctx context.Context, runID string) ([]domain.LogEntry, error)
}
