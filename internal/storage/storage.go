// Package storage defines the run history interface and its implementations.
package storage

import (
	"context"
	"errors"

	"wikitool/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	SaveNamespaceCounts(ctx context.Context, runID string, rows []model.RankedNamespace) error
	ListNamespaceCounts(ctx context.Context, runID string) ([]model.RankedNamespace, error)
	SaveUserStats(ctx context.Context, runID string, rows []model.RankedUser) error
	ListUserStats(ctx context.Context, runID string) ([]model.RankedUser, error)

	Close() error
}
