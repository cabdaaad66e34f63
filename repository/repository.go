package repository

import (
	"context"
	"time"

	"github.com/nijaru/yt-analyze/models"
)

// ResultRepository persists per-pair results as a run progresses so an
// interrupted run can be resumed.
type ResultRepository interface {
	StartRun(ctx context.Context, runID, manifestPath string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time) error
	SaveResult(ctx context.Context, runID string, result models.Result) error
	FindResult(ctx context.Context, runID, entryID string, backend models.Backend) (*models.Result, error)
	ListResults(ctx context.Context, runID string) ([]models.Result, error)
	Close() error
}
