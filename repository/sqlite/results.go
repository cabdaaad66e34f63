package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/repository"
)

type Repository struct {
	db         *sql.DB
	config     DBConfig
	statements PreparedStatements
}

var _ repository.ResultRepository = (*Repository)(nil)

// Open creates or opens the checkpoint database at path.
func Open(ctx context.Context, path string) (*Repository, error) {
	config := DefaultDBConfig()
	db, err := InitDB(path, config)
	if err != nil {
		return nil, err
	}
	repo, err := NewRepository(ctx, db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func NewRepository(ctx context.Context, db *sql.DB, config DBConfig) (*Repository, error) {
	r := &Repository{db: db, config: config}
	if err := r.statements.Prepare(ctx, db); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	stmtErr := r.statements.Close()
	if err := r.db.Close(); err != nil {
		return err
	}
	return stmtErr
}

func (r *Repository) StartRun(ctx context.Context, runID, manifestPath string, startedAt time.Time) error {
	const op = "SQLiteRepository.StartRun"

	err := withRetry(ctx, r.config, op, func() error {
		_, err := r.statements.insertRun.ExecContext(ctx, runID, manifestPath, startedAt.UTC())
		return err
	})
	if err != nil {
		return errors.Internal(op, err, "failed to record run")
	}
	return nil
}

func (r *Repository) FinishRun(ctx context.Context, runID string, finishedAt time.Time) error {
	const op = "SQLiteRepository.FinishRun"

	err := withRetry(ctx, r.config, op, func() error {
		_, err := r.statements.finishRun.ExecContext(ctx, finishedAt.UTC(), runID)
		return err
	})
	if err != nil {
		return errors.Internal(op, err, "failed to finish run")
	}
	return nil
}

func (r *Repository) SaveResult(ctx context.Context, runID string, result models.Result) error {
	const op = "SQLiteRepository.SaveResult"

	err := withRetry(ctx, r.config, op, func() error {
		_, err := r.statements.saveResult.ExecContext(ctx,
			runID,
			result.EntryID,
			string(result.Backend),
			result.Success,
			result.Payload,
			result.Error,
			result.ErrorKind,
			result.Model,
			result.StartedAt.UTC(),
			result.DurationMS,
		)
		return err
	})
	if err != nil {
		return errors.Internal(op, err, "failed to save result")
	}
	return nil
}

func (r *Repository) FindResult(ctx context.Context, runID, entryID string, backend models.Backend) (*models.Result, error) {
	const op = "SQLiteRepository.FindResult"

	row := r.statements.getResult.QueryRowContext(ctx, runID, entryID, string(backend))
	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "result not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "failed to query result")
	}
	return result, nil
}

func (r *Repository) ListResults(ctx context.Context, runID string) ([]models.Result, error) {
	const op = "SQLiteRepository.ListResults"

	rows, err := r.statements.listResults.QueryContext(ctx, runID)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to list results")
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, errors.Internal(op, err, "failed to scan result")
		}
		results = append(results, *result)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal(op, err, "failed to iterate results")
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(s scanner) (*models.Result, error) {
	result := &models.Result{}
	var backend string

	err := s.Scan(
		&result.EntryID,
		&backend,
		&result.Success,
		&result.Payload,
		&result.Error,
		&result.ErrorKind,
		&result.Model,
		&result.StartedAt,
		&result.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	result.Backend = models.Backend(backend)
	return result, nil
}
