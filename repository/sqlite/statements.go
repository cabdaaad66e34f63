package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nijaru/yt-analyze/errors"
)

const (
	insertRunQuery = `
        INSERT INTO runs (id, manifest_path, started_at)
        VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            manifest_path = excluded.manifest_path
    `

	finishRunQuery = `
        UPDATE runs SET finished_at = ? WHERE id = ?
    `

	saveResultQuery = `
        INSERT INTO results (
            run_id, entry_id, backend, success, payload,
            error, error_kind, model, started_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id, entry_id, backend) DO UPDATE SET
            success = excluded.success,
            payload = excluded.payload,
            error = excluded.error,
            error_kind = excluded.error_kind,
            model = excluded.model,
            started_at = excluded.started_at,
            duration_ms = excluded.duration_ms
    `

	getResultQuery = `
        SELECT entry_id, backend, success, payload, error,
               error_kind, model, started_at, duration_ms
        FROM results WHERE run_id = ? AND entry_id = ? AND backend = ?
    `

	listResultsQuery = `
        SELECT entry_id, backend, success, payload, error,
               error_kind, model, started_at, duration_ms
        FROM results WHERE run_id = ?
        ORDER BY rowid
    `
)

type PreparedStatements struct {
	insertRun   *sql.Stmt
	finishRun   *sql.Stmt
	saveResult  *sql.Stmt
	getResult   *sql.Stmt
	listResults *sql.Stmt
}

func (stmts *PreparedStatements) Prepare(ctx context.Context, db *sql.DB) error {
	const op = "PreparedStatements.Prepare"

	queries := []struct {
		dst   **sql.Stmt
		query string
		name  string
	}{
		{&stmts.insertRun, insertRunQuery, "insertRun"},
		{&stmts.finishRun, finishRunQuery, "finishRun"},
		{&stmts.saveResult, saveResultQuery, "saveResult"},
		{&stmts.getResult, getResultQuery, "getResult"},
		{&stmts.listResults, listResultsQuery, "listResults"},
	}

	for _, q := range queries {
		stmt, err := db.PrepareContext(ctx, q.query)
		if err != nil {
			stmts.Close()
			return errors.Internal(op, err, fmt.Sprintf("failed to prepare %s statement", q.name))
		}
		*q.dst = stmt
	}

	return nil
}

func (stmts *PreparedStatements) Close() error {
	var errs []error

	statements := [...]*sql.Stmt{
		stmts.insertRun,
		stmts.finishRun,
		stmts.saveResult,
		stmts.getResult,
		stmts.listResults,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close prepared statements: %v", errs)
	}

	return nil
}
