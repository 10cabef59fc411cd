package database

import (
	"context"
	"errors"
	"fmt"

	"gym_subscription_notifier/internal/domain/notification"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var ErrDuplicateRun = fmt.Errorf("notification run already stored")

const uniqueViolation = "23505"

type PostgresRunRepository struct {
	db *sqlx.DB
}

func NewPostgresRunRepository(db *sqlx.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

var _ notification.Repository = (*PostgresRunRepository)(nil)

func (r *PostgresRunRepository) CreateRun(ctx context.Context, run *notification.Run) error {
	query := `INSERT INTO notification_runs (id, started_at, finished_at, candidates, sent, failed, skipped, error)
               VALUES (:id, :started_at, :finished_at, :candidates, :sent, :failed, :skipped, :error)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateRun
		}
		return fmt.Errorf("error creating notification run: %w", err)
	}
	return nil
}

// ListRecentRuns returns the latest runs, newest first.
func (r *PostgresRunRepository) ListRecentRuns(ctx context.Context, limit int) ([]*notification.Run, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []*notification.Run
	query := `SELECT id, started_at, finished_at, candidates, sent, failed, skipped, error
               FROM notification_runs ORDER BY started_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("error listing notification runs: %w", err)
	}
	return runs, nil
}
