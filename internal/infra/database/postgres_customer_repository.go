package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gym_subscription_notifier/internal/domain/customer"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
)

var ErrCustomerNotFound = fmt.Errorf("customer not found")

const customerColumns = `id, first_name, last_name, sex, phone_number, email, birthdate,
	occupation, fitness_level, health_problems, injuries, medication, fitness_goal, other,
	last_payment_date, subscription_end_date, notified, notify_attempts, last_notify_error,
	created_at, updated_at`

type PostgresCustomerRepository struct {
	db *sqlx.DB
}

func NewPostgresCustomerRepository(db *sqlx.DB) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{db: db}
}

var _ customer.Repository = (*PostgresCustomerRepository)(nil)

// Create assigns a ULID and inserts the customer with the notifier columns cleared.
func (r *PostgresCustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	c.ID = ulid.Make().String()
	c.Notified = false
	c.NotifyAttempts = 0
	c.LastNotifyError = sql.NullString{}

	query := `INSERT INTO customers (id, first_name, last_name, sex, phone_number, email, birthdate,
               occupation, fitness_level, health_problems, injuries, medication, fitness_goal, other,
               last_payment_date, subscription_end_date)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
               RETURNING created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		c.ID, c.FirstName, c.LastName, c.Sex, c.PhoneNumber, c.Email, c.Birthdate,
		c.Occupation, c.FitnessLevel, c.HealthProblems, c.Injuries, c.Medication, c.FitnessGoal, c.Other,
		c.LastPaymentDate, c.SubscriptionEndDate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating customer: %w", err)
	}
	return nil
}

func (r *PostgresCustomerRepository) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	c := &customer.Customer{}
	err := r.db.GetContext(ctx, c, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("error getting customer by ID: %w", err)
	}
	return c, nil
}

// Update stores the profile and both dates. Moving the subscription end date
// re-arms the notifier; otherwise the notifier columns keep their values.
func (r *PostgresCustomerRepository) Update(ctx context.Context, c *customer.Customer) error {
	query := `UPDATE customers
               SET first_name = $2, last_name = $3, sex = $4, phone_number = $5, email = $6, birthdate = $7,
                   occupation = $8, fitness_level = $9, health_problems = $10, injuries = $11,
                   medication = $12, fitness_goal = $13, other = $14,
                   last_payment_date = $15,
                   notified = CASE WHEN subscription_end_date IS DISTINCT FROM $16 THEN FALSE ELSE notified END,
                   notify_attempts = CASE WHEN subscription_end_date IS DISTINCT FROM $16 THEN 0 ELSE notify_attempts END,
                   last_notify_error = CASE WHEN subscription_end_date IS DISTINCT FROM $16 THEN NULL ELSE last_notify_error END,
                   subscription_end_date = $16,
                   updated_at = NOW()
               WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query,
		c.ID, c.FirstName, c.LastName, c.Sex, c.PhoneNumber, c.Email, c.Birthdate,
		c.Occupation, c.FitnessLevel, c.HealthProblems, c.Injuries, c.Medication, c.FitnessGoal, c.Other,
		c.LastPaymentDate, c.SubscriptionEndDate,
	)
	if err != nil {
		return fmt.Errorf("error updating customer: %w", err)
	}
	return expectOneRow(result, ErrCustomerNotFound)
}

func (r *PostgresCustomerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting customer: %w", err)
	}
	return expectOneRow(result, ErrCustomerNotFound)
}

func (r *PostgresCustomerRepository) ListAll(ctx context.Context) ([]*customer.Customer, error) {
	var customers []*customer.Customer
	err := r.db.SelectContext(ctx, &customers, `SELECT `+customerColumns+` FROM customers ORDER BY lower(first_name), id`)
	if err != nil {
		return nil, fmt.Errorf("error listing customers: %w", err)
	}
	return customers, nil
}

func (r *PostgresCustomerRepository) RecordPayment(ctx context.Context, id string, paidAt, endDate time.Time) error {
	query := `UPDATE customers
               SET last_payment_date = $2, subscription_end_date = $3,
                   notified = FALSE, notify_attempts = 0, last_notify_error = NULL, updated_at = NOW()
               WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, paidAt, endDate)
	if err != nil {
		return fmt.Errorf("error recording payment: %w", err)
	}
	return expectOneRow(result, ErrCustomerNotFound)
}

func (r *PostgresCustomerRepository) ListDueForNotification(ctx context.Context, now time.Time, maxAttempts int) ([]*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
               WHERE subscription_end_date <= $1 AND notified = FALSE`
	args := []any{now}
	if maxAttempts > 0 {
		query += ` AND notify_attempts < $2`
		args = append(args, maxAttempts)
	}
	query += ` ORDER BY subscription_end_date, id`

	var customers []*customer.Customer
	if err := r.db.SelectContext(ctx, &customers, query, args...); err != nil {
		return nil, fmt.Errorf("error listing customers due for notification: %w", err)
	}
	return customers, nil
}

func (r *PostgresCustomerRepository) CountDeadLettered(ctx context.Context, now time.Time, maxAttempts int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM customers
               WHERE subscription_end_date <= $1 AND notified = FALSE AND notify_attempts >= $2`
	if err := r.db.GetContext(ctx, &n, query, now, maxAttempts); err != nil {
		return 0, fmt.Errorf("error counting dead-lettered customers: %w", err)
	}
	return n, nil
}

// MarkNotified sets only the notified flag, guarded by the end date the notifier selected.
func (r *PostgresCustomerRepository) MarkNotified(ctx context.Context, id string, expiredAt time.Time) error {
	query := `UPDATE customers SET notified = TRUE, updated_at = NOW()
               WHERE id = $1 AND subscription_end_date = $2`
	result, err := r.db.ExecContext(ctx, query, id, expiredAt)
	if err != nil {
		return fmt.Errorf("error marking customer as notified: %w", err)
	}
	return r.guardedWriteResult(ctx, result, id)
}

func (r *PostgresCustomerRepository) RecordNotifyFailure(ctx context.Context, id string, expiredAt time.Time, reason string) error {
	query := `UPDATE customers
               SET notify_attempts = notify_attempts + 1, last_notify_error = $3, updated_at = NOW()
               WHERE id = $1 AND subscription_end_date = $2 AND notified = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, expiredAt, reason)
	if err != nil {
		return fmt.Errorf("error recording notification failure: %w", err)
	}
	return r.guardedWriteResult(ctx, result, id)
}

// guardedWriteResult tells a deleted customer apart from one whose subscription moved.
func (r *PostgresCustomerRepository) guardedWriteResult(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("error checking customer existence: %w", err)
	}
	if !exists {
		return ErrCustomerNotFound
	}
	return customer.ErrSubscriptionChanged
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
