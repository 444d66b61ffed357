package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zarpay/paycore/internal/domain"
)

const scheduledPaymentColumns = `id, recipient, recipient_name, amount, frequency,
	next_payment_date, last_payment_date, note, created_at, end_date, is_active, state`

type ScheduledPaymentRepo struct {
	db *sql.DB
}

func NewScheduledPaymentRepo(db *sql.DB) *ScheduledPaymentRepo {
	return &ScheduledPaymentRepo{db: db}
}

func (r *ScheduledPaymentRepo) Insert(ctx context.Context, p *domain.ScheduledPayment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduled_payments (`+scheduledPaymentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Recipient, p.RecipientName, p.Amount, string(p.Frequency),
		formatTime(p.NextPaymentDate), formatNullableTime(p.LastPaymentDate), p.Note,
		formatTime(p.CreatedAt), formatNullableTime(p.EndDate), boolToInt(p.IsActive),
		string(p.State),
	)
	if err != nil {
		return fmt.Errorf("insert scheduled payment: %w", err)
	}
	return nil
}

func (r *ScheduledPaymentRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scheduled_payments").Scan(&count)
	return count, err
}

func (r *ScheduledPaymentRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledPayment, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+scheduledPaymentColumns+" FROM scheduled_payments WHERE id = ?", id)
	p, err := scanScheduledPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("scheduled payment", id)
	}
	return p, err
}

// List returns every scheduled payment ordered by next payment date.
func (r *ScheduledPaymentRepo) List(ctx context.Context) ([]domain.ScheduledPayment, error) {
	return r.query(ctx,
		"SELECT "+scheduledPaymentColumns+" FROM scheduled_payments ORDER BY next_payment_date, id")
}

// ListActiveUntil returns active payments whose next date is at or before
// now. End-date filtering is left to the caller.
func (r *ScheduledPaymentRepo) ListActiveUntil(ctx context.Context, now time.Time) ([]domain.ScheduledPayment, error) {
	return r.query(ctx,
		"SELECT "+scheduledPaymentColumns+` FROM scheduled_payments
		WHERE state = 'active' AND is_active = 1 AND next_payment_date <= ?
		ORDER BY next_payment_date, id`,
		formatTime(now),
	)
}

// RecordExecution stores the outcome of an execution. A payment that was
// cancelled while the execution was in flight keeps its cancelled state;
// only the dates are recorded for it.
func (r *ScheduledPaymentRepo) RecordExecution(ctx context.Context, id string, last, next time.Time, finished bool) error {
	state := domain.ScheduleActive
	if finished {
		state = domain.ScheduleCompleted
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_payments SET
			last_payment_date = ?,
			next_payment_date = ?,
			state = CASE WHEN state = 'cancelled' THEN state ELSE ? END,
			is_active = CASE WHEN state = 'cancelled' THEN 0 ELSE ? END
		WHERE id = ?`,
		formatTime(last), formatTime(next), string(state), boolToInt(!finished), id,
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return domain.NotFound("scheduled payment", id)
	}
	return nil
}

// Cancel deactivates an active payment. It reports false when the payment
// was not active.
func (r *ScheduledPaymentRepo) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_payments SET state = 'cancelled', is_active = 0
		WHERE id = ? AND state = 'active'`, id)
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

func (r *ScheduledPaymentRepo) query(ctx context.Context, query string, args ...any) ([]domain.ScheduledPayment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	payments := []domain.ScheduledPayment{}
	for rows.Next() {
		p, err := scanScheduledPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanScheduledPayment(s scanner) (*domain.ScheduledPayment, error) {
	var p domain.ScheduledPayment
	var frequency, nextDate, createdAt, state string
	var lastDate, endDate sql.NullString
	var active int

	err := s.Scan(
		&p.ID, &p.Recipient, &p.RecipientName, &p.Amount, &frequency,
		&nextDate, &lastDate, &p.Note, &createdAt, &endDate, &active, &state,
	)
	if err != nil {
		return nil, err
	}

	p.Frequency = domain.Frequency(frequency)
	p.State = domain.ScheduleState(state)
	p.IsActive = active == 1
	if p.NextPaymentDate, err = parseTime(nextDate); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.LastPaymentDate, err = parseNullableTime(lastDate); err != nil {
		return nil, err
	}
	if p.EndDate, err = parseNullableTime(endDate); err != nil {
		return nil, err
	}
	return &p, nil
}
