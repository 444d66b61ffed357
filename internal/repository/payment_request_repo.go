package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zarpay/paycore/internal/domain"
)

const paymentRequestColumns = `id, recipient, amount, note, created_at, expires_at,
	status, transfer_reference, paid_at`

type PaymentRequestRepo struct {
	db *sql.DB
}

func NewPaymentRequestRepo(db *sql.DB) *PaymentRequestRepo {
	return &PaymentRequestRepo{db: db}
}

func (r *PaymentRequestRepo) Insert(ctx context.Context, req *domain.PaymentRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_requests (`+paymentRequestColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Recipient, req.Amount, req.Note,
		formatTime(req.CreatedAt), formatTime(req.ExpiresAt), string(req.Status),
		req.TransferReference, formatNullableTime(req.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

// InsertIfAbsent stores req unless a request with the same id exists. It
// reports whether a row was written.
func (r *PaymentRequestRepo) InsertIfAbsent(ctx context.Context, req *domain.PaymentRequest) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payment_requests (`+paymentRequestColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Recipient, req.Amount, req.Note,
		formatTime(req.CreatedAt), formatTime(req.ExpiresAt), string(req.Status),
		req.TransferReference, formatNullableTime(req.PaidAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert payment request: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

func (r *PaymentRequestRepo) GetByID(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+paymentRequestColumns+" FROM payment_requests WHERE id = ?", id)
	req, err := scanPaymentRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("payment request", id)
	}
	return req, err
}

// List returns requests newest first, optionally filtered by status.
func (r *PaymentRequestRepo) List(ctx context.Context, status domain.RequestStatus) ([]domain.PaymentRequest, error) {
	query := "SELECT " + paymentRequestColumns + " FROM payment_requests"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	return r.query(ctx, query, args...)
}

// ListStale returns pending requests whose expiry is at or before now.
func (r *PaymentRequestRepo) ListStale(ctx context.Context, now time.Time) ([]domain.PaymentRequest, error) {
	return r.query(ctx,
		"SELECT "+paymentRequestColumns+` FROM payment_requests
		WHERE status = 'pending' AND expires_at <= ? ORDER BY expires_at`,
		formatTime(now),
	)
}

// MarkPaid moves a pending request to paid. It reports false when the
// request was no longer pending.
func (r *PaymentRequestRepo) MarkPaid(ctx context.Context, id, reference string, paidAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_requests SET status = 'paid', transfer_reference = ?, paid_at = ?
		WHERE id = ? AND status = 'pending'`,
		reference, formatTime(paidAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

// MarkExpired moves a pending request to expired. It reports false when the
// request was no longer pending.
func (r *PaymentRequestRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE payment_requests SET status = 'expired' WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return false, fmt.Errorf("mark expired: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

func (r *PaymentRequestRepo) query(ctx context.Context, query string, args ...any) ([]domain.PaymentRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	reqs := []domain.PaymentRequest{}
	for rows.Next() {
		req, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanPaymentRequest(s scanner) (*domain.PaymentRequest, error) {
	var req domain.PaymentRequest
	var status, createdAt, expiresAt string
	var paidAt sql.NullString

	err := s.Scan(
		&req.ID, &req.Recipient, &req.Amount, &req.Note, &createdAt, &expiresAt,
		&status, &req.TransferReference, &paidAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = domain.RequestStatus(status)
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if req.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if req.PaidAt, err = parseNullableTime(paidAt); err != nil {
		return nil, err
	}
	return &req, nil
}
