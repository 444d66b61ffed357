package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zarpay/paycore/internal/domain"
)

const fiatColumns = `id, type, zar_amount, fiat_amount, exchange_rate, currency,
	bank_account, status, timestamp, estimated_completion, settlement_reference,
	failure_reason, updated_at`

type FiatRepo struct {
	db *sql.DB
}

func NewFiatRepo(db *sql.DB) *FiatRepo {
	return &FiatRepo{db: db}
}

func (r *FiatRepo) Insert(ctx context.Context, tx *domain.FiatTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fiat_transactions (`+fiatColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, string(tx.Type), tx.ZARAmount, tx.FiatAmount, tx.ExchangeRate, tx.Currency,
		tx.BankAccount, string(tx.Status), formatTime(tx.Timestamp),
		formatTime(tx.EstimatedCompletion), tx.SettlementReference, tx.FailureReason,
		formatTime(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert fiat transaction: %w", err)
	}
	return nil
}

func (r *FiatRepo) GetByID(ctx context.Context, id string) (*domain.FiatTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+fiatColumns+" FROM fiat_transactions WHERE id = ?", id)
	tx, err := scanFiat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("fiat transaction", id)
	}
	return tx, err
}

// List returns the conversion history newest first.
func (r *FiatRepo) List(ctx context.Context) ([]domain.FiatTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+fiatColumns+" FROM fiat_transactions ORDER BY timestamp DESC, id")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	txns := []domain.FiatTransaction{}
	for rows.Next() {
		tx, err := scanFiat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *tx)
	}
	return txns, rows.Err()
}

// StatusUpdate describes a single status transition.
type StatusUpdate struct {
	From      domain.FiatStatus
	To        domain.FiatStatus
	Reference string
	Reason    string
	At        time.Time
}

// CompareAndSetStatus applies u only if the stored status still equals
// u.From. It reports whether the row was updated. An empty reference or
// reason leaves the stored value untouched.
func (r *FiatRepo) CompareAndSetStatus(ctx context.Context, id string, u StatusUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE fiat_transactions SET
			status = ?,
			settlement_reference = CASE WHEN ? = '' THEN settlement_reference ELSE ? END,
			failure_reason = CASE WHEN ? = '' THEN failure_reason ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(u.To), u.Reference, u.Reference, u.Reason, u.Reason,
		formatTime(u.At), id, string(u.From),
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

func scanFiat(s scanner) (*domain.FiatTransaction, error) {
	var tx domain.FiatTransaction
	var typ, status, ts, eta, updatedAt string

	err := s.Scan(
		&tx.ID, &typ, &tx.ZARAmount, &tx.FiatAmount, &tx.ExchangeRate, &tx.Currency,
		&tx.BankAccount, &status, &ts, &eta, &tx.SettlementReference, &tx.FailureReason,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.FiatType(typ)
	tx.Status = domain.FiatStatus(status)
	if tx.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	if tx.EstimatedCompletion, err = parseTime(eta); err != nil {
		return nil, err
	}
	if tx.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &tx, nil
}
