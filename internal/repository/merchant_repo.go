package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zarpay/paycore/internal/domain"
)

const merchantColumns = `id, type, amount, customer_address, customer_name, product_name,
	timestamp, status, tx_hash, note, original_id`

type MerchantRepo struct {
	db *sql.DB
}

func NewMerchantRepo(db *sql.DB) *MerchantRepo {
	return &MerchantRepo{db: db}
}

func (r *MerchantRepo) Insert(ctx context.Context, tx *domain.MerchantTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchant_transactions (`+merchantColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, string(tx.Type), tx.Amount, tx.CustomerAddress, tx.CustomerName,
		tx.ProductName, formatTime(tx.Timestamp), string(tx.Status), tx.TxHash, tx.Note,
		tx.OriginalID,
	)
	if err != nil {
		return fmt.Errorf("insert merchant transaction: %w", err)
	}
	return nil
}

func (r *MerchantRepo) GetByID(ctx context.Context, id string) (*domain.MerchantTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+merchantColumns+" FROM merchant_transactions WHERE id = ?", id)
	tx, err := scanMerchantTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("merchant transaction", id)
	}
	return tx, err
}

type MerchantFilter struct {
	Type       domain.MerchantTxType
	OriginalID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// List returns transactions newest first. A zero Limit means no limit.
func (r *MerchantRepo) List(ctx context.Context, f MerchantFilter) ([]domain.MerchantTransaction, error) {
	where, args := buildMerchantWhere(f)
	query := "SELECT " + merchantColumns + " FROM merchant_transactions" + where +
		" ORDER BY timestamp DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	txns := []domain.MerchantTransaction{}
	for rows.Next() {
		tx, err := scanMerchantTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *tx)
	}
	return txns, rows.Err()
}

func buildMerchantWhere(f MerchantFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.OriginalID != "" {
		clauses = append(clauses, "original_id = ?")
		args = append(args, f.OriginalID)
	}
	if f.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanMerchantTx(s scanner) (*domain.MerchantTransaction, error) {
	var tx domain.MerchantTransaction
	var typ, status, ts string

	err := s.Scan(
		&tx.ID, &typ, &tx.Amount, &tx.CustomerAddress, &tx.CustomerName, &tx.ProductName,
		&ts, &status, &tx.TxHash, &tx.Note, &tx.OriginalID,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.MerchantTxType(typ)
	tx.Status = domain.MerchantTxStatus(status)
	if tx.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &tx, nil
}
