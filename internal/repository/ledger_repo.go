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

const ledgerColumns = `id, target_kind, target_id, recipient, recipient_name, amount,
	transfer_reference, status, note, error, created_at`

type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Insert(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, string(e.TargetKind), e.TargetID, e.Recipient, e.RecipientName, e.Amount,
		e.TransferReference, string(e.Status), e.Note, e.Error, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepo) GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+ledgerColumns+" FROM ledger_entries WHERE id = ?", id)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("ledger entry", id)
	}
	return e, err
}

type EntryFilter struct {
	TargetKind domain.TargetKind
	TargetID   string
	Status     domain.EntryStatus
	From       *time.Time
	To         *time.Time
}

// List returns entries matching f in chronological order.
func (r *LedgerRepo) List(ctx context.Context, f EntryFilter) ([]domain.LedgerEntry, error) {
	where, args := buildEntryWhere(f)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+ledgerColumns+" FROM ledger_entries"+where+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func buildEntryWhere(f EntryFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.TargetKind != "" {
		clauses = append(clauses, "target_kind = ?")
		args = append(args, string(f.TargetKind))
	}
	if f.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var kind, status, createdAt string

	err := s.Scan(
		&e.ID, &kind, &e.TargetID, &e.Recipient, &e.RecipientName, &e.Amount,
		&e.TransferReference, &status, &e.Note, &e.Error, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.TargetKind = domain.TargetKind(kind)
	e.Status = domain.EntryStatus(status)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
