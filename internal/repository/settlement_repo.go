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

const reportColumns = `id, source, format, batch_id, file_hash, record_count, ingested_at`

const recordColumns = `id, report_id, source, fiat_transaction_id, bank_reference, amount,
	currency, outcome, reason, settled_at, batch_id, matched`

type SettlementRepo struct {
	db *sql.DB
}

func NewSettlementRepo(db *sql.DB) *SettlementRepo {
	return &SettlementRepo{db: db}
}

// ReportByHash returns the report previously ingested from a file with the
// given hash, or nil when the file is new.
func (r *SettlementRepo) ReportByHash(ctx context.Context, hash string) (*domain.SettlementReport, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM settlement_reports WHERE file_hash = ?", hash)
	rpt, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rpt, err
}

// InsertReport stores a statement and its records in one transaction.
// Records already known under the same id are skipped; the count of new
// records is returned.
func (r *SettlementRepo) InsertReport(ctx context.Context, rpt *domain.SettlementReport, records []domain.SettlementRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO settlement_reports (`+reportColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rpt.ID, rpt.Source, string(rpt.Format), rpt.BatchID, rpt.FileHash, rpt.RecordCount,
		formatTime(rpt.IngestedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO settlement_records (`+recordColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range records {
		rec := &records[i]
		res, err := stmt.ExecContext(ctx,
			rec.ID, rec.ReportID, rec.Source, rec.FiatTransactionID, rec.BankReference, rec.Amount,
			rec.Currency, string(rec.Outcome), rec.Reason, formatTime(rec.SettledAt), rec.BatchID,
			boolToInt(rec.Matched),
		)
		if err != nil {
			return 0, fmt.Errorf("insert record %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ListReports returns ingested statements newest first.
func (r *SettlementRepo) ListReports(ctx context.Context) ([]domain.SettlementReport, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM settlement_reports ORDER BY ingested_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	reports := []domain.SettlementReport{}
	for rows.Next() {
		rpt, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		reports = append(reports, *rpt)
	}
	return reports, rows.Err()
}

// MarkMatched flags a record as matched to the conversion it references.
func (r *SettlementRepo) MarkMatched(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE settlement_records SET matched = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark matched: %w", err)
	}
	return nil
}

type RecordFilter struct {
	ReportID          string
	FiatTransactionID string
	Matched           *bool
	From              *time.Time
	To                *time.Time
}

// ListRecords returns statement lines matching f ordered by settlement time.
func (r *SettlementRepo) ListRecords(ctx context.Context, f RecordFilter) ([]domain.SettlementRecord, error) {
	where, args := buildRecordWhere(f)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM settlement_records"+where+" ORDER BY settled_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	records := []domain.SettlementRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// --- helpers ---

func buildRecordWhere(f RecordFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.ReportID != "" {
		clauses = append(clauses, "report_id = ?")
		args = append(args, f.ReportID)
	}
	if f.FiatTransactionID != "" {
		clauses = append(clauses, "fiat_transaction_id = ?")
		args = append(args, f.FiatTransactionID)
	}
	if f.Matched != nil {
		clauses = append(clauses, "matched = ?")
		args = append(args, boolToInt(*f.Matched))
	}
	if f.From != nil {
		clauses = append(clauses, "settled_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "settled_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanReport(s scanner) (*domain.SettlementReport, error) {
	var rpt domain.SettlementReport
	var format, ingestedAt string
	err := s.Scan(&rpt.ID, &rpt.Source, &format, &rpt.BatchID, &rpt.FileHash, &rpt.RecordCount, &ingestedAt)
	if err != nil {
		return nil, err
	}
	rpt.Format = domain.StatementFormat(format)
	if rpt.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return nil, err
	}
	return &rpt, nil
}

func scanRecord(s scanner) (*domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	var outcome, settledAt string
	var matched int
	err := s.Scan(
		&rec.ID, &rec.ReportID, &rec.Source, &rec.FiatTransactionID, &rec.BankReference, &rec.Amount,
		&rec.Currency, &outcome, &rec.Reason, &settledAt, &rec.BatchID, &matched,
	)
	if err != nil {
		return nil, err
	}
	rec.Outcome = domain.SettlementOutcome(outcome)
	rec.Matched = matched == 1
	if rec.SettledAt, err = parseTime(settledAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
