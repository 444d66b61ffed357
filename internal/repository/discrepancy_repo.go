package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
)

const discrepancyColumns = `id, type, fiat_transaction_id, settlement_id, source, expected,
	actual, difference, difference_usd, currency, severity, description, detected_at`

type DiscrepancyRepo struct {
	db *sql.DB
}

func NewDiscrepancyRepo(db *sql.DB) *DiscrepancyRepo {
	return &DiscrepancyRepo{db: db}
}

// Replace swaps the whole discrepancy set for discs in one transaction, so
// readers never see a half-finished reconciliation run.
func (r *DiscrepancyRepo) Replace(ctx context.Context, discs []domain.Discrepancy) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM discrepancies"); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO discrepancies (`+discrepancyColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range discs {
		d := &discs[i]
		_, err := stmt.ExecContext(ctx,
			d.ID, string(d.Type), d.FiatTransactionID, d.SettlementID, d.Source, d.Expected,
			d.Actual, d.Difference, d.DifferenceUSD, d.Currency, string(d.Severity), d.Description,
			formatTime(d.DetectedAt),
		)
		if err != nil {
			return fmt.Errorf("insert %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type DiscrepancyFilter struct {
	Type              domain.DiscrepancyType
	Severity          domain.Severity
	FiatTransactionID string
	Limit             int
	Offset            int
}

// List returns discrepancies matching f, largest USD impact first, with
// the total count before paging.
func (r *DiscrepancyRepo) List(ctx context.Context, f DiscrepancyFilter) ([]domain.Discrepancy, int, error) {
	where, args := buildDiscrepancyWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM discrepancies"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+discrepancyColumns+" FROM discrepancies"+where+" ORDER BY detected_at DESC, id", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	discs := []domain.Discrepancy{}
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		discs = append(discs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Amounts are stored as text, so the impact order is applied here.
	sortByImpact(discs)
	return page(discs, f.Limit, f.Offset), total, nil
}

type DiscrepancySummary struct {
	TotalCount     int                        `json:"total_count"`
	TotalImpactUSD decimal.Decimal            `json:"total_impact_usd"`
	ByType         map[string]int             `json:"by_type"`
	BySeverity     map[string]int             `json:"by_severity"`
	BySource       map[string]int             `json:"by_source"`
	ImpactBySource map[string]decimal.Decimal `json:"impact_by_source_usd"`
}

func (r *DiscrepancyRepo) Summary(ctx context.Context) (*DiscrepancySummary, error) {
	s := &DiscrepancySummary{
		ByType:         make(map[string]int),
		BySeverity:     make(map[string]int),
		BySource:       make(map[string]int),
		ImpactBySource: make(map[string]decimal.Decimal),
	}

	if err := r.scanGroupCount(ctx, "type", s.ByType); err != nil {
		return nil, err
	}
	if err := r.scanGroupCount(ctx, "severity", s.BySeverity); err != nil {
		return nil, err
	}
	if err := r.scanGroupCount(ctx, "source", s.BySource); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, "SELECT source, difference_usd FROM discrepancies")
	if err != nil {
		return nil, fmt.Errorf("query impact: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var diff decimal.Decimal
		if err := rows.Scan(&source, &diff); err != nil {
			return nil, fmt.Errorf("scan impact: %w", err)
		}
		s.TotalCount++
		s.TotalImpactUSD = s.TotalImpactUSD.Add(diff.Abs())
		s.ImpactBySource[source] = s.ImpactBySource[source].Add(diff.Abs())
	}
	return s, rows.Err()
}

// --- helpers ---

func buildDiscrepancyWhere(f DiscrepancyFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.FiatTransactionID != "" {
		clauses = append(clauses, "fiat_transaction_id = ?")
		args = append(args, f.FiatTransactionID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *DiscrepancyRepo) scanGroupCount(ctx context.Context, col string, m map[string]int) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+col+", COUNT(*) FROM discrepancies GROUP BY "+col,
	)
	if err != nil {
		return fmt.Errorf("group by %s: %w", col, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		m[k] = v
	}
	return rows.Err()
}

func scanDiscrepancy(s scanner) (*domain.Discrepancy, error) {
	var d domain.Discrepancy
	var dtype, sev, detectedAt string
	err := s.Scan(
		&d.ID, &dtype, &d.FiatTransactionID, &d.SettlementID, &d.Source, &d.Expected,
		&d.Actual, &d.Difference, &d.DifferenceUSD, &d.Currency, &sev, &d.Description, &detectedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Type = domain.DiscrepancyType(dtype)
	d.Severity = domain.Severity(sev)
	if d.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func sortByImpact(discs []domain.Discrepancy) {
	sort.SliceStable(discs, func(i, j int) bool {
		return discs[i].DifferenceUSD.Abs().GreaterThan(discs[j].DifferenceUSD.Abs())
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
