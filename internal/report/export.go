// Package report renders the ledger for people: CSV transaction exports
// and plain-text receipts.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/repository"
)

// Header is the first line of every export.
const Header = "Date,Type,Amount,Customer,Product,Status,Transaction Hash,Note"

// isoMillis matches the millisecond ISO-8601 form wallets display.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type Reporter struct {
	ledger   *repository.LedgerRepo
	merchant *repository.MerchantRepo
	fee      string
	sender   string
}

// NewReporter builds a reporter. fee is the network fee printed on
// receipts and sender the wallet name shown as the payer.
func NewReporter(ledger *repository.LedgerRepo, merchant *repository.MerchantRepo, fee, sender string) *Reporter {
	return &Reporter{ledger: ledger, merchant: merchant, fee: fee, sender: sender}
}

// Row is one line of the export.
type Row struct {
	Date     time.Time
	Type     string
	Amount   string
	Customer string
	Product  string
	Status   string
	Hash     string
	Note     string
}

// WriteCSV exports ledger entries and merchant transactions whose time
// falls in [from, to] (either bound may be nil) in chronological order.
func (r *Reporter) WriteCSV(ctx context.Context, w io.Writer, from, to *time.Time) error {
	entries, err := r.ledger.List(ctx, repository.EntryFilter{From: from, To: to})
	if err != nil {
		return fmt.Errorf("list ledger entries: %w", err)
	}
	txns, err := r.merchant.List(ctx, repository.MerchantFilter{From: from, To: to})
	if err != nil {
		return fmt.Errorf("list merchant transactions: %w", err)
	}
	return WriteRows(w, BuildRows(entries, txns))
}

// BuildRows merges entries and transactions into rows sorted by date.
func BuildRows(entries []domain.LedgerEntry, txns []domain.MerchantTransaction) []Row {
	rows := make([]Row, 0, len(entries)+len(txns))
	for _, e := range entries {
		rows = append(rows, Row{
			Date:     e.CreatedAt,
			Type:     string(e.TargetKind),
			Amount:   e.Amount.StringFixed(2),
			Customer: orDefault(e.RecipientName, e.Recipient),
			Product:  "N/A",
			Status:   string(e.Status),
			Hash:     e.TransferReference,
			Note:     e.Note,
		})
	}
	for _, tx := range txns {
		rows = append(rows, Row{
			Date:     tx.Timestamp,
			Type:     string(tx.Type),
			Amount:   tx.Amount.StringFixed(2),
			Customer: orDefault(tx.CustomerName, "Unknown"),
			Product:  orDefault(tx.ProductName, "N/A"),
			Status:   string(tx.Status),
			Hash:     tx.TxHash,
			Note:     tx.Note,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

// WriteRows writes the header and rows. Fields are quoted only when they
// need it, except Note which is always quoted.
func WriteRows(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(Header + "\n")
	for _, row := range rows {
		fields := []string{
			row.Date.UTC().Format(isoMillis),
			field(row.Type),
			field(row.Amount),
			field(row.Customer),
			field(row.Product),
			field(row.Status),
			field(row.Hash),
			quote(row.Note),
		}
		bw.WriteString(strings.Join(fields, ",") + "\n")
	}
	return bw.Flush()
}

// --- helpers ---

func field(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") || strings.TrimSpace(s) != s {
		return quote(s)
	}
	return s
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
