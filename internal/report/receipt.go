package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
)

type Receipt struct {
	ID              string          `json:"id"`
	TransactionHash string          `json:"transaction_hash"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	Recipient       string          `json:"recipient"`
	RecipientName   string          `json:"recipient_name,omitempty"`
	Sender          string          `json:"sender"`
	Timestamp       time.Time       `json:"timestamp"`
	Note            string          `json:"note,omitempty"`
	Status          string          `json:"status"`
}

// Total is the amount plus the network fee.
func (r *Receipt) Total() decimal.Decimal {
	return r.Amount.Add(r.Fee)
}

// ReceiptFor builds the receipt of a completed ledger entry.
func (r *Reporter) ReceiptFor(ctx context.Context, entryID string) (*Receipt, error) {
	e, err := r.ledger.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status != domain.EntryCompleted {
		return nil, domain.Validation("receipts are only issued for completed payments")
	}
	fee, err := decimal.NewFromString(r.fee)
	if err != nil {
		return nil, fmt.Errorf("network fee %q: %w", r.fee, err)
	}
	return &Receipt{
		ID:              "receipt_" + strings.TrimPrefix(e.ID, "led_"),
		TransactionHash: e.TransferReference,
		Amount:          e.Amount,
		Fee:             fee,
		Recipient:       e.Recipient,
		RecipientName:   e.RecipientName,
		Sender:          r.sender,
		Timestamp:       e.CreatedAt,
		Note:            e.Note,
		Status:          string(e.Status),
	}, nil
}

const rule = "───────────────────────────────────"
const border = "═══════════════════════════════════"

// FormatReceipt renders a receipt as plain text.
func FormatReceipt(r *Receipt) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(border)
	line("           ZAR PAY RECEIPT")
	line(border)
	line("")
	line("Receipt ID: %s", r.ID)
	line("Transaction Hash: %s", r.TransactionHash)
	line("")
	line("Date: %s", r.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	line("Status: %s", strings.ToUpper(r.Status))
	line("")
	line(rule)
	line("")
	line("FROM: %s", r.Sender)
	line("TO: %s", orDefault(r.RecipientName, r.Recipient))
	line("")
	line("AMOUNT: R%s ZAR", r.Amount.StringFixed(2))
	line("NETWORK FEE: R%s ZAR", r.Fee.StringFixed(2))
	line("TOTAL: R%s ZAR", r.Total().StringFixed(2))
	if r.Note != "" {
		line("")
		line("NOTE: %s", r.Note)
	}
	line("")
	line(rule)
	b.WriteString(border)
	return b.String()
}
