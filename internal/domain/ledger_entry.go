package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TargetKind names what a ledger entry settles.
type TargetKind string

const (
	TargetScheduledPayment TargetKind = "scheduled_payment"
	TargetPaymentRequest   TargetKind = "payment_request"
)

type EntryStatus string

const (
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// LedgerEntry records one execution attempt against a payment obligation.
// Other components only hold its ID.
type LedgerEntry struct {
	ID                string          `json:"id"`
	TargetKind        TargetKind      `json:"target_kind"`
	TargetID          string          `json:"target_id"`
	Recipient         string          `json:"recipient"`
	RecipientName     string          `json:"recipient_name,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	TransferReference string          `json:"transfer_reference,omitempty"`
	Status            EntryStatus     `json:"status"`
	Note              string          `json:"note,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// MarshalJSON renders amounts with two decimal places.
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	type plain LedgerEntry
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(e), FormatAmount(e.Amount)})
}
