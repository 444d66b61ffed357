package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestPaid    RequestStatus = "paid"
	RequestExpired RequestStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestPaid || s == RequestExpired
}

type PaymentRequest struct {
	ID        string          `json:"id"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Status    RequestStatus   `json:"status"`
	// TransferReference is set once the request has been paid.
	TransferReference string     `json:"transfer_reference,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// IsStale reports whether a pending request has passed its expiry at now.
func (r *PaymentRequest) IsStale(now time.Time) bool {
	return r.Status == RequestPending && !now.Before(r.ExpiresAt)
}

// CheckPayable returns the idempotency guard that applies to the request
// at now, or nil when it can still be paid.
func (r *PaymentRequest) CheckPayable(now time.Time) error {
	switch r.Status {
	case RequestPaid:
		return New(CodeAlreadyPaid, "payment request "+r.ID+" already paid")
	case RequestExpired:
		return New(CodeExpired, "payment request "+r.ID+" expired")
	}
	if r.IsStale(now) {
		return New(CodeExpired, "payment request "+r.ID+" expired")
	}
	return nil
}

// MarshalJSON renders amounts with two decimal places.
func (r PaymentRequest) MarshalJSON() ([]byte, error) {
	type plain PaymentRequest
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(r), FormatAmount(r.Amount)})
}
