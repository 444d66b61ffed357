package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type FiatType string

const (
	FiatBuy  FiatType = "buy"
	FiatSell FiatType = "sell"
)

type FiatStatus string

const (
	FiatPending    FiatStatus = "pending"
	FiatProcessing FiatStatus = "processing"
	FiatCompleted  FiatStatus = "completed"
	FiatFailed     FiatStatus = "failed"
)

// IsTerminal reports whether s is completed or failed.
func (s FiatStatus) IsTerminal() bool {
	return s == FiatCompleted || s == FiatFailed
}

// CanAdvance reports whether s may move to next. Conversions go
// pending -> processing -> completed one stage at a time, and may fail from
// any non-terminal status. Terminal states never transition again.
func (s FiatStatus) CanAdvance(next FiatStatus) bool {
	switch next {
	case FiatProcessing:
		return s == FiatPending
	case FiatCompleted:
		return s == FiatProcessing
	case FiatFailed:
		return s == FiatPending || s == FiatProcessing
	}
	return false
}

type FiatTransaction struct {
	ID         string          `json:"id"`
	Type       FiatType        `json:"type"`
	ZARAmount  decimal.Decimal `json:"zar_amount"`
	FiatAmount decimal.Decimal `json:"fiat_amount"`
	// ExchangeRate is locked at initiation and never recomputed.
	ExchangeRate        decimal.Decimal `json:"exchange_rate"`
	Currency            string          `json:"currency"`
	BankAccount         string          `json:"bank_account,omitempty"`
	Status              FiatStatus      `json:"status"`
	Timestamp           time.Time       `json:"timestamp"`
	EstimatedCompletion time.Time       `json:"estimated_completion"`
	SettlementReference string          `json:"settlement_reference,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// MarshalJSON renders amounts with two decimal places.
func (t FiatTransaction) MarshalJSON() ([]byte, error) {
	type plain FiatTransaction
	return json.Marshal(struct {
		plain
		ZARAmount  string `json:"zar_amount"`
		FiatAmount string `json:"fiat_amount"`
	}{plain(t), FormatAmount(t.ZARAmount), FormatAmount(t.FiatAmount)})
}
