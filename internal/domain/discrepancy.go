package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscrepancyType string

const (
	DiscrepancyMissingSettlement DiscrepancyType = "MISSING_SETTLEMENT"
	DiscrepancyAmountMismatch    DiscrepancyType = "AMOUNT_MISMATCH"
	DiscrepancyOrphaned          DiscrepancyType = "ORPHANED_SETTLEMENT"
	DiscrepancyStatusConflict    DiscrepancyType = "STATUS_CONFLICT"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Discrepancy is a difference between the conversions we recorded and what
// the bank reported. Amounts are in the statement currency; DifferenceUSD
// is used to rank impact across currencies.
type Discrepancy struct {
	ID                string          `json:"id"`
	Type              DiscrepancyType `json:"type"`
	FiatTransactionID string          `json:"fiat_transaction_id,omitempty"`
	SettlementID      string          `json:"settlement_id,omitempty"`
	Source            string          `json:"source"`
	Expected          decimal.Decimal `json:"expected"`
	Actual            decimal.Decimal `json:"actual"`
	Difference        decimal.Decimal `json:"difference"`
	DifferenceUSD     decimal.Decimal `json:"difference_usd"`
	Currency          string          `json:"currency"`
	Severity          Severity        `json:"severity"`
	Description       string          `json:"description"`
	DetectedAt        time.Time       `json:"detected_at"`
}
