package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementFormat names a supported bank settlement statement layout.
type StatementFormat string

const (
	FormatCSV  StatementFormat = "csv"
	FormatPSV  StatementFormat = "psv"
	FormatJSON StatementFormat = "json"
)

// SettlementOutcome is what the bank reports for one conversion.
type SettlementOutcome string

const (
	OutcomeSettled  SettlementOutcome = "settled"
	OutcomeRejected SettlementOutcome = "rejected"
)

// SettlementReport is one ingested bank statement file.
type SettlementReport struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Format      StatementFormat `json:"format"`
	BatchID     string          `json:"batch_id"`
	FileHash    string          `json:"file_hash"`
	RecordCount int             `json:"record_count"`
	IngestedAt  time.Time       `json:"ingested_at"`
}

// SettlementRecord is one statement line. FiatTransactionID is the
// reference the bank echoed back, which is not guaranteed to exist.
type SettlementRecord struct {
	ID                string            `json:"id"`
	ReportID          string            `json:"report_id"`
	Source            string            `json:"source"`
	FiatTransactionID string            `json:"fiat_transaction_id"`
	BankReference     string            `json:"bank_reference"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Outcome           SettlementOutcome `json:"outcome"`
	Reason            string            `json:"reason,omitempty"`
	SettledAt         time.Time         `json:"settled_at"`
	BatchID           string            `json:"batch_id"`
	Matched           bool              `json:"matched"`
}
