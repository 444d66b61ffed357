package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zarpay/paycore/internal/domain"
)

// jsonStatement is the batch file pushed by settlement partners.
type jsonStatement struct {
	BatchID        string             `json:"batch_id"`
	SettlementDate string             `json:"settlement_date"`
	Records        []jsonStatementRow `json:"records"`
}

type jsonStatementRow struct {
	Ref       string      `json:"ref"`
	BankRef   string      `json:"bank_ref"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	Reason    string      `json:"reason"`
	SettledAt string      `json:"settled_at"`
}

// ParseJSON parses a JSON batch statement. Rows without their own
// settled_at inherit the batch settlement date.
func ParseJSON(data []byte, source, reportID string) ([]domain.SettlementRecord, string, error) {
	var file jsonStatement
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("unmarshal: %w", err)
	}

	var records []domain.SettlementRecord
	for i, row := range file.Records {
		settledAt := row.SettledAt
		if strings.TrimSpace(settledAt) == "" {
			settledAt = file.SettlementDate
		}
		rec, err := statementLine{
			Reference:     row.Ref,
			BankReference: row.BankRef,
			SettledAt:     settledAt,
			Amount:        row.Amount.String(),
			Currency:      row.Currency,
			Status:        row.Status,
			BatchID:       file.BatchID,
			Reason:        row.Reason,
		}.record(source, reportID)
		if err != nil {
			return nil, "", fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}

	return records, file.BatchID, nil
}

func parseSettleDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOutcome(s string) (domain.SettlementOutcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "settled", "success", "paid":
		return domain.OutcomeSettled, nil
	case "rejected", "failed", "returned":
		return domain.OutcomeRejected, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}
