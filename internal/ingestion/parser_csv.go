package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zarpay/paycore/internal/domain"
)

// statementColumns is the minimum column count of a delimited statement.
const statementColumns = 7

// ParseDelimited parses a delimited bank statement. comma is ',' for CSV
// exports and '|' for pipe-separated ones.
//
// Expected header:
//
//	reference,bank_reference,settle_date,amount,currency,status,batch_id[,reason]
func ParseDelimited(data []byte, comma rune, source, reportID string) ([]domain.SettlementRecord, string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, "", fmt.Errorf("read header: %w", err)
	}
	if len(header) < statementColumns {
		return nil, "", fmt.Errorf("expected %d columns, got %d", statementColumns, len(header))
	}

	var records []domain.SettlementRecord
	var batchID string
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < statementColumns {
			continue
		}

		line := statementLine{
			Reference:     row[0],
			BankReference: row[1],
			SettledAt:     row[2],
			Amount:        row[3],
			Currency:      row[4],
			Status:        row[5],
			BatchID:       row[6],
		}
		if len(row) > statementColumns {
			line.Reason = row[statementColumns]
		}
		rec, err := line.record(source, reportID)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", lineNum, err)
		}
		batchID = rec.BatchID
		records = append(records, rec)
	}

	return records, batchID, nil
}

// statementLine is one raw statement line before validation.
type statementLine struct {
	Reference     string
	BankReference string
	SettledAt     string
	Amount        string
	Currency      string
	Status        string
	BatchID       string
	Reason        string
}

func (l statementLine) record(source, reportID string) (domain.SettlementRecord, error) {
	ref := strings.TrimSpace(l.Reference)
	bankRef := strings.TrimSpace(l.BankReference)
	if ref == "" || bankRef == "" {
		return domain.SettlementRecord{}, errors.New("reference and bank reference are required")
	}

	amount, err := domain.ParseAmount(l.Amount)
	if err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("amount: %w", err)
	}
	settledAt, err := parseSettleDate(strings.TrimSpace(l.SettledAt))
	if err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("date: %w", err)
	}
	outcome, err := parseOutcome(l.Status)
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(l.Currency))
	if code == "" {
		return domain.SettlementRecord{}, errors.New("currency is required")
	}

	return domain.SettlementRecord{
		ID:                recordID(source, ref, bankRef),
		ReportID:          reportID,
		Source:            source,
		FiatTransactionID: ref,
		BankReference:     bankRef,
		Amount:            amount,
		Currency:          code,
		Outcome:           outcome,
		Reason:            strings.TrimSpace(l.Reason),
		SettledAt:         settledAt,
		BatchID:           strings.TrimSpace(l.BatchID),
	}, nil
}
