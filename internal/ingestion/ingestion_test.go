package ingestion

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/currency"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/fiat"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/reconciliation"
	"github.com/zarpay/paycore/internal/repository"
)

var now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

const csvStatement = `reference,bank_reference,settle_date,amount,currency,status,batch_id,reason
fiat_1,FNB-1,2025-06-01,250.00,zar,settled,B-77,
fiat_2,FNB-2,2025-06-01T09:30:00+02:00,99.50,ZAR,rejected,B-77,account closed
`

func TestParseDelimited(t *testing.T) {
	records, batch, err := ParseDelimited([]byte(csvStatement), ',', "fnb", "rpt_1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if batch != "B-77" || len(records) != 2 {
		t.Fatalf("unexpected batch %q with %d records", batch, len(records))
	}

	first := records[0]
	if first.FiatTransactionID != "fiat_1" || first.Currency != "ZAR" || first.Outcome != domain.OutcomeSettled {
		t.Fatalf("unexpected first record %+v", first)
	}
	if !first.Amount.Equal(decimal.RequireFromString("250")) {
		t.Fatalf("unexpected amount %s", first.Amount)
	}
	second := records[1]
	if second.Outcome != domain.OutcomeRejected || second.Reason != "account closed" {
		t.Fatalf("unexpected second record %+v", second)
	}
	if !second.SettledAt.Equal(time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected settle time %s", second.SettledAt)
	}
	if first.ID == second.ID || !strings.HasPrefix(first.ID, "stl_") {
		t.Fatalf("unexpected record ids %q %q", first.ID, second.ID)
	}

	psv := strings.ReplaceAll(csvStatement, ",", "|")
	piped, _, err := ParseDelimited([]byte(psv), '|', "fnb", "rpt_2")
	if err != nil {
		t.Fatalf("parse psv: %v", err)
	}
	if len(piped) != 2 || piped[0].ID != first.ID {
		t.Fatal("expected the same lines to get the same ids regardless of layout")
	}
}

func TestParseDelimitedErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"short header", "reference,amount\nfiat_1,10\n"},
		{"bad amount", "a,b,c,d,e,f,g\nfiat_1,FNB-1,2025-06-01,ten,ZAR,settled,B\n"},
		{"negative amount", "a,b,c,d,e,f,g\nfiat_1,FNB-1,2025-06-01,-5,ZAR,settled,B\n"},
		{"bad date", "a,b,c,d,e,f,g\nfiat_1,FNB-1,01/06/2025,5,ZAR,settled,B\n"},
		{"bad status", "a,b,c,d,e,f,g\nfiat_1,FNB-1,2025-06-01,5,ZAR,pending,B\n"},
		{"missing reference", "a,b,c,d,e,f,g\n,FNB-1,2025-06-01,5,ZAR,settled,B\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseDelimited([]byte(tt.data), ',', "fnb", "rpt_1"); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	data := `{
		"batch_id": "NB-9",
		"settlement_date": "2025-06-01",
		"records": [
			{"ref": "fiat_1", "bank_ref": "ABSA-1", "amount": 120.5, "currency": "ZAR", "status": "SUCCESS"},
			{"ref": "fiat_2", "bank_ref": "ABSA-2", "amount": "80.00", "currency": "ZAR", "status": "returned",
			 "reason": "invalid account", "settled_at": "2025-06-01T15:00:00Z"}
		]
	}`
	records, batch, err := ParseJSON([]byte(data), "absa", "rpt_1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if batch != "NB-9" || len(records) != 2 {
		t.Fatalf("unexpected batch %q with %d records", batch, len(records))
	}
	if !records[0].SettledAt.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected batch date to be inherited, got %s", records[0].SettledAt)
	}
	if !records[0].Amount.Equal(decimal.RequireFromString("120.5")) || records[1].Outcome != domain.OutcomeRejected {
		t.Fatalf("unexpected records %+v", records)
	}

	if _, _, err := ParseJSON([]byte(`{"records": [{"ref": "x"}]}`), "absa", "rpt_1"); err == nil {
		t.Fatal("expected an error for an incomplete record")
	}
}

type heldSettlement struct{}

func (heldSettlement) Initiate(context.Context, gateway.Instruction) (<-chan gateway.StageEvent, error) {
	return make(chan gateway.StageEvent), nil
}

func newService(t *testing.T) (*Service, *fiat.Machine) {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	log := zaptest.NewLogger(t)
	c := clock.NewFake(now)
	rates := currency.NewTable(c)
	m := fiat.NewMachine(store.Fiat, rates, heldSettlement{}, c, fiat.Config{Currency: "ZAR"}, log)
	t.Cleanup(func() {
		m.Close()
		store.Close()
	})
	recon := reconciliation.NewService(m, store.Settlements, store.Discrepancies, rates, c, 0, log)
	return NewService(store.Settlements, recon, c, log), m
}

func TestIngestStatement(t *testing.T) {
	s, m := newService(t)
	ctx := context.Background()

	tx, err := m.InitiateBuy(ctx, decimal.RequireFromString("250.00"), "FNB-1")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	data := []byte("reference,bank_reference,settle_date,amount,currency,status,batch_id\n" +
		tx.ID + ",FNB-1,2025-06-01,250.00,ZAR,settled,B-1\n")

	res, err := s.IngestStatement(ctx, data, "FNB", domain.FormatCSV)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.AlreadyIngested || res.RecordsIngested != 1 || res.Reconciliation == nil || res.Reconciliation.MatchedCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, err := m.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.FiatCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	again, err := s.IngestStatement(ctx, data, "fnb", domain.FormatCSV)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if !again.AlreadyIngested || again.ReportID != res.ReportID {
		t.Fatalf("expected the same file to be acknowledged, got %+v", again)
	}

	// A different file repeating the same line stores nothing new.
	dup := append([]byte(nil), data...)
	dup = append(dup, '\n')
	res, err = s.IngestStatement(ctx, dup, "fnb", domain.FormatCSV)
	if err != nil {
		t.Fatalf("ingest duplicate line: %v", err)
	}
	if res.RecordsIngested != 0 || res.DuplicatesSkipped != 1 {
		t.Fatalf("unexpected duplicate handling %+v", res)
	}
}

func TestIngestStatementValidation(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	if _, err := s.IngestStatement(ctx, []byte("x"), "", domain.FormatCSV); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing source, got %v", err)
	}
	if _, err := s.IngestStatement(ctx, []byte("x"), "fnb", "xml"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown format, got %v", err)
	}
	if _, err := s.IngestStatement(ctx, []byte("a,b\n"), "fnb", domain.FormatCSV); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for a malformed file, got %v", err)
	}
}
