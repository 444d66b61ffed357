package report

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/repository"
)

func seedSpending(t *testing.T) *Reporter {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	entry := func(id, recipient, name, amount, note string, status domain.EntryStatus, at time.Time) domain.LedgerEntry {
		return domain.LedgerEntry{ID: id, TargetKind: domain.TargetScheduledPayment, TargetID: "sched_" + id,
			Recipient: recipient, RecipientName: name, Amount: decimal.RequireFromString(amount),
			TransferReference: "0x" + id, Status: status, Note: note, CreatedAt: at}
	}
	entries := []domain.LedgerEntry{
		entry("led_a", "lsk1", "Landlord", "8500", "Rent", domain.EntryCompleted, base.AddDate(0, 0, -2)),
		entry("led_b", "lsk98765", "Coffee Shop", "45", "", domain.EntryCompleted, base.AddDate(0, 0, -1)),
		entry("led_c", "lsk98765", "Coffee Shop", "45.00", "", domain.EntryCompleted, base.Add(-3*time.Hour)),
		entry("led_d", "lsk9", "", "100", "", domain.EntryFailed, base.Add(-time.Hour)),
		entry("led_e", "lsk7", "", "200", "uber home", domain.EntryCompleted, base.AddDate(0, 0, -40)),
	}
	for i := range entries {
		if err := store.Ledger.Insert(context.Background(), &entries[i]); err != nil {
			t.Fatalf("insert entry: %v", err)
		}
	}
	return NewReporter(store.Ledger, store.Merchant, "0.10", "Your Wallet")
}

func TestSpendingMonth(t *testing.T) {
	r := seedSpending(t)

	sp, err := r.Spending(context.Background(), PeriodMonth, base)
	if err != nil {
		t.Fatalf("spending: %v", err)
	}
	if sp.TotalSpent != "8590.00" || sp.TransactionCount != 3 {
		t.Fatalf("unexpected totals %+v", sp)
	}
	if sp.AverageDaily != "286.33" || sp.PreviousTotal != "200.00" || sp.Trend != "+4195.0%" {
		t.Fatalf("unexpected comparison %+v", sp)
	}

	if len(sp.Categories) != 2 {
		t.Fatalf("expected two categories, got %+v", sp.Categories)
	}
	if c := sp.Categories[0]; c.Name != "Housing" || c.Amount != "8500.00" || c.Percentage != 99.0 {
		t.Fatalf("unexpected top category %+v", c)
	}
	if c := sp.Categories[1]; c.Name != "Food & Dining" || c.Amount != "90.00" || c.Count != 2 || c.Percentage != 1.0 {
		t.Fatalf("unexpected second category %+v", c)
	}

	if len(sp.Recipients) != 2 {
		t.Fatalf("expected two recipients, got %+v", sp.Recipients)
	}
	if rc := sp.Recipients[1]; rc.Recipient != "lsk98765" || rc.Name != "Coffee Shop" || rc.Amount != "90.00" || rc.Count != 2 {
		t.Fatalf("unexpected recipient %+v", rc)
	}

	text := FormatSpending(sp)
	for _, want := range []string{
		"# Spending Report - Month",
		"- Total Spent: R8590.00",
		"- Housing: R8500.00 (99.0%)",
		"- Your biggest expense category is Housing",
		"- Consider setting a budget for Housing, over 25% of spending",
		"- Your spending trend is +4195.0% compared to last month",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestSpendingWeekWithoutHistory(t *testing.T) {
	r := seedSpending(t)

	sp, err := r.Spending(context.Background(), PeriodWeek, base)
	if err != nil {
		t.Fatalf("spending: %v", err)
	}
	if sp.TotalSpent != "8590.00" || sp.Trend != "n/a" || sp.AverageDaily != "1227.14" {
		t.Fatalf("unexpected week %+v", sp)
	}

	empty, err := r.Spending(context.Background(), PeriodWeek, base.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("spending: %v", err)
	}
	if empty.TotalSpent != "0.00" || len(empty.Categories) != 0 || len(empty.Recipients) != 0 {
		t.Fatalf("expected empty period, got %+v", empty)
	}
	if !strings.Contains(FormatSpending(empty), "No completed payments in this week") {
		t.Fatalf("unexpected empty report:\n%s", FormatSpending(empty))
	}
}

func TestParsePeriodAndCategorize(t *testing.T) {
	if p, err := ParsePeriod(""); err != nil || p != PeriodMonth {
		t.Fatalf("expected month default, got %s %v", p, err)
	}
	if p, err := ParsePeriod("Year"); err != nil || p.Days() != 365 {
		t.Fatalf("expected year, got %s %v", p, err)
	}
	if _, err := ParsePeriod("decade"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	tests := map[string]string{
		"Uber trip":           "Transport",
		"Mugg & Bean cafe":    "Food & Dining",
		"Checkers store":      "Shopping",
		"Prepaid electricity": "Utilities",
		"Landlord":            "Housing",
		"lsk1":                "Other",
	}
	for in, want := range tests {
		if got := Categorize(in); got != want {
			t.Errorf("Categorize(%q) = %q, want %q", in, got, want)
		}
	}
}
