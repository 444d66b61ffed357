// Package reconciliation matches bank settlement statements against fiat
// conversions. A matching statement line drives the conversion to its
// terminal status; everything that does not line up is recorded as a
// discrepancy.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/currency"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/fiat"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/metrics"
	"github.com/zarpay/paycore/internal/repository"
)

// amountTolerance absorbs bank rounding to the cent.
var amountTolerance = decimal.New(1, -2)

// DefaultWindow is how long a conversion may go without a statement line
// before it is reported missing.
const DefaultWindow = 48 * time.Hour

// Result summarises a reconciliation run.
type Result struct {
	MatchedCount        int `json:"matched_count"`
	MissingSettlements  int `json:"missing_settlements"`
	AmountMismatches    int `json:"amount_mismatches"`
	OrphanedSettlements int `json:"orphaned_settlements"`
	StatusConflicts     int `json:"status_conflicts"`
	TotalDiscrepancies  int `json:"total_discrepancies"`
}

type Service struct {
	conversions   *fiat.Machine
	settlements   *repository.SettlementRepo
	discrepancies *repository.DiscrepancyRepo
	rates         *currency.Table
	clock         clock.Clock
	window        time.Duration
	log           *zap.Logger

	mu sync.Mutex
}

func NewService(
	conversions *fiat.Machine,
	settlements *repository.SettlementRepo,
	discrepancies *repository.DiscrepancyRepo,
	rates *currency.Table,
	c clock.Clock,
	window time.Duration,
	log *zap.Logger,
) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		conversions:   conversions,
		settlements:   settlements,
		discrepancies: discrepancies,
		rates:         rates,
		clock:         c,
		window:        window,
		log:           log.Named("reconciliation"),
	}
}

// Run matches new statement lines and recomputes the full discrepancy set
// from scratch, so the stored view is always consistent with the data.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched, err := s.matchSettlements(ctx)
	if err != nil {
		return nil, fmt.Errorf("match settlements: %w", err)
	}

	records, err := s.settlements.ListRecords(ctx, repository.RecordFilter{})
	if err != nil {
		return nil, fmt.Errorf("list settlement records: %w", err)
	}
	txns, err := s.conversions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fiat transactions: %w", err)
	}
	byID := make(map[string]*domain.FiatTransaction, len(txns))
	for i := range txns {
		byID[txns[i].ID] = &txns[i]
	}

	now := s.clock.Now()
	var discs []domain.Discrepancy
	res := &Result{MatchedCount: matched}

	for i := range records {
		rec := &records[i]
		tx, ok := byID[rec.FiatTransactionID]
		if !ok {
			discs = append(discs, s.orphaned(rec, now))
			res.OrphanedSettlements++
			continue
		}
		if d, ok := s.amountMismatch(rec, tx, now); ok {
			discs = append(discs, d)
			res.AmountMismatches++
			continue
		}
		if d, ok := s.statusConflict(rec, tx, now); ok {
			discs = append(discs, d)
			res.StatusConflicts++
		}
	}

	missing := s.detectMissing(txns, records, now)
	res.MissingSettlements = len(missing)
	discs = append(discs, missing...)
	res.TotalDiscrepancies = len(discs)

	if err := s.discrepancies.Replace(ctx, discs); err != nil {
		return nil, fmt.Errorf("store discrepancies: %w", err)
	}
	s.publish(discs)

	s.log.Info("reconciliation finished",
		zap.Int("matched", res.MatchedCount),
		zap.Int("missing", res.MissingSettlements),
		zap.Int("mismatches", res.AmountMismatches),
		zap.Int("orphaned", res.OrphanedSettlements),
		zap.Int("conflicts", res.StatusConflicts),
	)
	return res, nil
}

// matchSettlements links unmatched statement lines to the conversions they
// reference and applies the bank's outcome when the amounts agree.
func (s *Service) matchSettlements(ctx context.Context) (int, error) {
	unmatchedOnly := false
	unmatched, err := s.settlements.ListRecords(ctx, repository.RecordFilter{Matched: &unmatchedOnly})
	if err != nil {
		return 0, fmt.Errorf("get unmatched: %w", err)
	}

	matched := 0
	for i := range unmatched {
		rec := &unmatched[i]
		tx, err := s.conversions.Get(ctx, rec.FiatTransactionID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.log.Warn("lookup failed while matching",
					zap.String("record", rec.ID), zap.Error(err))
			}
			continue
		}
		if err := s.settlements.MarkMatched(ctx, rec.ID); err != nil {
			s.log.Warn("failed to mark record matched", zap.String("record", rec.ID), zap.Error(err))
			continue
		}
		matched++

		if !amountsAgree(rec, tx) {
			continue
		}
		if err := s.applySettlement(ctx, tx, rec); err != nil {
			// A conflicting terminal status is reported as a discrepancy.
			if !errors.Is(err, domain.ErrInvalidTransition) {
				s.log.Warn("failed to apply settlement", zap.String("id", tx.ID), zap.Error(err))
			}
			continue
		}
		s.log.Info("settlement matched",
			zap.String("record", rec.ID),
			zap.String("id", tx.ID),
			zap.String("outcome", string(rec.Outcome)),
		)
	}
	return matched, nil
}

// --- helpers ---

// applySettlement drives tx to the outcome of rec. A settled line for a
// conversion still pending passes through processing first.
func (s *Service) applySettlement(ctx context.Context, tx *domain.FiatTransaction, rec *domain.SettlementRecord) error {
	ev := stageEventFor(rec)
	if ev.Status == domain.FiatCompleted && tx.Status == domain.FiatPending {
		step := gateway.StageEvent{Status: domain.FiatProcessing, Reference: rec.BankReference, At: rec.SettledAt}
		if _, err := s.conversions.ApplyEvent(ctx, tx.ID, step); err != nil {
			return err
		}
	}
	_, err := s.conversions.ApplyEvent(ctx, tx.ID, ev)
	return err
}

func stageEventFor(rec *domain.SettlementRecord) gateway.StageEvent {
	if rec.Outcome == domain.OutcomeSettled {
		return gateway.StageEvent{Status: domain.FiatCompleted, Reference: rec.BankReference, At: rec.SettledAt}
	}
	reason := "rejected by bank"
	if rec.Reason != "" {
		reason += ": " + rec.Reason
	}
	return gateway.StageEvent{Status: domain.FiatFailed, Reference: rec.BankReference, Reason: reason, At: rec.SettledAt}
}

func amountsAgree(rec *domain.SettlementRecord, tx *domain.FiatTransaction) bool {
	return rec.Currency == tx.Currency && rec.Amount.Sub(tx.FiatAmount).Abs().LessThanOrEqual(amountTolerance)
}

func (s *Service) amountMismatch(rec *domain.SettlementRecord, tx *domain.FiatTransaction, now time.Time) (domain.Discrepancy, bool) {
	if amountsAgree(rec, tx) {
		return domain.Discrepancy{}, false
	}
	diff := rec.Amount.Sub(tx.FiatAmount)
	diffUSD := s.toUSD(diff, tx.Currency)

	desc := fmt.Sprintf("Amount mismatch for %s: expected %s %s, bank reported %s %s",
		tx.ID, tx.FiatAmount.StringFixed(2), tx.Currency, rec.Amount.StringFixed(2), rec.Currency)
	sev := mismatchSeverity(diff.Abs().Div(tx.FiatAmount), diffUSD.Abs())
	if rec.Currency != tx.Currency {
		sev = domain.SeverityCritical
	}
	return domain.Discrepancy{
		ID:                "disc_am_" + rec.ID,
		Type:              domain.DiscrepancyAmountMismatch,
		FiatTransactionID: tx.ID,
		SettlementID:      rec.ID,
		Source:            rec.Source,
		Expected:          tx.FiatAmount,
		Actual:            rec.Amount,
		Difference:        diff,
		DifferenceUSD:     diffUSD,
		Currency:          rec.Currency,
		Severity:          sev,
		Description:       desc,
		DetectedAt:        now,
	}, true
}

// statusConflict reports a bank outcome that contradicts the terminal
// status already recorded for the conversion.
func (s *Service) statusConflict(rec *domain.SettlementRecord, tx *domain.FiatTransaction, now time.Time) (domain.Discrepancy, bool) {
	settled := rec.Outcome == domain.OutcomeSettled
	if !(settled && tx.Status == domain.FiatFailed) && !(!settled && tx.Status == domain.FiatCompleted) {
		return domain.Discrepancy{}, false
	}
	return domain.Discrepancy{
		ID:                "disc_sc_" + rec.ID,
		Type:              domain.DiscrepancyStatusConflict,
		FiatTransactionID: tx.ID,
		SettlementID:      rec.ID,
		Source:            rec.Source,
		Expected:          tx.FiatAmount,
		Actual:            rec.Amount,
		Difference:        decimal.Zero,
		DifferenceUSD:     s.toUSD(tx.FiatAmount, tx.Currency),
		Currency:          tx.Currency,
		Severity:          domain.SeverityHigh,
		Description: fmt.Sprintf("Bank reported %s for %s but the conversion is %s",
			rec.Outcome, tx.ID, tx.Status),
		DetectedAt: now,
	}, true
}

func (s *Service) orphaned(rec *domain.SettlementRecord, now time.Time) domain.Discrepancy {
	return domain.Discrepancy{
		ID:            "disc_os_" + rec.ID,
		Type:          domain.DiscrepancyOrphaned,
		SettlementID:  rec.ID,
		Source:        rec.Source,
		Expected:      decimal.Zero,
		Actual:        rec.Amount,
		Difference:    rec.Amount,
		DifferenceUSD: s.toUSD(rec.Amount, rec.Currency),
		Currency:      rec.Currency,
		Severity:      domain.SeverityHigh,
		Description: fmt.Sprintf("Orphaned settlement %s from %s: %s %s with no matching conversion (ref=%s)",
			rec.ID, rec.Source, rec.Amount.StringFixed(2), rec.Currency, rec.FiatTransactionID),
		DetectedAt: now,
	}
}

// detectMissing finds conversions older than the settlement window that no
// statement line references. Failed conversions never reach the bank.
func (s *Service) detectMissing(txns []domain.FiatTransaction, records []domain.SettlementRecord, now time.Time) []domain.Discrepancy {
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.FiatTransactionID] = true
	}
	cutoff := now.Add(-s.window)

	var discs []domain.Discrepancy
	for _, tx := range txns {
		if tx.Status == domain.FiatFailed || seen[tx.ID] || !tx.Timestamp.Before(cutoff) {
			continue
		}
		usd := s.toUSD(tx.FiatAmount, tx.Currency)
		discs = append(discs, domain.Discrepancy{
			ID:                "disc_ms_" + tx.ID,
			Type:              domain.DiscrepancyMissingSettlement,
			FiatTransactionID: tx.ID,
			Expected:          tx.FiatAmount,
			Actual:            decimal.Zero,
			Difference:        tx.FiatAmount.Neg(),
			DifferenceUSD:     usd.Neg(),
			Currency:          tx.Currency,
			Severity:          severityByAmount(usd),
			Description: fmt.Sprintf("Conversion %s (%s %s) is %s but no settlement was reported within %s",
				tx.ID, tx.FiatAmount.StringFixed(2), tx.Currency, tx.Status, s.window),
			DetectedAt: now,
		})
	}
	return discs
}

func (s *Service) toUSD(amount decimal.Decimal, code string) decimal.Decimal {
	usd, err := s.rates.ToUSD(amount, code)
	if err != nil {
		s.log.Warn("no USD rate", zap.String("currency", code), zap.Error(err))
		return decimal.Zero
	}
	return usd
}

func (s *Service) publish(discs []domain.Discrepancy) {
	counts := map[domain.DiscrepancyType]int{
		domain.DiscrepancyMissingSettlement: 0,
		domain.DiscrepancyAmountMismatch:    0,
		domain.DiscrepancyOrphaned:          0,
		domain.DiscrepancyStatusConflict:    0,
	}
	for _, d := range discs {
		counts[d.Type]++
	}
	for t, n := range counts {
		metrics.Discrepancies.WithLabelValues(string(t)).Set(float64(n))
	}
}

var (
	usd100 = decimal.NewFromInt(100)
	usd500 = decimal.NewFromInt(500)
	pct2   = decimal.New(2, -2)
)

func severityByAmount(usd decimal.Decimal) domain.Severity {
	switch {
	case usd.GreaterThan(usd500):
		return domain.SeverityHigh
	case usd.GreaterThan(usd100):
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func mismatchSeverity(pctDiff, absUSD decimal.Decimal) domain.Severity {
	if absUSD.GreaterThan(usd500) {
		return domain.SeverityCritical
	}
	if pctDiff.GreaterThan(pct2) {
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}
