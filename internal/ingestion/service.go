// Package ingestion loads bank settlement statements and hands them to
// reconciliation.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/metrics"
	"github.com/zarpay/paycore/internal/reconciliation"
	"github.com/zarpay/paycore/internal/repository"
)

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	ReportID              string                 `json:"report_id"`
	AlreadyIngested       bool                   `json:"already_ingested"`
	RecordsIngested       int                    `json:"records_ingested"`
	DuplicatesSkipped     int                    `json:"duplicates_skipped"`
	DiscrepanciesDetected int                    `json:"discrepancies_detected"`
	Reconciliation        *reconciliation.Result `json:"reconciliation,omitempty"`
}

// Service handles ingestion of bank settlement statements.
type Service struct {
	settlements *repository.SettlementRepo
	recon       *reconciliation.Service
	clock       clock.Clock
	log         *zap.Logger

	mu sync.Mutex
}

func NewService(settlements *repository.SettlementRepo, recon *reconciliation.Service, c clock.Clock, log *zap.Logger) *Service {
	return &Service{settlements: settlements, recon: recon, clock: c, log: log.Named("ingestion")}
}

// IngestStatement parses a statement file from source and stores its
// lines, then runs reconciliation. A file that was already ingested is
// acknowledged without being stored again.
func (s *Service) IngestStatement(ctx context.Context, data []byte, source string, format domain.StatementFormat) (*IngestResult, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return nil, domain.Validation("statement source is required")
	}
	if len(data) == 0 {
		return nil, domain.Validation("statement is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	existing, err := s.settlements.ReportByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if existing != nil {
		s.log.Info("statement already ingested", zap.String("report", existing.ID))
		return &IngestResult{ReportID: existing.ID, AlreadyIngested: true}, nil
	}

	reportID := domain.NewID("rpt")
	var records []domain.SettlementRecord
	var batchID string

	switch format {
	case domain.FormatCSV:
		records, batchID, err = ParseDelimited(data, ',', source, reportID)
	case domain.FormatPSV:
		records, batchID, err = ParseDelimited(data, '|', source, reportID)
	case domain.FormatJSON:
		records, batchID, err = ParseJSON(data, source, reportID)
	default:
		return nil, domain.Validation(fmt.Sprintf("unsupported statement format %q", format))
	}
	if err != nil {
		return nil, domain.Wrap(domain.CodeValidation, "parse "+string(format)+" statement", err)
	}

	report := &domain.SettlementReport{
		ID:          reportID,
		Source:      source,
		Format:      format,
		BatchID:     batchID,
		FileHash:    hash,
		RecordCount: len(records),
		IngestedAt:  s.clock.Now(),
	}
	inserted, err := s.settlements.InsertReport(ctx, report, records)
	if err != nil {
		return nil, fmt.Errorf("store statement: %w", err)
	}
	metrics.StatementRecordsTotal.WithLabelValues(source).Add(float64(inserted))

	s.log.Info("statement ingested",
		zap.String("report", reportID),
		zap.String("source", source),
		zap.Int("records", len(records)),
		zap.Int("new", inserted),
	)

	res := &IngestResult{
		ReportID:          reportID,
		RecordsIngested:   inserted,
		DuplicatesSkipped: len(records) - inserted,
	}

	// The statement is stored either way; a failed run is retried by the
	// next ingestion or an explicit reconcile.
	recon, err := s.recon.Run(ctx)
	if err != nil {
		s.log.Warn("reconciliation failed", zap.Error(err))
		return res, nil
	}
	res.Reconciliation = recon
	res.DiscrepanciesDetected = recon.TotalDiscrepancies
	return res, nil
}

// recordID is stable across statements so the same bank line reported twice
// is stored once.
func recordID(source, fiatID, bankRef string) string {
	sum := sha256.Sum256([]byte(source + "|" + fiatID + "|" + bankRef))
	return "stl_" + hex.EncodeToString(sum[:12])
}
