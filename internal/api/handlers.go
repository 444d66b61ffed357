package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/execution"
	"github.com/zarpay/paycore/internal/fiat"
	"github.com/zarpay/paycore/internal/ingestion"
	"github.com/zarpay/paycore/internal/merchant"
	"github.com/zarpay/paycore/internal/paylink"
	"github.com/zarpay/paycore/internal/reconciliation"
	"github.com/zarpay/paycore/internal/report"
	"github.com/zarpay/paycore/internal/repository"
	"github.com/zarpay/paycore/internal/schedule"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	requests  *paylink.Service
	scheduler *schedule.Scheduler
	fiat      *fiat.Machine
	coord     *execution.Coordinator
	merchant  *merchant.Service
	reporter  *report.Reporter
	ledger    *repository.LedgerRepo
	clock     clock.Clock
	log       *zap.Logger

	ingestion     *ingestion.Service
	reconciler    *reconciliation.Service
	settlements   *repository.SettlementRepo
	discrepancies *repository.DiscrepancyRepo
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps err onto a status code by its domain code.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		h.writeError(w, status, "internal error")
		return
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyPaid, domain.CodeExpired, domain.CodeCancelled, domain.CodeNotDue,
		domain.CodeAlreadyTerminal, domain.CodeInvalidTransition:
		return http.StatusConflict
	case domain.CodeCodec:
		return http.StatusUnprocessableEntity
	case domain.CodeTransferFailed, domain.CodeGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseTime accepts RFC 3339 timestamps or plain dates. Plain dates used
// as an upper bound cover the whole day.
func parseTime(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err != nil {
		return nil, domain.Validation("invalid time " + strconv.Quote(s))
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
