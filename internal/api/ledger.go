package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/report"
	"github.com/zarpay/paycore/internal/repository"
)

func (h *Handlers) ListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	entries, err := h.ledger.List(r.Context(), repository.EntryFilter{
		TargetKind: domain.TargetKind(q.Get("target_kind")),
		TargetID:   q.Get("target_id"),
		Status:     domain.EntryStatus(q.Get("status")),
		From:       from,
		To:         to,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": len(entries)})
}

// ExportLedger streams the CSV export for the optional from/to range.
func (h *Handlers) ExportLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := h.reporter.WriteCSV(r.Context(), &buf, from, to); err != nil {
		h.writeDomainError(w, err)
		return
	}
	name := fmt.Sprintf("transactions-%s.csv", h.clock.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn("write export", zap.Error(err))
	}
}

// GetReceipt returns the receipt as JSON, or as plain text with format=text.
func (h *Handlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := h.reporter.ReceiptFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	text := report.FormatReceipt(rc)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(text))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"receipt": rc, "text": text})
}

// SpendingAnalytics aggregates completed payments over the trailing
// `period` (week, month or year). format=text returns the markdown report.
func (h *Handlers) SpendingAnalytics(w http.ResponseWriter, r *http.Request) {
	period, err := report.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	sp, err := h.reporter.Spending(r.Context(), period, h.clock.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.FormatSpending(sp)))
		return
	}
	h.writeJSON(w, http.StatusOK, sp)
}
