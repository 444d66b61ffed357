package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/repository"
)

// maxStatementBytes bounds uploaded statement files.
const maxStatementBytes = 10 << 20

// IngestStatement accepts a raw statement file. The source and format
// query parameters name the bank and the layout (csv, psv or json).
func (h *Handlers) IngestStatement(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStatementBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "read statement: "+err.Error())
		return
	}
	q := r.URL.Query()
	format := domain.StatementFormat(q.Get("format"))
	if format == "" {
		format = domain.FormatCSV
	}

	res, err := h.ingestion.IngestStatement(r.Context(), data, q.Get("source"), format)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyIngested {
		status = http.StatusOK
	}
	h.writeJSON(w, status, res)
}

func (h *Handlers) ListStatements(w http.ResponseWriter, r *http.Request) {
	reports, err := h.settlements.ListReports(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"statements": reports, "total": len(reports)})
}

func (h *Handlers) ListStatementRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.settlements.ListRecords(r.Context(), repository.RecordFilter{ReportID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": len(records)})
}

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), defaultPageSize)
	offset := parseIntDefault(q.Get("offset"), 0)

	discs, total, err := h.discrepancies.List(r.Context(), repository.DiscrepancyFilter{
		Type:              domain.DiscrepancyType(q.Get("type")),
		Severity:          domain.Severity(q.Get("severity")),
		FiatTransactionID: q.Get("fiat_id"),
		Limit:             limit,
		Offset:            offset,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"discrepancies": discs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *Handlers) DiscrepancySummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.discrepancies.Summary(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}
