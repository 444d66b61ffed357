package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/schedule"
)

type createScheduledBody struct {
	Recipient     string           `json:"recipient"`
	RecipientName string           `json:"recipient_name"`
	Amount        decimal.Decimal  `json:"amount"`
	Frequency     domain.Frequency `json:"frequency"`
	StartDate     time.Time        `json:"start_date"`
	Note          string           `json:"note"`
	EndDate       *time.Time       `json:"end_date"`
}

func (h *Handlers) CreateScheduled(w http.ResponseWriter, r *http.Request) {
	var body createScheduledBody
	if !h.decode(w, r, &body) {
		return
	}
	sp, err := h.scheduler.Create(r.Context(), schedule.CreateParams{
		Recipient:     body.Recipient,
		RecipientName: body.RecipientName,
		Amount:        body.Amount,
		Frequency:     body.Frequency,
		StartDate:     body.StartDate,
		Note:          body.Note,
		EndDate:       body.EndDate,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sp)
}

func (h *Handlers) ListScheduled(w http.ResponseWriter, r *http.Request) {
	list, err := h.scheduler.List(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"scheduled_payments": list, "total": len(list)})
}

// ListDue returns the payments due now, or at the optional "at" query time.
func (h *Handlers) ListDue(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("at"), false)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	now := h.clock.Now()
	if at != nil {
		now = *at
	}
	due, err := h.scheduler.DueItems(r.Context(), now)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"due": due, "total": len(due), "at": now})
}

func (h *Handlers) GetScheduled(w http.ResponseWriter, r *http.Request) {
	sp, err := h.scheduler.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sp)
}

func (h *Handlers) ExecuteScheduled(w http.ResponseWriter, r *http.Request) {
	entry, err := h.coord.ExecuteScheduled(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handlers) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	sp, err := h.scheduler.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sp)
}
