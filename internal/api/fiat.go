package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/gateway"
)

type conversionBody struct {
	Amount      decimal.Decimal `json:"amount"`
	BankAccount string          `json:"bank_account"`
}

type stageEventBody struct {
	Status    domain.FiatStatus `json:"status"`
	Reference string            `json:"reference"`
	Reason    string            `json:"reason"`
}

func (h *Handlers) GetRate(w http.ResponseWriter, r *http.Request) {
	q, err := h.fiat.Rate(r.Context())
	if err != nil {
		h.writeDomainError(w, domain.Wrap(domain.CodeNotFound, "no exchange rate", err))
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

type rateBody struct {
	PerUSD decimal.Decimal `json:"per_usd"`
}

// SetRate replaces the units-per-USD rate of the currency in the path.
func (h *Handlers) SetRate(w http.ResponseWriter, r *http.Request) {
	var body rateBody
	if !h.decode(w, r, &body) {
		return
	}
	code := strings.ToUpper(chi.URLParam(r, "currency"))
	if err := h.fiat.SetRate(code, body.PerUSD); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"currency": code, "per_usd": body.PerUSD})
}

func (h *Handlers) Buy(w http.ResponseWriter, r *http.Request) {
	var body conversionBody
	if !h.decode(w, r, &body) {
		return
	}
	tx, err := h.fiat.InitiateBuy(r.Context(), body.Amount, body.BankAccount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, tx)
}

func (h *Handlers) Sell(w http.ResponseWriter, r *http.Request) {
	var body conversionBody
	if !h.decode(w, r, &body) {
		return
	}
	tx, err := h.fiat.InitiateSell(r.Context(), body.Amount, body.BankAccount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, tx)
}

func (h *Handlers) ListFiat(w http.ResponseWriter, r *http.Request) {
	list, err := h.fiat.List(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": list, "total": len(list)})
}

func (h *Handlers) GetFiat(w http.ResponseWriter, r *http.Request) {
	tx, err := h.fiat.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ApplyFiatEvent receives stage events pushed by the settlement gateway.
func (h *Handlers) ApplyFiatEvent(w http.ResponseWriter, r *http.Request) {
	var body stageEventBody
	if !h.decode(w, r, &body) {
		return
	}
	switch body.Status {
	case domain.FiatProcessing, domain.FiatCompleted, domain.FiatFailed:
	default:
		h.writeError(w, http.StatusBadRequest, "status must be processing, completed or failed")
		return
	}

	tx, err := h.fiat.ApplyEvent(r.Context(), chi.URLParam(r, "id"), gateway.StageEvent{
		Status:    body.Status,
		Reference: body.Reference,
		Reason:    body.Reason,
		At:        h.clock.Now(),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}
