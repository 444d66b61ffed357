package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/paylink"
)

type createRequestBody struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	// ExpiresIn is a Go duration such as "30m"; empty uses the default.
	ExpiresIn string `json:"expires_in"`
}

type linkBody struct {
	URI string `json:"uri"`
}

func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	var ttl time.Duration
	if body.ExpiresIn != "" {
		d, err := time.ParseDuration(body.ExpiresIn)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "expires_in: "+err.Error())
			return
		}
		ttl = d
	}

	req, err := h.requests.Create(r.Context(), paylink.CreateParams{
		Recipient: body.Recipient,
		Amount:    body.Amount,
		Note:      body.Note,
		ExpiresIn: ttl,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	link, err := h.requests.Link(r.Context(), req.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"request": req, "uri": link})
}

func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.RequestStatus(r.URL.Query().Get("status"))
	reqs, err := h.requests.List(r.Context(), status)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"requests": reqs, "total": len(reqs)})
}

func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) GetRequestLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.requests.Link(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, linkBody{URI: link})
}

func (h *Handlers) PayRequest(w http.ResponseWriter, r *http.Request) {
	entry, err := h.coord.ExecutePaymentRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handlers) DecodeLink(w http.ResponseWriter, r *http.Request) {
	var body linkBody
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.requests.Decode(body.URI)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) ScanLink(w http.ResponseWriter, r *http.Request) {
	var body linkBody
	if !h.decode(w, r, &body) {
		return
	}
	req, created, err := h.requests.Scan(r.Context(), body.URI)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, map[string]any{"request": req, "created": created})
}
