package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/merchant"
)

const defaultPageSize = 50

type merchantPaymentBody struct {
	Amount          decimal.Decimal `json:"amount"`
	CustomerAddress string          `json:"customer_address"`
	CustomerName    string          `json:"customer_name"`
	ProductName     string          `json:"product_name"`
	TxHash          string          `json:"tx_hash"`
	Note            string          `json:"note"`
}

type refundBody struct {
	OriginalID string          `json:"original_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
}

func (h *Handlers) RecordMerchantPayment(w http.ResponseWriter, r *http.Request) {
	var body merchantPaymentBody
	if !h.decode(w, r, &body) {
		return
	}
	tx, err := h.merchant.Record(r.Context(), merchant.RecordParams{
		Amount:          body.Amount,
		CustomerAddress: body.CustomerAddress,
		CustomerName:    body.CustomerName,
		ProductName:     body.ProductName,
		TxHash:          body.TxHash,
		Note:            body.Note,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

func (h *Handlers) ListMerchantTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultPageSize)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	list, err := h.merchant.List(r.Context(), limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": list,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	var body refundBody
	if !h.decode(w, r, &body) {
		return
	}
	if body.OriginalID == "" {
		h.writeError(w, http.StatusBadRequest, "original_id is required")
		return
	}
	refund, err := h.merchant.Refund(r.Context(), body.OriginalID, body.Amount, body.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, refund)
}

func (h *Handlers) MerchantStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.merchant.Stats(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}
