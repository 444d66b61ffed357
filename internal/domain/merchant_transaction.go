package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type MerchantTxType string

const (
	MerchantPayment MerchantTxType = "payment"
	MerchantRefund  MerchantTxType = "refund"
)

type MerchantTxStatus string

const (
	MerchantCompleted MerchantTxStatus = "completed"
	MerchantPending   MerchantTxStatus = "pending"
	MerchantFailed    MerchantTxStatus = "failed"
)

type MerchantTransaction struct {
	ID              string           `json:"id"`
	Type            MerchantTxType   `json:"type"`
	Amount          decimal.Decimal  `json:"amount"`
	CustomerAddress string           `json:"customer_address"`
	CustomerName    string           `json:"customer_name,omitempty"`
	ProductName     string           `json:"product_name,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          MerchantTxStatus `json:"status"`
	TxHash          string           `json:"tx_hash"`
	Note            string           `json:"note,omitempty"`
	// OriginalID links a refund to the payment it reverses.
	OriginalID string `json:"original_id,omitempty"`
}

// MarshalJSON renders amounts with two decimal places.
func (t MerchantTransaction) MarshalJSON() ([]byte, error) {
	type plain MerchantTransaction
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(t), FormatAmount(t.Amount)})
}
