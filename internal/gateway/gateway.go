// Package gateway defines the external collaborators the payment core
// calls (transfer, settlement and notification) along with the simulated
// and webhook implementations used by the server.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
)

// TransferGateway moves tokens to a recipient and returns an opaque
// reference for the transfer.
type TransferGateway interface {
	Submit(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)
}

// Instruction asks the settlement gateway to move money for one fiat
// conversion.
type Instruction struct {
	TransactionID string
	Kind          domain.FiatType
	Amount        decimal.Decimal
	Currency      string
	BankAccount   string
}

// StageEvent reports that a conversion reached a new stage.
type StageEvent struct {
	Status    domain.FiatStatus `json:"status"`
	Reference string            `json:"reference,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"at"`
}

// SettlementGateway starts a bank transfer or mint/burn. The returned
// channel delivers stage events and is closed by the gateway after a
// terminal event or when ctx ends.
type SettlementGateway interface {
	Initiate(ctx context.Context, in Instruction) (<-chan StageEvent, error)
}

// Notifier delivers a best-effort message to a target such as a phone
// number or contact name.
type Notifier interface {
	Notify(ctx context.Context, message, target string) error
}
