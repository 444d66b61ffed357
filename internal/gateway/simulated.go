package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
)

// SimulatedTransfer accepts every well-formed transfer after an optional
// latency and returns a random transaction hash.
type SimulatedTransfer struct {
	Latency time.Duration
}

func (g *SimulatedTransfer) Submit(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	if err := domain.ValidateAddress(recipient); err != nil {
		return "", domain.Wrap(domain.CodeGateway, "transfer rejected", err)
	}
	if !amount.IsPositive() {
		return "", domain.New(domain.CodeGateway, "transfer rejected: non-positive amount")
	}
	if err := sleep(ctx, g.Latency); err != nil {
		return "", err
	}
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

// SimulatedSettlement acknowledges every instruction and confirms it after
// StageDelay per stage. Bank accounts starting with "FAIL" are rejected at
// the processing stage.
type SimulatedSettlement struct {
	StageDelay time.Duration
	Now        func() time.Time
}

func (g *SimulatedSettlement) Initiate(ctx context.Context, in Instruction) (<-chan StageEvent, error) {
	if !in.Amount.IsPositive() {
		return nil, domain.New(domain.CodeGateway, "settlement rejected: non-positive amount")
	}
	now := g.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	events := make(chan StageEvent, 2)
	go func() {
		defer close(events)
		if sleep(ctx, g.StageDelay) != nil {
			return
		}
		events <- StageEvent{Status: domain.FiatProcessing, At: now()}

		if sleep(ctx, g.StageDelay) != nil {
			return
		}
		if strings.HasPrefix(in.BankAccount, "FAIL") {
			events <- StageEvent{Status: domain.FiatFailed, Reason: "bank rejected the transfer", At: now()}
			return
		}
		ref := "stl_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		events <- StageEvent{Status: domain.FiatCompleted, Reference: ref, At: now()}
	}()
	return events, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
