// Package execution turns due scheduled payments and pending payment
// requests into transfers. At most one execution per target id is in
// flight at a time; a second caller waits for the first and then sees the
// target as no longer due.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/keylock"
	"github.com/zarpay/paycore/internal/metrics"
	"github.com/zarpay/paycore/internal/paylink"
	"github.com/zarpay/paycore/internal/repository"
	"github.com/zarpay/paycore/internal/schedule"
	"github.com/zarpay/paycore/internal/telemetry"
)

type Config struct {
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration
}

type Coordinator struct {
	scheduler *schedule.Scheduler
	requests  *paylink.Service
	store     *repository.Store
	transfer  gateway.TransferGateway
	notifier  gateway.Notifier
	clock     clock.Clock
	cfg       Config
	log       *zap.Logger

	locks    *keylock.Table
	notifyWG sync.WaitGroup
}

// NewCoordinator wires the coordinator. locks must be the table requests
// expires under. notifier may be nil.
func NewCoordinator(
	scheduler *schedule.Scheduler,
	requests *paylink.Service,
	locks *keylock.Table,
	store *repository.Store,
	transfer gateway.TransferGateway,
	notifier gateway.Notifier,
	c clock.Clock,
	cfg Config,
	log *zap.Logger,
) *Coordinator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Coordinator{
		scheduler: scheduler,
		requests:  requests,
		store:     store,
		transfer:  transfer,
		notifier:  notifier,
		clock:     c,
		cfg:       cfg,
		log:       log.Named("execution"),
		locks:     locks,
	}
}

// ExecuteScheduled pays a due scheduled payment and advances its schedule.
// A payment that is not due fails with a NotDue or Cancelled error without
// any transfer being submitted.
func (c *Coordinator) ExecuteScheduled(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	return c.execute(ctx, domain.TargetScheduledPayment, id, func(ctx context.Context, now time.Time) (*target, error) {
		sp, err := c.scheduler.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := sp.CheckDue(now); err != nil {
			return nil, err
		}
		return &target{
			recipient: sp.Recipient,
			name:      sp.RecipientName,
			amount:    sp.Amount,
			note:      sp.Note,
			settle: func(ctx context.Context, _ string, at time.Time) error {
				_, err := c.scheduler.MarkExecuted(ctx, id, at)
				return err
			},
		}, nil
	})
}

// ExecutePaymentRequest pays a pending payment request and marks it paid.
// A request that is paid or expired fails with AlreadyPaid or Expired
// without any transfer being submitted.
func (c *Coordinator) ExecutePaymentRequest(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	return c.execute(ctx, domain.TargetPaymentRequest, id, func(ctx context.Context, now time.Time) (*target, error) {
		req, err := c.requests.GetLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := req.CheckPayable(now); err != nil {
			return nil, err
		}
		return &target{
			recipient: req.Recipient,
			amount:    req.Amount,
			note:      req.Note,
			settle: func(ctx context.Context, ref string, at time.Time) error {
				ok, err := c.store.Requests.MarkPaid(ctx, id, ref, at)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("payment request %s left pending state during execution", id)
				}
				return nil
			},
		}, nil
	})
}

// Close waits for outstanding notifications.
func (c *Coordinator) Close() {
	c.notifyWG.Wait()
}

// --- helpers ---

// target is a payment obligation resolved under the execution lock.
type target struct {
	recipient string
	name      string
	amount    decimal.Decimal
	note      string
	// settle records a successful transfer on the obligation itself.
	settle func(ctx context.Context, ref string, at time.Time) error
}

type resolveFunc func(ctx context.Context, now time.Time) (*target, error)

func (c *Coordinator) execute(ctx context.Context, kind domain.TargetKind, id string, resolve resolveFunc) (*domain.LedgerEntry, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "execution.execute")
	defer span.End()
	span.SetAttributes(attribute.String("target.kind", string(kind)), attribute.String("target.id", id))

	release, err := c.locks.Acquire(ctx, keylock.Key(string(kind), id))
	if err != nil {
		return nil, fmt.Errorf("wait for execution lock: %w", err)
	}
	defer release()

	now := c.clock.Now()
	t, err := resolve(ctx, now)
	if err != nil {
		if domain.IsTerminal(err) {
			metrics.ExecutionsTotal.WithLabelValues(string(kind), metrics.OutcomeSkipped).Inc()
		}
		return nil, err
	}

	ref, err := c.submit(ctx, t.recipient, t.amount)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(string(kind), metrics.OutcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
		c.log.Warn("transfer failed",
			zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))

		failed := c.entry(kind, id, t, "", domain.EntryFailed, now)
		failed.Error = err.Error()
		if insErr := c.store.Ledger.Insert(context.WithoutCancel(ctx), failed); insErr != nil {
			c.log.Error("record failed transfer", zap.String("id", id), zap.Error(insErr))
		}
		return nil, domain.Wrap(domain.CodeTransferFailed, "transfer for "+id+" failed", err)
	}

	// The transfer went out; nothing below may be abandoned because the
	// caller went away, and the ledger records it whatever happens to the
	// obligation.
	ctx = context.WithoutCancel(ctx)
	settleErr := t.settle(ctx, ref, now)

	entry := c.entry(kind, id, t, ref, domain.EntryCompleted, now)
	if err := c.store.Ledger.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("record ledger entry: %w", err)
	}
	if settleErr != nil {
		metrics.ExecutionsTotal.WithLabelValues(string(kind), metrics.OutcomeSuccess).Inc()
		c.log.Error("transfer succeeded but settling the obligation failed",
			zap.String("id", id), zap.String("reference", ref), zap.String("entry", entry.ID), zap.Error(settleErr))
		return nil, fmt.Errorf("settle %s %s: %w", kind, id, settleErr)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(kind), metrics.OutcomeSuccess).Inc()
	c.log.Info("payment executed",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.String("amount", t.amount.String()),
		zap.String("reference", ref),
	)
	c.notify(t, ref)
	return entry, nil
}

// submit calls the transfer gateway, giving up after the gateway timeout
// even if the gateway ignores its context.
func (c *Coordinator) submit(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
	defer cancel()

	type result struct {
		ref string
		err error
	}
	done := make(chan result, 1)
	began := time.Now()
	go func() {
		ref, err := c.transfer.Submit(ctx, recipient, amount)
		done <- result{ref, err}
	}()

	select {
	case r := <-done:
		metrics.GatewayDuration.WithLabelValues("transfer").Observe(time.Since(began).Seconds())
		if r.err != nil {
			return "", r.err
		}
		if r.ref == "" {
			return "", domain.New(domain.CodeGateway, "transfer gateway returned no reference")
		}
		return r.ref, nil
	case <-ctx.Done():
		metrics.GatewayDuration.WithLabelValues("transfer").Observe(time.Since(began).Seconds())
		return "", domain.Wrap(domain.CodeGateway, "transfer gateway timed out", ctx.Err())
	}
}

func (c *Coordinator) entry(kind domain.TargetKind, id string, t *target, ref string, status domain.EntryStatus, at time.Time) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:                domain.NewID("led"),
		TargetKind:        kind,
		TargetID:          id,
		Recipient:         t.recipient,
		RecipientName:     t.name,
		Amount:            t.amount,
		TransferReference: ref,
		Status:            status,
		Note:              t.note,
		CreatedAt:         at,
	}
}

// notify tells the recipient about a completed payment. Delivery runs in
// the background and its failure is only logged.
func (c *Coordinator) notify(t *target, ref string) {
	if c.notifier == nil {
		return
	}
	recipient := t.name
	if recipient == "" {
		recipient = t.recipient
	}
	message := fmt.Sprintf("Payment sent: R%s to %s (ref %s)", t.amount.StringFixed(2), recipient, ref)

	c.notifyWG.Add(1)
	go func() {
		defer c.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, message, recipient); err != nil {
			c.log.Warn("notification failed", zap.String("target", recipient), zap.Error(err))
		}
	}()
}
