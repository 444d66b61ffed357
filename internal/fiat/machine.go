// Package fiat drives fiat on-ramp (buy) and off-ramp (sell) conversions
// through pending, processing and a terminal completed or failed status.
// Transitions are driven only by settlement gateway stage events, whether
// they arrive on the stream returned at initiation or through a webhook.
package fiat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/currency"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/metrics"
	"github.com/zarpay/paycore/internal/repository"
	"github.com/zarpay/paycore/internal/telemetry"
)

const (
	buyETA  = 2 * time.Hour
	sellETA = 4 * time.Hour

	// casAttempts bounds retries when a concurrent event moved the status
	// between read and write.
	casAttempts = 3
)

// Config holds the machine's tunables.
type Config struct {
	// Currency is the bank currency quoted against the token.
	Currency string
	// StageTimeout bounds how long a conversion may wait for a terminal
	// stage event before it is failed.
	StageTimeout time.Duration
}

type Machine struct {
	repo    *repository.FiatRepo
	rates   *currency.Table
	gateway gateway.SettlementGateway
	clock   clock.Clock
	log     *zap.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMachine(repo *repository.FiatRepo, rates *currency.Table, gw gateway.SettlementGateway, c clock.Clock, cfg Config, log *zap.Logger) *Machine {
	if cfg.Currency == "" {
		cfg.Currency = currency.Token
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 6 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		repo:    repo,
		rates:   rates,
		gateway: gw,
		clock:   c,
		log:     log.Named("fiat"),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Rate returns the current quote for the configured currency.
func (m *Machine) Rate(ctx context.Context) (currency.Quote, error) {
	return m.rates.Quote(ctx, m.cfg.Currency)
}

// SetRate updates a corridor rate. Conversions already initiated keep the
// rate they locked.
func (m *Machine) SetRate(code string, perUSD decimal.Decimal) error {
	if err := m.rates.SetRate(code, perUSD); err != nil {
		return domain.Wrap(domain.CodeValidation, "set rate", err)
	}
	m.log.Info("exchange rate updated", zap.String("currency", code), zap.String("per_usd", perUSD.String()))
	return nil
}

// InitiateBuy converts fiatAmount of bank currency into tokens at the
// current rate, which is locked on the record.
func (m *Machine) InitiateBuy(ctx context.Context, fiatAmount decimal.Decimal, bankAccount string) (*domain.FiatTransaction, error) {
	if err := domain.ValidateAmount(fiatAmount); err != nil {
		return nil, err
	}
	q, err := m.Rate(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeValidation, "no exchange rate", err)
	}
	tx := m.newTransaction(domain.FiatBuy, q, bankAccount)
	tx.FiatAmount = fiatAmount
	tx.ZARAmount = fiatAmount.Mul(q.FiatToZAR).Round(2)
	tx.ExchangeRate = q.FiatToZAR
	tx.EstimatedCompletion = tx.Timestamp.Add(buyETA)
	return m.start(ctx, tx, tx.FiatAmount)
}

// InitiateSell converts zarAmount of tokens into bank currency at the
// current rate, which is locked on the record.
func (m *Machine) InitiateSell(ctx context.Context, zarAmount decimal.Decimal, bankAccount string) (*domain.FiatTransaction, error) {
	if err := domain.ValidateAmount(zarAmount); err != nil {
		return nil, err
	}
	q, err := m.Rate(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeValidation, "no exchange rate", err)
	}
	tx := m.newTransaction(domain.FiatSell, q, bankAccount)
	tx.ZARAmount = zarAmount
	tx.FiatAmount = zarAmount.Mul(q.ZARToFiat).Round(2)
	tx.ExchangeRate = q.ZARToFiat
	tx.EstimatedCompletion = tx.Timestamp.Add(sellETA)
	return m.start(ctx, tx, tx.FiatAmount)
}

func (m *Machine) Get(ctx context.Context, id string) (*domain.FiatTransaction, error) {
	return m.repo.GetByID(ctx, id)
}

// List returns the conversion history newest first.
func (m *Machine) List(ctx context.Context) ([]domain.FiatTransaction, error) {
	return m.repo.List(ctx)
}

// ApplyEvent moves a conversion to the status carried by ev. Replaying the
// current status is a no-op; moving backwards or out of a terminal status
// fails with an invalid transition error.
func (m *Machine) ApplyEvent(ctx context.Context, id string, ev gateway.StageEvent) (*domain.FiatTransaction, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		tx, err := m.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx.Status == ev.Status {
			return tx, nil
		}
		if !tx.Status.CanAdvance(ev.Status) {
			return nil, domain.New(domain.CodeInvalidTransition,
				fmt.Sprintf("fiat transaction %s cannot move from %s to %s", id, tx.Status, ev.Status))
		}

		ok, err := m.repo.CompareAndSetStatus(ctx, id, repository.StatusUpdate{
			From:      tx.Status,
			To:        ev.Status,
			Reference: ev.Reference,
			Reason:    ev.Reason,
			At:        m.clock.Now(),
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		metrics.FiatTransitionsTotal.WithLabelValues(string(tx.Type), string(ev.Status)).Inc()
		m.log.Info("fiat transaction advanced",
			zap.String("id", id),
			zap.String("from", string(tx.Status)),
			zap.String("to", string(ev.Status)),
		)
		return m.repo.GetByID(ctx, id)
	}
	return nil, fmt.Errorf("fiat transaction %s: status kept changing", id)
}

// Wait blocks until every stage stream has been consumed.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Close stops consuming stage streams. Conversions still in flight keep
// their current status and can be advanced later through ApplyEvent.
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
}

// --- helpers ---

func (m *Machine) newTransaction(kind domain.FiatType, q currency.Quote, bankAccount string) *domain.FiatTransaction {
	now := m.clock.Now()
	return &domain.FiatTransaction{
		ID:          domain.NewID("fiat"),
		Type:        kind,
		Currency:    q.Currency,
		BankAccount: bankAccount,
		Status:      domain.FiatPending,
		Timestamp:   now,
		UpdatedAt:   now,
	}
}

func (m *Machine) start(ctx context.Context, tx *domain.FiatTransaction, bankAmount decimal.Decimal) (*domain.FiatTransaction, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "fiat.initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("fiat.id", tx.ID),
		attribute.String("fiat.type", string(tx.Type)),
	)

	if err := m.repo.Insert(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
		return nil, fmt.Errorf("store fiat transaction: %w", err)
	}
	metrics.FiatTransitionsTotal.WithLabelValues(string(tx.Type), string(domain.FiatPending)).Inc()
	m.log.Info("fiat transaction initiated",
		zap.String("id", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.String("zar_amount", tx.ZARAmount.String()),
		zap.String("fiat_amount", tx.FiatAmount.String()),
		zap.String("rate", tx.ExchangeRate.String()),
	)

	streamCtx, cancel := context.WithTimeout(m.ctx, m.cfg.StageTimeout)
	began := time.Now()
	events, err := m.gateway.Initiate(streamCtx, gateway.Instruction{
		TransactionID: tx.ID,
		Kind:          tx.Type,
		Amount:        bankAmount,
		Currency:      tx.Currency,
		BankAccount:   tx.BankAccount,
	})
	metrics.GatewayDuration.WithLabelValues("settlement").Observe(time.Since(began).Seconds())
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "initiate")
		m.fail(context.WithoutCancel(ctx), tx.ID, "settlement gateway rejected the instruction: "+err.Error())
		return nil, domain.Wrap(domain.CodeGateway, "initiate settlement", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.consume(streamCtx, tx.ID, events)
	}()
	return tx, nil
}

// consume applies stage events until a terminal status is reached, the
// stream ends or the stage timeout fires.
func (m *Machine) consume(ctx context.Context, id string, events <-chan gateway.StageEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.streamEnded(ctx, id)
				return
			}
			tx, err := m.ApplyEvent(context.WithoutCancel(ctx), id, ev)
			if err != nil {
				m.log.Warn("ignoring stage event",
					zap.String("id", id), zap.String("status", string(ev.Status)), zap.Error(err))
				continue
			}
			if tx.Status.IsTerminal() {
				return
			}
		case <-ctx.Done():
			m.streamEnded(ctx, id)
			return
		}
	}
}

func (m *Machine) streamEnded(ctx context.Context, id string) {
	switch {
	case m.ctx.Err() != nil:
		return
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		m.fail(context.WithoutCancel(ctx), id, "settlement timed out")
	default:
		m.fail(context.WithoutCancel(ctx), id, "settlement stream ended before completion")
	}
}

func (m *Machine) fail(ctx context.Context, id, reason string) {
	_, err := m.ApplyEvent(ctx, id, gateway.StageEvent{Status: domain.FiatFailed, Reason: reason, At: m.clock.Now()})
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		m.log.Error("failed to mark fiat transaction failed", zap.String("id", id), zap.Error(err))
		return
	}
	if err == nil {
		m.log.Warn("fiat transaction failed", zap.String("id", id), zap.String("reason", reason))
	}
}
