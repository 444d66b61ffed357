// Package schedule owns the lifecycle of recurring payments: creation, due
// date arithmetic, due detection, execution bookkeeping and cancellation.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/repository"
)

type Scheduler struct {
	repo  *repository.ScheduledPaymentRepo
	clock clock.Clock
	log   *zap.Logger
}

func NewScheduler(repo *repository.ScheduledPaymentRepo, c clock.Clock, log *zap.Logger) *Scheduler {
	return &Scheduler{repo: repo, clock: c, log: log.Named("scheduler")}
}

// CreateParams describes a new scheduled payment.
type CreateParams struct {
	Recipient     string
	RecipientName string
	Amount        decimal.Decimal
	Frequency     domain.Frequency
	StartDate     time.Time
	Note          string
	EndDate       *time.Time
}

// Create validates p and stores an active scheduled payment whose first
// due date is the start date.
func (s *Scheduler) Create(ctx context.Context, p CreateParams) (*domain.ScheduledPayment, error) {
	if err := domain.ValidateAddress(p.Recipient); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(p.Amount); err != nil {
		return nil, err
	}
	if !p.Frequency.Valid() {
		return nil, domain.Validation(fmt.Sprintf("unknown frequency %q", p.Frequency))
	}
	if p.StartDate.IsZero() {
		return nil, domain.Validation("start date is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return nil, domain.Validation("end date must not be before start date")
	}

	sp := &domain.ScheduledPayment{
		ID:              domain.NewID("sched"),
		Recipient:       p.Recipient,
		RecipientName:   p.RecipientName,
		Amount:          p.Amount,
		Frequency:       p.Frequency,
		NextPaymentDate: p.StartDate.UTC(),
		Note:            p.Note,
		CreatedAt:       s.clock.Now(),
		IsActive:        true,
		State:           domain.ScheduleActive,
	}
	if p.EndDate != nil {
		end := p.EndDate.UTC()
		sp.EndDate = &end
	}
	if err := s.repo.Insert(ctx, sp); err != nil {
		return nil, fmt.Errorf("store scheduled payment: %w", err)
	}

	s.log.Info("scheduled payment created",
		zap.String("id", sp.ID),
		zap.String("frequency", string(sp.Frequency)),
		zap.Time("start", sp.NextPaymentDate),
	)
	return sp, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*domain.ScheduledPayment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Scheduler) List(ctx context.Context) ([]domain.ScheduledPayment, error) {
	return s.repo.List(ctx)
}

// DueItems returns every payment due at now. Each call reads the store
// afresh and has no side effects.
func (s *Scheduler) DueItems(ctx context.Context, now time.Time) ([]domain.ScheduledPayment, error) {
	candidates, err := s.repo.ListActiveUntil(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due: %w", err)
	}
	due := candidates[:0]
	for _, p := range candidates {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

// MarkExecuted records a successful execution at executedAt and sets
// lastPaymentDate to it.
//
// A repeating payment does not take a single NextOccurrence step from its
// current next date. It keeps stepping until the next date is after
// executedAt, so cycles missed while the service was down are skipped and
// never paid, and nextPaymentDate stays at or after lastPaymentDate. It
// completes once the next date would fall after its end date.
//
// A one-off payment completes. Its next date is kept unless it lies before
// executedAt, in which case it moves to executedAt for the same ordering
// reason.
//
// Call it exactly once per successful transfer.
func (s *Scheduler) MarkExecuted(ctx context.Context, id string, executedAt time.Time) (*domain.ScheduledPayment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State == domain.ScheduleCompleted {
		return nil, domain.New(domain.CodeAlreadyTerminal, "scheduled payment "+id+" already completed")
	}

	next, finished := s.advance(p, executedAt)
	if err := s.repo.RecordExecution(ctx, id, executedAt, next, finished); err != nil {
		return nil, err
	}

	s.log.Info("scheduled payment executed",
		zap.String("id", id),
		zap.Time("executed_at", executedAt),
		zap.Time("next", next),
		zap.Bool("finished", finished),
	)
	return s.repo.GetByID(ctx, id)
}

// Cancel deactivates a payment permanently. Cancelling an already
// cancelled payment is a no-op; a completed payment cannot be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*domain.ScheduledPayment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.State {
	case domain.ScheduleCancelled:
		return p, nil
	case domain.ScheduleCompleted:
		return nil, domain.New(domain.CodeAlreadyTerminal, "scheduled payment "+id+" already completed")
	}

	ok, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		s.log.Info("scheduled payment cancelled", zap.String("id", id))
	}
	p, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State != domain.ScheduleCancelled {
		return nil, domain.New(domain.CodeAlreadyTerminal, "scheduled payment "+id+" already completed")
	}
	return p, nil
}

func (s *Scheduler) advance(p *domain.ScheduledPayment, executedAt time.Time) (time.Time, bool) {
	if p.Frequency == domain.FrequencyOnce {
		next := p.NextPaymentDate
		if next.Before(executedAt) {
			next = executedAt
		}
		return next, true
	}

	next := NextOccurrence(p.Frequency, p.NextPaymentDate)
	for !next.After(executedAt) {
		next = NextOccurrence(p.Frequency, next)
	}
	finished := p.EndDate != nil && next.After(*p.EndDate)
	return next, finished
}
