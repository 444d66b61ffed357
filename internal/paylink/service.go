package paylink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/keylock"
	"github.com/zarpay/paycore/internal/repository"
)

// Service manages payment requests in the ledger store. Expiry takes the
// request's lock in locks, the table the execution coordinator pays under,
// so a request cannot expire while its transfer is in flight.
type Service struct {
	repo  *repository.PaymentRequestRepo
	codec *Codec
	locks *keylock.Table
	clock clock.Clock
	ttl   time.Duration
	log   *zap.Logger
}

func NewService(repo *repository.PaymentRequestRepo, codec *Codec, locks *keylock.Table, c clock.Clock, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, codec: codec, locks: locks, clock: c, ttl: ttl, log: log.Named("paylink")}
}

// LockKey is the key of a request's lock in the shared table.
func LockKey(id string) string {
	return keylock.Key(string(domain.TargetPaymentRequest), id)
}

// CreateParams describes a new payment request. A zero ExpiresIn uses the
// service TTL.
type CreateParams struct {
	Recipient string
	Amount    decimal.Decimal
	Note      string
	ExpiresIn time.Duration
}

// Create validates and stores a new pending payment request.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.PaymentRequest, error) {
	if err := domain.ValidateAddress(p.Recipient); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(p.Amount); err != nil {
		return nil, err
	}
	if p.ExpiresIn < 0 {
		return nil, domain.Validation("expiry must not be negative")
	}
	ttl := p.ExpiresIn
	if ttl == 0 {
		ttl = s.ttl
	}

	now := s.clock.Now()
	req := &domain.PaymentRequest{
		ID:        domain.NewID("req"),
		Recipient: p.Recipient,
		Amount:    p.Amount,
		Note:      p.Note,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    domain.RequestPending,
	}
	if err := s.repo.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("store payment request: %w", err)
	}

	s.log.Info("payment request created",
		zap.String("id", req.ID), zap.String("amount", req.Amount.String()))
	return req, nil
}

// Get returns the request with its expiry evaluated: a pending request past
// its expiry is marked expired before being returned. Expiring waits for
// any execution of the request to finish.
func (s *Service) Get(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsStale(s.clock.Now()) {
		return req, nil
	}

	release, err := s.locks.Acquire(ctx, LockKey(id))
	if err != nil {
		return nil, fmt.Errorf("wait for request lock: %w", err)
	}
	defer release()
	return s.GetLocked(ctx, id)
}

// GetLocked is Get for callers already holding the request's lock.
func (s *Service) GetLocked(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsStale(s.clock.Now()) {
		return req, nil
	}
	if _, err := s.repo.MarkExpired(ctx, req.ID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, req.ID)
}

// List returns requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, status domain.RequestStatus) ([]domain.PaymentRequest, error) {
	return s.repo.List(ctx, status)
}

// Link returns the deep link for a stored request.
func (s *Service) Link(ctx context.Context, id string) (string, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return s.codec.Encode(req), nil
}

// Decode parses a link without touching the store.
func (s *Service) Decode(raw string) (*domain.PaymentRequest, error) {
	return s.codec.Parse(raw)
}

// Scan decodes a link and imports it. When the id is already known the
// stored record wins, so re-scanning a link cannot extend its expiry. The
// boolean reports whether a new record was created.
func (s *Service) Scan(ctx context.Context, raw string) (*domain.PaymentRequest, bool, error) {
	decoded, err := s.codec.Parse(raw)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.Get(ctx, decoded.ID)
	if err == nil {
		if existing.Recipient != decoded.Recipient || !existing.Amount.Equal(decoded.Amount) {
			s.log.Warn("scanned link disagrees with stored request",
				zap.String("id", decoded.ID))
		}
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	created, err := s.repo.InsertIfAbsent(ctx, decoded)
	if err != nil {
		return nil, false, fmt.Errorf("import payment request: %w", err)
	}
	if !created {
		// Lost a race with a concurrent scan of the same link.
		existing, err := s.repo.GetByID(ctx, decoded.ID)
		return existing, false, err
	}

	s.log.Info("payment request imported from link", zap.String("id", decoded.ID))
	return decoded, true, nil
}

// ExpireStale marks every pending request past its expiry as expired and
// returns how many were changed.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStale(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list stale: %w", err)
	}

	expired := 0
	for _, req := range stale {
		ok, err := s.expire(ctx, req.ID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("expired stale payment requests", zap.Int("count", expired))
	}
	return expired, nil
}

// expire marks one request expired under its lock. A request paid while
// the sweep waited stays paid.
func (s *Service) expire(ctx context.Context, id string) (bool, error) {
	release, err := s.locks.Acquire(ctx, LockKey(id))
	if err != nil {
		return false, fmt.Errorf("wait for request lock: %w", err)
	}
	defer release()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !req.IsStale(s.clock.Now()) {
		return false, nil
	}
	return s.repo.MarkExpired(ctx, id)
}
