package paylink

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/keylock"
	"github.com/zarpay/paycore/internal/repository"
)

func newService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	c := clock.NewFake(now)
	return NewService(store.Requests, NewCodec(c, 0), keylock.New(), c, 0, zaptest.NewLogger(t)), c
}

func TestCreateAndLink(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	req, err := s.Create(ctx, CreateParams{Recipient: "lsk1", Amount: decimal.RequireFromString("150.00"), Note: "Dinner"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != domain.RequestPending || !req.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("unexpected request %+v", req)
	}

	link, err := s.Link(ctx, req.ID)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	decoded, err := s.Decode(link)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != req.ID || decoded.Note != "Dinner" {
		t.Fatalf("unexpected decoded request %+v", decoded)
	}

	for _, p := range []CreateParams{
		{Recipient: "", Amount: decimal.NewFromInt(1)},
		{Recipient: "lsk1", Amount: decimal.Zero},
		{Recipient: "lsk1", Amount: decimal.NewFromInt(1), ExpiresIn: -time.Second},
	} {
		if _, err := s.Create(ctx, p); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", p, err)
		}
	}
}

func TestGetEvaluatesExpiry(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()

	req, _ := s.Create(ctx, CreateParams{Recipient: "lsk1", Amount: decimal.NewFromInt(1), ExpiresIn: time.Hour})
	c.Advance(59 * time.Minute)
	got, _ := s.Get(ctx, req.ID)
	if got.Status != domain.RequestPending {
		t.Fatalf("expected pending before expiry, got %s", got.Status)
	}

	c.Advance(time.Minute)
	got, err := s.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RequestExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if err := got.CheckPayable(c.Now()); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired guard, got %v", err)
	}
}

func TestScanImportsOnce(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()
	link := "zarpay://pay?recipient=lsk1&amount=20&id=req_shared&note=Split%20bill"

	first, created, err := s.Scan(ctx, link)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !created || first.ID != "req_shared" || !first.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("unexpected first scan %+v created=%v", first, created)
	}

	c.Advance(12 * time.Hour)
	second, created, err := s.Scan(ctx, link)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if created {
		t.Fatal("expected rescan to reuse the stored request")
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("rescan moved expiry from %v to %v", first.ExpiresAt, second.ExpiresAt)
	}

	c.Advance(12 * time.Hour)
	third, _, err := s.Scan(ctx, link)
	if err != nil {
		t.Fatalf("scan after expiry: %v", err)
	}
	if third.Status != domain.RequestExpired {
		t.Fatalf("expected stored request to be expired, got %s", third.Status)
	}

	if _, _, err := s.Scan(ctx, "zarpay://pay?recipient=lsk1&id=x"); !errors.Is(err, domain.ErrCodec) {
		t.Fatalf("expected codec error, got %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()

	for _, ttl := range []time.Duration{time.Minute, time.Hour, 48 * time.Hour} {
		if _, err := s.Create(ctx, CreateParams{Recipient: "lsk1", Amount: decimal.NewFromInt(1), ExpiresIn: ttl}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	c.Advance(2 * time.Hour)

	n, err := s.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired, got %d", n)
	}
	if n, _ := s.ExpireStale(ctx); n != 0 {
		t.Fatalf("expected second sweep to find nothing, got %d", n)
	}
	pending, _ := s.List(ctx, domain.RequestPending)
	if len(pending) != 1 {
		t.Fatalf("expected one pending request left, got %d", len(pending))
	}
}
