package paylink

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newCodec() *Codec {
	return NewCodec(clock.NewFake(now), 0)
}

func TestRoundTrip(t *testing.T) {
	c := newCodec()
	tests := []domain.PaymentRequest{
		{ID: "req_1", Recipient: "lsk24cd35u4jdq8szo3pnsqe5dsxwrnazyqqqg5eu", Amount: decimal.RequireFromString("150.00")},
		{ID: "req_2", Recipient: "lsk98765", Amount: decimal.RequireFromString("0.01"), Note: "Coffee payment"},
		{ID: "req 3", Recipient: "lsk1", Amount: decimal.RequireFromString("12.5"), Note: "a+b & c=d / 100% ✓"},
		{ID: "req_4", Recipient: "lsk1", Amount: decimal.NewFromInt(7), Note: "line\nbreak"},
	}

	for _, want := range tests {
		uri := c.Encode(&want)
		got := c.Decode(uri)
		if got == nil {
			t.Fatalf("decode(%q) returned nil", uri)
		}
		if got.ID != want.ID || got.Recipient != want.Recipient || got.Note != want.Note {
			t.Fatalf("round trip mismatch for %q: got %+v", uri, got)
		}
		if !got.Amount.Equal(want.Amount) {
			t.Fatalf("amount mismatch: got %s, want %s", got.Amount, want.Amount)
		}
	}
}

func TestAmountTextSurvivesRoundTrip(t *testing.T) {
	c := newCodec()
	for _, amount := range []string{"45.00", "1000.00", "0.01", "12.50", "0.125"} {
		req := &domain.PaymentRequest{ID: "req_1", Recipient: "lsk1", Amount: decimal.RequireFromString(amount)}
		uri := c.Encode(req)
		if !strings.Contains(uri, "amount="+amount+"&") {
			t.Fatalf("expected amount %s in %q", amount, uri)
		}
		got := c.Decode(uri)
		if got == nil {
			t.Fatalf("decode(%q) returned nil", uri)
		}
		if again := c.Encode(got); again != uri {
			t.Fatalf("re-encoding changed the link: %q -> %q", uri, again)
		}
	}
}

func TestEncodeIsDeterministicAndPercentEncoded(t *testing.T) {
	c := newCodec()
	req := &domain.PaymentRequest{ID: "req_1", Recipient: "lsk1", Amount: decimal.RequireFromString("45.00"), Note: "morning coffee"}

	a, b := c.Encode(req), c.Encode(req)
	if a != b {
		t.Fatalf("expected identical output, got %q and %q", a, b)
	}
	want := "zarpay://pay?recipient=lsk1&amount=45.00&id=req_1&note=morning%20coffee"
	if a != want {
		t.Fatalf("got %q, want %q", a, want)
	}

	noNote := c.Encode(&domain.PaymentRequest{ID: "req_1", Recipient: "lsk1", Amount: decimal.NewFromInt(1)})
	if strings.Contains(noNote, "note=") {
		t.Fatalf("expected no note parameter, got %q", noNote)
	}
}

func TestDecodeIgnoresParameterOrder(t *testing.T) {
	got := newCodec().Decode("zarpay://pay?note=hi&id=req_9&amount=3.50&recipient=lsk1")
	if got == nil {
		t.Fatal("expected decode to succeed")
	}
	if got.ID != "req_9" || got.Note != "hi" || !got.Amount.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestDecodeDefaultsStatusAndExpiry(t *testing.T) {
	c := NewCodec(clock.NewFake(now), 2*time.Hour)
	got := c.Decode("zarpay://pay?recipient=lsk1&amount=10&id=req_1")
	if got == nil {
		t.Fatal("expected decode to succeed")
	}
	if got.Status != domain.RequestPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if !got.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry now+ttl, got %v", got.ExpiresAt)
	}
	if !newCodec().Decode("zarpay://pay?recipient=lsk1&amount=10&id=req_1").ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatal("expected default 24h expiry")
	}
}

func TestDecodeRejectsMalformedLinks(t *testing.T) {
	c := newCodec()
	tests := map[string]string{
		"missing amount":    "zarpay://pay?recipient=lsk1&id=req_1",
		"missing recipient": "zarpay://pay?amount=1&id=req_1",
		"missing id":        "zarpay://pay?recipient=lsk1&amount=1",
		"empty amount":      "zarpay://pay?recipient=lsk1&amount=&id=req_1",
		"other scheme":      "https://pay?recipient=lsk1&amount=1&id=req_1",
		"scheme case":       "ZARPAY://pay?recipient=lsk1&amount=1&id=req_1",
		"other host":        "zarpay://payment?recipient=lsk1&amount=1&id=req_1",
		"extra path":        "zarpay://pay/x?recipient=lsk1&amount=1&id=req_1",
		"negative amount":   "zarpay://pay?recipient=lsk1&amount=-5&id=req_1",
		"non-decimal":       "zarpay://pay?recipient=lsk1&amount=ten&id=req_1",
		"bad escape":        "zarpay://pay?recipient=lsk1&amount=1&id=req_1&note=%zz",
		"garbage":           "not a link",
	}
	for name, raw := range tests {
		if got := c.Decode(raw); got != nil {
			t.Fatalf("%s: expected nil, got %+v", name, got)
		}
		if _, err := c.Parse(raw); !errors.Is(err, domain.ErrCodec) {
			t.Fatalf("%s: expected codec error, got %v", name, err)
		}
	}
}
