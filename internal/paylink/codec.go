// Package paylink implements the zarpay:// payment-request deep link and
// the service that creates, imports and expires payment requests.
//
// The link carries only recipient, amount, id and an optional note:
//
//	zarpay://pay?recipient=<addr>&amount=<decimal>&id=<requestId>[&note=<text>]
//
// Expiry is not part of the link, so a decoded request always gets a fresh
// expiry of now + TTL.
package paylink

import (
	"net/url"
	"strings"
	"time"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
)

const (
	Scheme = "zarpay"
	Host   = "pay"

	prefix = Scheme + "://" + Host
)

// DefaultTTL is the expiry given to requests when none is configured.
const DefaultTTL = 24 * time.Hour

// Codec encodes payment requests into links and decodes them back.
type Codec struct {
	clock clock.Clock
	ttl   time.Duration
}

func NewCodec(c clock.Clock, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{clock: c, ttl: ttl}
}

// Encode returns the deep link for req. Every value is percent-encoded.
func (c *Codec) Encode(req *domain.PaymentRequest) string {
	params := []string{
		"recipient=" + escape(req.Recipient),
		"amount=" + escape(domain.FormatAmount(req.Amount)),
		"id=" + escape(req.ID),
	}
	if req.Note != "" {
		params = append(params, "note="+escape(req.Note))
	}
	return prefix + "?" + strings.Join(params, "&")
}

// Decode parses a deep link. It returns nil for anything that is not a
// well-formed payment link; scanning untrusted input is expected to fail
// often and callers only need to know whether it worked.
func (c *Codec) Decode(raw string) *domain.PaymentRequest {
	req, err := c.Parse(raw)
	if err != nil {
		return nil
	}
	return req
}

// Parse is Decode with the reason for rejection. Every error matches
// domain.ErrCodec.
func (c *Codec) Parse(raw string) (*domain.PaymentRequest, error) {
	// url.Parse lowercases the scheme, so the case-sensitive check is done
	// on the raw text.
	if !strings.HasPrefix(raw, prefix) {
		return nil, domain.New(domain.CodeCodec, "not a "+prefix+" link")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, domain.Wrap(domain.CodeCodec, "parse link", err)
	}
	if u.Host != Host || u.Path != "" || u.User != nil || u.Opaque != "" {
		return nil, domain.New(domain.CodeCodec, "unexpected link target")
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, domain.Wrap(domain.CodeCodec, "parse query", err)
	}

	recipient, amountStr, id := q.Get("recipient"), q.Get("amount"), q.Get("id")
	if recipient == "" || amountStr == "" || id == "" {
		return nil, domain.New(domain.CodeCodec, "recipient, amount and id are required")
	}
	if err := domain.ValidateAddress(recipient); err != nil {
		return nil, domain.Wrap(domain.CodeCodec, "invalid recipient", err)
	}
	amount, err := domain.ParseAmount(amountStr)
	if err != nil {
		return nil, domain.Wrap(domain.CodeCodec, "invalid amount", err)
	}

	now := c.clock.Now()
	return &domain.PaymentRequest{
		ID:        id,
		Recipient: recipient,
		Amount:    amount,
		Note:      q.Get("note"),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Status:    domain.RequestPending,
	}, nil
}

// escape is query escaping with spaces as %20 rather than '+'. A literal
// '+' has already become %2B, so every remaining '+' is a space.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
