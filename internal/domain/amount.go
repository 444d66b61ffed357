package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseAmount parses a decimal amount string and requires it to be strictly
// positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, Validation("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Wrap(CodeValidation, "amount is not a decimal", err)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return Validation("amount must be greater than zero")
	}
	return nil
}

// FormatAmount renders d with at least two decimal places and never drops
// precision: 45 becomes "45.00", 0.125 stays "0.125".
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() < -2 {
		return d.String()
	}
	return d.StringFixed(2)
}

// ValidateAddress performs the structural checks we can do on a wallet
// address without talking to the chain.
func ValidateAddress(addr string) error {
	if addr == "" {
		return Validation("recipient address is required")
	}
	if len(addr) > 128 {
		return Validation("recipient address is too long")
	}
	if strings.ContainsAny(addr, " \t\r\n") {
		return Validation("recipient address must not contain whitespace")
	}
	return nil
}

// NewID returns a fresh record id with the given prefix, e.g. "req_...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
