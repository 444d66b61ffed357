package currency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/clock"
)

// Token is the currency the wallet token is pegged to.
const Token = "ZAR"

// ratePrecision is the number of decimal places kept on derived rates.
const ratePrecision = 8

// defaultRatesPerUSD maps currency codes to the number of local currency
// units per 1 USD.
var defaultRatesPerUSD = map[string]string{
	"USD": "1.0",
	"KES": "129.5",  // Kenyan Shilling
	"NGN": "1580.0", // Nigerian Naira
	"ZAR": "18.6",   // South African Rand
}

// Quote is an exchange rate between the token and a fiat currency, locked
// at the moment it was read.
type Quote struct {
	Currency    string          `json:"currency"`
	ZARToFiat   decimal.Decimal `json:"zar_to_fiat"`
	FiatToZAR   decimal.Decimal `json:"fiat_to_zar"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Table holds units-per-USD rates and derives token quotes from them.
type Table struct {
	mu          sync.RWMutex
	ratesPerUSD map[string]decimal.Decimal
	updatedAt   time.Time
	clock       clock.Clock
}

// NewTable returns a table seeded with the default corridor rates.
func NewTable(c clock.Clock) *Table {
	t := &Table{ratesPerUSD: make(map[string]decimal.Decimal), clock: c, updatedAt: c.Now()}
	for code, rate := range defaultRatesPerUSD {
		t.ratesPerUSD[code] = decimal.RequireFromString(rate)
	}
	return t
}

// SetRate replaces the units-per-USD rate of a currency.
func (t *Table) SetRate(currency string, perUSD decimal.Decimal) error {
	if !perUSD.IsPositive() {
		return fmt.Errorf("rate for %s must be positive", currency)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ratesPerUSD[currency] = perUSD
	t.updatedAt = t.clock.Now()
	return nil
}

// Rate returns the exchange rate for a given currency (units per 1 USD).
func (t *Table) Rate(currency string) (decimal.Decimal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rate, ok := t.ratesPerUSD[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency: %s", currency)
	}
	return rate, nil
}

// Quote returns the current token/fiat rates for currency.
func (t *Table) Quote(_ context.Context, currency string) (Quote, error) {
	fiatPerUSD, err := t.Rate(currency)
	if err != nil {
		return Quote{}, err
	}
	tokenPerUSD, err := t.Rate(Token)
	if err != nil {
		return Quote{}, err
	}

	t.mu.RLock()
	updated := t.updatedAt
	t.mu.RUnlock()

	return Quote{
		Currency:    currency,
		ZARToFiat:   fiatPerUSD.DivRound(tokenPerUSD, ratePrecision),
		FiatToZAR:   tokenPerUSD.DivRound(fiatPerUSD, ratePrecision),
		LastUpdated: updated,
	}, nil
}

// ToUSD converts a local currency amount to USD.
func (t *Table) ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := t.Rate(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.DivRound(rate, ratePrecision), nil
}

// FromUSD converts a USD amount to local currency.
func (t *Table) FromUSD(usdAmount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := t.Rate(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return usdAmount.Mul(rate), nil
}
