package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// ScheduleState distinguishes why a scheduled payment stopped being active.
type ScheduleState string

const (
	ScheduleActive    ScheduleState = "active"
	ScheduleCompleted ScheduleState = "completed"
	ScheduleCancelled ScheduleState = "cancelled"
)

type ScheduledPayment struct {
	ID              string          `json:"id"`
	Recipient       string          `json:"recipient"`
	RecipientName   string          `json:"recipient_name"`
	Amount          decimal.Decimal `json:"amount"`
	Frequency       Frequency       `json:"frequency"`
	NextPaymentDate time.Time       `json:"next_payment_date"`
	LastPaymentDate *time.Time      `json:"last_payment_date,omitempty"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	IsActive        bool            `json:"is_active"`
	State           ScheduleState   `json:"state"`
}

// IsDue reports whether the payment should be executed at now: it is
// active, its next date has arrived and that date is within the end date.
func (p *ScheduledPayment) IsDue(now time.Time) bool {
	if !p.IsActive || p.State != ScheduleActive {
		return false
	}
	if p.NextPaymentDate.After(now) {
		return false
	}
	if p.EndDate != nil && p.NextPaymentDate.After(*p.EndDate) {
		return false
	}
	return true
}

// CheckDue returns the idempotency guard that applies at now, or nil when
// the payment is due.
func (p *ScheduledPayment) CheckDue(now time.Time) error {
	switch p.State {
	case ScheduleCancelled:
		return New(CodeCancelled, "scheduled payment "+p.ID+" cancelled")
	case ScheduleCompleted:
		return New(CodeNotDue, "scheduled payment "+p.ID+" completed")
	}
	if !p.IsDue(now) {
		return New(CodeNotDue, "scheduled payment "+p.ID+" not due")
	}
	return nil
}

// MarshalJSON renders amounts with two decimal places.
func (p ScheduledPayment) MarshalJSON() ([]byte, error) {
	type plain ScheduledPayment
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(p), FormatAmount(p.Amount)})
}
