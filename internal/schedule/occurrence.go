package schedule

import (
	"time"

	"github.com/zarpay/paycore/internal/domain"
)

// NextOccurrence returns the due date following from. Monthly and yearly
// steps keep the day of month when the target month has it and otherwise
// clamp to the month's last day, so 31 Jan is followed by 28 Feb. Once
// returns from unchanged; the caller completes the payment instead.
func NextOccurrence(freq domain.Frequency, from time.Time) time.Time {
	switch freq {
	case domain.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case domain.FrequencyMonthly:
		return addMonths(from, 1)
	case domain.FrequencyYearly:
		return addMonths(from, 12)
	default:
		return from
	}
}

// addMonths is time.AddDate without the overflow into the following month.
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), day, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}
