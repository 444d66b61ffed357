package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/repository"
)

type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod reads a period name. An empty name is a month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodMonth, nil
	case PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	}
	return "", domain.Validation(fmt.Sprintf("unknown period %q (want week, month or year)", s))
}

// Days is the length of the trailing window the period covers.
func (p Period) Days() int {
	switch p {
	case PeriodWeek:
		return 7
	case PeriodYear:
		return 365
	}
	return 30
}

type CategorySpend struct {
	Name       string  `json:"name"`
	Amount     string  `json:"amount"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type RecipientSpend struct {
	Recipient  string  `json:"recipient"`
	Name       string  `json:"name,omitempty"`
	Amount     string  `json:"amount"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Spending summarises completed outgoing payments over a trailing window.
type Spending struct {
	Period           Period           `json:"period"`
	From             time.Time        `json:"from"`
	To               time.Time        `json:"to"`
	TotalSpent       string           `json:"total_spent"`
	TransactionCount int              `json:"transaction_count"`
	AverageDaily     string           `json:"average_daily"`
	PreviousTotal    string           `json:"previous_total"`
	Trend            string           `json:"trend"`
	Categories       []CategorySpend  `json:"categories"`
	Recipients       []RecipientSpend `json:"recipients"`
}

// Spending aggregates completed ledger entries in the period ending at now
// by category and by recipient, and compares the total with the period
// before it.
func (r *Reporter) Spending(ctx context.Context, period Period, now time.Time) (*Spending, error) {
	window := time.Duration(period.Days()) * 24 * time.Hour
	from := now.Add(-window)
	prevFrom := from.Add(-window)
	prevTo := from.Add(-time.Nanosecond)

	current, err := r.ledger.List(ctx, repository.EntryFilter{Status: domain.EntryCompleted, From: &from, To: &now})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	previous, err := r.ledger.List(ctx, repository.EntryFilter{Status: domain.EntryCompleted, From: &prevFrom, To: &prevTo})
	if err != nil {
		return nil, fmt.Errorf("list previous ledger entries: %w", err)
	}

	total := decimal.Zero
	categories := make(map[string]*bucket)
	recipients := make(map[string]*bucket)
	for _, e := range current {
		total = total.Add(e.Amount)

		cat := Categorize(e.RecipientName + " " + e.Note)
		c, ok := categories[cat]
		if !ok {
			c = &bucket{key: cat}
			categories[cat] = c
		}
		c.amount = c.amount.Add(e.Amount)
		c.count++

		rc, ok := recipients[e.Recipient]
		if !ok {
			rc = &bucket{key: e.Recipient}
			recipients[e.Recipient] = rc
		}
		if e.RecipientName != "" {
			rc.name = e.RecipientName
		}
		rc.amount = rc.amount.Add(e.Amount)
		rc.count++
	}

	prevTotal := decimal.Zero
	for _, e := range previous {
		prevTotal = prevTotal.Add(e.Amount)
	}

	out := &Spending{
		Period:           period,
		From:             from,
		To:               now,
		TotalSpent:       domain.FormatAmount(total),
		TransactionCount: len(current),
		AverageDaily:     domain.FormatAmount(total.Div(decimal.NewFromInt(int64(period.Days()))).Round(2)),
		PreviousTotal:    domain.FormatAmount(prevTotal),
		Trend:            trend(total, prevTotal),
		Categories:       []CategorySpend{},
		Recipients:       []RecipientSpend{},
	}

	for _, c := range sortBuckets(categories) {
		out.Categories = append(out.Categories, CategorySpend{
			Name:       c.key,
			Amount:     domain.FormatAmount(c.amount),
			Count:      c.count,
			Percentage: share(c.amount, total),
		})
	}
	for _, rc := range sortBuckets(recipients) {
		out.Recipients = append(out.Recipients, RecipientSpend{
			Recipient:  rc.key,
			Name:       rc.name,
			Amount:     domain.FormatAmount(rc.amount),
			Count:      rc.count,
			Percentage: share(rc.amount, total),
		})
	}
	return out, nil
}

var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"Transport", []string{"uber", "taxi", "transport", "bolt", "fuel"}},
	{"Food & Dining", []string{"food", "restaurant", "cafe", "coffee", "dinner", "lunch"}},
	{"Shopping", []string{"shop", "store", "mall"}},
	{"Utilities", []string{"electricity", "water", "utility", "airtime"}},
	{"Housing", []string{"rent", "landlord"}},
}

// Categorize files a payment under a spending category by keywords in its
// recipient name and note.
func Categorize(text string) string {
	text = strings.ToLower(text)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.name
			}
		}
	}
	return "Other"
}

// FormatSpending renders the analytics as a short markdown report.
func FormatSpending(s *Spending) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	name := string(s.Period)
	line("# Spending Report - %s", strings.ToUpper(name[:1])+name[1:])
	line("")
	line("## Summary")
	line("- Total Spent: R%s", s.TotalSpent)
	line("- Payments: %d", s.TransactionCount)
	line("- Trend: %s", s.Trend)
	line("- Average Daily: R%s", s.AverageDaily)
	line("")
	line("## Top Categories")
	if len(s.Categories) == 0 {
		line("- none")
	}
	for _, c := range s.Categories {
		line("- %s: R%s (%.1f%%)", c.Name, c.Amount, c.Percentage)
	}
	line("")
	line("## Insights")
	if len(s.Categories) == 0 {
		line("- No completed payments in this %s", name)
		return strings.TrimSpace(b.String())
	}
	line("- Your biggest expense category is %s", s.Categories[0].Name)
	for _, c := range s.Categories {
		if c.Percentage > 25 {
			line("- Consider setting a budget for %s, over 25%% of spending", c.Name)
		}
	}
	line("- Your spending trend is %s compared to last %s", s.Trend, name)
	return strings.TrimSpace(b.String())
}

type bucket struct {
	key    string
	name   string
	amount decimal.Decimal
	count  int
}

// sortBuckets orders buckets by amount, largest first, then by key.
func sortBuckets(m map[string]*bucket) []*bucket {
	out := make([]*bucket, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].amount.Cmp(out[j].amount); c != 0 {
			return c > 0
		}
		return out[i].key < out[j].key
	})
	return out
}

func share(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return part.Mul(decimal.NewFromInt(100)).Div(total).Round(1).InexactFloat64()
}

// trend is the signed percentage change from prev to cur, or "n/a" when
// there was nothing to compare with.
func trend(cur, prev decimal.Decimal) string {
	if prev.IsZero() {
		return "n/a"
	}
	pct := cur.Sub(prev).Mul(decimal.NewFromInt(100)).Div(prev).Round(1)
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + pct.StringFixed(1) + "%"
}
