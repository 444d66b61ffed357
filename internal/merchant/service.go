// Package merchant tracks payments received by a merchant wallet, issues
// refunds through the transfer gateway and summarises revenue.
package merchant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/repository"
)

const topProductCount = 3

type Service struct {
	repo     *repository.MerchantRepo
	transfer gateway.TransferGateway
	clock    clock.Clock
	timeout  time.Duration
	log      *zap.Logger

	// refundMu serialises refunds so the refunded total is checked and
	// recorded atomically.
	refundMu sync.Mutex
}

func NewService(repo *repository.MerchantRepo, transfer gateway.TransferGateway, c clock.Clock, timeout time.Duration, log *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{repo: repo, transfer: transfer, clock: c, timeout: timeout, log: log.Named("merchant")}
}

// RecordParams describes an incoming customer payment.
type RecordParams struct {
	Amount          decimal.Decimal
	CustomerAddress string
	CustomerName    string
	ProductName     string
	TxHash          string
	Note            string
}

// Record stores a completed incoming payment.
func (s *Service) Record(ctx context.Context, p RecordParams) (*domain.MerchantTransaction, error) {
	if err := domain.ValidateAmount(p.Amount); err != nil {
		return nil, err
	}
	if err := domain.ValidateAddress(p.CustomerAddress); err != nil {
		return nil, err
	}
	hash := p.TxHash
	if hash == "" {
		hash = domain.NewID("tx")
	}

	tx := &domain.MerchantTransaction{
		ID:              domain.NewID("merch"),
		Type:            domain.MerchantPayment,
		Amount:          p.Amount,
		CustomerAddress: p.CustomerAddress,
		CustomerName:    p.CustomerName,
		ProductName:     p.ProductName,
		Timestamp:       s.clock.Now(),
		Status:          domain.MerchantCompleted,
		TxHash:          hash,
		Note:            p.Note,
	}
	if err := s.repo.Insert(ctx, tx); err != nil {
		return nil, fmt.Errorf("store merchant payment: %w", err)
	}
	s.log.Info("merchant payment recorded", zap.String("id", tx.ID), zap.String("amount", tx.Amount.String()))
	return tx, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.MerchantTransaction, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns transactions newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.MerchantTransaction, error) {
	if limit < 0 || offset < 0 {
		return nil, domain.Validation("limit and offset must not be negative")
	}
	return s.repo.List(ctx, repository.MerchantFilter{Limit: limit, Offset: offset})
}

// Refund returns amount of a completed payment to its customer. The sum of
// completed refunds never exceeds the original amount. A failed transfer
// is recorded as a failed refund and surfaced as a TransferFailed error.
func (s *Service) Refund(ctx context.Context, originalID string, amount decimal.Decimal, reason string) (*domain.MerchantTransaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	s.refundMu.Lock()
	defer s.refundMu.Unlock()

	orig, err := s.repo.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Type != domain.MerchantPayment || orig.Status != domain.MerchantCompleted {
		return nil, domain.Validation("only completed payments can be refunded")
	}

	prior, err := s.repo.List(ctx, repository.MerchantFilter{Type: domain.MerchantRefund, OriginalID: originalID})
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	refunded := decimal.Zero
	for _, r := range prior {
		if r.Status == domain.MerchantCompleted {
			refunded = refunded.Add(r.Amount)
		}
	}
	if remaining := orig.Amount.Sub(refunded); amount.GreaterThan(remaining) {
		return nil, domain.Validation(fmt.Sprintf("refund of %s exceeds refundable balance %s", amount, remaining))
	}

	refund := &domain.MerchantTransaction{
		ID:              domain.NewID("refund"),
		Type:            domain.MerchantRefund,
		Amount:          amount,
		CustomerAddress: orig.CustomerAddress,
		CustomerName:    orig.CustomerName,
		ProductName:     orig.ProductName,
		Timestamp:       s.clock.Now(),
		OriginalID:      orig.ID,
	}
	if reason != "" {
		refund.Note = "Refund: " + reason
	}

	subCtx, cancel := context.WithTimeout(ctx, s.timeout)
	ref, sendErr := s.transfer.Submit(subCtx, orig.CustomerAddress, amount)
	cancel()

	if sendErr != nil {
		refund.Status = domain.MerchantFailed
	} else {
		refund.Status = domain.MerchantCompleted
		refund.TxHash = ref
	}
	if err := s.repo.Insert(context.WithoutCancel(ctx), refund); err != nil {
		return nil, fmt.Errorf("store refund: %w", err)
	}
	if sendErr != nil {
		s.log.Warn("refund transfer failed", zap.String("original", orig.ID), zap.Error(sendErr))
		return nil, domain.Wrap(domain.CodeTransferFailed, "refund for "+orig.ID+" failed", sendErr)
	}

	s.log.Info("refund processed",
		zap.String("id", refund.ID), zap.String("original", orig.ID), zap.String("amount", amount.String()))
	return refund, nil
}

type ProductStat struct {
	Name    string          `json:"name"`
	Sales   int             `json:"sales"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Stats struct {
	TodayRevenue       decimal.Decimal `json:"today_revenue"`
	WeeklyRevenue      decimal.Decimal `json:"weekly_revenue"`
	MonthlyRevenue     decimal.Decimal `json:"monthly_revenue"`
	TotalTransactions  int             `json:"total_transactions"`
	AverageTransaction decimal.Decimal `json:"average_transaction"`
	TopProducts        []ProductStat   `json:"top_products"`
}

// Stats summarises completed transactions. Revenue windows are net of
// refunds: today starts at UTC midnight, the week and month are the
// trailing 7 and 30 days. The average and product ranking cover payments
// only.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	txns, err := s.repo.List(ctx, repository.MerchantFilter{})
	if err != nil {
		return nil, fmt.Errorf("list merchant transactions: %w", err)
	}

	now := s.clock.Now()
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	weekStart := now.AddDate(0, 0, -7)
	monthStart := now.AddDate(0, 0, -30)

	st := &Stats{TopProducts: []ProductStat{}}
	paymentTotal := decimal.Zero
	products := make(map[string]*ProductStat)

	for _, tx := range txns {
		if tx.Status != domain.MerchantCompleted {
			continue
		}
		signed := tx.Amount
		if tx.Type == domain.MerchantRefund {
			signed = signed.Neg()
		}
		if !tx.Timestamp.Before(startOfDay) {
			st.TodayRevenue = st.TodayRevenue.Add(signed)
		}
		if !tx.Timestamp.Before(weekStart) {
			st.WeeklyRevenue = st.WeeklyRevenue.Add(signed)
		}
		if !tx.Timestamp.Before(monthStart) {
			st.MonthlyRevenue = st.MonthlyRevenue.Add(signed)
		}

		if tx.Type != domain.MerchantPayment {
			continue
		}
		st.TotalTransactions++
		paymentTotal = paymentTotal.Add(tx.Amount)

		name := strings.TrimSpace(tx.ProductName)
		if name == "" {
			continue
		}
		p, ok := products[name]
		if !ok {
			p = &ProductStat{Name: name}
			products[name] = p
		}
		p.Sales++
		p.Revenue = p.Revenue.Add(tx.Amount)
	}

	if st.TotalTransactions > 0 {
		st.AverageTransaction = paymentTotal.Div(decimal.NewFromInt(int64(st.TotalTransactions))).Round(2)
	}

	for _, p := range products {
		st.TopProducts = append(st.TopProducts, *p)
	}
	sort.Slice(st.TopProducts, func(i, j int) bool {
		a, b := st.TopProducts[i], st.TopProducts[j]
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		return a.Name < b.Name
	})
	if len(st.TopProducts) > topProductCount {
		st.TopProducts = st.TopProducts[:topProductCount]
	}
	return st, nil
}
