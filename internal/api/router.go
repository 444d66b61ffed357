package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/execution"
	"github.com/zarpay/paycore/internal/fiat"
	"github.com/zarpay/paycore/internal/ingestion"
	"github.com/zarpay/paycore/internal/merchant"
	"github.com/zarpay/paycore/internal/paylink"
	"github.com/zarpay/paycore/internal/reconciliation"
	"github.com/zarpay/paycore/internal/report"
	"github.com/zarpay/paycore/internal/repository"
	"github.com/zarpay/paycore/internal/schedule"
)

// Services are the dependencies of the HTTP surface.
type Services struct {
	Requests    *paylink.Service
	Scheduler   *schedule.Scheduler
	Fiat        *fiat.Machine
	Coordinator *execution.Coordinator
	Merchant    *merchant.Service
	Reporter    *report.Reporter
	Ledger      *repository.LedgerRepo
	Clock       clock.Clock
	Log         *zap.Logger

	Ingestion     *ingestion.Service
	Reconciler    *reconciliation.Service
	Settlements   *repository.SettlementRepo
	Discrepancies *repository.DiscrepancyRepo
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(s Services) http.Handler {
	h := &Handlers{
		requests:  s.Requests,
		scheduler: s.Scheduler,
		fiat:      s.Fiat,
		coord:     s.Coordinator,
		merchant:  s.Merchant,
		reporter:  s.Reporter,
		ledger:    s.Ledger,
		clock:     s.Clock,
		log:       s.Log.Named("api"),

		ingestion:     s.Ingestion,
		reconciler:    s.Reconciler,
		settlements:   s.Settlements,
		discrepancies: s.Discrepancies,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(countRequests)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Payment requests and links.
		r.Post("/requests", h.CreateRequest)
		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)
		r.Get("/requests/{id}/link", h.GetRequestLink)
		r.Post("/requests/{id}/pay", h.PayRequest)
		r.Post("/links/decode", h.DecodeLink)
		r.Post("/links/scan", h.ScanLink)

		// Scheduled payments.
		r.Post("/scheduled", h.CreateScheduled)
		r.Get("/scheduled", h.ListScheduled)
		r.Get("/scheduled/due", h.ListDue)
		r.Get("/scheduled/{id}", h.GetScheduled)
		r.Post("/scheduled/{id}/execute", h.ExecuteScheduled)
		r.Post("/scheduled/{id}/cancel", h.CancelScheduled)

		// Fiat conversions.
		r.Get("/fiat/rate", h.GetRate)
		r.Put("/fiat/rates/{currency}", h.SetRate)
		r.Post("/fiat/buy", h.Buy)
		r.Post("/fiat/sell", h.Sell)
		r.Get("/fiat", h.ListFiat)
		r.Get("/fiat/{id}", h.GetFiat)
		r.Post("/fiat/{id}/events", h.ApplyFiatEvent)

		// Bank settlement statements and reconciliation.
		r.Post("/fiat/statements", h.IngestStatement)
		r.Get("/fiat/statements", h.ListStatements)
		r.Get("/fiat/statements/{id}/records", h.ListStatementRecords)
		r.Post("/fiat/reconcile", h.Reconcile)
		r.Get("/fiat/discrepancies", h.ListDiscrepancies)
		r.Get("/fiat/discrepancies/summary", h.DiscrepancySummary)

		// Ledger.
		r.Get("/ledger", h.ListLedger)
		r.Get("/ledger/export", h.ExportLedger)
		r.Get("/ledger/analytics", h.SpendingAnalytics)
		r.Get("/ledger/{id}/receipt", h.GetReceipt)

		// Merchant.
		r.Post("/merchant/transactions", h.RecordMerchantPayment)
		r.Get("/merchant/transactions", h.ListMerchantTransactions)
		r.Post("/merchant/refunds", h.Refund)
		r.Get("/merchant/stats", h.MerchantStats)
	})

	return r
}
