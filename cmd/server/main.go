package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zarpay/paycore/internal/api"
	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/config"
	"github.com/zarpay/paycore/internal/currency"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/execution"
	"github.com/zarpay/paycore/internal/fiat"
	"github.com/zarpay/paycore/internal/gateway"
	"github.com/zarpay/paycore/internal/ingestion"
	"github.com/zarpay/paycore/internal/keylock"
	"github.com/zarpay/paycore/internal/logging"
	"github.com/zarpay/paycore/internal/merchant"
	"github.com/zarpay/paycore/internal/paylink"
	"github.com/zarpay/paycore/internal/reconciliation"
	"github.com/zarpay/paycore/internal/report"
	"github.com/zarpay/paycore/internal/repository"
	"github.com/zarpay/paycore/internal/schedule"
	"github.com/zarpay/paycore/internal/telemetry"
	"github.com/zarpay/paycore/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("initializing database", zap.String("path", cfg.DBPath))
	store, err := repository.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	shutdownTracing, err := telemetry.Setup(ctx, "zarpay-paycore", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	c := clock.System{}

	// Gateways.
	transfer := &gateway.SimulatedTransfer{}
	settlement := &gateway.SimulatedSettlement{StageDelay: cfg.SimulatedStageDelay, Now: c.Now}
	var notifier gateway.Notifier = &gateway.LogNotifier{Log: logger.Named("notify")}
	if cfg.NotifyWebhookURL != "" {
		notifier = gateway.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, cfg.NotifyTimeout)
	}

	// Services.
	locks := keylock.New()
	requests := paylink.NewService(store.Requests, paylink.NewCodec(c, cfg.PaymentRequestTTL), locks, c, cfg.PaymentRequestTTL, logger)
	scheduler := schedule.NewScheduler(store.Scheduled, c, logger)
	rates := currency.NewTable(c)
	machine := fiat.NewMachine(store.Fiat, rates, settlement, c, fiat.Config{
		Currency:     cfg.FiatCurrency,
		StageTimeout: cfg.SettlementTimeout,
	}, logger)
	defer machine.Close()
	coord := execution.NewCoordinator(scheduler, requests, locks, store, transfer, notifier, c, execution.Config{
		GatewayTimeout: cfg.GatewayTimeout,
		NotifyTimeout:  cfg.NotifyTimeout,
	}, logger)
	defer coord.Close()
	merchants := merchant.NewService(store.Merchant, transfer, c, cfg.GatewayTimeout, logger)
	reporter := report.NewReporter(store.Ledger, store.Merchant, cfg.NetworkFee, cfg.WalletName)
	reconciler := reconciliation.NewService(machine, store.Settlements, store.Discrepancies, rates, c, cfg.SettlementWindow, logger)
	statements := ingestion.NewService(store.Settlements, reconciler, c, logger)

	if cfg.SeedDemo {
		if err := seedSchedule(ctx, store, scheduler, c, logger); err != nil {
			logger.Warn("failed to seed demo schedule", zap.Error(err))
		}
	}

	router := api.NewRouter(api.Services{
		Requests:    requests,
		Scheduler:   scheduler,
		Fiat:        machine,
		Coordinator: coord,
		Merchant:    merchants,
		Reporter:    reporter,
		Ledger:      store.Ledger,
		Clock:       c,
		Log:         logger,

		Ingestion:     statements,
		Reconciler:    reconciler,
		Settlements:   store.Settlements,
		Discrepancies: store.Discrepancies,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	runner := worker.NewDueRunner(cfg.DueScanInterval, requests, scheduler, coord, c, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", "http://localhost:"+cfg.Port),
			zap.String("api", "http://localhost:"+cfg.Port+"/api/v1"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// seedSchedule adds two demo scheduled payments to an empty database.
func seedSchedule(ctx context.Context, store *repository.Store, scheduler *schedule.Scheduler, c clock.Clock, logger *zap.Logger) error {
	count, err := store.Scheduled.Count(ctx)
	if err != nil {
		return fmt.Errorf("count scheduled payments: %w", err)
	}
	if count > 0 {
		logger.Info("scheduled payments present, skipping seed", zap.Int("count", count))
		return nil
	}

	now := c.Now()
	demo := []schedule.CreateParams{
		{
			Recipient:     "lsk24cd35u4jdq8szo3pnsqe5dsxwrnazyqqqg5eu",
			RecipientName: "Landlord",
			Amount:        decimal.RequireFromString("8500.00"),
			Frequency:     domain.FrequencyMonthly,
			StartDate:     now.AddDate(0, 0, 3),
			Note:          "Monthly rent",
		},
		{
			Recipient:     "lsk8vjsm4ztn4q6v2kzr7u4kh3fkqc4m3v6btk3xc",
			RecipientName: "Coffee Shop",
			Amount:        decimal.RequireFromString("45.00"),
			Frequency:     domain.FrequencyDaily,
			StartDate:     now.Add(time.Hour),
			Note:          "Daily coffee",
		},
	}
	for _, p := range demo {
		if _, err := scheduler.Create(ctx, p); err != nil {
			return err
		}
	}
	logger.Info("seeded demo scheduled payments", zap.Int("count", len(demo)))
	return nil
}
