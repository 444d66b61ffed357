// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DBPath      string `env:"DB_PATH" envDefault:"zarpay.db"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DueScanInterval   time.Duration `env:"DUE_SCAN_INTERVAL" envDefault:"1m"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`
	SettlementTimeout time.Duration `env:"SETTLEMENT_TIMEOUT" envDefault:"6h"`
	NotifyTimeout     time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	PaymentRequestTTL time.Duration `env:"PAYMENT_REQUEST_TTL" envDefault:"24h"`
	SettlementWindow  time.Duration `env:"SETTLEMENT_WINDOW" envDefault:"48h"`

	FiatCurrency string `env:"FIAT_CURRENCY" envDefault:"ZAR"`
	NetworkFee   string `env:"NETWORK_FEE" envDefault:"0.10"`
	WalletName   string `env:"WALLET_NAME" envDefault:"Your Wallet"`

	NotifyWebhookURL    string `env:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string `env:"NOTIFY_WEBHOOK_SECRET"`
	OTelEndpoint        string `env:"OTEL_ENDPOINT"`

	SimulatedStageDelay time.Duration `env:"SIMULATED_STAGE_DELAY" envDefault:"2s"`
	SeedDemo            bool          `env:"SEED_DEMO" envDefault:"false"`
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DueScanInterval <= 0 {
		return errors.New("DUE_SCAN_INTERVAL must be positive")
	}
	if c.GatewayTimeout <= 0 || c.SettlementTimeout <= 0 || c.NotifyTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.PaymentRequestTTL <= 0 {
		return errors.New("PAYMENT_REQUEST_TTL must be positive")
	}
	if c.SettlementWindow <= 0 {
		return errors.New("SETTLEMENT_WINDOW must be positive")
	}
	if c.NotifyWebhookURL != "" && c.NotifyWebhookSecret == "" {
		return errors.New("NOTIFY_WEBHOOK_SECRET is required with NOTIFY_WEBHOOK_URL")
	}
	return nil
}
