package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DBPath != "zarpay.db" || cfg.FiatCurrency != "ZAR" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PaymentRequestTTL != 24*time.Hour || cfg.DueScanInterval != time.Minute {
		t.Fatalf("unexpected duration defaults %+v", cfg)
	}
	if cfg.SeedDemo {
		t.Fatal("expected demo seeding off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("SEED_DEMO", "true")

	cfg, err := Load(missingFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.GatewayTimeout != 5*time.Second || !cfg.SeedDemo {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("ZARPAY_TEST_ONLY=1\nFIAT_CURRENCY=USD\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("FIAT_CURRENCY", "KES")
	t.Cleanup(func() { os.Unsetenv("ZARPAY_TEST_ONLY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FiatCurrency != "KES" {
		t.Fatalf("expected environment to win over file, got %s", cfg.FiatCurrency)
	}
	if os.Getenv("ZARPAY_TEST_ONLY") != "1" {
		t.Fatal("expected file variables to be loaded")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := map[string][2]string{
		"bad duration":        {"GATEWAY_TIMEOUT", "soon"},
		"non-positive ttl":    {"PAYMENT_REQUEST_TTL", "0s"},
		"webhook sans secret": {"NOTIFY_WEBHOOK_URL", "http://example.test/hook"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(missingFile(t)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	t.Setenv("DUE_SCAN_INTERVAL", "x")
	_, err := Load(missingFile(t))
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
