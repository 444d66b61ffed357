package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite has a single writer, and an in-memory database only exists on
	// the connection that created it.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS payment_requests (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			amount TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			status TEXT NOT NULL,
			transfer_reference TEXT NOT NULL DEFAULT '',
			paid_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_requests_status ON payment_requests(status, expires_at)`,

		`CREATE TABLE IF NOT EXISTS scheduled_payments (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			recipient_name TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			frequency TEXT NOT NULL,
			next_payment_date TEXT NOT NULL,
			last_payment_date TEXT,
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			end_date TEXT,
			is_active INTEGER NOT NULL,
			state TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_payments_state ON scheduled_payments(state, next_payment_date)`,

		`CREATE TABLE IF NOT EXISTS fiat_transactions (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			zar_amount TEXT NOT NULL,
			fiat_amount TEXT NOT NULL,
			exchange_rate TEXT NOT NULL,
			currency TEXT NOT NULL,
			bank_account TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			estimated_completion TEXT NOT NULL,
			settlement_reference TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fiat_transactions_timestamp ON fiat_transactions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			target_kind TEXT NOT NULL,
			target_id TEXT NOT NULL,
			recipient TEXT NOT NULL,
			recipient_name TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			transfer_reference TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_target ON ledger_entries(target_kind, target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_created_at ON ledger_entries(created_at)`,

		`CREATE TABLE IF NOT EXISTS merchant_transactions (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			amount TEXT NOT NULL,
			customer_address TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			product_name TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			status TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			original_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_merchant_transactions_timestamp ON merchant_transactions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_merchant_transactions_original ON merchant_transactions(original_id)`,

		`CREATE TABLE IF NOT EXISTS settlement_reports (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			format TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			file_hash TEXT NOT NULL UNIQUE,
			record_count INTEGER NOT NULL,
			ingested_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settlement_records (
			id TEXT PRIMARY KEY,
			report_id TEXT NOT NULL REFERENCES settlement_reports(id),
			source TEXT NOT NULL,
			fiat_transaction_id TEXT NOT NULL,
			bank_reference TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			settled_at TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			matched INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_records_fiat ON settlement_records(fiat_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_records_matched ON settlement_records(matched)`,

		`CREATE TABLE IF NOT EXISTS discrepancies (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			fiat_transaction_id TEXT NOT NULL DEFAULT '',
			settlement_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			expected TEXT NOT NULL,
			actual TEXT NOT NULL,
			difference TEXT NOT NULL,
			difference_usd TEXT NOT NULL,
			currency TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT NOT NULL,
			detected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_discrepancies_type ON discrepancies(type, severity)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
