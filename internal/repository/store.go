package repository

import (
	"database/sql"
	"fmt"
)

// Store is the ledger store: it owns the database handle and every record
// repository. It is created at process start and closed on shutdown.
type Store struct {
	db *sql.DB

	Requests  *PaymentRequestRepo
	Scheduled *ScheduledPaymentRepo
	Fiat      *FiatRepo
	Ledger    *LedgerRepo
	Merchant  *MerchantRepo

	Settlements   *SettlementRepo
	Discrepancies *DiscrepancyRepo
}

// Open initialises the database at dsn and wires the repositories.
func Open(dsn string) (*Store, error) {
	db, err := InitDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	return &Store{
		db:        db,
		Requests:  NewPaymentRequestRepo(db),
		Scheduled: NewScheduledPaymentRepo(db),
		Fiat:      NewFiatRepo(db),
		Ledger:    NewLedgerRepo(db),
		Merchant:  NewMerchantRepo(db),

		Settlements:   NewSettlementRepo(db),
		Discrepancies: NewDiscrepancyRepo(db),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
