// Package store records settled payments in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS settlements (
	transaction TEXT PRIMARY KEY,
	network     TEXT NOT NULL,
	payer       TEXT NOT NULL,
	pay_to      TEXT NOT NULL,
	asset       TEXT NOT NULL,
	amount      NUMERIC(78, 0) NOT NULL,
	resource    TEXT NOT NULL,
	settled_at  TIMESTAMPTZ NOT NULL
)`

const insertSettlement = `
INSERT INTO settlements (transaction, network, payer, pay_to, asset, amount, resource, settled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (transaction) DO NOTHING`

// Settlement is one payment settled by the facilitator.
type Settlement struct {
	Transaction string
	Network     string
	Payer       string
	PayTo       string
	Asset       string
	Amount      string // smallest unit
	Resource    string
	SettledAt   time.Time
}

// SettlementStore writes settlements to the settlements table.
type SettlementStore struct {
	db *sql.DB
}

// Open connects to the postgres database at databaseURL.
func Open(ctx context.Context, databaseURL string) (*SettlementStore, error) {
	return openWithDriver(ctx, "postgres", databaseURL)
}

func openWithDriver(ctx context.Context, driver, dsn string) (*SettlementStore, error) {

	// Connect to the database
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Check the database is reachable
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *SettlementStore {
	return &SettlementStore{db: db}
}

// EnsureSchema creates the settlements table if it does not exist.
func (s *SettlementStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create settlements table: %w", err)
	}
	return nil
}

// Record inserts the settlement. Recording the same transaction twice is a no-op.
func (s *SettlementStore) Record(ctx context.Context, st Settlement) error {
	_, err := s.db.ExecContext(ctx, insertSettlement,
		st.Transaction,
		st.Network,
		normalizeAddress(st.Payer),
		normalizeAddress(st.PayTo),
		normalizeAddress(st.Asset),
		st.Amount,
		st.Resource,
		st.SettledAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record settlement %s: %w", st.Transaction, err)
	}
	return nil
}

// Close closes the database handle.
func (s *SettlementStore) Close() error {
	return s.db.Close()
}

// normalizeAddress returns the EIP-55 checksum form of EVM addresses and
// leaves anything else untouched.
func normalizeAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
