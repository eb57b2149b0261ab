// Package postgres implements the account store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
)

// Store implements storage.AccountStore backed by PostgreSQL. Atomically maps
// to a database transaction with per-row FOR UPDATE locks, which gives the
// per-account serializability the ledger requires.
type Store struct {
	db *sqlx.DB
}

var _ storage.AccountStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, verified_address, verified_signature, balance, frozen, created_at, updated_at`

func (s *Store) Get(ctx context.Context, id string) (ledger.Account, error) {
	var acct ledger.Account
	err := s.db.GetContext(ctx, &acct, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) CreateOrGet(ctx context.Context, id string) (ledger.Account, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, now)
	if err != nil {
		return ledger.Account{}, err
	}
	return s.Get(ctx, id)
}

// Atomically runs fn inside a database transaction. The listed accounts are
// row-locked up front in canonical order so overlapping transactions cannot
// deadlock; rows that do not exist yet are locked when CreateOrGet inserts
// them.
func (s *Store) Atomically(ctx context.Context, ids []string, fn func(ctx context.Context, tx storage.Tx) error) error {
	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback() //nolint:errcheck // no-op after commit

	for _, id := range storage.LockOrder(ids) {
		var locked string
		err := dbtx.GetContext(ctx, &locked, `
			SELECT id FROM accounts WHERE id = $1 FOR UPDATE
		`, id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock account %s: %w", id, err)
		}
	}

	if err := fn(ctx, &tx{dbtx: dbtx}); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	dbtx *sqlx.Tx
}

func (t *tx) Get(ctx context.Context, id string) (ledger.Account, error) {
	var acct ledger.Account
	err := t.dbtx.GetContext(ctx, &acct, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (t *tx) CreateOrGet(ctx context.Context, id string) (ledger.Account, error) {
	now := time.Now().UTC()
	_, err := t.dbtx.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, now)
	if err != nil {
		return ledger.Account{}, err
	}
	return t.Get(ctx, id)
}

func (t *tx) Save(ctx context.Context, acct ledger.Account) error {
	result, err := t.dbtx.ExecContext(ctx, `
		UPDATE accounts
		SET verified_address = $2, verified_signature = $3, balance = $4, frozen = $5, updated_at = $6
		WHERE id = $1
	`, acct.ID, acct.VerifiedAddress, acct.VerifiedSignature, acct.Balance, acct.Frozen, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}
