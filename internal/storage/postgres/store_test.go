package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func accountRows(acct ledger.Account) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "verified_address", "verified_signature", "balance", "frozen", "created_at", "updated_at",
	}).AddRow(acct.ID, acct.VerifiedAddress, acct.VerifiedSignature, int64(acct.Balance), acct.Frozen, time.Now(), time.Now())
}

func TestGet(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(`SELECT id, verified_address`).
		WithArgs("42").
		WillReturnRows(accountRows(ledger.Account{ID: "42", VerifiedAddress: "addrA", Balance: 5 * ledger.Coin}))

	acct, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "42", acct.ID)
	require.Equal(t, "addrA", acct.VerifiedAddress)
	require.Equal(t, 5*ledger.Coin, acct.Balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(`SELECT id, verified_address`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetInsertsOnce(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(`INSERT INTO accounts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, verified_address`).
		WithArgs("42").
		WillReturnRows(accountRows(ledger.Account{ID: "42"}))

	acct, err := store.CreateOrGet(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "42", acct.ID)
	require.Zero(t, acct.Balance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicallyCommits(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("42"))
	mock.ExpectQuery(`SELECT id, verified_address`).
		WithArgs("42").
		WillReturnRows(accountRows(ledger.Account{ID: "42", Balance: 10}))
	mock.ExpectExec(`UPDATE accounts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Atomically(context.Background(), []string{"42"}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.Get(ctx, "42")
		if err != nil {
			return err
		}
		acct.Balance -= 3
		return tx.Save(ctx, acct)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicallyRollsBackOnError(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("42"))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.Atomically(context.Background(), []string{"42"}, func(ctx context.Context, tx storage.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicallyLocksInCanonicalOrder(t *testing.T) {
	store, mock := newMock(t)

	// ids arrive unsorted and with a duplicate; locks must be taken once
	// each, in sorted order.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("b").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b"))
	mock.ExpectCommit()

	err := store.Atomically(context.Background(), []string{"b", "a", "b"}, func(ctx context.Context, tx storage.Tx) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMissingAccount(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`UPDATE accounts`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Atomically(context.Background(), []string{"ghost"}, func(ctx context.Context, tx storage.Tx) error {
		return tx.Save(ctx, ledger.Account{ID: "ghost"})
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
