// Package memory provides an in-memory account store. It is safe for
// concurrent use and is primarily intended for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
)

// Store keeps accounts in a map guarded by a store-wide mutex, with one
// additional mutex per account so Atomically serializes per account without
// blocking transactions on disjoint accounts.
type Store struct {
	mu       sync.Mutex
	accounts map[string]ledger.Account
	locks    map[string]*sync.Mutex
}

var _ storage.AccountStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]ledger.Account),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) Get(_ context.Context, id string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

// CreateOrGet takes the account's lock so it serializes against any
// in-flight Atomically transaction on the same account instead of racing its
// commit.
func (s *Store) CreateOrGet(_ context.Context, id string) (ledger.Account, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createOrGetLocked(id), nil
}

func (s *Store) createOrGetLocked(id string) ledger.Account {
	if acct, ok := s.accounts[id]; ok {
		return acct
	}
	now := time.Now().UTC()
	acct := ledger.Account{ID: id, CreatedAt: now, UpdatedAt: now}
	s.accounts[id] = acct
	return acct
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

// Atomically locks the listed accounts in canonical order, then runs fn over
// a buffered view. Writes are staged and only applied when fn returns nil.
func (s *Store) Atomically(ctx context.Context, ids []string, fn func(ctx context.Context, tx storage.Tx) error) error {
	ordered := storage.LockOrder(ids)
	for _, id := range ordered {
		l := s.lockFor(id)
		l.Lock()
		defer l.Unlock()
	}

	view := &tx{store: s, staged: make(map[string]ledger.Account)}
	if err := fn(ctx, view); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acct := range view.staged {
		acct.UpdatedAt = time.Now().UTC()
		s.accounts[id] = acct
	}
	return nil
}

// tx buffers writes so an aborted callback leaves no partial effect.
type tx struct {
	store  *Store
	staged map[string]ledger.Account
}

func (t *tx) Get(_ context.Context, id string) (ledger.Account, error) {
	if acct, ok := t.staged[id]; ok {
		return acct, nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	acct, ok := t.store.accounts[id]
	if !ok {
		return ledger.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (t *tx) CreateOrGet(ctx context.Context, id string) (ledger.Account, error) {
	acct, err := t.Get(ctx, id)
	if err == nil {
		return acct, nil
	}
	now := time.Now().UTC()
	acct = ledger.Account{ID: id, CreatedAt: now, UpdatedAt: now}
	t.staged[id] = acct
	return acct, nil
}

func (t *tx) Save(_ context.Context, acct ledger.Account) error {
	t.staged[acct.ID] = acct
	return nil
}
