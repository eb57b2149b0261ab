// Package accounts exposes account lookup and the operator deposit path.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
	"github.com/wbubblerteam/bubcoin-bot/pkg/logger"
)

// Service provides read access to accounts plus the deposit credit path,
// which sits outside the transfer/withdrawal core: deposits represent
// external funds entering the system after an on-chain deposit has been
// confirmed out of band.
type Service struct {
	store storage.AccountStore
	log   *logger.Logger
}

// New constructs an accounts service.
func New(store storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// Get returns the account for a chat identity.
func (s *Service) Get(ctx context.Context, userID string) (ledger.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidInput)
	}

	acct, err := s.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ledger.Account{}, ledger.ErrNoAccount
	}
	return acct, err
}

// Deposit credits an account, creating it if absent. The per-account supply
// ceiling is enforced; the amount must be positive.
func (s *Service) Deposit(ctx context.Context, userID string, amount ledger.Amount) (ledger.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidInput)
	}
	if amount <= 0 {
		return ledger.Account{}, ledger.ErrZeroAmount
	}

	var updated ledger.Account
	err := s.store.Atomically(ctx, []string{userID}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.CreateOrGet(ctx, userID)
		if err != nil {
			return err
		}
		if acct.Balance+amount > ledger.MaxSupply {
			return ledger.ErrExceedsSupply
		}
		acct.Balance += amount
		if err := tx.Save(ctx, acct); err != nil {
			return err
		}
		updated = acct
		return nil
	})
	if err != nil {
		return ledger.Account{}, err
	}

	s.log.WithField("user_id", userID).Infof("deposited %s", amount)
	return updated, nil
}
