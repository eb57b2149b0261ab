// Package transfer moves balance between custodial accounts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
	"github.com/wbubblerteam/bubcoin-bot/pkg/logger"
)

// Result reports a committed transfer.
type Result struct {
	From        string
	To          string
	Amount      ledger.Amount
	FromBalance ledger.Amount
	ToBalance   ledger.Amount
}

// Service implements internal balance transfers.
type Service struct {
	store storage.AccountStore
	log   *logger.Logger
}

// New constructs a transfer service.
func New(store storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transfer")
	}
	return &Service{store: store, log: log}
}

// Transfer debits the sender and credits the recipient in one transaction,
// creating the recipient's record if absent. The spend check runs against the
// sender's transactional view, so concurrent transfers from the same account
// serialize and can never both spend the same balance. Self-transfers pass
// through the same checks and are balance-neutral.
func (s *Service) Transfer(ctx context.Context, from, to string, amount ledger.Amount) (Result, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return Result{}, fmt.Errorf("%w: sender and recipient are required", ledger.ErrInvalidInput)
	}

	var result Result
	err := s.store.Atomically(ctx, []string{from, to}, func(ctx context.Context, tx storage.Tx) error {
		sender, err := tx.Get(ctx, from)
		senderPtr := &sender
		if errors.Is(err, storage.ErrNotFound) {
			senderPtr = nil
		} else if err != nil {
			return err
		}

		if err := ledger.CheckSpend(senderPtr, amount); err != nil {
			return err
		}

		if from == to {
			result = Result{From: from, To: to, Amount: amount, FromBalance: sender.Balance, ToBalance: sender.Balance}
			return nil
		}

		recipient, err := tx.CreateOrGet(ctx, to)
		if err != nil {
			return err
		}
		if recipient.Balance+amount > ledger.MaxSupply {
			return ledger.ErrExceedsSupply
		}

		sender.Balance -= amount
		recipient.Balance += amount

		if err := tx.Save(ctx, sender); err != nil {
			return err
		}
		if err := tx.Save(ctx, recipient); err != nil {
			return err
		}

		result = Result{From: from, To: to, Amount: amount, FromBalance: sender.Balance, ToBalance: recipient.Balance}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.log.WithField("from", from).WithField("to", to).Infof("transferred %s", amount)
	return result, nil
}
