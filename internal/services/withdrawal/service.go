// Package withdrawal implements the two-phase withdrawal state machine: a
// request stages a pending payout, an explicit confirmation executes it. The
// debit and the daemon payout call are one atomic unit; a payout that
// definitely failed rolls the debit back, and a payout with an unknown
// outcome freezes the account for operator reconciliation instead of
// guessing.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/metrics"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
	"github.com/wbubblerteam/bubcoin-bot/internal/walletd"
	"github.com/wbubblerteam/bubcoin-bot/pkg/logger"
)

// Payer issues the irreversible on-chain payout.
type Payer interface {
	SendMany(ctx context.Context, amounts map[string]string, minConf int, comment string) (string, error)
}

var (
	// ErrNoPendingWithdrawal means confirm was called with nothing staged.
	ErrNoPendingWithdrawal = errors.New("no pending withdrawal")
	// ErrDaemonUnavailable means the wallet daemon is unreachable and the
	// withdrawal was rejected before any mutation.
	ErrDaemonUnavailable = errors.New("wallet daemon unavailable; try again later")
)

// InconsistencyError reports a payout whose outcome is unknown after the
// debit committed. The account is frozen and needs operator reconciliation;
// this must never be presented as success.
type InconsistencyError struct {
	UserID  string
	Address string
	Amount  ledger.Amount
	Err     error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("withdrawal of %s for user %s has an unknown payout outcome; account frozen pending reconciliation",
		e.Amount, e.UserID)
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}

// Receipt reports an executed withdrawal.
type Receipt struct {
	ID         string
	UserID     string
	Address    string
	Amount     ledger.Amount
	TxID       string
	NewBalance ledger.Amount
}

// Outcome is the result of a withdrawal request or confirmation. Pending is
// true when the withdrawal was staged and awaits confirmation; Balance is
// then a preview of the balance after execution. When Receipt is set the
// payout happened and Balance is the committed new balance.
type Outcome struct {
	Pending bool
	Address string
	Amount  ledger.Amount
	Balance ledger.Amount
	Receipt *Receipt
}

// Service owns the pending-withdrawal state and the payout path.
type Service struct {
	store   storage.AccountStore
	payer   Payer
	healthy func() bool
	minConf int
	log     *logger.Logger

	mu      sync.Mutex
	pending map[string]ledger.PendingWithdrawal
}

// Option configures the service.
type Option func(*Service)

// WithHealthGate installs a daemon health probe; while it reports false,
// withdrawals fail fast with ErrDaemonUnavailable instead of queuing payouts
// against an absent daemon.
func WithHealthGate(healthy func() bool) Option {
	return func(s *Service) { s.healthy = healthy }
}

// New constructs a withdrawal service. minConf is the confirmation target
// passed to every payout.
func New(store storage.AccountStore, payer Payer, minConf int, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("withdrawal")
	}
	s := &Service{
		store:   store,
		payer:   payer,
		minConf: minConf,
		log:     log,
		pending: make(map[string]ledger.PendingWithdrawal),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request proposes a withdrawal. Without confirm it validates, stages a
// pending entry (replacing any previous one) and returns a balance preview;
// nothing is debited. With confirm it executes immediately.
func (s *Service) Request(ctx context.Context, userID string, amount ledger.Amount, confirm bool) (Outcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Outcome{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidInput)
	}

	if confirm {
		return s.execute(ctx, userID, amount)
	}

	acct, err := s.store.Get(ctx, userID)
	acctPtr := &acct
	if errors.Is(err, storage.ErrNotFound) {
		acctPtr = nil
	} else if err != nil {
		return Outcome{}, err
	}

	if err := ledger.CheckSpend(acctPtr, amount); err != nil {
		return Outcome{}, err
	}
	if !acct.HasVerifiedAddress() {
		return Outcome{}, ledger.ErrNoVerifiedAddress
	}

	s.mu.Lock()
	s.pending[userID] = ledger.PendingWithdrawal{
		AccountID:   userID,
		Amount:      amount,
		RequestedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	return Outcome{
		Pending: true,
		Address: acct.VerifiedAddress,
		Amount:  amount,
		Balance: acct.Balance - amount,
	}, nil
}

// Confirm executes the pending withdrawal staged by an earlier Request. The
// full validity chain runs again against current state: a pending amount
// never bypasses validation. The entry is consumed the moment it is read, so
// concurrent confirmations of the same entry execute at most one payout; the
// losers fail with ErrNoPendingWithdrawal. A failed execution puts the entry
// back unless a newer request superseded it meanwhile.
func (s *Service) Confirm(ctx context.Context, userID string) (Outcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Outcome{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidInput)
	}

	s.mu.Lock()
	entry, ok := s.pending[userID]
	if ok {
		delete(s.pending, userID)
	}
	s.mu.Unlock()
	if !ok {
		return Outcome{}, ErrNoPendingWithdrawal
	}

	outcome, err := s.execute(ctx, userID, entry.Amount)
	if err != nil {
		s.restorePending(entry)
		return Outcome{}, err
	}
	return outcome, nil
}

// restorePending puts a consumed entry back after a failed execution, unless
// a fresh request replaced it in the meantime.
func (s *Service) restorePending(entry ledger.PendingWithdrawal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[entry.AccountID]; !ok {
		s.pending[entry.AccountID] = entry
	}
}

// execute debits the account and issues the payout as one atomic unit.
func (s *Service) execute(ctx context.Context, userID string, amount ledger.Amount) (Outcome, error) {
	if s.healthy != nil && !s.healthy() {
		return Outcome{}, ErrDaemonUnavailable
	}

	start := time.Now()
	var (
		receipt       Receipt
		inconsistency *InconsistencyError
	)

	err := s.store.Atomically(ctx, []string{userID}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.Get(ctx, userID)
		acctPtr := &acct
		if errors.Is(err, storage.ErrNotFound) {
			acctPtr = nil
		} else if err != nil {
			return err
		}

		if err := ledger.CheckSpend(acctPtr, amount); err != nil {
			return err
		}
		if !acct.HasVerifiedAddress() {
			return ledger.ErrNoVerifiedAddress
		}

		acct.Balance -= amount
		if err := tx.Save(ctx, acct); err != nil {
			return err
		}

		txid, err := s.payer.SendMany(ctx,
			map[string]string{acct.VerifiedAddress: amount.String()},
			s.minConf,
			fmt.Sprintf("withdrawal for user %s", userID),
		)
		if err != nil {
			var transportErr *walletd.TransportError
			if errors.As(err, &transportErr) && transportErr.MaybeSent {
				// The payout may have happened. Keep the debit, freeze the
				// account, and commit so reconciliation starts from the
				// pessimistic side. Rolling back here could pay out twice.
				acct.Frozen = true
				if saveErr := tx.Save(ctx, acct); saveErr != nil {
					return saveErr
				}
				inconsistency = &InconsistencyError{
					UserID:  userID,
					Address: acct.VerifiedAddress,
					Amount:  amount,
					Err:     err,
				}
				return nil
			}
			// Definite failure: abort so the debit never commits.
			return fmt.Errorf("payout: %w", err)
		}

		receipt = Receipt{
			ID:         uuid.NewString(),
			UserID:     userID,
			Address:    acct.VerifiedAddress,
			Amount:     amount,
			TxID:       txid,
			NewBalance: acct.Balance,
		}
		return nil
	})
	metrics.RecordPayout(time.Since(start))
	if err != nil {
		var transportErr *walletd.TransportError
		if errors.As(err, &transportErr) && !transportErr.MaybeSent {
			return Outcome{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, transportErr.Err)
		}
		return Outcome{}, err
	}

	if inconsistency != nil {
		metrics.RecordInconsistency()
		s.log.WithError(inconsistency.Err).
			WithField("user_id", inconsistency.UserID).
			WithField("address", inconsistency.Address).
			WithField("amount", inconsistency.Amount.String()).
			Error("payout outcome unknown after debit; account frozen")
		return Outcome{}, inconsistency
	}

	s.clearPending(userID)

	s.log.WithField("user_id", userID).
		WithField("txid", receipt.TxID).
		Infof("paid out %s to %s", amount, receipt.Address)

	return Outcome{
		Address: receipt.Address,
		Amount:  amount,
		Balance: receipt.NewBalance,
		Receipt: &receipt,
	}, nil
}

func (s *Service) clearPending(userID string) {
	s.mu.Lock()
	delete(s.pending, userID)
	s.mu.Unlock()
}

// PendingFor returns the staged withdrawal for a user, if any.
func (s *Service) PendingFor(userID string) (ledger.PendingWithdrawal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[userID]
	return entry, ok
}
