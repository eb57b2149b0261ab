// Package verification binds on-chain addresses to chat identities after the
// wallet daemon has vouched for address validity and signature ownership.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
	"github.com/wbubblerteam/bubcoin-bot/internal/walletd"
	"github.com/wbubblerteam/bubcoin-bot/pkg/logger"
)

// Daemon is the slice of the wallet daemon this service consumes. Both calls
// are externally read-only.
type Daemon interface {
	ValidateAddress(ctx context.Context, address string) (walletd.AddressInfo, error)
	VerifyMessage(ctx context.Context, address, signature, message string) (bool, error)
}

var (
	// ErrInvalidAddress means the daemon rejected the claimed address.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidSignature means the signature does not prove ownership.
	ErrInvalidSignature = errors.New("invalid cryptographic signature")
)

// Result reports a successful verification. PreviousAddress is set only when
// the account had a verified address before this call.
type Result struct {
	Address         string
	PreviousAddress string
}

// Service implements the address verification protocol.
type Service struct {
	store  storage.AccountStore
	daemon Daemon
	log    *logger.Logger
}

// New constructs a verification service.
func New(store storage.AccountStore, daemon Daemon, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("verification")
	}
	return &Service{store: store, daemon: daemon, log: log}
}

// Verify validates the claimed address, checks the signature over the user's
// canonical id string, and on success binds both to the account, creating it
// if absent. Rebinding is always permitted: the account id, not the address,
// anchors the balance. Both daemon calls complete before any ledger lock is
// taken.
func (s *Service) Verify(ctx context.Context, userID, address, signature string) (Result, error) {
	userID = strings.TrimSpace(userID)
	address = strings.TrimSpace(address)
	signature = strings.TrimSpace(signature)

	if userID == "" {
		return Result{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidInput)
	}
	if address == "" || signature == "" {
		return Result{}, fmt.Errorf("%w: address and signature are required", ledger.ErrInvalidInput)
	}

	info, err := s.daemon.ValidateAddress(ctx, address)
	if err != nil {
		return Result{}, fmt.Errorf("validate address: %w", err)
	}
	if !info.IsValid {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}

	// The signed message is the user's id in canonical string form.
	verified, err := s.daemon.VerifyMessage(ctx, address, signature, userID)
	if err != nil {
		return Result{}, fmt.Errorf("verify message: %w", err)
	}
	if !verified {
		return Result{}, ErrInvalidSignature
	}

	var result Result
	err = s.store.Atomically(ctx, []string{userID}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.CreateOrGet(ctx, userID)
		if err != nil {
			return err
		}
		result = Result{Address: address, PreviousAddress: acct.VerifiedAddress}
		acct.VerifiedAddress = address
		acct.VerifiedSignature = signature
		return tx.Save(ctx, acct)
	})
	if err != nil {
		return Result{}, fmt.Errorf("bind address: %w", err)
	}

	s.log.WithField("user_id", userID).Infof("verified address %s", address)
	return result, nil
}
