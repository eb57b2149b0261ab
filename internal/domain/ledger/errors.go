package ledger

import (
	"errors"
	"fmt"
)

// Validation errors shared by the transfer and withdrawal paths.
var (
	// ErrInvalidInput marks malformed caller input: missing fields,
	// unparseable amounts, bad request bodies. Wrapped errors carry the
	// specifics.
	ErrInvalidInput = errors.New("invalid input")

	ErrZeroAmount        = errors.New("amount must be greater than zero")
	ErrExceedsSupply     = errors.New("amount exceeds the maximum coin supply")
	ErrNoAccount         = errors.New("no account on record; verify an address first")
	ErrAccountFrozen     = errors.New("account is frozen pending reconciliation")
	ErrNoVerifiedAddress = errors.New("no verified address on record; verify one first")
)

// InsufficientFundsError reports a spend larger than the current balance.
type InsufficientFundsError struct {
	Balance   Amount
	Requested Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance is %s, short %s",
		e.Balance, e.Requested-e.Balance)
}
