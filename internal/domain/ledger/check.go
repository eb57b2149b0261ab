package ledger

// CheckSpend decides whether an account can afford a spend. It is the single
// validation path used by both transfers and withdrawals so the two report
// identical failures. acct is nil when the requester has no record. Checks
// run in a fixed order: zero amount, supply ceiling, missing account, frozen
// account, insufficient funds.
func CheckSpend(acct *Account, amount Amount) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if amount > MaxSupply {
		return ErrExceedsSupply
	}
	if acct == nil {
		return ErrNoAccount
	}
	if acct.Frozen {
		return ErrAccountFrozen
	}
	if amount > acct.Balance {
		return &InsufficientFundsError{Balance: acct.Balance, Requested: amount}
	}
	return nil
}
