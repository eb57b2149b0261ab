package ledger

import "time"

// Account is the custodial ledger record for one chat identity. Records are
// created lazily (first verification or first incoming transfer) and never
// deleted.
type Account struct {
	ID                string    `db:"id"`
	VerifiedAddress   string    `db:"verified_address"`
	VerifiedSignature string    `db:"verified_signature"`
	Balance           Amount    `db:"balance"`
	Frozen            bool      `db:"frozen"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// HasVerifiedAddress reports whether the account has ever completed address
// verification.
func (a Account) HasVerifiedAddress() bool {
	return a.VerifiedAddress != ""
}

// PendingWithdrawal is a proposed, unconfirmed payout. At most one exists per
// account; a newer request replaces it. Pending entries live in memory only.
type PendingWithdrawal struct {
	AccountID   string
	Amount      Amount
	RequestedAt time.Time
}
