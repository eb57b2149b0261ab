// Package storage defines the persistence contract for ledger accounts.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
)

// ErrNotFound is returned when an account record does not exist.
var ErrNotFound = errors.New("account not found")

// Tx is the transactional view handed to Atomically callbacks. Reads observe
// earlier writes in the same transaction; every account touched is locked for
// the duration of the callback.
type Tx interface {
	Get(ctx context.Context, id string) (ledger.Account, error)
	CreateOrGet(ctx context.Context, id string) (ledger.Account, error)
	Save(ctx context.Context, acct ledger.Account) error
}

// AccountStore persists account records. Atomically is the sole mutation
// path: it serializes access per account, so two operations touching the same
// account never observe a stale balance, while operations on disjoint
// accounts proceed independently. An error from fn aborts with no partial
// effect.
type AccountStore interface {
	Get(ctx context.Context, id string) (ledger.Account, error)
	CreateOrGet(ctx context.Context, id string) (ledger.Account, error)
	Atomically(ctx context.Context, ids []string, fn func(ctx context.Context, tx Tx) error) error
}

// LockOrder returns the distinct ids in the canonical locking order. Both
// store implementations acquire account locks in this order to avoid
// deadlock between overlapping transactions.
func LockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}
