package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage/memory"
	"github.com/wbubblerteam/bubcoin-bot/internal/walletd"
)

type stubPayer struct {
	err   error
	txid  string
	calls []payerCall
}

type payerCall struct {
	amounts map[string]string
	minConf int
	comment string
}

func (p *stubPayer) SendMany(ctx context.Context, amounts map[string]string, minConf int, comment string) (string, error) {
	p.calls = append(p.calls, payerCall{amounts: amounts, minConf: minConf, comment: comment})
	if p.err != nil {
		return "", p.err
	}
	return p.txid, nil
}

func seedVerified(t *testing.T, store *memory.Store, id string, balance ledger.Amount) {
	t.Helper()
	err := store.Atomically(context.Background(), []string{id}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.CreateOrGet(ctx, id)
		if err != nil {
			return err
		}
		acct.Balance = balance
		acct.VerifiedAddress = "addrA"
		acct.VerifiedSignature = "sigOK"
		return tx.Save(ctx, acct)
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func accountOf(t *testing.T, store *memory.Store, id string) ledger.Account {
	t.Helper()
	acct, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return acct
}

func TestRequestStagesWithoutDebit(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{txid: "txid123"}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	outcome, err := svc.Request(context.Background(), "42", ledger.Coin, false)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !outcome.Pending {
		t.Fatal("outcome must be pending")
	}
	if outcome.Address != "addrA" || outcome.Amount != ledger.Coin {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Balance != 2*ledger.Coin {
		t.Fatalf("preview balance = %s, want 2", outcome.Balance)
	}

	// Nothing moved and no payout went out.
	if got := accountOf(t, store, "42").Balance; got != 3*ledger.Coin {
		t.Fatalf("request must not debit, balance = %s", got)
	}
	if len(payer.calls) != 0 {
		t.Fatal("request must not call the daemon")
	}
	if _, ok := svc.PendingFor("42"); !ok {
		t.Fatal("pending entry missing")
	}
}

func TestRequestRequiresVerifiedAddress(t *testing.T) {
	store := memory.New()
	svc := New(store, &stubPayer{}, 6, nil)
	err := store.Atomically(context.Background(), []string{"42"}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.CreateOrGet(ctx, "42")
		if err != nil {
			return err
		}
		acct.Balance = 3 * ledger.Coin
		return tx.Save(ctx, acct)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Request(context.Background(), "42", ledger.Coin, false); !errors.Is(err, ledger.ErrNoVerifiedAddress) {
		t.Fatalf("expected ErrNoVerifiedAddress, got %v", err)
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	store := memory.New()
	svc := New(store, &stubPayer{}, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Confirm(context.Background(), "42"); !errors.Is(err, ErrNoPendingWithdrawal) {
		t.Fatalf("expected ErrNoPendingWithdrawal, got %v", err)
	}
}

func TestConfirmExecutesPayout(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{txid: "txid123"}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", ledger.Coin, false); err != nil {
		t.Fatalf("request: %v", err)
	}
	outcome, err := svc.Confirm(context.Background(), "42")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if outcome.Pending {
		t.Fatal("confirmed outcome must not be pending")
	}
	if outcome.Receipt == nil || outcome.Receipt.TxID != "txid123" {
		t.Fatalf("missing receipt: %+v", outcome)
	}
	if outcome.Balance != 2*ledger.Coin {
		t.Fatalf("new balance = %s", outcome.Balance)
	}

	if got := accountOf(t, store, "42").Balance; got != 2*ledger.Coin {
		t.Fatalf("debit not committed, balance = %s", got)
	}
	if _, ok := svc.PendingFor("42"); ok {
		t.Fatal("pending entry must clear on success")
	}

	if len(payer.calls) != 1 {
		t.Fatalf("payer calls = %d", len(payer.calls))
	}
	call := payer.calls[0]
	if call.amounts["addrA"] != "1" {
		t.Fatalf("payout amount = %q, want \"1\"", call.amounts["addrA"])
	}
	if call.minConf != 6 {
		t.Fatalf("minconf = %d", call.minConf)
	}
	if call.comment != "withdrawal for user 42" {
		t.Fatalf("comment = %q", call.comment)
	}
}

func TestRequestWithConfirmExecutesImmediately(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{txid: "txid123"}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	outcome, err := svc.Request(context.Background(), "42", ledger.Coin, true)
	if err != nil {
		t.Fatalf("request confirm: %v", err)
	}
	if outcome.Receipt == nil {
		t.Fatal("expected receipt")
	}
	if got := accountOf(t, store, "42").Balance; got != 2*ledger.Coin {
		t.Fatalf("balance = %s", got)
	}
}

func TestConfirmRevalidatesAgainstCurrentState(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{txid: "txid123"}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", 2*ledger.Coin, false); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Balance drops between request and confirm.
	err := store.Atomically(context.Background(), []string{"42"}, func(ctx context.Context, tx storage.Tx) error {
		acct, err := tx.Get(ctx, "42")
		if err != nil {
			return err
		}
		acct.Balance = ledger.Coin
		return tx.Save(ctx, acct)
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	_, err = svc.Confirm(context.Background(), "42")
	var insufficient *ledger.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if len(payer.calls) != 0 {
		t.Fatal("payout must not run when revalidation fails")
	}
	// The pending entry survives a failed confirmation.
	if _, ok := svc.PendingFor("42"); !ok {
		t.Fatal("pending entry must survive a failed confirm")
	}
}

func TestSupersedingRequestReplacesPending(t *testing.T) {
	store := memory.New()
	svc := New(store, &stubPayer{txid: "txid123"}, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", ledger.Coin, false); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := svc.Request(context.Background(), "42", 2*ledger.Coin, false); err != nil {
		t.Fatalf("second request: %v", err)
	}

	entry, ok := svc.PendingFor("42")
	if !ok {
		t.Fatal("pending entry missing")
	}
	if entry.Amount != 2*ledger.Coin {
		t.Fatalf("pending amount = %s, want the later request", entry.Amount)
	}
}

// blockingPayer holds every payout until released so a test can interleave
// other calls while one is in flight.
type blockingPayer struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (p *blockingPayer) SendMany(ctx context.Context, amounts map[string]string, minConf int, comment string) (string, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		close(p.started)
	}
	<-p.release
	return "txid123", nil
}

func (p *blockingPayer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestConcurrentConfirmPaysOutOnce(t *testing.T) {
	store := memory.New()
	payer := &blockingPayer{started: make(chan struct{}), release: make(chan struct{})}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 5*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", ledger.Coin, false); err != nil {
		t.Fatalf("request: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Confirm(context.Background(), "42")
		errCh <- err
	}()
	<-payer.started

	// The first confirmation consumed the entry; a racing one must find
	// nothing to act on rather than pay out a second time.
	if _, err := svc.Confirm(context.Background(), "42"); !errors.Is(err, ErrNoPendingWithdrawal) {
		t.Fatalf("expected ErrNoPendingWithdrawal for the racing confirm, got %v", err)
	}

	close(payer.release)
	if err := <-errCh; err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if got := payer.callCount(); got != 1 {
		t.Fatalf("payouts = %d, want exactly 1", got)
	}
	if got := accountOf(t, store, "42").Balance; got != 4*ledger.Coin {
		t.Fatalf("balance = %s, want a single debit", got)
	}
}

func TestDefiniteDaemonErrorRollsBack(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{err: &walletd.RPCError{Code: -6, Message: "Insufficient funds"}}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	_, err := svc.Request(context.Background(), "42", ledger.Coin, true)
	var rpcErr *walletd.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}

	acct := accountOf(t, store, "42")
	if acct.Balance != 3*ledger.Coin {
		t.Fatalf("debit must roll back, balance = %s", acct.Balance)
	}
	if acct.Frozen {
		t.Fatal("definite failure must not freeze the account")
	}
}

func TestAmbiguousFailureFreezesAndKeepsDebit(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{err: &walletd.TransportError{Err: fmt.Errorf("read: connection reset"), MaybeSent: true}}
	svc := New(store, payer, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", ledger.Coin, false); err != nil {
		t.Fatalf("request: %v", err)
	}
	_, err := svc.Confirm(context.Background(), "42")

	var inconsistency *InconsistencyError
	if !errors.As(err, &inconsistency) {
		t.Fatalf("expected InconsistencyError, got %v", err)
	}
	if inconsistency.UserID != "42" || inconsistency.Amount != ledger.Coin {
		t.Fatalf("unexpected detail: %+v", inconsistency)
	}

	acct := accountOf(t, store, "42")
	if acct.Balance != 2*ledger.Coin {
		t.Fatalf("debit must stay committed, balance = %s", acct.Balance)
	}
	if !acct.Frozen {
		t.Fatal("ambiguous payout must freeze the account")
	}

	// Frozen accounts cannot retry until an operator reconciles.
	_, err = svc.Confirm(context.Background(), "42")
	if !errors.Is(err, ledger.ErrAccountFrozen) {
		t.Fatalf("expected ErrAccountFrozen on retry, got %v", err)
	}
}

func TestUnreachableDaemonRejectsCleanly(t *testing.T) {
	store := memory.New()
	dialErr := &walletd.TransportError{
		Err:       &net.OpError{Op: "dial", Err: fmt.Errorf("connection refused")},
		MaybeSent: false,
	}
	svc := New(store, &stubPayer{err: dialErr}, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	_, err := svc.Request(context.Background(), "42", ledger.Coin, true)
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}

	acct := accountOf(t, store, "42")
	if acct.Balance != 3*ledger.Coin || acct.Frozen {
		t.Fatalf("unreachable daemon must leave the account untouched: %+v", acct)
	}
}

func TestHealthGateFailsFast(t *testing.T) {
	store := memory.New()
	payer := &stubPayer{txid: "txid123"}
	svc := New(store, payer, 6, nil, WithHealthGate(func() bool { return false }))
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", ledger.Coin, true); !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
	if len(payer.calls) != 0 {
		t.Fatal("gated withdrawal must not reach the daemon")
	}
}

func TestWithdrawalValidationErrors(t *testing.T) {
	store := memory.New()
	svc := New(store, &stubPayer{}, 6, nil)
	seedVerified(t, store, "42", 3*ledger.Coin)

	if _, err := svc.Request(context.Background(), "42", 0, false); !errors.Is(err, ledger.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := svc.Request(context.Background(), "99", ledger.Coin, false); !errors.Is(err, ledger.ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if _, err := svc.Request(context.Background(), "42", 5*ledger.Coin, false); err == nil {
		t.Fatal("overdraw must fail")
	}
}
