package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/verification"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/withdrawal"
	"github.com/wbubblerteam/bubcoin-bot/internal/walletd"
)

const daemonUnavailableMessage = "The wallet daemon is unavailable. Try again later."

// classify maps a core error to an HTTP status, a stable machine-readable
// kind, and the user-facing message the chat dispatcher forwards unmodified.
// Unrecognized errors are a server-side problem: they map to 500 with a
// generic message, never to the raw error text.
func classify(err error) (status int, kind, message string) {
	var insufficient *ledger.InsufficientFundsError
	var inconsistency *withdrawal.InconsistencyError
	var transportErr *walletd.TransportError
	var rpcErr *walletd.RPCError

	switch {
	case errors.Is(err, ledger.ErrZeroAmount):
		return http.StatusBadRequest, "zero_amount", "Amount must be greater than zero."
	case errors.Is(err, ledger.ErrExceedsSupply):
		return http.StatusBadRequest, "exceeds_supply", "Amount exceeds the maximum coin supply."
	case errors.Is(err, ledger.ErrNoAccount):
		return http.StatusNotFound, "no_account", "You have no account yet. Verify an address first."
	case errors.Is(err, ledger.ErrAccountFrozen):
		return http.StatusConflict, "account_frozen", "Your account is frozen pending reconciliation. Contact an operator."
	case errors.Is(err, ledger.ErrNoVerifiedAddress):
		return http.StatusConflict, "no_verified_address", "You have no verified address. Verify one first."
	case errors.As(err, &insufficient):
		return http.StatusConflict, "insufficient_funds", insufficientMessage(insufficient)
	case errors.Is(err, verification.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address", "Invalid address: " + addressFrom(err)
	case errors.Is(err, verification.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature", "Invalid cryptographic signature."
	case errors.Is(err, withdrawal.ErrNoPendingWithdrawal):
		return http.StatusNotFound, "no_pending_withdrawal", "You have no pending withdrawal to confirm."
	case errors.Is(err, withdrawal.ErrDaemonUnavailable):
		return http.StatusServiceUnavailable, "daemon_unavailable", daemonUnavailableMessage
	case errors.As(err, &inconsistency):
		return http.StatusInternalServerError, "payout_inconsistency",
			"Your withdrawal is in an unknown state and your account has been frozen. An operator will reconcile it."
	case errors.As(err, &transportErr), errors.As(err, &rpcErr):
		// Daemon failures are an outage, not a client mistake, and their
		// detail (URLs, dial errors) never reaches the chat user.
		return http.StatusServiceUnavailable, "daemon_unavailable", daemonUnavailableMessage
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", inputMessage(err)
	default:
		return http.StatusInternalServerError, "internal_error", "Something went wrong. Try again later."
	}
}

// inputMessage strips the sentinel prefix so the chat user sees only the
// specifics, e.g. "amount is required".
func inputMessage(err error) string {
	const prefix = "invalid input: "
	msg := err.Error()
	if i := strings.LastIndex(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

func insufficientMessage(e *ledger.InsufficientFundsError) string {
	return "Insufficient funds: your balance is " + e.Balance.String() +
		", you are short " + (e.Requested - e.Balance).String() + "."
}

// addressFrom pulls the offending address out of a wrapped ErrInvalidAddress.
// The service formats the error as "invalid address: <addr>".
func addressFrom(err error) string {
	const prefix = "invalid address: "
	msg := err.Error()
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return ""
}
