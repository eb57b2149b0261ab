// Package httpapi exposes the ledger core to the chat dispatcher over HTTP.
// Every response carries a user-facing message the dispatcher forwards
// unmodified, never a partial result.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/wbubblerteam/bubcoin-bot/internal/domain/ledger"
	"github.com/wbubblerteam/bubcoin-bot/internal/metrics"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/accounts"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/transfer"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/verification"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/withdrawal"
)

// Services bundles the ledger core the API fronts.
type Services struct {
	Accounts     *accounts.Service
	Verification *verification.Service
	Transfer     *transfer.Service
	Withdrawal   *withdrawal.Service
}

type handler struct {
	svc     Services
	limiter *keyLimiter
}

// Option configures the handler.
type Option func(*handler)

// WithRateLimit throttles each chat identity to perSecond requests with the
// given burst. Zero or negative values leave the handler unthrottled.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *handler) {
		if perSecond > 0 && burst > 0 {
			h.limiter = newKeyLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewHandler returns the routed HTTP surface.
func NewHandler(svc Services, opts ...Option) http.Handler {
	h := &handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/users/{userID}", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.rateLimit)
		}
		r.Get("/balance", h.balance)
		r.Post("/verify", h.verify)
		r.Post("/transfers", h.transfer)
		r.Post("/deposits", h.deposit)
		r.Post("/withdrawals", h.withdraw)
		r.Post("/withdrawals/confirm", h.confirm)
	})

	return metrics.InstrumentHandler(r)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	acct, err := h.svc.Accounts.Get(r.Context(), userID)
	if err != nil {
		writeError(w, "balance", err)
		return
	}

	metrics.RecordOp("balance", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          acct.ID,
		"balance":          acct.Balance.String(),
		"verified_address": acct.VerifiedAddress,
		"frozen":           acct.Frozen,
		"message":          fmt.Sprintf("Your balance is %s.", acct.Balance),
	})
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var payload struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, "verify", err)
		return
	}

	result, err := h.svc.Verification.Verify(r.Context(), userID, payload.Address, payload.Signature)
	if err != nil {
		writeError(w, "verify", err)
		return
	}

	message := fmt.Sprintf("Your new verified address is %s.", result.Address)
	if result.PreviousAddress != "" {
		message = fmt.Sprintf("Your previous address was %s.\n%s", result.PreviousAddress, message)
	}

	metrics.RecordOp("verify", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":          result.Address,
		"previous_address": result.PreviousAddress,
		"message":          message,
	})
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var payload struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, "transfer", err)
		return
	}

	amount, err := ledger.ParseAmount(payload.Amount)
	if err != nil {
		writeError(w, "transfer", err)
		return
	}

	result, err := h.svc.Transfer.Transfer(r.Context(), userID, payload.To, amount)
	if err != nil {
		writeError(w, "transfer", err)
		return
	}

	metrics.RecordOp("transfer", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":         result.From,
		"to":           result.To,
		"amount":       result.Amount.String(),
		"from_balance": result.FromBalance.String(),
		"message":      fmt.Sprintf("Sent %s to %s. Your balance is now %s.", result.Amount, result.To, result.FromBalance),
	})
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, "deposit", err)
		return
	}

	amount, err := ledger.ParseAmount(payload.Amount)
	if err != nil {
		writeError(w, "deposit", err)
		return
	}

	acct, err := h.svc.Accounts.Deposit(r.Context(), userID, amount)
	if err != nil {
		writeError(w, "deposit", err)
		return
	}

	metrics.RecordOp("deposit", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": acct.ID,
		"balance": acct.Balance.String(),
		"message": fmt.Sprintf("Deposited %s. Your balance is now %s.", amount, acct.Balance),
	})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var payload struct {
		Amount  string `json:"amount"`
		Confirm bool   `json:"confirm"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, "withdraw", err)
		return
	}

	amount, err := ledger.ParseAmount(payload.Amount)
	if err != nil {
		writeError(w, "withdraw", err)
		return
	}

	outcome, err := h.svc.Withdrawal.Request(r.Context(), userID, amount, payload.Confirm)
	if err != nil {
		writeError(w, "withdraw", err)
		return
	}

	metrics.RecordOp("withdraw", "ok")
	writeOutcome(w, outcome)
}

func (h *handler) confirm(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	outcome, err := h.svc.Withdrawal.Confirm(r.Context(), userID)
	if err != nil {
		writeError(w, "confirm", err)
		return
	}

	metrics.RecordOp("confirm", "ok")
	writeOutcome(w, outcome)
}

func writeOutcome(w http.ResponseWriter, outcome withdrawal.Outcome) {
	if outcome.Pending {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"pending": true,
			"address": outcome.Address,
			"amount":  outcome.Amount.String(),
			"balance": outcome.Balance.String(),
			"message": fmt.Sprintf("Will withdraw %s to %s, leaving a balance of %s. Confirm to proceed.",
				outcome.Amount, outcome.Address, outcome.Balance),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":    false,
		"address":    outcome.Address,
		"amount":     outcome.Amount.String(),
		"balance":    outcome.Balance.String(),
		"receipt_id": outcome.Receipt.ID,
		"txid":       outcome.Receipt.TxID,
		"message": fmt.Sprintf("Withdrew %s to %s. Your balance is now %s.",
			outcome.Amount, outcome.Address, outcome.Balance),
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", ledger.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, op string, err error) {
	status, kind, message := classify(err)
	metrics.RecordOp(op, kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": message,
	})
}
