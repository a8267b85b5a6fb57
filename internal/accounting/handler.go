package accounting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropship-ops/opsconsole/internal/platform/httpx"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Handler wires ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/accounts", h.listAccounts)
		r.Post("/accounts", h.createAccount)
		r.Put("/accounts/{id}", h.updateAccount)
		r.Delete("/accounts/{id}", h.deleteAccount)
		r.Get("/accounts/{id}/balance", h.balance)
		r.Get("/transactions", h.listTransactions)
		r.Post("/transactions", h.createTransaction)
		r.Post("/transactions/{id}/reverse", h.reverseTransaction)
		r.Get("/dashboard", h.dashboard)
		r.Get("/trial-balance", h.trialBalance)
	})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var in AccountInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID = shared.UserFromContext(r.Context())
	acct, err := h.service.CreateAccount(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in AccountInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID = shared.UserFromContext(r.Context())
	acct, err := h.service.UpdateAccount(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteAccount(r.Context(), id, shared.UserFromContext(r.Context())); err != nil {
		h.fail(w, r, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := httpx.TimeQuery(r, "as_of")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.IntQuery(r, "line_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.service.GetRunningBalance(r.Context(), id, Cutoff{AsOf: asOf, LineID: lineID})
	if err != nil {
		h.fail(w, r, "running balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	from, err := httpx.TimeQuery(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.TimeQuery(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	txns, err := h.service.ListTransactions(r.Context(), TransactionFilter{
		From:      from,
		To:        to,
		Search:    r.URL.Query().Get("q"),
		Limit:     int(limit),
		Ascending: r.URL.Query().Get("order") == "asc",
	})
	if err != nil {
		h.fail(w, r, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txns)
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var in CreateTransactionInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID = shared.UserFromContext(r.Context())
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	txn, err := h.service.CreateTransaction(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	txn, err := h.service.ReverseTransaction(r.Context(), id, shared.UserFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "reverse transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.BalanceDashboard(r.Context())
	if err != nil {
		h.fail(w, r, "balance dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.service.TrialBalance(r.Context())
	if err != nil {
		h.fail(w, r, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.ClassOf(err) == nil {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
