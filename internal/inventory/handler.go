package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropship-ops/opsconsole/internal/platform/httpx"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/levels", h.listLevels)
		r.Get("/products/{id}/stock", h.globalStock)
		r.Get("/movements", h.listMovements)
		r.Post("/movements", h.recordMovement)
		r.Post("/batches", h.recordBatch)
		r.Post("/transfers", h.transfer)
		r.Get("/verify", h.verify)
	})
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.IntQuery(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	levels, err := h.service.ListStockLevels(r.Context(), productID)
	if err != nil {
		h.fail(w, r, "list stock levels", err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) globalStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	total, err := h.service.GetGlobalStock(r.Context(), id)
	if err != nil {
		h.fail(w, r, "global stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"product_id": id, "stock": total})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	var (
		filter MovementFilter
		err    error
	)
	if filter.ProductID, err = httpx.IntQuery(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.IntQuery(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.TimeQuery(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.TimeQuery(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = int(limit)
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var in MovementInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID = shared.UserFromContext(r.Context())
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	record, level, err := h.service.RecordMovement(r.Context(), in)
	if err != nil {
		h.fail(w, r, "record movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movement": record, "level": level})
}

func (h *Handler) recordBatch(w http.ResponseWriter, r *http.Request) {
	var in BatchInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID = shared.UserFromContext(r.Context())
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	result, err := h.service.RecordBatchMovement(r.Context(), in)
	if err != nil {
		h.fail(w, r, "record batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var in TransferInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID = shared.UserFromContext(r.Context())
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	result, err := h.service.Transfer(r.Context(), in)
	if err != nil {
		h.fail(w, r, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.VerifyStock(r.Context())
	if err != nil {
		h.fail(w, r, "verify stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"discrepancies": found})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.ClassOf(err) == nil {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
