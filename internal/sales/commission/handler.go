package commission

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropship-ops/opsconsole/internal/platform/httpx"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Handler exposes commission reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers commission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/commissions", h.report)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
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
	report, err := h.service.ForPeriod(r.Context(), from, to)
	if err != nil {
		if shared.ClassOf(err) == nil {
			h.logger.ErrorContext(r.Context(), "commission report", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
