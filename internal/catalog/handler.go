package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropship-ops/opsconsole/internal/platform/httpx"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Handler exposes the reconciler over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// TableRequest carries already decoded spreadsheet content. Either Headers with Records, or
// Rows keyed by header, must be supplied.
type TableRequest struct {
	Headers     []string            `json:"headers"`
	Records     [][]string          `json:"records"`
	Rows        []map[string]string `json:"rows"`
	VATFallback *float64            `json:"vat_fallback" validate:"omitempty,gte=0"`
}

func (t TableRequest) candidates() ([]CandidateRow, error) {
	switch {
	case len(t.Headers) > 0:
		return RowsFromTable(t.Headers, t.Records)
	case len(t.Rows) > 0:
		return RowsFromRecords(t.Rows)
	}
	return nil, shared.Validation(errors.New("catalog: no rows supplied"), shared.Detail{Field: "records", Expected: "headers with records, or rows"})
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/catalog", func(r chi.Router) {
		r.Post("/preview", h.preview)
		r.Post("/sync", h.sync)
		r.Get("/export", h.export)
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	result, ok := h.reconcile(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	result, ok := h.reconcile(w, r)
	if !ok {
		return
	}
	report, err := h.service.Sync(r.Context(), result)
	if err != nil {
		h.fail(w, r, "catalog sync", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, report)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) (Result, bool) {
	var req TableRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return Result{}, false
	}
	rows, err := req.candidates()
	if err != nil {
		httpx.RespondError(w, err)
		return Result{}, false
	}
	result, err := h.service.Preview(r.Context(), rows, Options{VATFallback: req.VATFallback})
	if err != nil {
		h.fail(w, r, "catalog preview", err)
		return Result{}, false
	}
	return result, true
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Export(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, r, "catalog export", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.ClassOf(err) == nil {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
