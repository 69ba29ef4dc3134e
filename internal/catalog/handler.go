package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
)

// Handler exposes variant lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.findBySKU)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
}

func (h *Handler) findBySKU(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.FindBySKU(r.Context(), r.URL.Query().Get("sku"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateVariantInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}
