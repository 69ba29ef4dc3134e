package transfer

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
)

// Handler exposes arrival confirmation over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/arrivals/{batchID}", h.confirm)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "batchID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var input ConfirmInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	input.BatchID = id
	res, err := h.service.ConfirmArrival(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
