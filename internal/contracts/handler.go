package contracts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
)

// Handler exposes contracts over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers contract routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approval", h.approve)
	r.Post("/{id}/pickups", h.pickup)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/settle", h.settle)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.PageParams(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.List(r.Context(), ListFilter{Status: Status(r.URL.Query().Get("status")), Page: page})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.CreateContract(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var input DecisionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.Approve(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type pickupRequest struct {
	Allocations []Allocation `json:"allocations"`
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req pickupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.RecordPickup(r.Context(), id, req.Allocations)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	c, err := h.service.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.Settle(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}
