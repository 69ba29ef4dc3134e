package inbound

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
)

// HeaderIdempotencyKey carries the client retry key on batch POSTs.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler exposes the inbound pipeline over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inbound routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/delivery-orders", func(r chi.Router) {
		r.Get("/", h.listDeliveryOrders)
		r.Post("/", h.createDeliveryOrder)
		r.Get("/{id}", h.getDeliveryOrder)
		r.Get("/{id}/pending-inbound", h.pendingForDeliveryOrder)
		r.Put("/{id}/status", h.updateStatus)
		r.Post("/{id}/cancel", h.cancelDeliveryOrder)
	})
	r.Get("/pending/{id}", h.getPending)
	r.Route("/batches", func(r chi.Router) {
		r.Get("/", h.listBatches)
		r.Post("/", h.registerBatch)
		r.Get("/{id}", h.getBatch)
	})
}

func (h *Handler) listDeliveryOrders(w http.ResponseWriter, r *http.Request) {
	filter := DeliveryOrderFilter{Status: DeliveryStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.ContractID, err = httpx.QueryInt64(r, "contract_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Page, err = httpx.PageParams(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ListDeliveryOrders(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	var input CreateDeliveryOrderInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	res, err := h.service.CreateDeliveryOrder(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) getDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	do, err := h.service.GetDeliveryOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, do)
}

func (h *Handler) pendingForDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	pi, err := h.service.PendingInboundForDeliveryOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pi)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	do, err := h.service.UpdateDeliveryOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, do)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelDeliveryOrder(w http.ResponseWriter, r *http.Request) {
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
	do, err := h.service.CancelDeliveryOrder(r.Context(), id, req.Reason)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, do)
}

func (h *Handler) getPending(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	pi, err := h.service.GetPendingInbound(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pi)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	var filter BatchFilter
	var err error
	if filter.PendingInboundID, err = httpx.QueryInt64(r, "pending_inbound_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Page, err = httpx.PageParams(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) registerBatch(w http.ResponseWriter, r *http.Request) {
	var input RegisterBatchInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	res, err := h.service.RegisterInboundBatch(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	b, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}
