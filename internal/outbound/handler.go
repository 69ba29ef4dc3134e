package outbound

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
)

// HeaderIdempotencyKey carries the client retry key on batch POSTs.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler exposes the outbound pipeline over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers outbound routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/batches", h.listBatches)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.createBatch)
		r.Post("/from-inbound", h.createFromInbound)
		r.Get("/{id}", h.getBatch)
		r.Patch("/{id}/logistics", h.updateLogistics)
		r.Post("/{id}/cancel", h.cancelBatch)
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := OrderFilter{Status: OrderStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.VariantID, err = httpx.QueryInt64(r, "variant_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Page, err = httpx.PageParams(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var input CreateOrderInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.CreateOutboundOrder(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ListBatches(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.CancelOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var input CreateBatchInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	res, err := h.service.CreateOutboundBatch(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) createFromInbound(w http.ResponseWriter, r *http.Request) {
	var input FromInboundInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	input.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	res, err := h.service.CreateOutboundFromInboundBatch(r.Context(), input)
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

func (h *Handler) updateLogistics(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var update LogisticsUpdate
	if err := httpx.DecodeJSON(r, &update); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	b, err := h.service.UpdateBatchLogistics(r.Context(), id, update)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelBatch(w http.ResponseWriter, r *http.Request) {
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
	res, err := h.service.CancelBatch(r.Context(), id, req.Reason)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
