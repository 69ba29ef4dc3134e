package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
)

// Handler exposes stock reads, adjustments and transfers.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listStock)
	r.Get("/movements", h.listMovements)
	r.Get("/inventory-logs", h.listInventoryLogs)
	r.Post("/adjustments", h.adjust)
	r.Post("/transfers", h.transfer)
	r.Get("/{variantID}/{warehouseID}", h.getStock)
	r.Get("/{variantID}/{warehouseID}/verify", h.verify)
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	var filter StockFilter
	var err error
	if filter.VariantID, err = httpx.QueryInt64(r, "variant_id"); err != nil {
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
	rows, err := h.service.ListStock(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{Reason: Reason(r.URL.Query().Get("reason")), RefType: r.URL.Query().Get("ref_type")}
	var err error
	if filter.VariantID, err = httpx.QueryInt64(r, "variant_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.RefID, err = httpx.QueryInt64(r, "ref_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Page, err = httpx.PageParams(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listInventoryLogs(w http.ResponseWriter, r *http.Request) {
	filter := InventoryLogFilter{RefType: r.URL.Query().Get("ref_type")}
	var err error
	if filter.VariantID, err = httpx.QueryInt64(r, "variant_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.RefID, err = httpx.QueryInt64(r, "ref_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.Page, err = httpx.PageParams(r); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ListInventoryLogs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	variantID, warehouseID, ok := h.pair(w, r)
	if !ok {
		return
	}
	s, err := h.service.GetStock(r.Context(), variantID, warehouseID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	variantID, warehouseID, ok := h.pair(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Verify(r.Context(), variantID, warehouseID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": rec.OK(), "reconciliation": rec})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var input AdjustmentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	p, err := h.service.Adjust(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	res, err := h.service.Transfer(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) pair(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	variantID, err := httpx.IDParam(r, "variantID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return 0, 0, false
	}
	warehouseID, err := httpx.IDParam(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return 0, 0, false
	}
	return variantID, warehouseID, true
}
