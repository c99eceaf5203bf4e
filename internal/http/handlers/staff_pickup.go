package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/internal/receipt"
	"pharmacy-order-services/pkg/response"

	"go.uber.org/zap"
)

func (h *Handler) StaffPickupRedeem(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Code      string `json:"code"`
		CounterID string `json:"counterId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if strings.TrimSpace(body.CounterID) == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "counterId is required")
		return
	}

	record, err := h.Services.Pickups.Redeem(r.Context(), actor, body.Code, strings.TrimSpace(body.CounterID))
	if err != nil {
		h.writeError(w, r, err, "Failed to redeem pickup")
		return
	}
	response.Success(w, staffPickupView(record))
}

func (h *Handler) StaffPickupPay(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Method    string `json:"method"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	method := strings.ToUpper(strings.TrimSpace(body.Method))
	if method == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "method is required")
		return
	}

	payment, err := h.Services.Pickups.CompletePayment(r.Context(), actor, readPathString(r, "id"), method, strings.TrimSpace(body.Reference))
	if err != nil {
		h.writeError(w, r, err, "Failed to complete payment")
		return
	}
	response.Success(w, payment)
}

// StaffPickupReceipt renders the PDF receipt of a completed pickup order.
// With ?archive=1 a copy is written to the object store.
func (h *Handler) StaffPickupReceipt(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	record, err := h.Services.Pickups.Get(ctx, actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to load pickup")
		return
	}
	detail, err := h.Services.Carts.Order(ctx, actor, record.OrderID)
	if err != nil {
		h.writeError(w, r, err, "Failed to load order")
		return
	}
	if detail.Order.Status != fulfillment.OrderCompleted {
		response.Error(w, http.StatusConflict, string(fulfillment.ErrInvalidState), "Receipt is available once the order is completed")
		return
	}

	pdfBytes, err := receipt.Render(detail)
	if err != nil {
		h.Logger.Error("receipt render failed", zap.String("orderId", detail.Order.ID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to render receipt")
		return
	}

	if h.Objects != nil && r.URL.Query().Get("archive") == "1" {
		url, putErr := h.Objects.PutReceipt(ctx, detail.Order.ID, pdfBytes)
		if putErr != nil {
			h.Logger.Warn("receipt archive failed", zap.String("orderId", detail.Order.ID), zap.Error(putErr))
		} else {
			w.Header().Set("X-Receipt-Url", url)
		}
	}

	filename := fmt.Sprintf("receipt-%s.pdf", detail.Order.ID)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdfBytes)
}
