package handlers

import (
	"context"
	"net/http"
	"strings"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/internal/currency"
	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/pkg/response"
)

type displayTotals struct {
	Subtotal    currency.Money `json:"subtotal"`
	DeliveryFee currency.Money `json:"deliveryFee"`
	Total       currency.Money `json:"total"`
}

type patientOrderView struct {
	fulfillment.OrderDetail
	Display       displayTotals `json:"display"`
	TrackingToken string        `json:"trackingToken,omitempty"`
}

// PatientOrderGet returns the order with totals converted to ?currency= for
// display. A failed conversion falls back to the pharmacy currency.
func (h *Handler) PatientOrderGet(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	detail, err := h.Services.Carts.Order(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to load order")
		return
	}

	view := patientOrderView{
		OrderDetail: detail,
		Display:     h.displayTotals(r.Context(), detail.Order, r.URL.Query().Get("currency")),
	}
	if detail.Delivery != nil {
		view.TrackingToken = auth.CreateTrackingToken(h.Config.TrackingTokenSecret, detail.Order.ProviderID, detail.Delivery.TrackingNumber)
	}
	response.Success(w, view)
}

func (h *Handler) displayTotals(ctx context.Context, order fulfillment.Order, target string) displayTotals {
	target = strings.TrimSpace(target)
	if h.Converter == nil || target == "" {
		return displayTotals{
			Subtotal:    currency.NewMoney(order.Subtotal, order.Currency),
			DeliveryFee: currency.NewMoney(order.DeliveryFee, order.Currency),
			Total:       currency.NewMoney(order.Total, order.Currency),
		}
	}
	return displayTotals{
		Subtotal:    h.Converter.Display(ctx, order.Subtotal, order.Currency, target),
		DeliveryFee: h.Converter.Display(ctx, order.DeliveryFee, order.Currency, target),
		Total:       h.Converter.Display(ctx, order.Total, order.Currency, target),
	}
}

func (h *Handler) PatientOrderCancel(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	order, err := h.Services.Carts.CancelOrder(r.Context(), actor.ID, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to cancel order")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    order,
		"message": "Order cancelled successfully",
	})
}

// PatientDeliveryCode replaces the courier confirmation code and returns the
// new one to the patient. The old code stops working.
func (h *Handler) PatientDeliveryCode(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	code, err := h.Services.Deliveries.ReissueCode(r.Context(), actor.ID, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to issue delivery code")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	response.Success(w, code)
}
