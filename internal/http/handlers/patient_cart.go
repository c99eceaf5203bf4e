package handlers

import (
	"net/http"
	"strings"

	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/pkg/response"
)

// PatientCartGet returns the open cart. With ?providerId= a cart is opened
// for that pharmacy when none exists.
func (h *Handler) PatientCartGet(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var (
		cart fulfillment.Cart
		err  error
	)
	if providerID := strings.TrimSpace(r.URL.Query().Get("providerId")); providerID != "" {
		cart, err = h.Services.Carts.GetOrCreateOpenCart(r.Context(), actor.ID, providerID)
	} else {
		cart, err = h.Services.Carts.Current(r.Context(), actor.ID)
	}
	if err != nil {
		h.writeError(w, r, err, "Failed to load cart")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartAddItem(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		LotID    string `json:"lotId"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	cart, err := h.Services.Carts.AddItem(r.Context(), actor.ID, body.LotID, body.Quantity)
	if err != nil {
		h.writeError(w, r, err, "Failed to add item")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartUpdateItem(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Quantity *int64 `json:"quantity"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Quantity == nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "quantity is required")
		return
	}

	cart, err := h.Services.Carts.UpdateQuantity(r.Context(), actor.ID, readPathString(r, "id"), *body.Quantity)
	if err != nil {
		h.writeError(w, r, err, "Failed to update item")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartRemoveItem(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	cart, err := h.Services.Carts.RemoveItem(r.Context(), actor.ID, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to remove item")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartDelivery(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Method  string               `json:"method"`
		Address *fulfillment.Address `json:"address"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	method := fulfillment.DeliveryMethod(strings.ToUpper(strings.TrimSpace(body.Method)))
	cart, err := h.Services.Carts.UpdateDelivery(r.Context(), actor.ID, method, body.Address)
	if err != nil {
		h.writeError(w, r, err, "Failed to update delivery")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartClear(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	cart, err := h.Services.Carts.ClearCart(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err, "Failed to clear cart")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartSwitchProvider(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		ProviderID string `json:"providerId"`
	}
	if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.ProviderID) == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "providerId is required")
		return
	}

	cart, err := h.Services.Carts.SwitchProvider(r.Context(), actor.ID, strings.TrimSpace(body.ProviderID))
	if err != nil {
		h.writeError(w, r, err, "Failed to switch pharmacy")
		return
	}
	response.Success(w, cart)
}

func (h *Handler) PatientCartCheckout(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	cart, err := h.Services.Carts.Checkout(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err, "Failed to place order")
		return
	}
	response.Created(w, cart)
}
