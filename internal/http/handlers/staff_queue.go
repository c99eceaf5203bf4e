package handlers

import (
	"net/http"
	"strings"

	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/pkg/response"
)

func (h *Handler) StaffQueuePending(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entries, err := h.Services.Dispatcher.ListPending(r.Context(), actor.ProviderID)
	if err != nil {
		h.writeError(w, r, err, "Failed to load queue")
		return
	}
	if entries == nil {
		entries = []fulfillment.QueueEntry{}
	}
	response.Success(w, entries)
}

func (h *Handler) StaffQueueResolve(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "code is required")
		return
	}
	entry, err := h.Services.Dispatcher.Resolve(r.Context(), actor, code)
	if err != nil {
		h.writeError(w, r, err, "Failed to resolve queue code")
		return
	}
	response.Success(w, entry)
}

func (h *Handler) StaffQueueClaim(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		CounterID string `json:"counterId"`
	}
	if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.CounterID) == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "counterId is required")
		return
	}

	entry, err := h.Services.Dispatcher.Claim(r.Context(), actor, readPathString(r, "id"), strings.TrimSpace(body.CounterID))
	if err != nil {
		h.writeError(w, r, err, "Failed to claim order")
		return
	}
	response.Success(w, entry)
}

func (h *Handler) StaffQueueStart(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entry, err := h.Services.Dispatcher.StartPreparing(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to start preparing")
		return
	}
	response.Success(w, entry)
}

// StaffQueueReady opens the handoff record. Pickup tokens and the delivery
// confirmation code only go to the patient.
func (h *Handler) StaffQueueReady(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	handoff, err := h.Services.Dispatcher.MarkReady(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to mark order ready")
		return
	}

	data := map[string]any{
		"orderId":      handoff.OrderID(),
		"queueEntryId": handoff.QueueEntryID(),
		"method":       handoff.Method(),
	}
	switch f := handoff.(type) {
	case fulfillment.PickupFulfillment:
		data["pickup"] = staffPickupView(f.Record)
	case fulfillment.DeliveryFulfillment:
		data["delivery"] = f.Record
	}
	response.Success(w, data)
}

func (h *Handler) StaffQueueCancel(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	order, err := h.Services.Dispatcher.Cancel(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to cancel order")
		return
	}
	response.Success(w, order)
}

func (h *Handler) StaffOrderConfirm(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entry, err := h.Services.Carts.ConfirmOrder(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to confirm order")
		return
	}
	response.Success(w, entry)
}

func (h *Handler) StaffOrderGet(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	detail, err := h.Services.Carts.Order(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to load order")
		return
	}
	if detail.Pickup != nil {
		pickup := staffPickupView(*detail.Pickup)
		detail.Pickup = &pickup
	}
	response.Success(w, detail)
}

func staffPickupView(p fulfillment.PickupRecord) fulfillment.PickupRecord {
	p.QRToken = ""
	p.VerificationCode = ""
	return p
}
