package handlers

import (
	"net/http"
	"strings"
	"time"

	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/pkg/response"
)

func (h *Handler) StaffDeliveryAssign(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		CourierID string `json:"courierId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	record, err := h.Services.Deliveries.AssignCourier(r.Context(), actor, readPathString(r, "id"), body.CourierID)
	if err != nil {
		h.writeError(w, r, err, "Failed to assign courier")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    record,
		"message": "Courier assigned successfully",
	})
}

func (h *Handler) StaffLotMovements(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	movements, err := h.Services.Ledger.Movements(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to load stock movements")
		return
	}
	if movements == nil {
		movements = []fulfillment.StockMovement{}
	}
	response.Success(w, movements)
}

var manualReasons = map[fulfillment.MovementReason]bool{
	fulfillment.ReasonReplenish:  true,
	fulfillment.ReasonAdjustment: true,
	fulfillment.ReasonReturn:     true,
}

func (h *Handler) StaffLotReplenish(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Quantity int64  `json:"quantity"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if body.Quantity <= 0 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "quantity must be greater than zero")
		return
	}
	reason := fulfillment.MovementReason(strings.ToUpper(strings.TrimSpace(body.Reason)))
	if reason == "" {
		reason = fulfillment.ReasonReplenish
	}
	if !manualReasons[reason] {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "reason is not allowed")
		return
	}

	movement, err := h.Services.Ledger.Replenish(r.Context(), actor, fulfillment.StockChange{
		LotID:    readPathString(r, "id"),
		Quantity: body.Quantity,
		Reason:   reason,
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to replenish lot")
		return
	}
	response.Success(w, movement)
}

func (h *Handler) StaffLotReceive(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		MedicationID     string     `json:"medicationId"`
		Batch            string     `json:"batch"`
		Quantity         int64      `json:"quantity"`
		ReorderThreshold int64      `json:"reorderThreshold"`
		SellingPrice     int64      `json:"sellingPrice"`
		ExpiresAt        *time.Time `json:"expiresAt"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	lot, err := h.Services.Ledger.ReceiveLot(r.Context(), actor, fulfillment.Lot{
		MedicationID:     body.MedicationID,
		Batch:            body.Batch,
		Quantity:         body.Quantity,
		ReorderThreshold: body.ReorderThreshold,
		SellingPrice:     body.SellingPrice,
		ExpiresAt:        body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to receive lot")
		return
	}
	response.Created(w, lot)
}
