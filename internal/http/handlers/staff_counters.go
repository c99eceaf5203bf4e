package handlers

import (
	"net/http"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/pkg/response"
)

func (h *Handler) StaffCounterCreate(w http.ResponseWriter, r *http.Request) {
	authCtx, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if authCtx.Role != auth.RolePharmacyOwner {
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Only the pharmacy owner can add counters")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	counter, err := h.Services.Counters.Register(r.Context(), actor, body.Name)
	if err != nil {
		h.writeError(w, r, err, "Failed to create counter")
		return
	}
	response.Created(w, counter)
}

func (h *Handler) StaffCounterSessionStart(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	counter, err := h.Services.Counters.StartSession(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to start counter session")
		return
	}
	response.Success(w, counter)
}

func (h *Handler) StaffCounterSessionEnd(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	counter, err := h.Services.Counters.EndSession(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to end counter session")
		return
	}
	response.Success(w, counter)
}
