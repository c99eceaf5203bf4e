package handlers

import (
	"net/http"
	"strings"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/pkg/response"
)

// PublicTracking serves the delivery view to holders of a tracking token.
// Unknown numbers and bad tokens look the same to the caller.
func (h *Handler) PublicTracking(w http.ResponseWriter, r *http.Request) {
	trackingNumber := strings.ToUpper(readPathString(r, "trackingNumber"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if trackingNumber == "" || token == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Tracking number and token are required")
		return
	}

	view, err := h.Services.Deliveries.Track(r.Context(), trackingNumber)
	if err != nil {
		if fulfillment.IsKind(err, fulfillment.KindNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Delivery not found")
			return
		}
		h.writeError(w, r, err, "Failed to load tracking")
		return
	}
	if !auth.VerifyTrackingToken(h.Config.TrackingTokenSecret, token, view.ProviderID, view.TrackingNumber) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Delivery not found")
		return
	}

	if view.Locations == nil {
		view.Locations = []fulfillment.LocationSample{}
	}
	response.Success(w, view)
}
