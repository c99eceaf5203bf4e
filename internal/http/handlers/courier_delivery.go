package handlers

import (
	"net/http"
	"strings"

	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/internal/media"
	"pharmacy-order-services/pkg/response"

	"go.uber.org/zap"
)

func (h *Handler) CourierDeliveryPickup(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	record, err := h.Services.Deliveries.MarkInTransit(r.Context(), actor, readPathString(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to mark delivery picked up")
		return
	}
	response.Success(w, record)
}

func (h *Handler) CourierDeliveryLocation(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Latitude == nil || body.Longitude == nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "latitude and longitude are required")
		return
	}

	sample, err := h.Services.Deliveries.AppendLocation(r.Context(), actor, readPathString(r, "id"), *body.Latitude, *body.Longitude)
	if err != nil {
		h.writeError(w, r, err, "Failed to record location")
		return
	}
	response.Created(w, sample)
}

// CourierDeliveryConfirm completes the order with the patient's code. A
// repeated confirmation of a delivered parcel answers 200 without changes.
func (h *Handler) CourierDeliveryConfirm(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Code      string `json:"code"`
		Method    string `json:"paymentMethod"`
		Reference string `json:"paymentReference"`
	}
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	payment, err := h.Services.Deliveries.Confirm(r.Context(), actor, readPathString(r, "id"), body.Code, fulfillment.Settlement{
		Method:    strings.ToUpper(strings.TrimSpace(body.Method)),
		Reference: strings.TrimSpace(body.Reference),
	})
	if fulfillment.IsCode(err, fulfillment.ErrAlreadyRedeemed) {
		response.Success(w, map[string]any{"alreadyConfirmed": true})
		return
	}
	if err != nil {
		h.writeError(w, r, err, "Failed to confirm delivery")
		return
	}
	response.Success(w, map[string]any{
		"alreadyConfirmed": false,
		"payment":          payment,
	})
}

func (h *Handler) CourierDeliveryProof(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if h.Objects == nil {
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Photo storage is not configured")
		return
	}
	ctx := r.Context()
	deliveryID := readPathString(r, "id")

	// Ownership is checked before the upload is processed.
	current, err := h.Services.Deliveries.Get(ctx, actor, deliveryID)
	if err != nil {
		h.writeError(w, r, err, "Failed to load delivery")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxFileSizeBytes+1024*1024)
	data, _, readErr := readFileBytes(r, "file", h.Config.MaxFileSizeBytes)
	if readErr != nil {
		response.Error(w, readErr.status(), "VALIDATION_ERROR", readErr.Message)
		return
	}

	photo, err := media.NormalizeProofPhoto(data, media.ProofMaxSide, media.ProofQuality)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Image could not be processed")
		return
	}

	url, err := h.Objects.PutProofPhoto(ctx, current.ID, photo.Data)
	if err != nil {
		h.Logger.Error("proof photo upload failed", zap.String("deliveryId", current.ID), zap.Error(err))
		response.Error(w, http.StatusBadGateway, "UPLOAD_FAILED", "Failed to store photo")
		return
	}

	record, err := h.Services.Deliveries.AttachProofPhoto(ctx, actor, current.ID, url)
	if err != nil {
		if current.ProofPhotoURL != nil && *current.ProofPhotoURL == url {
			h.writeError(w, r, err, "Failed to attach proof photo")
			return
		}
		if delErr := h.Objects.DeleteURL(ctx, url); delErr != nil {
			h.Logger.Warn("orphan proof photo cleanup failed", zap.String("url", url), zap.Error(delErr))
		}
		h.writeError(w, r, err, "Failed to attach proof photo")
		return
	}
	if current.ProofPhotoURL != nil && *current.ProofPhotoURL != url {
		if delErr := h.Objects.DeleteURL(ctx, *current.ProofPhotoURL); delErr != nil {
			h.Logger.Warn("previous proof photo cleanup failed", zap.String("url", *current.ProofPhotoURL), zap.Error(delErr))
		}
	}

	response.Success(w, map[string]any{
		"delivery": record,
		"source":   photo.Source,
	})
}
