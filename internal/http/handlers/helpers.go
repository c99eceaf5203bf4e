package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/internal/media"
	"pharmacy-order-services/internal/middleware"
	"pharmacy-order-services/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func readPathString(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

// decodeJSON reads the request body into dst. An empty body leaves dst as is.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (*middleware.AuthContext, fulfillment.Actor, bool) {
	authCtx, ok := middleware.GetAuthContext(r.Context())
	if !ok || authCtx == nil {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, fulfillment.Actor{}, false
	}
	return authCtx, authCtx.Actor(), true
}

// writeError renders a domain error with its status; anything else is logged
// and reported as an internal error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var domainErr *fulfillment.Error
	if errors.As(err, &domainErr) {
		response.ErrorWithDetails(w, domainErr.StatusCode(), string(domainErr.Code), domainErr.Message, domainErr.Details)
		return
	}
	h.Logger.Error(fallback,
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("requestId", middleware.GetRequestID(r.Context())),
		zap.Error(err),
	)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
}

type fileReadErrorKind string

const (
	fileReadErrMissing     fileReadErrorKind = "missing"
	fileReadErrReadFailed  fileReadErrorKind = "read_failed"
	fileReadErrTooLarge    fileReadErrorKind = "too_large"
	fileReadErrInvalidType fileReadErrorKind = "invalid_type"
)

type fileReadError struct {
	Kind    fileReadErrorKind
	Message string
	Err     error
}

func (e *fileReadError) status() int {
	if e.Kind == fileReadErrTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func readFileBytes(r *http.Request, field string, maxBytes int64) ([]byte, string, *fileReadError) {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, "", &fileReadError{Kind: fileReadErrMissing, Message: "Multipart form is required", Err: err}
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", &fileReadError{Kind: fileReadErrMissing, Message: "File is required", Err: err}
	}
	defer file.Close()

	maxSizeMB := maxBytes / (1024 * 1024)
	if maxSizeMB <= 0 {
		maxSizeMB = 1
	}
	data, readErr := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if readErr != nil {
		return nil, "", &fileReadError{Kind: fileReadErrReadFailed, Message: "Failed to read file", Err: readErr}
	}
	if int64(len(data)) > maxBytes {
		return nil, "", &fileReadError{Kind: fileReadErrTooLarge, Message: fmt.Sprintf("File size must be less than %dMB.", maxSizeMB)}
	}

	ct := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if ct == "" || ct == "application/octet-stream" {
		ct = media.DetectContentType(data)
	}
	if !media.ValidateImageContentType(ct) {
		return nil, ct, &fileReadError{Kind: fileReadErrInvalidType, Message: "Invalid file type. Please upload an image file."}
	}
	return data, ct, nil
}
