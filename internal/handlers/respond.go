package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/services"
)

// DeviceHeader carries the calling device's id on every client request.
const DeviceHeader = "X-Device-ID"

type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type dataResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	writeJSON(w, logger, status, errorResponse{Error: code, Message: message})
}

// writeServiceError maps service and repository errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, logger, http.StatusBadRequest, errorResponse{
			Error:   "validation_failed",
			Message: verr.Error(),
			Details: verr.Fields,
		})
	case errors.Is(err, services.ErrInvalidOperation):
		writeError(w, logger, http.StatusBadRequest, "invalid_operation", err.Error())
	case errors.Is(err, services.ErrInvalidResolution):
		writeError(w, logger, http.StatusBadRequest, "invalid_resolution", err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, "not_found", "Event not found")
	case errors.Is(err, repositories.ErrEventDeleted):
		writeError(w, logger, http.StatusGone, "event_deleted", "Event has been deleted")
	case errors.Is(err, repositories.ErrVersionConflict):
		writeError(w, logger, http.StatusConflict, "version_conflict", err.Error())
	case repositories.IsConstraintViolation(err):
		writeError(w, logger, http.StatusConflict, "constraint_violation", "Event conflicts with an existing record")
	default:
		logger.Error("Request failed", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// decodeBody reads a JSON body; an empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

const maxBodyBytes = 1 << 20

// deviceID resolves the caller: header first, then the body, then the query.
func deviceID(r *http.Request, fromBody string) string {
	if id := r.Header.Get(DeviceHeader); id != "" {
		return id
	}
	if fromBody != "" {
		return fromBody
	}
	return r.URL.Query().Get("deviceId")
}
