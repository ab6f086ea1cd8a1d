package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/services"
)

type SyncHandlers struct {
	sync   *services.SyncService
	logger *slog.Logger
}

func NewSyncHandlers(sync *services.SyncService, logger *slog.Logger) *SyncHandlers {
	return &SyncHandlers{sync: sync, logger: logger}
}

func (h *SyncHandlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/queue", h.HandleQueue)
	r.Post("/process", h.HandleProcess)
	r.Get("/status", h.HandleStatus)
	r.Post("/conflicts", h.HandleConflicts)
	r.Get("/presence", h.HandlePresence)
	return r
}

func (h *SyncHandlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	var req models.QueueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse queue request")
		return
	}
	req.DeviceID = deviceID(r, req.DeviceID)
	h.touch(r, req.DeviceID)

	entry, err := h.sync.QueueOperation(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, entry)
}

func (h *SyncHandlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse process request")
		return
	}
	id := deviceID(r, req.DeviceID)
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_device", "deviceId is required")
		return
	}
	h.touch(r, id)

	result, err := h.sync.ProcessQueue(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to process queue", "error", err, "device_id", id)
		writeError(w, h.logger, http.StatusInternalServerError, "process_failed", "Failed to process queue")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

func (h *SyncHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r, "")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_device", "deviceId is required")
		return
	}

	status, err := h.sync.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, status)
}

func (h *SyncHandlers) HandleConflicts(w http.ResponseWriter, r *http.Request) {
	var batch models.ConflictBatch
	if err := decodeBody(w, r, &batch); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse conflicts")
		return
	}
	id := deviceID(r, "")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_device", "deviceId is required")
		return
	}
	h.touch(r, id)

	result, err := h.sync.ResolveConflicts(r.Context(), id, &batch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// HandlePresence answers GET /presence?devices=a,b,c.
func (h *SyncHandlers) HandlePresence(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("devices"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	presence, err := h.sync.Presence(r.Context(), ids)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, presence)
}

func (h *SyncHandlers) touch(r *http.Request, id string) {
	if id == "" {
		return
	}
	if err := h.sync.TouchDevice(r.Context(), id); err != nil {
		h.logger.Warn("Failed to record device", "error", err, "device_id", id)
	}
}
