package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/services"
)

type EventHandlers struct {
	events *services.EventService
	logger *slog.Logger
}

func NewEventHandlers(events *services.EventService, logger *slog.Logger) *EventHandlers {
	return &EventHandlers{events: events, logger: logger}
}

func (h *EventHandlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	return r
}

func (h *EventHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}

	count := len(events)
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Data: events, Count: &count})
}

func (h *EventHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Data: event})
}

func (h *EventHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := decodeBody(w, r, &event); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse event")
		return
	}

	if err := h.events.Create(r.Context(), deviceID(r, ""), &event); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, dataResponse{Success: true, Data: &event})
}

// HandleUpdate overwrites an event. A non-zero version in the body turns on
// the optimistic check.
func (h *EventHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := decodeBody(w, r, &event); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse event")
		return
	}
	event.ID = chi.URLParam(r, "id")

	if err := h.events.Update(r.Context(), deviceID(r, ""), &event, event.Version); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Data: &event})
}

func (h *EventHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.events.Delete(r.Context(), deviceID(r, ""), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Message: "Event deleted"})
}

func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Limit:    repositories.DefaultListLimit,
		Category: models.Category(q.Get("category")),
		Venue:    q.Get("venue"),
	}

	if filter.Category != "" && !filter.Category.Valid() {
		return filter, fmt.Errorf("unknown category %q", filter.Category)
	}

	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > repositories.MaxListLimit {
			return filter, fmt.Errorf("limit must be between 1 and %d", repositories.MaxListLimit)
		}
		filter.Limit = v
	}
	if s := q.Get("offset"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return filter, errors.New("offset must be >= 0")
		}
		filter.Offset = v
	}

	lat, long, radius := q.Get("lat"), q.Get("long"), q.Get("radius")
	if lat == "" && long == "" && radius == "" {
		return filter, nil
	}
	if lat == "" || long == "" {
		return filter, errors.New("lat and long must be given together")
	}
	latV, err := strconv.ParseFloat(lat, 64)
	if err != nil || latV < -90 || latV > 90 {
		return filter, errors.New("lat must be between -90 and 90")
	}
	longV, err := strconv.ParseFloat(long, 64)
	if err != nil || longV < -180 || longV > 180 {
		return filter, errors.New("long must be between -180 and 180")
	}
	filter.Latitude, filter.Longitude = &latV, &longV
	filter.RadiusKm = 10
	if radius != "" {
		v, err := strconv.ParseFloat(radius, 64)
		if err != nil || v <= 0 {
			return filter, errors.New("radius must be a positive number of kilometres")
		}
		filter.RadiusKm = v
	}
	return filter, nil
}
