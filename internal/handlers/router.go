package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the REST API. ws may be nil when live broadcasts are
// disabled.
func NewRouter(events *EventHandlers, sync *SyncHandlers, ws http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if ws != nil {
		router.Handle("/ws", ws)
	}

	router.Route("/api", func(r chi.Router) {
		r.Mount("/events", events.Routes())
		r.Mount("/sync", sync.Routes())
	})

	return router
}
