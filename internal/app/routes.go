package app

import (
	"github.com/gorilla/mux"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/handlers"
	"recording-relay/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the status API
func SetupRoutes(router *mux.Router, h *handlers.Handlers, logger logging.Logger) {
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/poll", h.TriggerPoll).Methods("POST")
}
