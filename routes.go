package main

import (
	"net/http"
	"spotify-util-go/logcolors"
	"spotify-util-go/middleware"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// setupRoutes configures all HTTP routes for the API
func (s *Server) setupRoutes(router *mux.Router) {
	// Public now-playing endpoints
	router.HandleFunc("/api/now-playing/id/{spotifyId}", s.nowPlayingByID).Methods(http.MethodGet)
	router.HandleFunc("/api/now-playing/u/{slug}", s.nowPlayingBySlug).Methods(http.MethodGet)

	// Health and stats endpoints
	router.HandleFunc("/health", s.getHealthStatus).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)

	if s.conf.FeatureFlags.AdminEndpoints {
		admin := router.PathPrefix("/admin").Subrouter()
		admin.Use(middleware.APIKeyMiddleware(s.conf.Configuration.AdminAPIKey))

		// Seeding endpoints
		admin.HandleFunc("/preferences", s.putPreferences).Methods(http.MethodPut)
		admin.HandleFunc("/credentials", s.putCredentials).Methods(http.MethodPut)

		// Store management endpoints
		admin.HandleFunc("/backup", s.backupStore).Methods(http.MethodPost)
		admin.HandleFunc("/backups", s.listBackups).Methods(http.MethodGet)

		// Circuit breaker endpoints
		admin.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatus).Methods(http.MethodGet)
		admin.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreaker).Methods(http.MethodPost)
	} else {
		log.Infof("%s Admin endpoints disabled", logcolors.LogAdmin)
	}

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
