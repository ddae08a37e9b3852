package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"spotify-util-go/circuitbreaker"
	"spotify-util-go/logcolors"
	"spotify-util-go/middleware"
	"spotify-util-go/services/nowplaying"
	"spotify-util-go/store"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// maxAdminBodyBytes caps admin request bodies
const maxAdminBodyBytes = 64 << 10

func (s *Server) nowPlayingByID(w http.ResponseWriter, r *http.Request) {
	s.serveNowPlaying(w, r, mux.Vars(r)["spotifyId"], nowplaying.PathID)
}

func (s *Server) nowPlayingBySlug(w http.ResponseWriter, r *http.Request) {
	s.serveNowPlaying(w, r, mux.Vars(r)["slug"], nowplaying.PathSlug)
}

func (s *Server) serveNowPlaying(w http.ResponseWriter, r *http.Request, identifier string, path nowplaying.LookupPath) {
	identifier = strings.TrimSpace(identifier)

	var result nowplaying.Result
	if identifier == "" {
		result = nowplaying.NotFound()
	} else {
		result = s.service.Resolve(r.Context(), identifier, path)
	}

	log.WithField("request_id", middleware.RequestID(r.Context())).
		Infof("%s %s via %s: %s", logcolors.LogRequest, logcolors.Account(identifier), path, result)

	resp := Respond(w, r).
		SetResolution(string(result.Status)).
		SetSource(string(result.Payload.Source))
	if result.Status == nowplaying.StatusOK {
		resp.JSON(result.Payload)
		return
	}
	resp.Error(result.Status.HTTPStatus(), result.Payload)
}

func (s *Server) putPreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferenceRequest
	if err := decodeBody(r, &req); err != nil {
		Respond(w, r).Message(http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.PutPreference(req.record()); err != nil {
		switch {
		case errors.Is(err, store.ErrSlugTaken), errors.Is(err, store.ErrSpotifyIDTaken):
			Respond(w, r).Message(http.StatusConflict, err.Error())
		case errors.Is(err, store.ErrMissingOwnerID),
			errors.Is(err, store.ErrPrivateWithoutSlug),
			errors.Is(err, store.ErrInvalidSlug):
			Respond(w, r).Message(http.StatusBadRequest, err.Error())
		default:
			log.Errorf("%s Failed to store preferences for %s: %v", logcolors.LogAdmin, logcolors.Account(req.OwnerID), err)
			Respond(w, r).Message(http.StatusInternalServerError, "Failed to store preferences")
		}
		return
	}

	rec, err := s.store.GetPreference(req.OwnerID)
	if err != nil {
		log.Errorf("%s Failed to read back preferences for %s: %v", logcolors.LogAdmin, logcolors.Account(req.OwnerID), err)
		Respond(w, r).Message(http.StatusInternalServerError, "Failed to store preferences")
		return
	}

	log.Infof("%s Stored preferences for %s (public: %v, slug: %q)", logcolors.LogAdmin, logcolors.Account(rec.OwnerID), rec.IsPublic, rec.CustomSlug)
	Respond(w, r).JSON(rec)
}

func (s *Server) putCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := decodeBody(r, &req); err != nil {
		Respond(w, r).Message(http.StatusBadRequest, err.Error())
		return
	}
	if req.AccountID == "" {
		Respond(w, r).Message(http.StatusBadRequest, "accountId is required")
		return
	}
	if req.RefreshToken == "" {
		Respond(w, r).Message(http.StatusBadRequest, "refreshToken is required")
		return
	}

	cred := req.credential(time.Now())
	if err := s.store.SaveCredential(cred); err != nil {
		log.Errorf("%s Failed to store credential for %s: %v", logcolors.LogAdmin, logcolors.Account(req.AccountID), err)
		Respond(w, r).Message(http.StatusInternalServerError, "Failed to store credential")
		return
	}

	resp := CredentialResponse{
		Message:        "Credential stored",
		AccountID:      cred.AccountID,
		HasAccessToken: cred.AccessToken != "",
	}
	if !cred.ExpiresAt.IsZero() {
		resp.ExpiresAt = &cred.ExpiresAt
	}

	log.Infof("%s Stored credential for %s", logcolors.LogAdmin, logcolors.Account(cred.AccountID))
	Respond(w, r).JSON(resp)
}

// decodeBody strictly decodes a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) backupStore(w http.ResponseWriter, r *http.Request) {
	backupPath, err := s.store.Backup()
	if err != nil {
		log.Errorf("%s Failed to create backup: %v", logcolors.LogStoreBackup, err)
		Respond(w, r).Message(http.StatusInternalServerError, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}

	log.Infof("%s Backup created successfully at: %s", logcolors.LogStoreBackup, backupPath)
	Respond(w, r).JSON(map[string]interface{}{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
	})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.ListBackups()
	if err != nil {
		log.Errorf("%s Failed to list backups: %v", logcolors.LogStoreBackup, err)
		Respond(w, r).Message(http.StatusInternalServerError, fmt.Sprintf("Failed to list backups: %v", err))
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"count":   len(backups),
		"backups": backups,
	})
}

func (s *Server) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	breaker := s.breaker.Snapshot()
	prefs, creds := s.store.Counts()

	health := HealthResponse{
		Status:         "ok",
		Store:          "ok",
		Preferences:    prefs,
		Credentials:    creds,
		CircuitBreaker: breaker.State,
	}

	// If circuit breaker is open, mark as degraded
	if s.breaker.State() == circuitbreaker.StateOpen {
		health.Status = "degraded"
		health.RetryIn = s.breaker.TimeUntilRetry().Round(time.Second).String()
	}

	if err := s.store.Ping(); err != nil {
		log.Errorf("%s Health check failed: %v", logcolors.LogStore, err)
		health.Status = "unhealthy"
		health.Store = "unavailable"
		health.Error = "store unavailable"
		Respond(w, r).Error(http.StatusServiceUnavailable, health)
		return
	}

	Respond(w, r).JSON(health)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	snapshot := s.stats.Snapshot()

	prefs, creds := s.store.Counts()
	snapshot["store"] = map[string]interface{}{
		"preferences": prefs,
		"credentials": creds,
	}
	snapshot["circuit_breaker"] = s.breaker.Snapshot()
	snapshot["rate_limiter"] = map[string]interface{}{
		"tracked_clients": s.limiter.Size(),
	}

	Respond(w, r).JSON(snapshot)
}

func (s *Server) getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"status": s.breaker.Snapshot(),
		"config": map[string]interface{}{
			"threshold":    s.breaker.Threshold(),
			"cooldown_sec": s.conf.Configuration.CircuitBreakerCooldownSecs,
		},
	})
}

func (s *Server) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	s.breaker.Reset()
	log.Infof("%s Circuit breaker manually reset", logcolors.LogAdmin)

	Respond(w, r).JSON(map[string]interface{}{
		"message": "Circuit breaker reset to CLOSED state",
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"help": "Use /api/now-playing/id/{spotifyId} or /api/now-playing/u/{slug} to get what an account is playing right now.",
		"endpoints": map[string]string{
			"/api/now-playing/id/{spotifyId}": "Now playing by Spotify user id (public profiles only)",
			"/api/now-playing/u/{slug}":       "Now playing by custom slug",
			"/health":                         "Store and upstream health",
			"/stats":                          "Request, outcome and token refresh counters",
		},
	})
}
