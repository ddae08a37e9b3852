package main

import (
	"fmt"
	"net/http"
	"spotify-util-go/circuitbreaker"
	"spotify-util-go/config"
	"spotify-util-go/logcolors"
	"spotify-util-go/middleware"
	"spotify-util-go/services/nowplaying"
	"spotify-util-go/services/spotify"
	"spotify-util-go/stats"
	"spotify-util-go/store"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	limiterPruneSchedule = "@every 10m"
	limiterMaxIdle       = 30 * time.Minute
	statsSaveInterval    = 5 * time.Minute
)

// Server owns every long-lived dependency of the HTTP API
type Server struct {
	conf       config.Config
	store      *store.Store
	service    *nowplaying.Service
	breaker    *circuitbreaker.CircuitBreaker
	limiter    *middleware.IPRateLimiter
	stats      *stats.Stats
	statsStore *stats.Store
}

// newServer opens the store and wires the resolution pipeline from conf
func newServer(conf config.Config) (*Server, error) {
	c := conf.Configuration

	st, err := store.Open(c.DBPath, c.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	counters := stats.New()
	var statsStore *stats.Store
	if conf.FeatureFlags.PersistStats {
		statsStore, err = stats.NewStore(c.StatsDBPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open stats store: %w", err)
		}
		if err := statsStore.Load(counters); err != nil {
			log.Warnf("%s %v, starting from zero", logcolors.LogStats, err)
		}
		statsStore.StartAutoSave(counters, statsSaveInterval)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:          "Spotify",
		Threshold:     c.CircuitBreakerThreshold,
		Cooldown:      conf.CircuitBreakerCooldown(),
		OnStateChange: logBreakerTransition,
	})

	httpClient := &http.Client{Timeout: conf.SpotifyHTTPTimeout()}
	client := spotify.NewClient(httpClient, c.SpotifyAPIBaseURL, breaker)
	refresher := spotify.NewRefresher(c.SpotifyClientID, c.SpotifyClientSecret, c.SpotifyTokenURL, httpClient, st)

	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		log.Warnf("%s SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET not set, token refresh will fail", logcolors.LogConfig)
	}

	service := nowplaying.NewService(st, st, client, refresher, nowplaying.Options{
		DefaultRecentTracks: c.DefaultRecentTracks,
		ProactiveRefresh:    conf.FeatureFlags.ProactiveRefresh,
		ExpirySkew:          conf.TokenExpirySkew(),
		Recorder:            counters,
	})

	prefs, creds := st.Counts()
	log.Infof("%s Store ready with %d preference record(s) and %d credential(s)", logcolors.LogServer, prefs, creds)

	return &Server{
		conf:       conf,
		store:      st,
		service:    service,
		breaker:    breaker,
		limiter:    middleware.NewIPRateLimiter(rate.Limit(c.RateLimitPerSecond), c.RateLimitBurstLimit),
		stats:      counters,
		statsStore: statsStore,
	}, nil
}

func logBreakerTransition(name string, from, to circuitbreaker.State) {
	if to == circuitbreaker.StateOpen {
		log.Warnf("%s %s -> %s, upstream calls suspended", logcolors.CircuitBreakerPrefix(name), from, to)
		return
	}
	log.Infof("%s %s -> %s", logcolors.CircuitBreakerPrefix(name), from, to)
}

// Handler builds the full middleware chain around the router
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.setupRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins: s.conf.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key", middleware.RequestIDHeader},
		ExposedHeaders: []string{ResolutionStatusHeader, PlaybackSourceHeader, middleware.RequestIDHeader},
	})

	var handler http.Handler = c.Handler(router)
	handler = middleware.RateLimitMiddleware(s.limiter, s.stats.RecordRateLimit)(handler)
	handler = s.statsMiddleware(handler)
	return middleware.LoggingMiddleware(handler)
}

// statsMiddleware records request counts, status codes and timings
func (s *Server) statsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewResponseRecorder(w)

		next.ServeHTTP(rec, r)

		s.stats.RecordRequest(r.URL.Path)
		s.stats.RecordStatusCode(rec.StatusCode)
		s.stats.RecordResponseTime(time.Since(start), r.URL.Path)
	})
}

// newScheduler registers the periodic maintenance jobs. The caller starts
// and stops the returned scheduler.
func (s *Server) newScheduler() (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(limiterPruneSchedule, s.pruneLimiters); err != nil {
		return nil, fmt.Errorf("failed to schedule limiter pruning: %w", err)
	}

	if spec := s.conf.Configuration.BackupSchedule; spec != "" {
		if _, err := c.AddFunc(spec, s.scheduledBackup); err != nil {
			return nil, fmt.Errorf("invalid BACKUP_SCHEDULE %q: %w", spec, err)
		}
		log.Infof("%s Scheduled store backups (%s)", logcolors.LogStoreBackup, spec)
	}

	return c, nil
}

// pruneLimiters drops idle per-IP buckets
func (s *Server) pruneLimiters() {
	if n := s.limiter.Prune(limiterMaxIdle); n > 0 {
		log.Debugf("%s Pruned %d idle client(s), %d tracked", logcolors.LogRateLimit, n, s.limiter.Size())
	}
}

func (s *Server) scheduledBackup() {
	backupPath, err := s.store.Backup()
	if err != nil {
		log.Errorf("%s Scheduled backup failed: %v", logcolors.LogStoreBackup, err)
		return
	}
	log.Infof("%s Scheduled backup written to %s", logcolors.LogStoreBackup, backupPath)
}

// Close flushes stats and releases both databases
func (s *Server) Close() error {
	if s.statsStore != nil {
		if err := s.statsStore.Close(s.stats); err != nil {
			log.Warnf("%s Failed to close stats store: %v", logcolors.LogStats, err)
		}
	}
	return s.store.Close()
}
