package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port                string `envconfig:"PORT" default:"8080"`
		LogLevel            string `envconfig:"LOG_LEVEL" default:"info"`
		RateLimitPerSecond  int    `envconfig:"RATE_LIMIT_PER_SECOND" default:"2"`
		RateLimitBurstLimit int    `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"10"`
		CORSAllowedOrigins  string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
		AdminAPIKey         string `envconfig:"ADMIN_API_KEY" default:""`
		DBPath              string `envconfig:"DB_PATH" default:"./data/spotify-util.db"`
		BackupPath          string `envconfig:"BACKUP_PATH" default:"./data/backups"`
		StatsDBPath         string `envconfig:"STATS_DB_PATH" default:"./data/stats.db"`
		BackupSchedule      string `envconfig:"BACKUP_SCHEDULE" default:""` // cron spec, empty disables
		DefaultRecentTracks int    `envconfig:"DEFAULT_RECENT_TRACKS" default:"5"`

		// Spotify API Configuration
		SpotifyClientID        string `envconfig:"SPOTIFY_CLIENT_ID" default:""`
		SpotifyClientSecret    string `envconfig:"SPOTIFY_CLIENT_SECRET" default:""`
		SpotifyAPIBaseURL      string `envconfig:"SPOTIFY_API_BASE_URL" default:"https://api.spotify.com/v1"`
		SpotifyTokenURL        string `envconfig:"SPOTIFY_TOKEN_URL" default:""` // empty means the spotifyauth token endpoint
		SpotifyHTTPTimeoutSecs int    `envconfig:"SPOTIFY_HTTP_TIMEOUT_SECS" default:"10"`
		TokenExpirySkewSecs    int    `envconfig:"TOKEN_EXPIRY_SKEW_SECS" default:"30"`

		// Circuit breaker for upstream calls
		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`      // Consecutive upstream failures before circuit opens
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"60"` // Seconds to wait before a test request
	}

	FeatureFlags struct {
		ProactiveRefresh bool `envconfig:"FF_PROACTIVE_REFRESH" default:"true"`
		AdminEndpoints   bool `envconfig:"FF_ADMIN_ENDPOINTS" default:"true"`
		PersistStats     bool `envconfig:"FF_PERSIST_STATS" default:"true"`
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas, dropping blanks.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Configuration.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// SpotifyHTTPTimeout returns the upstream HTTP client timeout.
func (c Config) SpotifyHTTPTimeout() time.Duration {
	if c.Configuration.SpotifyHTTPTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Configuration.SpotifyHTTPTimeoutSecs) * time.Second
}

// TokenExpirySkew is how early a stored access token is treated as expired.
func (c Config) TokenExpirySkew() time.Duration {
	return time.Duration(c.Configuration.TokenExpirySkewSecs) * time.Second
}

// CircuitBreakerCooldown returns the breaker cooldown as a duration.
func (c Config) CircuitBreakerCooldown() time.Duration {
	return time.Duration(c.Configuration.CircuitBreakerCooldownSecs) * time.Second
}
