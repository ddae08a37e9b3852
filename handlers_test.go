package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"spotify-util-go/config"
	"spotify-util-go/services/nowplaying"
	"strings"
	"sync/atomic"
	"testing"
)

const testAdminKey = "admin-key"

const upstreamCurrentJSON = `{
  "is_playing": true,
  "progress_ms": 42000,
  "currently_playing_type": "track",
  "item": {
    "id": "track123",
    "uri": "spotify:track:track123",
    "name": "Song X",
    "duration_ms": 180000,
    "external_urls": {"spotify": "https://open.spotify.com/track/track123"},
    "artists": [{"id": "a1", "name": "Artist Y"}],
    "album": {"name": "Album W", "images": []}
  }
}`

const upstreamRecentJSON = `{
  "items": [
    {"played_at": "2026-01-01T12:00:00.000Z", "track": {"id": "z1", "uri": "spotify:track:z1", "name": "Song Z", "duration_ms": 200000, "artists": [{"name": "Artist Z"}], "album": {"name": "Album Z", "images": []}}}
  ]
}`

// fakeSpotify serves the player and token endpoints. Only "fresh-token" is
// accepted as a bearer token unless playerStatus overrides the response.
type fakeSpotify struct {
	server       *httptest.Server
	playerStatus int
	tokenCalls   atomic.Int32
	playerCalls  atomic.Int32
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()
	f := &fakeSpotify{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	})
	player := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.playerCalls.Add(1)
			if f.playerStatus != 0 {
				w.WriteHeader(f.playerStatus)
				return
			}
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/v1/me/player/currently-playing", player(upstreamCurrentJSON))
	mux.HandleFunc("/v1/me/player/recently-played", player(upstreamRecentJSON))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func testConfig(t *testing.T, upstream *fakeSpotify) config.Config {
	t.Helper()
	dir := t.TempDir()

	var c config.Config
	c.Configuration.Port = "0"
	c.Configuration.RateLimitPerSecond = 100
	c.Configuration.RateLimitBurstLimit = 100
	c.Configuration.CORSAllowedOrigins = "*"
	c.Configuration.AdminAPIKey = testAdminKey
	c.Configuration.DBPath = filepath.Join(dir, "test.db")
	c.Configuration.BackupPath = filepath.Join(dir, "backups")
	c.Configuration.DefaultRecentTracks = 5
	c.Configuration.SpotifyClientID = "client"
	c.Configuration.SpotifyClientSecret = "secret"
	c.Configuration.SpotifyAPIBaseURL = upstream.server.URL + "/v1"
	c.Configuration.SpotifyTokenURL = upstream.server.URL + "/api/token"
	c.Configuration.SpotifyHTTPTimeoutSecs = 5
	c.Configuration.CircuitBreakerThreshold = 5
	c.Configuration.CircuitBreakerCooldownSecs = 60
	c.FeatureFlags.AdminEndpoints = true
	return c
}

func setupTestServer(t *testing.T, c config.Config) (*Server, http.Handler) {
	t.Helper()
	srv, err := newServer(c)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Handler()
}

func doRequest(h http.Handler, method, path, body, apiKey string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, h http.Handler, preferences, credentials string) {
	t.Helper()
	if preferences != "" {
		if w := doRequest(h, http.MethodPut, "/admin/preferences", preferences, testAdminKey); w.Code != http.StatusOK {
			t.Fatalf("Failed to seed preferences: %d %s", w.Code, w.Body.String())
		}
	}
	if credentials != "" {
		if w := doRequest(h, http.MethodPut, "/admin/credentials", credentials, testAdminKey); w.Code != http.StatusOK {
			t.Fatalf("Failed to seed credentials: %d %s", w.Code, w.Body.String())
		}
	}
}

const (
	publicPrefs = `{"ownerId":"owner-1","spotifyId":"sp-1","customSlug":"dj","isPublic":true,
		"publicDisplaySettings":{"showArtist":true,"showAlbum":true,"showRecentTracks":true,"numberOfRecentTracks":5}}`
	privatePrefs = `{"ownerId":"owner-1","spotifyId":"sp-1","customSlug":"hidden","isPublic":false,
		"publicDisplaySettings":{"showArtist":true}}`
	staleCredential = `{"accountId":"sp-1","accessToken":"stale-token","refreshToken":"refresh-1","expiresIn":3600}`
)

func decodePayload(t *testing.T, w *httptest.ResponseRecorder) nowplaying.DisplayPayload {
	t.Helper()
	var payload nowplaying.DisplayPayload
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	return payload
}

func TestNowPlayingRefreshesAndResolvesLive(t *testing.T) {
	upstream := newFakeSpotify(t)
	srv, h := setupTestServer(t, testConfig(t, upstream))
	seed(t, h, publicPrefs, staleCredential)

	w := doRequest(h, http.MethodGet, "/api/now-playing/u/dj", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get(ResolutionStatusHeader); got != "ok" {
		t.Errorf("Expected resolution ok, got %q", got)
	}
	if got := w.Header().Get(PlaybackSourceHeader); got != "live" {
		t.Errorf("Expected source live, got %q", got)
	}

	payload := decodePayload(t, w)
	if payload.Name != "Song X" || !payload.IsPlaying {
		t.Errorf("Expected live Song X, got %q playing=%v", payload.Name, payload.IsPlaying)
	}
	if len(payload.Artists) != 1 || payload.Artists[0].Name != "Artist Y" {
		t.Errorf("Expected Artist Y, got %+v", payload.Artists)
	}
	if payload.RecentTracks == nil || len(*payload.RecentTracks) != 1 {
		t.Errorf("Expected one recent track, got %v", payload.RecentTracks)
	}
	if upstream.tokenCalls.Load() != 1 {
		t.Errorf("Expected exactly one refresh, got %d", upstream.tokenCalls.Load())
	}

	cred, err := srv.store.GetCredential("sp-1")
	if err != nil {
		t.Fatalf("Failed to read credential: %v", err)
	}
	if cred.AccessToken != "fresh-token" || cred.RefreshToken != "refresh-1" {
		t.Errorf("Expected refreshed token to be persisted, got %q/%q", cred.AccessToken, cred.RefreshToken)
	}
	if srv.stats.RefreshSuccess.Load() != 1 || srv.stats.OutcomeOK.Load() != 1 {
		t.Errorf("Expected one refresh and one ok outcome, got %d and %d", srv.stats.RefreshSuccess.Load(), srv.stats.OutcomeOK.Load())
	}

	// The persisted token is reused without another refresh
	doRequest(h, http.MethodGet, "/api/now-playing/id/sp-1", "", "")
	if upstream.tokenCalls.Load() != 1 {
		t.Errorf("Expected no second refresh, got %d", upstream.tokenCalls.Load())
	}
}

func TestNowPlayingPrivateRecordHiddenFromIDPath(t *testing.T) {
	upstream := newFakeSpotify(t)
	_, h := setupTestServer(t, testConfig(t, upstream))
	seed(t, h, privatePrefs, staleCredential)

	blocked := doRequest(h, http.MethodGet, "/api/now-playing/id/sp-1", "", "")
	unknown := doRequest(h, http.MethodGet, "/api/now-playing/id/nobody", "", "")

	if blocked.Code != http.StatusNotFound || unknown.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for both, got %d and %d", blocked.Code, unknown.Code)
	}
	if blocked.Body.String() != unknown.Body.String() {
		t.Errorf("Expected identical bodies:\n%s\n%s", blocked.Body.String(), unknown.Body.String())
	}
	if upstream.playerCalls.Load() != 0 {
		t.Errorf("Expected no upstream calls, got %d", upstream.playerCalls.Load())
	}

	viaSlug := doRequest(h, http.MethodGet, "/api/now-playing/u/hidden", "", "")
	if viaSlug.Code != http.StatusOK {
		t.Errorf("Expected slug path to resolve, got %d", viaSlug.Code)
	}
}

func TestNowPlayingUpstreamStatuses(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		expectedCode int
		expectedMsg  string
	}{
		{"forbidden", http.StatusForbidden, http.StatusForbidden, nowplaying.MessageForbidden},
		{"server error", http.StatusBadGateway, http.StatusInternalServerError, nowplaying.MessageFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newFakeSpotify(t)
			upstream.playerStatus = tt.status
			_, h := setupTestServer(t, testConfig(t, upstream))
			seed(t, h, publicPrefs, staleCredential)

			w := doRequest(h, http.MethodGet, "/api/now-playing/u/dj", "", "")

			if w.Code != tt.expectedCode {
				t.Errorf("Expected %d, got %d", tt.expectedCode, w.Code)
			}
			payload := decodePayload(t, w)
			if payload.Error != tt.expectedMsg {
				t.Errorf("Expected %q, got %q", tt.expectedMsg, payload.Error)
			}
			if payload.Artists == nil || payload.RecentTracks == nil {
				t.Error("Expected a well-formed empty payload")
			}
		})
	}
}

func TestAdminRequiresAPIKey(t *testing.T) {
	_, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))

	tests := []struct {
		name     string
		apiKey   string
		expected int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", testAdminKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(h, http.MethodGet, "/admin/backups", "", tt.apiKey)
			if w.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestAdminDisabled(t *testing.T) {
	c := testConfig(t, newFakeSpotify(t))
	c.FeatureFlags.AdminEndpoints = false
	_, h := setupTestServer(t, c)

	w := doRequest(h, http.MethodPut, "/admin/preferences", publicPrefs, testAdminKey)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with admin endpoints disabled, got %d", w.Code)
	}
}

func TestAdminPreferencesValidation(t *testing.T) {
	_, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))
	seed(t, h, publicPrefs, "")

	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{"private without slug", `{"ownerId":"owner-2","isPublic":false}`, http.StatusBadRequest},
		{"missing owner", `{"isPublic":true}`, http.StatusBadRequest},
		{"slug with slash", `{"ownerId":"owner-2","customSlug":"a/b","isPublic":true}`, http.StatusBadRequest},
		{"unknown field", `{"ownerId":"owner-2","isPublic":true,"colour":"red"}`, http.StatusBadRequest},
		{"malformed json", `{"ownerId":`, http.StatusBadRequest},
		{"slug taken", `{"ownerId":"owner-2","customSlug":"dj","isPublic":true}`, http.StatusConflict},
		{"same owner keeps slug", publicPrefs, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(h, http.MethodPut, "/admin/preferences", tt.body, testAdminKey)
			if w.Code != tt.expected {
				t.Errorf("Expected %d, got %d: %s", tt.expected, w.Code, w.Body.String())
			}
		})
	}
}

func TestAdminCredentialsNeverEchoTokens(t *testing.T) {
	_, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))

	w := doRequest(h, http.MethodPut, "/admin/credentials", staleCredential, testAdminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if strings.Contains(body, "stale-token") || strings.Contains(body, "refresh-1") {
		t.Errorf("Expected tokens to be withheld, got %s", body)
	}

	var resp CredentialResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.AccountID != "sp-1" || !resp.HasAccessToken || resp.ExpiresAt == nil {
		t.Errorf("Unexpected response %+v", resp)
	}

	missing := doRequest(h, http.MethodPut, "/admin/credentials", `{"accountId":"sp-2"}`, testAdminKey)
	if missing.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without refresh token, got %d", missing.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	_, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))
	seed(t, h, publicPrefs, staleCredential)

	w := doRequest(h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "ok" || health.Preferences != 1 || health.Credentials != 1 || health.CircuitBreaker != "CLOSED" {
		t.Errorf("Unexpected health %+v", health)
	}

	w = doRequest(h, http.MethodGet, "/stats", "", "")
	var snapshot map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&snapshot); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	for _, key := range []string{"requests", "outcomes", "token_refresh", "store", "circuit_breaker", "rate_limiter"} {
		if _, ok := snapshot[key]; !ok {
			t.Errorf("Expected %q in stats", key)
		}
	}
	if strings.Contains(w.Body.String(), "stale-token") {
		t.Error("Expected stats to carry no secrets")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	c := testConfig(t, newFakeSpotify(t))
	c.Configuration.RateLimitPerSecond = 1
	c.Configuration.RateLimitBurstLimit = 1
	srv, h := setupTestServer(t, c)

	first := doRequest(h, http.MethodGet, "/health", "", "")
	second := doRequest(h, http.MethodGet, "/health", "", "")

	if first.Code != http.StatusOK {
		t.Errorf("Expected first request allowed, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", second.Code)
	}
	if srv.stats.RateLimitExceeded.Load() != 1 {
		t.Errorf("Expected one exceeded decision, got %d", srv.stats.RateLimitExceeded.Load())
	}
}

func TestAdminBackupAndList(t *testing.T) {
	_, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))
	seed(t, h, publicPrefs, "")

	w := doRequest(h, http.MethodPost, "/admin/backup", "", testAdminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(h, http.MethodGet, "/admin/backups", "", testAdminKey)
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode backups: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("Expected 1 backup, got %d", resp.Count)
	}
}

func TestAdminCircuitBreakerReset(t *testing.T) {
	srv, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))
	for i := 0; i < 5; i++ {
		srv.breaker.RecordFailure()
	}

	health := doRequest(h, http.MethodGet, "/health", "", "")
	if !strings.Contains(health.Body.String(), `"degraded"`) {
		t.Errorf("Expected degraded health with open breaker, got %s", health.Body.String())
	}

	w := doRequest(h, http.MethodPost, "/admin/circuit-breaker/reset", "", testAdminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if srv.breaker.Failures() != 0 || srv.breaker.State().String() != "CLOSED" {
		t.Errorf("Expected closed breaker after reset, got %s with %d failures", srv.breaker.State(), srv.breaker.Failures())
	}
}

func TestHelpHandler(t *testing.T) {
	_, h := setupTestServer(t, testConfig(t, newFakeSpotify(t)))

	w := doRequest(h, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/api/now-playing/u/{slug}") {
		t.Errorf("Expected endpoint listing, got %s", w.Body.String())
	}
}

func TestStatsPersistAcrossRestart(t *testing.T) {
	c := testConfig(t, newFakeSpotify(t))
	c.FeatureFlags.PersistStats = true
	c.Configuration.StatsDBPath = filepath.Join(t.TempDir(), "stats.db")

	srv, err := newServer(c)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	h := srv.Handler()
	doRequest(h, http.MethodGet, "/health", "", "")
	doRequest(h, http.MethodGet, "/api/now-playing/id/nobody", "", "")
	if err := srv.Close(); err != nil {
		t.Fatalf("Failed to close server: %v", err)
	}

	restarted, _ := setupTestServer(t, c)
	if got := restarted.stats.HealthRequests.Load(); got != 1 {
		t.Errorf("Expected 1 persisted health request, got %d", got)
	}
	if got := restarted.stats.OutcomeNotFound.Load(); got != 1 {
		t.Errorf("Expected 1 persisted not_found outcome, got %d", got)
	}
}

func TestScheduler(t *testing.T) {
	tests := []struct {
		name            string
		backupSchedule  string
		expectedEntries int
		expectErr       bool
	}{
		{"pruning only", "", 1, false},
		{"with backups", "@daily", 2, false},
		{"invalid backup spec", "every tuesday", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t, newFakeSpotify(t))
			c.Configuration.BackupSchedule = tt.backupSchedule
			srv, _ := setupTestServer(t, c)

			sched, err := srv.newScheduler()
			if tt.expectErr {
				if err == nil {
					t.Error("Expected an error for an invalid schedule")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := len(sched.Entries()); got != tt.expectedEntries {
				t.Errorf("Expected %d entries, got %d", tt.expectedEntries, got)
			}
		})
	}
}

func TestScheduledBackup(t *testing.T) {
	srv, _ := setupTestServer(t, testConfig(t, newFakeSpotify(t)))

	srv.scheduledBackup()

	backups, err := srv.store.ListBackups()
	if err != nil {
		t.Fatalf("Failed to list backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("Expected 1 backup, got %d", len(backups))
	}
}

func TestAdminPreferencesIdentifierConflicts(t *testing.T) {
	upstream := newFakeSpotify(t)
	_, h := setupTestServer(t, testConfig(t, upstream))
	seed(t, h, privatePrefs, staleCredential)

	tests := []struct {
		name string
		body string
	}{
		{"public record reusing a private spotify id", `{"ownerId":"owner-2","spotifyId":"sp-1","isPublic":true}`},
		{"spotify id equal to another slug", `{"ownerId":"owner-3","spotifyId":"hidden","isPublic":true}`},
		{"slug equal to another owner id", `{"ownerId":"owner-4","customSlug":"owner-1","isPublic":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(h, http.MethodPut, "/admin/preferences", tt.body, testAdminKey)
			if w.Code != http.StatusConflict {
				t.Errorf("Expected 409, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	// The private owner stays hidden on the id path
	if w := doRequest(h, http.MethodGet, "/api/now-playing/id/sp-1", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for the private spotify id, got %d", w.Code)
	}
	if upstream.playerCalls.Load() != 0 {
		t.Errorf("Expected no upstream calls, got %d", upstream.playerCalls.Load())
	}

	// and its slug still resolves to the same owner
	w := doRequest(h, http.MethodGet, "/api/now-playing/u/hidden", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on the slug path, got %d", w.Code)
	}
	payload := decodePayload(t, w)
	if payload.Preferences == nil || payload.Preferences.CustomSlug != "hidden" || payload.Preferences.IsPublic {
		t.Errorf("Expected the private owner's preferences, got %+v", payload.Preferences)
	}
}

func TestAdminCircuitBreakerStatus(t *testing.T) {
	c := testConfig(t, newFakeSpotify(t))
	c.Configuration.CircuitBreakerThreshold = 0
	_, h := setupTestServer(t, c)

	w := doRequest(h, http.MethodGet, "/admin/circuit-breaker", "", testAdminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Config struct {
			Threshold int `json:"threshold"`
		} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if resp.Config.Threshold != 5 {
		t.Errorf("Expected the effective threshold 5, got %d", resp.Config.Threshold)
	}
}
