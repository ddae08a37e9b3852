package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"spotify-util-go/circuitbreaker"
	"spotify-util-go/logcolors"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	currentlyPlayingPath = "/me/player/currently-playing"
	recentlyPlayedPath   = "/me/player/recently-played"

	// MaxRecentLimit is the largest page the recently-played endpoint serves
	MaxRecentLimit = 50

	maxErrorBody = 512
)

// Client calls the Spotify Web API player endpoints on behalf of one bearer token
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a player client. breaker may be nil to disable short-circuiting.
func NewClient(httpClient *http.Client, baseURL string, breaker *circuitbreaker.CircuitBreaker) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		breaker:    breaker,
	}
}

// GetCurrent returns the track currently playing for the token's owner.
// Nothing playing (204, an empty or undecodable body, or a non-track item)
// is reported as (nil, nil).
func (c *Client) GetCurrent(ctx context.Context, accessToken string) (*TrackSnapshot, error) {
	body, status, err := c.get(ctx, "currently-playing", currentlyPlayingPath, nil, accessToken)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var resp currentlyPlayingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warnf("%s Unparseable currently-playing body treated as empty: %v", logcolors.LogSpotify, err)
		return nil, nil
	}
	if resp.Item == nil {
		if resp.CurrentlyPlayingType != "" && resp.CurrentlyPlayingType != "track" {
			log.Debugf("%s Currently playing a %s, not a track", logcolors.LogSpotify, resp.CurrentlyPlayingType)
		}
		return nil, nil
	}

	snap := resp.Item.snapshot()
	snap.IsPlaying = resp.IsPlaying
	snap.ProgressMs = resp.ProgressMs
	return &snap, nil
}

// GetRecent returns up to limit recently played tracks, newest first.
// limit is clamped to [1, MaxRecentLimit].
func (c *Client) GetRecent(ctx context.Context, accessToken string, limit int) ([]TrackSnapshot, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	body, status, err := c.get(ctx, "recently-played", recentlyPlayedPath, query, accessToken)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return []TrackSnapshot{}, nil
	}

	var resp recentlyPlayedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warnf("%s Unparseable recently-played body treated as empty: %v", logcolors.LogSpotify, err)
		return []TrackSnapshot{}, nil
	}

	tracks := make([]TrackSnapshot, 0, len(resp.Items))
	for _, item := range resp.Items {
		snap := item.Track.snapshot()
		if !item.PlayedAt.IsZero() {
			playedAt := item.PlayedAt
			snap.PlayedAt = &playedAt
		}
		tracks = append(tracks, snap)
	}
	return tracks, nil
}

// get performs one authenticated GET and classifies the outcome.
// It returns the body only for 2xx statuses.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, accessToken string) ([]byte, int, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		log.Warnf("%s Request to %s blocked, circuit is %s (retry in %v)", logcolors.LogSpotify, endpoint, c.breaker.State(), c.breaker.TimeUntilRetry())
		return nil, 0, &UpstreamError{Endpoint: endpoint, Err: circuitbreaker.ErrCircuitOpen}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A caller hanging up is not the upstream's fault
		if ctx.Err() == nil {
			c.recordFailure()
		}
		return nil, 0, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	log.Debugf("%s %s responded with status %d", logcolors.LogHTTP, endpoint, resp.StatusCode)

	if resp.StatusCode >= 500 {
		c.recordFailure()
	} else {
		c.recordSuccess()
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
		}
		return body, resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, resp.StatusCode, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, ErrForbidden
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Errorf("%s Unexpected status %d from %s: %s", logcolors.LogSpotify, resp.StatusCode, endpoint, string(body))
		return nil, resp.StatusCode, &UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}
