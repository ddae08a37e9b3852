package nowplaying

import (
	"net/http"
	"spotify-util-go/store"
	"time"
)

// User-facing error strings. Not-found deliberately carries no detail.
const (
	MessageNotFound  = "User not found"
	MessageForbidden = "Spotify denied access to this account's playback. The owner needs to reconnect Spotify."
	MessageFailed    = "Failed to fetch track data"
)

// Status is the discriminator callers branch on
type Status string

const (
	StatusOK        Status = "ok"
	StatusNotFound  Status = "not_found"
	StatusForbidden Status = "forbidden"
	StatusError     Status = "error"
)

// HTTPStatus maps the discriminator onto an HTTP status code
func (s Status) HTTPStatus() int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusNotFound:
		return http.StatusNotFound
	case StatusForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type ImagePayload struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

type AlbumPayload struct {
	Name   string         `json:"name"`
	Images []ImagePayload `json:"images"`
}

type ArtistPayload struct {
	Name        string `json:"name"`
	ExternalURL string `json:"external_url,omitempty"`
}

// Credits links back to the track on Spotify
type Credits struct {
	ExternalURL string `json:"external_url"`
	TrackID     string `json:"track_id"`
	URI         string `json:"uri"`
}

// TrackPayload is one track after field redaction. Artists and Album are
// always present; redaction empties them instead of dropping them.
type TrackPayload struct {
	Name       string          `json:"name"`
	Artists    []ArtistPayload `json:"artists"`
	Album      AlbumPayload    `json:"album"`
	DurationMs *int            `json:"duration_ms,omitempty"`
	ProgressMs *int            `json:"progress_ms,omitempty"`
	IsPlaying  bool            `json:"is_playing"`
	PlayedAt   *time.Time      `json:"played_at,omitempty"`
	Credits    *Credits        `json:"credits,omitempty"`
}

// PreferencesEcho is the part of a preference record the rendering layer needs
type PreferencesEcho struct {
	IsPublic              bool                        `json:"isPublic"`
	CustomSlug            string                      `json:"customSlug,omitempty"`
	PublicDisplaySettings store.PublicDisplaySettings `json:"publicDisplaySettings"`
	DisplaySettings       store.DisplaySettings       `json:"displaySettings"`
}

// DisplayPayload is the body returned for every resolution request
type DisplayPayload struct {
	TrackPayload
	Source       Source           `json:"source"`
	RecentTracks *[]TrackPayload  `json:"recent_tracks,omitempty"`
	Preferences  *PreferencesEcho `json:"preferences,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Result pairs a payload with its discriminator
type Result struct {
	Status  Status
	Payload DisplayPayload
}

// EmptyPayload returns the well-formed shape used when there is no track to
// show, optionally carrying an error string.
func EmptyPayload(errMsg string) DisplayPayload {
	recent := []TrackPayload{}
	return DisplayPayload{
		TrackPayload: TrackPayload{
			Artists: []ArtistPayload{},
			Album:   AlbumPayload{Images: []ImagePayload{}},
		},
		Source:       SourceNone,
		RecentTracks: &recent,
		Error:        errMsg,
	}
}

// NotFound is byte-identical for absent and privacy-blocked identifiers
func NotFound() Result {
	return Result{Status: StatusNotFound, Payload: EmptyPayload(MessageNotFound)}
}

// Failed is the generic degraded result for any unexpected failure
func Failed() Result {
	return Result{Status: StatusError, Payload: EmptyPayload(MessageFailed)}
}

// Forbidden tells the owner to re-authenticate
func Forbidden(rec *store.PreferenceRecord) Result {
	payload := EmptyPayload(MessageForbidden)
	payload.Preferences = echo(rec)
	return Result{Status: StatusForbidden, Payload: payload}
}

func echo(rec *store.PreferenceRecord) *PreferencesEcho {
	if rec == nil {
		return nil
	}
	return &PreferencesEcho{
		IsPublic:              rec.IsPublic,
		CustomSlug:            rec.CustomSlug,
		PublicDisplaySettings: rec.PublicDisplaySettings,
		DisplaySettings:       rec.DisplaySettings,
	}
}
