package spotify

import (
	"time"

	spotifyapi "github.com/zmb3/spotify/v2"
)

// Artist is one credited artist on a track
type Artist struct {
	Name        string
	ExternalURL string
}

// Image is a single album artwork rendition
type Image struct {
	URL    string
	Height int
	Width  int
}

// Album is the album a track belongs to
type Album struct {
	Name   string
	Images []Image
}

// TrackSnapshot is a point-in-time description of one track, live or historical.
// PlayedAt is set only for snapshots taken from play history.
type TrackSnapshot struct {
	Name        string
	Artists     []Artist
	Album       Album
	DurationMs  int
	ProgressMs  int
	IsPlaying   bool
	ExternalURL string
	TrackID     string
	URI         string
	PlayedAt    *time.Time
}

// MarkCompleted presents a history snapshot as a finished play
func (t TrackSnapshot) MarkCompleted() TrackSnapshot {
	t.IsPlaying = false
	t.ProgressMs = t.DurationMs
	return t
}

// Wire shapes for the two player endpoints. Only the fields the resolver
// needs are decoded.
type wireAlbum struct {
	Name   string             `json:"name"`
	Images []spotifyapi.Image `json:"images"`
}

type wireTrack struct {
	ID           spotifyapi.ID             `json:"id"`
	URI          spotifyapi.URI            `json:"uri"`
	Name         string                    `json:"name"`
	DurationMs   int                       `json:"duration_ms"`
	Artists      []spotifyapi.SimpleArtist `json:"artists"`
	Album        wireAlbum                 `json:"album"`
	ExternalURLs map[string]string         `json:"external_urls"`
}

type currentlyPlayingResponse struct {
	IsPlaying            bool       `json:"is_playing"`
	ProgressMs           int        `json:"progress_ms"`
	CurrentlyPlayingType string     `json:"currently_playing_type"`
	Item                 *wireTrack `json:"item"`
}

type recentlyPlayedItem struct {
	Track    wireTrack `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

type recentlyPlayedResponse struct {
	Items []recentlyPlayedItem `json:"items"`
}

func (w wireTrack) snapshot() TrackSnapshot {
	artists := make([]Artist, 0, len(w.Artists))
	for _, a := range w.Artists {
		artists = append(artists, Artist{Name: a.Name, ExternalURL: a.ExternalURLs["spotify"]})
	}

	images := make([]Image, 0, len(w.Album.Images))
	for _, img := range w.Album.Images {
		images = append(images, Image{URL: img.URL, Height: int(img.Height), Width: int(img.Width)})
	}

	return TrackSnapshot{
		Name:        w.Name,
		Artists:     artists,
		Album:       Album{Name: w.Album.Name, Images: images},
		DurationMs:  w.DurationMs,
		ExternalURL: w.ExternalURLs["spotify"],
		TrackID:     string(w.ID),
		URI:         string(w.URI),
	}
}
