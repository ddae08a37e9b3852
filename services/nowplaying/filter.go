package nowplaying

import (
	"spotify-util-go/services/spotify"
	"spotify-util-go/store"
)

const (
	MinRecentTracks = 5
	MaxRecentTracks = 50
)

// visibility is the resolved set of fields an owner exposes
type visibility struct {
	artist   bool
	album    bool
	duration bool
	progress bool
	credits  bool
	recent   bool
}

var showEverything = visibility{true, true, true, true, true, true}

func visibilityFor(rec *store.PreferenceRecord) visibility {
	if rec == nil {
		return showEverything
	}
	s := rec.PublicDisplaySettings
	return visibility{
		artist:   s.ShowArtist,
		album:    s.ShowAlbum,
		duration: s.ShowDuration,
		progress: s.ShowProgress,
		credits:  s.ShowCredits,
		recent:   s.ShowRecentTracks,
	}
}

// Filter projects resolved playback onto the fields an owner chose to expose
type Filter struct {
	// DefaultRecent is the history length used when a record does not set one
	DefaultRecent int
}

// RecentLimit is how many history entries rec allows, within [MinRecentTracks, MaxRecentTracks]
func (f Filter) RecentLimit(rec *store.PreferenceRecord) int {
	n := f.DefaultRecent
	if rec != nil && rec.PublicDisplaySettings.NumberOfRecentTracks != 0 {
		n = rec.PublicDisplaySettings.NumberOfRecentTracks
	}
	if n < MinRecentTracks {
		n = MinRecentTracks
	}
	if n > MaxRecentTracks {
		n = MaxRecentTracks
	}
	return n
}

// Project applies rec's visibility rules to pb. A nil rec shows everything.
// Project is pure: equal inputs give equal payloads.
func (f Filter) Project(pb ResolvedPlayback, rec *store.PreferenceRecord) DisplayPayload {
	vis := visibilityFor(rec)

	payload := EmptyPayload("")
	payload.Source = pb.Source
	payload.Preferences = echo(rec)
	payload.RecentTracks = nil

	if pb.Source == "" {
		payload.Source = SourceNone
	}
	if pb.Current != nil {
		payload.TrackPayload = projectTrack(*pb.Current, vis)
	}

	if vis.recent {
		limit := f.RecentLimit(rec)
		recent := make([]TrackPayload, 0, min(len(pb.Recent), limit))
		for i, t := range pb.Recent {
			if i == limit {
				break
			}
			recent = append(recent, projectTrack(t, vis))
		}
		payload.RecentTracks = &recent
	}

	return payload
}

func projectTrack(t spotify.TrackSnapshot, vis visibility) TrackPayload {
	tp := TrackPayload{
		Name:      t.Name,
		Artists:   []ArtistPayload{},
		Album:     AlbumPayload{Images: []ImagePayload{}},
		IsPlaying: t.IsPlaying,
	}

	if vis.artist {
		for _, a := range t.Artists {
			tp.Artists = append(tp.Artists, ArtistPayload{Name: a.Name, ExternalURL: a.ExternalURL})
		}
	}
	if vis.album {
		tp.Album.Name = t.Album.Name
		for _, img := range t.Album.Images {
			tp.Album.Images = append(tp.Album.Images, ImagePayload{URL: img.URL, Height: img.Height, Width: img.Width})
		}
	}
	if vis.duration {
		d := t.DurationMs
		tp.DurationMs = &d
	}
	if vis.progress {
		p := t.ProgressMs
		tp.ProgressMs = &p
	}
	if t.PlayedAt != nil {
		playedAt := t.PlayedAt.UTC()
		tp.PlayedAt = &playedAt
	}
	if vis.credits {
		tp.Credits = &Credits{ExternalURL: t.ExternalURL, TrackID: t.TrackID, URI: t.URI}
	}
	return tp
}
