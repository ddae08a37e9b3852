package nowplaying

import (
	"context"
	"spotify-util-go/services/spotify"
	"spotify-util-go/store"
	"time"
)

// reply is one scripted upstream answer
type reply struct {
	track  *spotify.TrackSnapshot
	tracks []spotify.TrackSnapshot
	err    error
}

// fakePlayer answers calls from per-endpoint scripts; the last entry repeats
type fakePlayer struct {
	current      []reply
	recent       []reply
	currentCalls []string
	recentCalls  []string
	recentLimits []int
}

func (f *fakePlayer) GetCurrent(ctx context.Context, token string) (*spotify.TrackSnapshot, error) {
	f.currentCalls = append(f.currentCalls, token)
	r := pick(f.current, len(f.currentCalls))
	return r.track, r.err
}

func (f *fakePlayer) GetRecent(ctx context.Context, token string, limit int) ([]spotify.TrackSnapshot, error) {
	f.recentCalls = append(f.recentCalls, token)
	f.recentLimits = append(f.recentLimits, limit)
	r := pick(f.recent, len(f.recentCalls))
	return r.tracks, r.err
}

func pick(script []reply, call int) reply {
	if len(script) == 0 {
		return reply{}
	}
	if call > len(script) {
		return script[len(script)-1]
	}
	return script[call-1]
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred store.AccountCredential) (store.AccountCredential, error) {
	f.calls++
	if f.err != nil {
		return store.AccountCredential{}, f.err
	}
	cred.AccessToken = "fresh-token"
	cred.ExpiresAt = time.Now().Add(time.Hour)
	return cred, nil
}

type fakeRecorder struct {
	outcomes  []string
	refreshes []bool
}

func (f *fakeRecorder) RecordOutcome(status string) { f.outcomes = append(f.outcomes, status) }
func (f *fakeRecorder) RecordRefresh(success bool)  { f.refreshes = append(f.refreshes, success) }

type fakeStore struct {
	records map[string]*store.PreferenceRecord
	creds   map[string]store.AccountCredential
	credErr error
}

func (f *fakeStore) LookupPreference(identifier string) (*store.PreferenceRecord, store.Match, error) {
	if rec, ok := f.records[identifier]; ok {
		return rec, store.MatchOwnerID, nil
	}
	for _, rec := range f.records {
		if rec.CustomSlug != "" && rec.CustomSlug == identifier {
			return rec, store.MatchSlug, nil
		}
	}
	return nil, store.MatchNone, nil
}

func (f *fakeStore) GetCredential(accountID string) (store.AccountCredential, error) {
	if f.credErr != nil {
		return store.AccountCredential{}, f.credErr
	}
	cred, ok := f.creds[accountID]
	if !ok {
		return store.AccountCredential{}, store.ErrNotFound
	}
	return cred, nil
}

func track(name, artist string) *spotify.TrackSnapshot {
	return &spotify.TrackSnapshot{
		Name:        name,
		Artists:     []spotify.Artist{{Name: artist, ExternalURL: "https://open.spotify.com/artist/" + artist}},
		Album:       spotify.Album{Name: name + " LP", Images: []spotify.Image{{URL: "https://i.scdn.co/image/" + name, Height: 640, Width: 640}}},
		DurationMs:  200000,
		ProgressMs:  60000,
		IsPlaying:   true,
		ExternalURL: "https://open.spotify.com/track/" + name,
		TrackID:     name + "-id",
		URI:         "spotify:track:" + name + "-id",
	}
}

func historyTrack(name string, playedAt time.Time) spotify.TrackSnapshot {
	t := *track(name, "Artist "+name)
	t.IsPlaying = false
	t.ProgressMs = 0
	t.PlayedAt = &playedAt
	return t
}

func credential() store.AccountCredential {
	return store.AccountCredential{
		AccountID:    "acct",
		AccessToken:  "stale-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}
