package nowplaying

import (
	"context"
	"errors"
	"spotify-util-go/logcolors"
	"spotify-util-go/services/spotify"
	"spotify-util-go/store"
	"time"

	log "github.com/sirupsen/logrus"
)

// Source tells whether the presented track is playing now or the last one played
type Source string

const (
	SourceLive    Source = "live"
	SourceHistory Source = "history"
	SourceNone    Source = "none"
)

// ResolvedPlayback is what the resolver decided to present, before filtering
type ResolvedPlayback struct {
	Current *spotify.TrackSnapshot
	Recent  []spotify.TrackSnapshot
	Source  Source
}

// Outcome is the terminal state of one resolution
type Outcome int

const (
	OutcomeResolved Outcome = iota
	OutcomeForbidden
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "failed"
	}
}

// PlayerAPI is the upstream player surface the resolver drives
type PlayerAPI interface {
	GetCurrent(ctx context.Context, accessToken string) (*spotify.TrackSnapshot, error)
	GetRecent(ctx context.Context, accessToken string, limit int) ([]spotify.TrackSnapshot, error)
}

// TokenRefresher exchanges a credential's refresh token for a new access token
type TokenRefresher interface {
	Refresh(ctx context.Context, cred store.AccountCredential) (store.AccountCredential, error)
}

// Resolution is the resolver's answer for one account
type Resolution struct {
	Playback  ResolvedPlayback
	Outcome   Outcome
	Err       error
	Refreshed bool

	// RecentDegraded is set when history could not be fetched but a live track was served
	RecentDegraded bool
}

// Resolver walks the fetch-current / fetch-recent / refresh state machine.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	player           PlayerAPI
	refresher        TokenRefresher
	recorder         Recorder
	proactiveRefresh bool
	expirySkew       time.Duration
	now              func() time.Time
}

// NewResolver creates a resolver. recorder may be nil.
func NewResolver(player PlayerAPI, refresher TokenRefresher, recorder Recorder, proactiveRefresh bool, expirySkew time.Duration) *Resolver {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Resolver{
		player:           player,
		refresher:        refresher,
		recorder:         recorder,
		proactiveRefresh: proactiveRefresh,
		expirySkew:       expirySkew,
		now:              time.Now,
	}
}

type step int

const (
	stepFetchCurrent step = iota
	stepFetchRecent
	stepRefresh
	stepDone
)

func (s step) String() string {
	switch s {
	case stepFetchCurrent:
		return "FETCH_CURRENT"
	case stepFetchRecent:
		return "FETCH_RECENT"
	case stepRefresh:
		return "REFRESH"
	default:
		return "DONE"
	}
}

// attempt is the mutable state of a single resolution
type attempt struct {
	cred             store.AccountCredential
	recentLimit      int
	refreshAttempted bool
	refreshed        bool
	resume           step
	live             *spotify.TrackSnapshot
	recent           []spotify.TrackSnapshot
	recentDegraded   bool
	outcome          Outcome
	err              error
}

// Resolve decides what to present for the account behind cred. At most one
// refresh is performed; a second rejection after it is terminal.
func (r *Resolver) Resolve(ctx context.Context, cred store.AccountCredential, recentLimit int) Resolution {
	a := &attempt{cred: cred, recentLimit: recentLimit}
	account := logcolors.Account(cred.AccountID)

	next := stepFetchCurrent
	if r.proactiveRefresh && cred.Expired(r.now(), r.expirySkew) {
		log.Debugf("%s Stored token for %s already expired, refreshing first", logcolors.LogResolver, account)
		a.resume = stepFetchCurrent
		next = stepRefresh
	}

	for next != stepDone {
		switch next {
		case stepFetchCurrent:
			next = r.fetchCurrent(ctx, a)
		case stepFetchRecent:
			next = r.fetchRecent(ctx, a)
		case stepRefresh:
			next = r.refresh(ctx, a)
		}
	}

	res := Resolution{Outcome: a.outcome, Err: a.err, Refreshed: a.refreshed, RecentDegraded: a.recentDegraded}
	if a.outcome == OutcomeResolved {
		res.Playback = a.playback()
		log.Debugf("%s %s resolved as %s (recent: %d)", logcolors.LogResolver, account, res.Playback.Source, len(res.Playback.Recent))
	} else {
		log.Warnf("%s %s resolution ended %s: %v", logcolors.LogResolver, account, a.outcome, a.err)
	}
	return res
}

func (r *Resolver) fetchCurrent(ctx context.Context, a *attempt) step {
	snap, err := r.player.GetCurrent(ctx, a.cred.AccessToken)
	switch {
	case err == nil:
		a.live = snap
		return stepFetchRecent
	case errors.Is(err, spotify.ErrUnauthorized):
		a.resume = stepFetchCurrent
		return stepRefresh
	case errors.Is(err, spotify.ErrForbidden):
		return a.finish(OutcomeForbidden, err)
	default:
		return a.finish(OutcomeFailed, err)
	}
}

// fetchRecent always runs, even with a live track, so the history list and
// the history fallback come from the same call.
func (r *Resolver) fetchRecent(ctx context.Context, a *attempt) step {
	tracks, err := r.player.GetRecent(ctx, a.cred.AccessToken, a.recentLimit)
	switch {
	case err == nil:
		a.recent = tracks
		return a.finish(OutcomeResolved, nil)
	case errors.Is(err, spotify.ErrUnauthorized):
		a.resume = stepFetchRecent
		return stepRefresh
	case errors.Is(err, spotify.ErrForbidden):
		return a.finish(OutcomeForbidden, err)
	default:
		return a.degradeRecent(err)
	}
}

func (r *Resolver) refresh(ctx context.Context, a *attempt) step {
	if a.refreshAttempted {
		err := errors.New("access token rejected again after refresh")
		if a.resume == stepFetchRecent {
			return a.degradeRecent(err)
		}
		return a.finish(OutcomeFailed, err)
	}
	a.refreshAttempted = true

	cred, err := r.refresher.Refresh(ctx, a.cred)
	r.recorder.RecordRefresh(err == nil)
	if err != nil {
		if a.resume == stepFetchRecent {
			return a.degradeRecent(err)
		}
		return a.finish(OutcomeFailed, err)
	}

	a.cred = cred
	a.refreshed = true
	log.Debugf("%s Retrying %s with refreshed token", logcolors.LogResolver, a.resume)
	return a.resume
}

func (a *attempt) finish(outcome Outcome, err error) step {
	a.outcome = outcome
	a.err = err
	return stepDone
}

// degradeRecent keeps a live track when only the history call failed.
// With nothing live there is nothing to show, so the failure is terminal.
func (a *attempt) degradeRecent(err error) step {
	if a.live == nil {
		return a.finish(OutcomeFailed, err)
	}
	log.Warnf("%s History unavailable, serving live track without it: %v", logcolors.LogFallback, err)
	a.recent = []spotify.TrackSnapshot{}
	a.recentDegraded = true
	return a.finish(OutcomeResolved, nil)
}

func (a *attempt) playback() ResolvedPlayback {
	recent := a.recent
	if recent == nil {
		recent = []spotify.TrackSnapshot{}
	}

	switch {
	case a.live != nil:
		return ResolvedPlayback{Current: a.live, Recent: recent, Source: SourceLive}
	case len(recent) > 0:
		last := recent[0].MarkCompleted()
		return ResolvedPlayback{Current: &last, Recent: recent, Source: SourceHistory}
	default:
		return ResolvedPlayback{Recent: recent, Source: SourceNone}
	}
}
