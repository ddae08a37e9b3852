package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"spotify-util-go/logcolors"
	"spotify-util-go/store"
	"time"

	log "github.com/sirupsen/logrus"
)

// PreferenceLookup resolves a public identifier to its preference record
type PreferenceLookup interface {
	LookupPreference(identifier string) (*store.PreferenceRecord, store.Match, error)
}

// CredentialReader loads the stored OAuth credential for an account
type CredentialReader interface {
	GetCredential(accountID string) (store.AccountCredential, error)
}

// Recorder receives resolution counters
type Recorder interface {
	RecordOutcome(status string)
	RecordRefresh(success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string) {}
func (nopRecorder) RecordRefresh(bool)   {}

// Options configures a Service
type Options struct {
	DefaultRecentTracks int
	ProactiveRefresh    bool
	ExpirySkew          time.Duration
	Recorder            Recorder
}

// Service turns a public identifier into a DisplayPayload
type Service struct {
	prefs    PreferenceLookup
	creds    CredentialReader
	resolver *Resolver
	filter   Filter
	recorder Recorder
}

// NewService wires the lookup, privacy gate, resolver and filter together
func NewService(prefs PreferenceLookup, creds CredentialReader, player PlayerAPI, refresher TokenRefresher, opts Options) *Service {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.DefaultRecentTracks == 0 {
		opts.DefaultRecentTracks = MinRecentTracks
	}
	return &Service{
		prefs:    prefs,
		creds:    creds,
		resolver: NewResolver(player, refresher, opts.Recorder, opts.ProactiveRefresh, opts.ExpirySkew),
		filter:   Filter{DefaultRecent: opts.DefaultRecentTracks},
		recorder: opts.Recorder,
	}
}

// Resolve produces the payload for identifier arriving through path. It never
// panics and never returns a malformed payload.
func (s *Service) Resolve(ctx context.Context, identifier string, path LookupPath) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s Recovered from panic resolving %s: %v", logcolors.LogResolver, logcolors.Account(identifier), r)
			result = Failed()
		}
		s.recorder.RecordOutcome(string(result.Status))
	}()

	rec, match, err := s.prefs.LookupPreference(identifier)
	if err != nil {
		log.Errorf("%s Preference lookup failed for %s: %v", logcolors.LogLookup, logcolors.Account(identifier), err)
		return Failed()
	}
	log.Debugf("%s %s via %s path matched %s", logcolors.LogLookup, logcolors.Account(identifier), path, match)

	if !IsAccessAllowed(identifier, path, rec) {
		log.Infof("%s Refusing %s via %s path", logcolors.LogPrivacy, logcolors.Account(identifier), path)
		return NotFound()
	}

	accountID := accountFor(identifier, rec)
	cred, err := s.creds.GetCredential(accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Infof("%s No linked Spotify account for %s", logcolors.LogLookup, logcolors.Account(accountID))
			return NotFound()
		}
		log.Errorf("%s Credential read failed for %s: %v", logcolors.LogLookup, logcolors.Account(accountID), err)
		return Failed()
	}

	resolution := s.resolver.Resolve(ctx, cred, s.filter.RecentLimit(rec))
	switch resolution.Outcome {
	case OutcomeResolved:
		return Result{Status: StatusOK, Payload: s.filter.Project(resolution.Playback, rec)}
	case OutcomeForbidden:
		return Forbidden(rec)
	default:
		return Failed()
	}
}

// accountFor picks the credential key: the record's Spotify id, then its owner id,
// then the identifier itself.
func accountFor(identifier string, rec *store.PreferenceRecord) string {
	if rec == nil {
		return identifier
	}
	if rec.SpotifyID != "" {
		return rec.SpotifyID
	}
	return rec.OwnerID
}

// String describes a result for logs
func (r Result) String() string {
	return fmt.Sprintf("%s (source: %s)", r.Status, r.Payload.Source)
}
