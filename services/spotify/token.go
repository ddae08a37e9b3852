package spotify

import (
	"context"
	"errors"
	"net/http"
	"spotify-util-go/logcolors"
	"spotify-util-go/store"
	"time"

	log "github.com/sirupsen/logrus"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// RequiredScopes are the scopes an owner must grant for now-playing resolution
var RequiredScopes = []string{
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserReadRecentlyPlayed,
}

// defaultTokenLifetime is assumed when the token endpoint omits expires_in
const defaultTokenLifetime = time.Hour

// CredentialWriter persists a refreshed credential
type CredentialWriter interface {
	SaveCredential(cred store.AccountCredential) error
}

// Refresher exchanges refresh tokens for new access tokens
type Refresher struct {
	conf       *oauth2.Config
	httpClient *http.Client
	writer     CredentialWriter
	now        func() time.Time
}

// NewRefresher builds a refresher against tokenURL (spotifyauth.TokenURL when empty)
func NewRefresher(clientID, clientSecret, tokenURL string, httpClient *http.Client, writer CredentialWriter) *Refresher {
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Refresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       RequiredScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		writer:     writer,
		now:        time.Now,
	}
}

// Refresh runs one refresh_token grant for cred and persists the result.
// The old refresh token is kept unless the endpoint issued a new one.
// A failed write is logged; the returned credential is still usable.
func (r *Refresher) Refresh(ctx context.Context, cred store.AccountCredential) (store.AccountCredential, error) {
	if cred.RefreshToken == "" {
		return store.AccountCredential{}, &RefreshError{AccountID: cred.AccountID, Reason: "no refresh token stored"}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	// No access token on the seed forces the source to hit the token endpoint
	tok, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		refreshErr := &RefreshError{AccountID: cred.AccountID, Reason: err.Error(), Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if retrieveErr.Response != nil {
				refreshErr.StatusCode = retrieveErr.Response.StatusCode
			}
			if retrieveErr.ErrorCode != "" {
				refreshErr.Reason = retrieveErr.ErrorCode
			}
		}
		log.Warnf("%s Refresh failed for %s: %s", logcolors.LogToken, logcolors.Account(cred.AccountID), refreshErr.Reason)
		return store.AccountCredential{}, refreshErr
	}

	updated := store.AccountCredential{
		AccountID:    cred.AccountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if updated.ExpiresAt.IsZero() {
		updated.ExpiresAt = r.now().Add(defaultTokenLifetime)
	}

	if r.writer != nil {
		if err := r.writer.SaveCredential(updated); err != nil {
			log.Errorf("%s Refreshed token for %s could not be persisted: %v", logcolors.LogToken, logcolors.Account(cred.AccountID), err)
		}
	}

	log.Infof("%s Refreshed access token for %s (expires %s)", logcolors.LogToken, logcolors.Account(cred.AccountID), updated.ExpiresAt.UTC().Format(time.RFC3339))
	return updated, nil
}
