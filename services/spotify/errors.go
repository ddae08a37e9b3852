package spotify

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the access token was rejected (401) and a refresh may help
	ErrUnauthorized = errors.New("spotify: access token rejected")
	// ErrForbidden means access was revoked or the token lacks scope (403); not retried
	ErrForbidden = errors.New("spotify: access forbidden")
	// ErrRefreshFailed means the refresh token could not be exchanged
	ErrRefreshFailed = errors.New("spotify: token refresh failed")
)

// UpstreamError is any other failed upstream call: an unexpected status,
// a transport failure, or an open circuit breaker.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("spotify %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("spotify %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RefreshError describes a failed refresh_token exchange
type RefreshError struct {
	AccountID  string
	StatusCode int
	Reason     string
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh for %s failed with status %d: %s", e.AccountID, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("token refresh for %s failed: %s", e.AccountID, e.Reason)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}
