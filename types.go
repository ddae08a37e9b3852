package main

import (
	"spotify-util-go/store"
	"time"
)

// PreferenceRequest is the body of PUT /admin/preferences
type PreferenceRequest struct {
	OwnerID               string                      `json:"ownerId"`
	SpotifyID             string                      `json:"spotifyId"`
	CustomSlug            string                      `json:"customSlug"`
	IsPublic              bool                        `json:"isPublic"`
	PublicDisplaySettings store.PublicDisplaySettings `json:"publicDisplaySettings"`
	DisplaySettings       store.DisplaySettings       `json:"displaySettings"`
}

func (p PreferenceRequest) record() store.PreferenceRecord {
	return store.PreferenceRecord{
		OwnerID:               p.OwnerID,
		SpotifyID:             p.SpotifyID,
		CustomSlug:            p.CustomSlug,
		IsPublic:              p.IsPublic,
		PublicDisplaySettings: p.PublicDisplaySettings,
		DisplaySettings:       p.DisplaySettings,
	}
}

// CredentialRequest is the body of PUT /admin/credentials.
// ExpiresAt wins over ExpiresIn when both are set.
type CredentialRequest struct {
	AccountID    string     `json:"accountId"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int        `json:"expiresIn"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (c CredentialRequest) credential(now time.Time) store.AccountCredential {
	cred := store.AccountCredential{
		AccountID:    c.AccountID,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
	}
	switch {
	case c.ExpiresAt != nil:
		cred.ExpiresAt = c.ExpiresAt.UTC()
	case c.ExpiresIn > 0:
		cred.ExpiresAt = now.Add(time.Duration(c.ExpiresIn) * time.Second).UTC()
	}
	return cred
}

// CredentialResponse acknowledges a stored credential without echoing tokens
type CredentialResponse struct {
	Message        string     `json:"message"`
	AccountID      string     `json:"accountId"`
	HasAccessToken bool       `json:"hasAccessToken"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string `json:"status"`
	Store          string `json:"store"`
	Preferences    int    `json:"preferences"`
	Credentials    int    `json:"credentials"`
	CircuitBreaker string `json:"circuit_breaker"`
	RetryIn        string `json:"circuit_breaker_retry_in,omitempty"`
	Error          string `json:"error,omitempty"`
}
