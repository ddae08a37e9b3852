package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"spotify-util-go/logcolors"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// AccountCredential is a persisted OAuth token pair for one account
type AccountCredential struct {
	AccountID    string    `json:"accountId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the access token is at or past its expiry, treating
// anything within skew of expiry as already expired. A zero ExpiresAt is unknown
// and never reported as expired.
func (c AccountCredential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// GetCredential returns the credential stored for accountID or ErrNotFound
func (s *Store) GetCredential(accountID string) (AccountCredential, error) {
	var cred AccountCredential
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(credentialsBucket)).Get([]byte(accountID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &cred)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccountCredential{}, err
		}
		return AccountCredential{}, fmt.Errorf("failed to read credential: %w", err)
	}
	return cred, nil
}

// SaveCredential writes cred under cred.AccountID, replacing any previous value.
// Concurrent writers for the same account are serialized by BoltDB; the last one wins.
func (s *Store) SaveCredential(cred AccountCredential) error {
	if cred.AccountID == "" {
		return errors.New("account id is required")
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(credentialsBucket)).Put([]byte(cred.AccountID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	log.Debugf("%s Stored credential for %s (expires %s)", logcolors.LogStore, logcolors.Account(cred.AccountID), cred.ExpiresAt.Format(time.RFC3339))
	return nil
}
