package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"spotify-util-go/logcolors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	ErrMissingOwnerID     = errors.New("owner id is required")
	ErrPrivateWithoutSlug = errors.New("private records require a custom slug")
	ErrSlugTaken          = errors.New("custom slug is already in use")
	ErrSpotifyIDTaken     = errors.New("spotify id is already in use")
	ErrInvalidSlug        = errors.New("custom slug may not contain '/' or whitespace")
)

// PublicDisplaySettings controls which track fields an owner exposes publicly
type PublicDisplaySettings struct {
	ShowArtist           bool `json:"showArtist"`
	ShowAlbum            bool `json:"showAlbum"`
	ShowDuration         bool `json:"showDuration"`
	ShowProgress         bool `json:"showProgress"`
	ShowCredits          bool `json:"showCredits"`
	ShowRecentTracks     bool `json:"showRecentTracks"`
	NumberOfRecentTracks int  `json:"numberOfRecentTracks"`
}

// DisplaySettings holds presentation choices consumed by the rendering layer
type DisplaySettings struct {
	Style           string `json:"style"`
	CustomCSS       string `json:"customCSS,omitempty"`
	BackgroundImage string `json:"backgroundImage,omitempty"`
}

// PreferenceRecord is an owner's privacy and presentation settings
type PreferenceRecord struct {
	OwnerID               string                `json:"ownerId"`
	SpotifyID             string                `json:"spotifyId"`
	CustomSlug            string                `json:"customSlug,omitempty"`
	IsPublic              bool                  `json:"isPublic"`
	PublicDisplaySettings PublicDisplaySettings `json:"publicDisplaySettings"`
	DisplaySettings       DisplaySettings       `json:"displaySettings"`
	CreatedAt             time.Time             `json:"createdAt"`
	UpdatedAt             time.Time             `json:"updatedAt"`
}

// Validate checks the record-level invariants enforced on every write
func (r PreferenceRecord) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return ErrMissingOwnerID
	}
	if r.CustomSlug != "" && strings.ContainsAny(r.CustomSlug, "/ \t\n") {
		return ErrInvalidSlug
	}
	if !r.IsPublic && r.CustomSlug == "" {
		return ErrPrivateWithoutSlug
	}
	return nil
}

// Match reports which lookup strategy found a record
type Match int

const (
	MatchNone Match = iota
	MatchOwnerID
	MatchSpotifyID
	MatchSlug
)

func (m Match) String() string {
	switch m {
	case MatchOwnerID:
		return "owner_id"
	case MatchSpotifyID:
		return "spotify_id"
	case MatchSlug:
		return "slug"
	default:
		return "none"
	}
}

// LookupPreference resolves a public identifier to a preference record.
// It tries the owner id, then the stored spotify id, then the custom slug,
// and returns the first hit. A miss is (nil, MatchNone, nil).
func (s *Store) LookupPreference(identifier string) (*PreferenceRecord, Match, error) {
	if identifier == "" {
		return nil, MatchNone, nil
	}

	var (
		rec   *PreferenceRecord
		match = MatchNone
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		prefs := tx.Bucket([]byte(preferencesBucket))

		strategies := []struct {
			match Match
			owner func() []byte
		}{
			{MatchOwnerID, func() []byte { return []byte(identifier) }},
			{MatchSpotifyID, func() []byte { return indexGet(tx, spotifyIDIndexBucket, identifier) }},
			{MatchSlug, func() []byte { return indexGet(tx, slugIndexBucket, identifier) }},
		}

		for _, strategy := range strategies {
			owner := strategy.owner()
			if owner == nil {
				continue
			}
			data := prefs.Get(owner)
			if data == nil {
				continue
			}
			decoded, err := decodePreference(data)
			if err != nil {
				return fmt.Errorf("failed to decode preference record %s: %w", string(owner), err)
			}
			rec = decoded
			match = strategy.match
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, MatchNone, err
	}
	return rec, match, nil
}

// GetPreference returns the record stored under ownerID
func (s *Store) GetPreference(ownerID string) (*PreferenceRecord, error) {
	var rec *PreferenceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(preferencesBucket)).Get([]byte(ownerID))
		if data == nil {
			return ErrNotFound
		}
		decoded, err := decodePreference(data)
		if err != nil {
			return err
		}
		rec = decoded
		return nil
	})
	return rec, err
}

// PutPreference creates or replaces the record for rec.OwnerID and keeps the
// spotify id and slug indexes in step with it.
func (s *Store) PutPreference(rec PreferenceRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		prefs := tx.Bucket([]byte(preferencesBucket))
		ids := tx.Bucket([]byte(spotifyIDIndexBucket))
		slugs := tx.Bucket([]byte(slugIndexBucket))
		key := []byte(rec.OwnerID)

		// Owner ids, spotify ids and slugs are resolved from one namespace
		if _, taken := claimedByOther(prefs, ids, slugs, rec.CustomSlug, rec.OwnerID); taken {
			return ErrSlugTaken
		}
		for _, value := range []string{rec.OwnerID, rec.SpotifyID} {
			if match, taken := claimedByOther(prefs, ids, slugs, value, rec.OwnerID); taken {
				if match == MatchSlug {
					return ErrSlugTaken
				}
				return ErrSpotifyIDTaken
			}
		}

		rec.CreatedAt = now
		if existing := prefs.Get(key); existing != nil {
			old, err := decodePreference(existing)
			if err != nil {
				return fmt.Errorf("failed to decode existing record: %w", err)
			}
			if !old.CreatedAt.IsZero() {
				rec.CreatedAt = old.CreatedAt
			}
			if err := unindex(ids, old.SpotifyID, rec.OwnerID); err != nil {
				return err
			}
			if err := unindex(slugs, old.CustomSlug, rec.OwnerID); err != nil {
				return err
			}
		}
		rec.UpdatedAt = now

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := prefs.Put(key, data); err != nil {
			return err
		}
		if rec.SpotifyID != "" {
			if err := ids.Put([]byte(rec.SpotifyID), key); err != nil {
				return err
			}
		}
		if rec.CustomSlug != "" {
			if err := slugs.Put([]byte(rec.CustomSlug), key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("%s Saved preferences for %s (public: %v)", logcolors.LogStore, logcolors.Account(rec.OwnerID), rec.IsPublic)
	return nil
}

// claimedByOther reports whether value already identifies an owner other than
// owner, and through which lookup strategy.
func claimedByOther(prefs, ids, slugs *bolt.Bucket, value, owner string) (Match, bool) {
	if value == "" {
		return MatchNone, false
	}
	if value != owner && prefs.Get([]byte(value)) != nil {
		return MatchOwnerID, true
	}
	if existing := ids.Get([]byte(value)); existing != nil && string(existing) != owner {
		return MatchSpotifyID, true
	}
	if existing := slugs.Get([]byte(value)); existing != nil && string(existing) != owner {
		return MatchSlug, true
	}
	return MatchNone, false
}

func indexGet(tx *bolt.Tx, bucket, key string) []byte {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.Get([]byte(key))
}

// unindex removes key from an index bucket only if it still points at owner
func unindex(b *bolt.Bucket, key, owner string) error {
	if key == "" {
		return nil
	}
	if current := b.Get([]byte(key)); current != nil && string(current) == owner {
		return b.Delete([]byte(key))
	}
	return nil
}

func decodePreference(data []byte) (*PreferenceRecord, error) {
	var rec PreferenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
