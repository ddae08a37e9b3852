package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"spotify-util-go/logcolors"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	preferencesBucket    = "preferences"
	spotifyIDIndexBucket = "preference_spotify_ids"
	slugIndexBucket      = "preference_slugs"
	credentialsBucket    = "credentials"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("not found")

// Store persists preference records and account credentials in a single BoltDB file
type Store struct {
	db         *bolt.DB
	dbPath     string
	backupPath string
	now        func() time.Time
}

// Open opens (or creates) the database at dbPath and prepares its buckets.
// Secondary indexes are rebuilt from the preferences bucket on every open.
func Open(dbPath, backupPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	if info, err := os.Stat(dbPath); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %d bytes)", logcolors.LogStoreInit, dbPath, info.Size())
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogStoreInit, dbPath)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{preferencesBucket, credentialsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	s := &Store{
		db:         db,
		dbPath:     dbPath,
		backupPath: backupPath,
		now:        time.Now,
	}

	indexed, err := s.rebuildIndexes()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild indexes: %w", err)
	}

	log.Infof("%s Store initialized at %s (%d preference records indexed)", logcolors.LogStore, dbPath, indexed)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Counts returns the number of stored preference records and credentials
func (s *Store) Counts() (preferences int, credentials int) {
	s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(preferencesBucket)); b != nil {
			preferences = b.Stats().KeyN
		}
		if b := tx.Bucket([]byte(credentialsBucket)); b != nil {
			credentials = b.Stats().KeyN
		}
		return nil
	})
	return
}

// Ping verifies the database can serve a read transaction
func (s *Store) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(preferencesBucket)) == nil {
			return fmt.Errorf("bucket %q missing", preferencesBucket)
		}
		return nil
	})
}

func (s *Store) rebuildIndexes() (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{spotifyIDIndexBucket, slugIndexBucket} {
			if tx.Bucket([]byte(name)) != nil {
				if err := tx.DeleteBucket([]byte(name)); err != nil {
					return err
				}
			}
		}
		ids, err := tx.CreateBucket([]byte(spotifyIDIndexBucket))
		if err != nil {
			return err
		}
		slugs, err := tx.CreateBucket([]byte(slugIndexBucket))
		if err != nil {
			return err
		}

		return tx.Bucket([]byte(preferencesBucket)).ForEach(func(k, v []byte) error {
			rec, err := decodePreference(v)
			if err != nil {
				log.Warnf("%s Skipping unreadable preference record %s: %v", logcolors.LogStoreIndex, string(k), err)
				return nil
			}
			if rec.SpotifyID != "" {
				if existing := ids.Get([]byte(rec.SpotifyID)); existing != nil {
					log.Warnf("%s Spotify id %q claimed by both %s and %s, keeping the first", logcolors.LogStoreIndex, rec.SpotifyID, string(existing), string(k))
				} else if err := ids.Put([]byte(rec.SpotifyID), k); err != nil {
					return err
				}
			}
			if rec.CustomSlug != "" {
				if existing := slugs.Get([]byte(rec.CustomSlug)); existing != nil {
					log.Warnf("%s Slug %q claimed by both %s and %s, keeping the first", logcolors.LogStoreIndex, rec.CustomSlug, string(existing), string(k))
				} else if err := slugs.Put([]byte(rec.CustomSlug), k); err != nil {
					return err
				}
			}
			count++
			return nil
		})
	})
	return count, err
}
