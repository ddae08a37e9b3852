package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"spotify-util-go/logcolors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	statsBucketName = "stats"
	statsKey        = "server_stats"
)

// Store persists counters so they accumulate across restarts
type Store struct {
	db       *bolt.DB
	dbPath   string
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PersistedStats is the on-disk form of Stats
type PersistedStats struct {
	// Cumulative counters
	TotalRequests      int64 `json:"total_requests"`
	NowPlayingRequests int64 `json:"now_playing_requests"`
	HealthRequests     int64 `json:"health_requests"`
	StatsRequests      int64 `json:"stats_requests"`
	AdminRequests      int64 `json:"admin_requests"`
	OtherRequests      int64 `json:"other_requests"`
	OutcomeOK          int64 `json:"outcome_ok"`
	OutcomeNotFound    int64 `json:"outcome_not_found"`
	OutcomeForbidden   int64 `json:"outcome_forbidden"`
	OutcomeError       int64 `json:"outcome_error"`
	RefreshSuccess     int64 `json:"refresh_success"`
	RefreshFailure     int64 `json:"refresh_failure"`
	RateLimitAllowed   int64 `json:"rate_limit_allowed"`
	RateLimitExceeded  int64 `json:"rate_limit_exceeded"`
	Status2xx          int64 `json:"status_2xx"`
	Status4xx          int64 `json:"status_4xx"`
	Status5xx          int64 `json:"status_5xx"`

	// Response time tracking, microseconds
	TotalResponseTime       int64 `json:"total_response_time"`
	ResponseCount           int64 `json:"response_count"`
	MinResponseTime         int64 `json:"min_response_time"`
	MaxResponseTime         int64 `json:"max_response_time"`
	NowPlayingResponseTime  int64 `json:"now_playing_response_time"`
	NowPlayingResponseCount int64 `json:"now_playing_response_count"`

	LastSaved    time.Time `json:"last_saved"`
	FirstStarted time.Time `json:"first_started"`
}

// NewStore opens a dedicated BoltDB file for stats
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(statsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats bucket: %w", err)
	}

	log.Infof("%s Stats store initialized at %s", logcolors.LogStats, dbPath)
	return &Store{
		db:       db,
		dbPath:   dbPath,
		stopChan: make(chan struct{}),
	}, nil
}

// Load applies persisted counters to s. A missing record leaves s untouched.
func (st *Store) Load(s *Stats) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var persisted PersistedStats
	found := false
	err := st.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(statsBucketName)).Get([]byte(statsKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &persisted)
	})
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if !found {
		return nil
	}

	s.TotalRequests.Store(persisted.TotalRequests)
	s.NowPlayingRequests.Store(persisted.NowPlayingRequests)
	s.HealthRequests.Store(persisted.HealthRequests)
	s.StatsRequests.Store(persisted.StatsRequests)
	s.AdminRequests.Store(persisted.AdminRequests)
	s.OtherRequests.Store(persisted.OtherRequests)
	s.OutcomeOK.Store(persisted.OutcomeOK)
	s.OutcomeNotFound.Store(persisted.OutcomeNotFound)
	s.OutcomeForbidden.Store(persisted.OutcomeForbidden)
	s.OutcomeError.Store(persisted.OutcomeError)
	s.RefreshSuccess.Store(persisted.RefreshSuccess)
	s.RefreshFailure.Store(persisted.RefreshFailure)
	s.RateLimitAllowed.Store(persisted.RateLimitAllowed)
	s.RateLimitExceeded.Store(persisted.RateLimitExceeded)
	s.Status2xx.Store(persisted.Status2xx)
	s.Status4xx.Store(persisted.Status4xx)
	s.Status5xx.Store(persisted.Status5xx)
	s.totalResponseTime.Store(persisted.TotalResponseTime)
	s.responseCount.Store(persisted.ResponseCount)
	s.nowPlayingResponseTime.Store(persisted.NowPlayingResponseTime)
	s.nowPlayingResponseCount.Store(persisted.NowPlayingResponseCount)

	// Only update min/max if we have valid persisted values
	if persisted.MinResponseTime > 0 && persisted.MinResponseTime < maxInt64 {
		s.minResponseTime.Store(persisted.MinResponseTime)
	}
	if persisted.MaxResponseTime > 0 {
		s.maxResponseTime.Store(persisted.MaxResponseTime)
	}

	if !persisted.FirstStarted.IsZero() {
		s.StartTime = persisted.FirstStarted
	}

	log.Infof("%s Loaded persisted stats (total requests: %d, first started: %s)",
		logcolors.LogStats, persisted.TotalRequests, persisted.FirstStarted.Format(time.RFC3339))
	return nil
}

// Save writes the current counters of s to disk
func (st *Store) Save(s *Stats) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	persisted := PersistedStats{
		TotalRequests:           s.TotalRequests.Load(),
		NowPlayingRequests:      s.NowPlayingRequests.Load(),
		HealthRequests:          s.HealthRequests.Load(),
		StatsRequests:           s.StatsRequests.Load(),
		AdminRequests:           s.AdminRequests.Load(),
		OtherRequests:           s.OtherRequests.Load(),
		OutcomeOK:               s.OutcomeOK.Load(),
		OutcomeNotFound:         s.OutcomeNotFound.Load(),
		OutcomeForbidden:        s.OutcomeForbidden.Load(),
		OutcomeError:            s.OutcomeError.Load(),
		RefreshSuccess:          s.RefreshSuccess.Load(),
		RefreshFailure:          s.RefreshFailure.Load(),
		RateLimitAllowed:        s.RateLimitAllowed.Load(),
		RateLimitExceeded:       s.RateLimitExceeded.Load(),
		Status2xx:               s.Status2xx.Load(),
		Status4xx:               s.Status4xx.Load(),
		Status5xx:               s.Status5xx.Load(),
		TotalResponseTime:       s.totalResponseTime.Load(),
		ResponseCount:           s.responseCount.Load(),
		MinResponseTime:         s.minResponseTime.Load(),
		MaxResponseTime:         s.maxResponseTime.Load(),
		NowPlayingResponseTime:  s.nowPlayingResponseTime.Load(),
		NowPlayingResponseCount: s.nowPlayingResponseCount.Load(),
		LastSaved:               time.Now().UTC(),
		FirstStarted:            s.StartTime,
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(statsBucketName)).Put([]byte(statsKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

// StartAutoSave saves s every interval until Close
func (st *Store) StartAutoSave(s *Stats, interval time.Duration) {
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := st.Save(s); err != nil {
					log.Warnf("%s Failed to auto-save stats: %v", logcolors.LogStats, err)
				}
			case <-st.stopChan:
				return
			}
		}
	}()
	log.Infof("%s Started auto-save with interval %v", logcolors.LogStats, interval)
}

// Close stops auto-save, saves s one last time and closes the database
func (st *Store) Close(s *Stats) error {
	st.stopOnce.Do(func() { close(st.stopChan) })
	st.wg.Wait()

	if err := st.Save(s); err != nil {
		log.Warnf("%s Failed to save stats on close: %v", logcolors.LogStats, err)
	} else {
		log.Infof("%s Stats saved on shutdown", logcolors.LogStats)
	}

	return st.db.Close()
}
