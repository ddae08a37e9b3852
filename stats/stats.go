package stats

import (
	"strings"
	"sync/atomic"
	"time"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Stats holds server statistics as atomic counters.
// Each server owns its own instance.
type Stats struct {
	StartTime time.Time

	// Request counters
	TotalRequests      atomic.Int64
	NowPlayingRequests atomic.Int64
	HealthRequests     atomic.Int64
	StatsRequests      atomic.Int64
	AdminRequests      atomic.Int64
	OtherRequests      atomic.Int64

	// Resolution outcomes
	OutcomeOK        atomic.Int64
	OutcomeNotFound  atomic.Int64
	OutcomeForbidden atomic.Int64
	OutcomeError     atomic.Int64

	// Token refreshes
	RefreshSuccess atomic.Int64
	RefreshFailure atomic.Int64

	// Rate limiting
	RateLimitAllowed  atomic.Int64
	RateLimitExceeded atomic.Int64

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response times in microseconds
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	nowPlayingResponseTime  atomic.Int64
	nowPlayingResponseCount atomic.Int64
}

// New returns a zeroed Stats starting now
func New() *Stats {
	s := &Stats{StartTime: time.Now()}
	s.minResponseTime.Store(maxInt64)
	return s
}

func isNowPlaying(path string) bool {
	return strings.HasPrefix(path, "/api/now-playing/")
}

// RecordRequest counts a request by path
func (s *Stats) RecordRequest(path string) {
	s.TotalRequests.Add(1)
	switch {
	case isNowPlaying(path):
		s.NowPlayingRequests.Add(1)
	case path == "/health":
		s.HealthRequests.Add(1)
	case path == "/stats":
		s.StatsRequests.Add(1)
	case strings.HasPrefix(path, "/admin/"):
		s.AdminRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

// RecordOutcome counts a resolution by its discriminator
func (s *Stats) RecordOutcome(status string) {
	switch status {
	case "ok":
		s.OutcomeOK.Add(1)
	case "not_found":
		s.OutcomeNotFound.Add(1)
	case "forbidden":
		s.OutcomeForbidden.Add(1)
	default:
		s.OutcomeError.Add(1)
	}
}

// RecordRefresh counts a token refresh attempt
func (s *Stats) RecordRefresh(success bool) {
	if success {
		s.RefreshSuccess.Add(1)
	} else {
		s.RefreshFailure.Add(1)
	}
}

// RecordRateLimit counts a rate limiter decision
func (s *Stats) RecordRateLimit(allowed bool) {
	if allowed {
		s.RateLimitAllowed.Add(1)
	} else {
		s.RateLimitExceeded.Add(1)
	}
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordResponseTime records how long a request to path took
func (s *Stats) RecordResponseTime(duration time.Duration, path string) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}

	if isNowPlaying(path) {
		s.nowPlayingResponseTime.Add(us)
		s.nowPlayingResponseCount.Add(1)
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	return average(s.totalResponseTime.Load(), s.responseCount.Load())
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == maxInt64 {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// AvgNowPlayingResponseTime returns the average time spent resolving now-playing requests
func (s *Stats) AvgNowPlayingResponseTime() time.Duration {
	return average(s.nowPlayingResponseTime.Load(), s.nowPlayingResponseCount.Load())
}

func average(totalUs, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(totalUs/count) * time.Microsecond
}

// RefreshSuccessRate returns the share of successful refreshes as a percentage
func (s *Stats) RefreshSuccessRate() float64 {
	ok := s.RefreshSuccess.Load()
	total := ok + s.RefreshFailure.Load()
	if total == 0 {
		return 0
	}
	return float64(ok) / float64(total) * 100
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":       s.TotalRequests.Load(),
			"now_playing": s.NowPlayingRequests.Load(),
			"health":      s.HealthRequests.Load(),
			"stats":       s.StatsRequests.Load(),
			"admin":       s.AdminRequests.Load(),
			"other":       s.OtherRequests.Load(),
		},
		"outcomes": map[string]interface{}{
			"ok":        s.OutcomeOK.Load(),
			"not_found": s.OutcomeNotFound.Load(),
			"forbidden": s.OutcomeForbidden.Load(),
			"error":     s.OutcomeError.Load(),
		},
		"token_refresh": map[string]interface{}{
			"success":      s.RefreshSuccess.Load(),
			"failure":      s.RefreshFailure.Load(),
			"success_rate": s.RefreshSuccessRate(),
		},
		"rate_limiting": map[string]interface{}{
			"allowed":  s.RateLimitAllowed.Load(),
			"exceeded": s.RateLimitExceeded.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg":             s.AvgResponseTime().String(),
			"min":             s.MinResponseTime().String(),
			"max":             s.MaxResponseTime().String(),
			"avg_now_playing": s.AvgNowPlayingResponseTime().String(),
		},
	}
}
