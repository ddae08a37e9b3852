package stats

import (
	"sync"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	s := New()

	paths := []string{
		"/api/now-playing/id/abc",
		"/api/now-playing/u/slug",
		"/health",
		"/stats",
		"/admin/backup",
		"/",
	}
	for _, p := range paths {
		s.RecordRequest(p)
	}

	if s.TotalRequests.Load() != 6 {
		t.Errorf("Expected 6 total requests, got %d", s.TotalRequests.Load())
	}
	if s.NowPlayingRequests.Load() != 2 {
		t.Errorf("Expected 2 now-playing requests, got %d", s.NowPlayingRequests.Load())
	}
	if s.AdminRequests.Load() != 1 || s.OtherRequests.Load() != 1 {
		t.Errorf("Expected 1 admin and 1 other, got %d and %d", s.AdminRequests.Load(), s.OtherRequests.Load())
	}
}

func TestRecordOutcomeAndRefresh(t *testing.T) {
	s := New()

	for _, status := range []string{"ok", "ok", "not_found", "forbidden", "error", "weird"} {
		s.RecordOutcome(status)
	}
	s.RecordRefresh(true)
	s.RecordRefresh(true)
	s.RecordRefresh(true)
	s.RecordRefresh(false)

	if s.OutcomeOK.Load() != 2 || s.OutcomeNotFound.Load() != 1 || s.OutcomeForbidden.Load() != 1 || s.OutcomeError.Load() != 2 {
		t.Errorf("Unexpected outcome counts: ok=%d nf=%d fb=%d err=%d",
			s.OutcomeOK.Load(), s.OutcomeNotFound.Load(), s.OutcomeForbidden.Load(), s.OutcomeError.Load())
	}
	if rate := s.RefreshSuccessRate(); rate != 75 {
		t.Errorf("Expected 75%% refresh success, got %v", rate)
	}
}

func TestResponseTimes(t *testing.T) {
	s := New()

	if s.MinResponseTime() != 0 || s.AvgResponseTime() != 0 {
		t.Error("Expected zero timings before any request")
	}

	s.RecordResponseTime(10*time.Millisecond, "/api/now-playing/id/a")
	s.RecordResponseTime(30*time.Millisecond, "/health")

	if s.MinResponseTime() != 10*time.Millisecond {
		t.Errorf("Expected min 10ms, got %v", s.MinResponseTime())
	}
	if s.MaxResponseTime() != 30*time.Millisecond {
		t.Errorf("Expected max 30ms, got %v", s.MaxResponseTime())
	}
	if s.AvgResponseTime() != 20*time.Millisecond {
		t.Errorf("Expected avg 20ms, got %v", s.AvgResponseTime())
	}
	if s.AvgNowPlayingResponseTime() != 10*time.Millisecond {
		t.Errorf("Expected now-playing avg 10ms, got %v", s.AvgNowPlayingResponseTime())
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordRateLimit(false)

	if b.RateLimitExceeded.Load() != 0 {
		t.Error("Expected a fresh instance to have no recorded rate limits")
	}
}

func TestConcurrentRecording(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordRequest("/api/now-playing/id/x")
			s.RecordStatusCode(200)
			s.RecordRateLimit(true)
		}()
	}
	wg.Wait()

	if s.NowPlayingRequests.Load() != 50 || s.Status2xx.Load() != 50 || s.RateLimitAllowed.Load() != 50 {
		t.Errorf("Expected 50 of each counter, got %d/%d/%d", s.NowPlayingRequests.Load(), s.Status2xx.Load(), s.RateLimitAllowed.Load())
	}
}

func TestSnapshotKeys(t *testing.T) {
	snap := New().Snapshot()
	for _, key := range []string{"server", "requests", "outcomes", "token_refresh", "rate_limiting", "responses", "response_times"} {
		if _, ok := snap[key]; !ok {
			t.Errorf("Expected %q section in snapshot", key)
		}
	}
}
