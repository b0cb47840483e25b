package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if capturesTotal == nil || navigationTimeoutsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCapture(t *testing.T) {
	ObserveCapture("https://capture.test/page", "archived", 2048, 3*time.Second)

	if val := testutil.ToFloat64(capturesTotal.WithLabelValues("capture.test", "archived")); val != 1 {
		t.Errorf("Expected capturesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(artifactBytesTotal.WithLabelValues("capture.test")); val != 2048 {
		t.Errorf("Expected artifactBytesTotal to be 2048, got %f", val)
	}
}

func TestObserveNavigationTimeout(t *testing.T) {
	Init()
	before := testutil.ToFloat64(navigationTimeoutsTotal)
	ObserveNavigationTimeout()
	if got := testutil.ToFloat64(navigationTimeoutsTotal); got != before+1 {
		t.Errorf("Expected navigation timeouts to grow by 1, got %f -> %f", before, got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	IncActiveSessions()
	IncActiveSessions()
	DecActiveSessions()
	if val := testutil.ToFloat64(activeSessions); val != 1 {
		t.Errorf("Expected active sessions to be 1, got %f", val)
	}
	DecActiveSessions()
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("https://Slow.Example/x", 200*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n < 1 {
		t.Errorf("Expected a rate limit delay series, got %d", n)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
