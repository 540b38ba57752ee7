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
		{"standard http", "http://search.51job.com/list", "search.51job.com"},
		{"standard https", "https://Jobs.51job.com/path", "jobs.51job.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
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

func TestInit_Idempotent(t *testing.T) {
	Init()
	Init()

	if fetchAttemptsTotal == nil || extractorRunsTotal == nil || recordsTotal == nil ||
		persistTotal == nil || proxyPoolSize == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveFetch("https://metrics-test.example/list", FetchSuccess, 128)
	if val := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("metrics-test.example", FetchSuccess)); val != 1 {
		t.Errorf("expected one fetch attempt, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test.example")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	AddRecords("metrics-test", "unique", 3)
	AddRecords("metrics-test", "unique", 0)
	if val := testutil.ToFloat64(recordsTotal.WithLabelValues("metrics-test", "unique")); val != 3 {
		t.Errorf("expected 3 unique records, got %f", val)
	}

	ObservePersist("metrics-test-path", false)
	if val := testutil.ToFloat64(persistTotal.WithLabelValues("metrics-test-path", "failure")); val != 1 {
		t.Errorf("expected one persist failure, got %f", val)
	}

	SetProxyPool(4, 2)
	if val := testutil.ToFloat64(proxyPoolSize.WithLabelValues("inactive")); val != 2 {
		t.Errorf("expected 2 inactive proxies, got %f", val)
	}

	ObserveExtractorRun("metrics-test", "succeeded", 2*time.Second)
	if val := testutil.ToFloat64(extractorRunsTotal.WithLabelValues("metrics-test", "succeeded")); val != 1 {
		t.Errorf("expected one run, got %f", val)
	}

	SetPassInProgress(true)
	if val := testutil.ToFloat64(passInProgress); val != 1 {
		t.Errorf("expected pass gauge 1, got %f", val)
	}
	SetPassInProgress(false)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://search.51job.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
