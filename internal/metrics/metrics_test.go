package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeDomain(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeDomain(tc.input); got != tc.expected {
				t.Errorf("SanitizeDomain(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if pagesCrawledTotal == nil || fetchDurationSeconds == nil ||
		embedBatchesTotal == nil || embedQueueDepth == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	pagesCrawledTotal.WithLabelValues("test.com", "success").Inc()
	if val := testutil.ToFloat64(pagesCrawledTotal.WithLabelValues("test.com", "success")); val != 1 {
		t.Errorf("expected pages counter to be 1, got %f", val)
	}
}
