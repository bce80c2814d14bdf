// Package crawler defines core types shared across subsystems.
package crawler

import (
	"strings"
	"time"
)

// CrawlStatus is the outcome recorded for a single fetch attempt.
type CrawlStatus string

// Crawl log status values persisted in the page store.
const (
	StatusSuccess      CrawlStatus = "success"
	StatusHTTPFallback CrawlStatus = "success_http_fallback"
	StatusSSLError     CrawlStatus = "ssl_error"
	StatusFailed       CrawlStatus = "failed"
	StatusSkipped      CrawlStatus = "skipped"
)

// ContentKind is the closed set of content types the pipeline handles.
// Dispatch on the kind is exhaustive; adding a kind is a compile-time decision.
type ContentKind int

// Content kinds recognized by the extractor.
const (
	KindUnsupported ContentKind = iota
	KindHTML
	KindPDF
)

// KindForContentType maps a Content-Type header value to a ContentKind.
func KindForContentType(contentType string) ContentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		return KindHTML
	case strings.Contains(ct, "application/pdf"):
		return KindPDF
	default:
		return KindUnsupported
	}
}

// String returns the short label stored with pages of this kind.
func (k ContentKind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// Page is the durable record of one crawled document, keyed by canonical URL.
type Page struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	SizeBytes   int       `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	PageNumber  int       `json:"page_number,omitempty"`
	CrawledAt   time.Time `json:"crawled_at"`
}

// CrawlLogEntry records one fetch attempt. Entries are append-only.
type CrawlLogEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Domain      string        `json:"domain"`
	URL         string        `json:"url"`
	Status      CrawlStatus   `json:"status"`
	ContentType string        `json:"content_type,omitempty"`
	SizeBytes   int           `json:"size_bytes,omitempty"`
	ErrorText   string        `json:"error_text,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// DomainRecord is an allow-list entry registered by an operator.
// Name is normalized: lowercase with any leading "www." stripped.
type DomainRecord struct {
	Name               string    `json:"domain"`
	BaseURL            string    `json:"base_url"`
	CrawlIntervalHours int       `json:"crawl_interval_hours"`
	Enabled            bool      `json:"enabled"`
	LastCrawlAt        time.Time `json:"last_crawl_at,omitempty"`
}

// CrawlStats summarizes one crawl invocation. Crawls always return stats,
// even on partial failure.
type CrawlStats struct {
	Domain       string    `json:"domain"`
	PagesCrawled int       `json:"pages_crawled"`
	PagesFailed  int       `json:"pages_failed"`
	Started      time.Time `json:"start_time"`
	Finished     time.Time `json:"end_time"`
	ErrorText    string    `json:"error,omitempty"`
}

// Duration reports the wall time of the crawl.
func (s CrawlStats) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// FetchRequest captures everything needed to fetch a URL. BaseURL is the
// crawl session's base; the fetcher downgrades it alongside the request
// URL when the HTTP fallback path is taken.
type FetchRequest struct {
	URL     string
	BaseURL string
}

// FetchResult is returned by a Fetcher implementation. FinalURL is the
// post-redirect URL; callers resolve relative links against it.
type FetchResult struct {
	FinalURL     string
	BaseURL      string
	StatusCode   int
	ContentType  string
	Body         []byte
	Duration     time.Duration
	HTTPFallback bool
}

// Chunk is a bounded text span derived from a page, the unit handed to
// the index. Chunks carry no independent identity; they are regenerated
// on every embedding pass.
type Chunk struct {
	Text  string
	Index int
}

// ChunkMetadata accompanies each chunk so the index can form
// deterministic chunk IDs and filter results.
type ChunkMetadata struct {
	PageID      string `json:"page_id"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	ChunkIndex  int    `json:"chunk_index"`
	PageNumber  int    `json:"page_number"`
}

// SearchHit is one result returned by the index.
type SearchHit struct {
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// QueueStats is a point-in-time snapshot of the embedding queue.
type QueueStats struct {
	IsRunning       bool `json:"is_running"`
	QueueSize       int  `json:"queue_size"`
	ProcessedCount  int  `json:"processed_count"`
	FailedCount     int  `json:"failed_count"`
	UniqueProcessed int  `json:"unique_processed"`
}
