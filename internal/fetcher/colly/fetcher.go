// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration

	// InsecureTLSCompat disables certificate verification and allows
	// legacy TLS versions for crawling misconfigured legacy servers.
	// This removes transport security and is opt-in per deployment,
	// never a hardened default.
	InsecureTLSCompat bool

	// ProxyURL routes all requests through the given proxy when set.
	ProxyURL string
}

// Fetcher performs single GETs through a Colly collector, following
// redirects and reporting the post-redirect URL. TLS handshake failures
// on https URLs are retried exactly once against the http downgrade.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// The frontier owns robots policy; the collector must not probe
	// robots.txt on its own.
	c.IgnoreRobotsTxt = true
	// Error statuses are reported through FetchResult.StatusCode so the
	// caller can log the numeric code, not Colly's status-text error.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport(cfg))

	return &Fetcher{
		cfg:           cfg,
		transport:     newHTTPTransport(cfg),
		baseCollector: c,
	}
}

// Fetch executes one GET. On a TLS handshake failure for an https URL it
// downgrades both the request URL and the session base URL to http and
// retries once; if the downgrade also fails, the original TLS error is
// surfaced.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	result, err := f.fetchOnce(ctx, request.URL)
	if err == nil {
		result.BaseURL = request.BaseURL
		return result, nil
	}
	if !crawler.IsTLSError(err) || !strings.HasPrefix(request.URL, "https://") {
		return crawler.FetchResult{}, err
	}

	httpURL := "http://" + strings.TrimPrefix(request.URL, "https://")
	fallback, fbErr := f.fetchOnce(ctx, httpURL)
	// A TLS-only server answers the plaintext retry with its own error
	// status; that is a failed downgrade, not a fallback.
	if fbErr != nil || fallback.StatusCode >= 400 {
		return crawler.FetchResult{}, err
	}
	fallback.HTTPFallback = true
	fallback.BaseURL = downgradeScheme(request.BaseURL)
	return fallback, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) (crawler.FetchResult, error) {
	var (
		result   crawler.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = crawler.FetchResult{
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", target, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", target, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if proxy, err := url.Parse(cfg.ProxyURL); err == nil {
			t.Proxy = http.ProxyURL(proxy)
		}
	}
	if cfg.InsecureTLSCompat {
		t.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // explicit legacy-compat mode
			MinVersion:         tls.VersionTLS10,
		}
	}
	return t
}

func downgradeScheme(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "http://" + strings.TrimPrefix(base, "https://")
	}
	return base
}
