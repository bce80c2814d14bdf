// Package frontier drives domain crawls: seeding, breadth-first traversal,
// fetch dispatch, content extraction and persistence.
package frontier

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/extract"
	"github.com/mfalkin/sitefeeder/internal/metrics"
)

const (
	defaultConcurrency = 4
	defaultMaxDepth    = 5
	crawlEventTopic    = "crawl-events"
)

// Enqueuer hands stored page IDs to the embedding pipeline.
type Enqueuer interface {
	Enqueue(pageID string)
}

// Options configures a Manager.
type Options struct {
	Fetcher crawler.Fetcher
	Store   crawler.PageStore
	Queue   Enqueuer
	PDF     *extract.PDFExtractor
	Hasher  crawler.Hasher
	Clock   crawler.Clock

	// Publisher and Archive are optional; both are best-effort.
	Publisher crawler.Publisher
	Archive   crawler.BlobStore

	Concurrency   int
	Delay         time.Duration
	MaxDepth      int
	RespectRobots bool
	UseSitemap    bool
	EventTopic    string

	Logger *zap.Logger
}

// Manager coordinates crawls. Each CrawlDomain call runs an independent
// session with its own visited set.
type Manager struct {
	opts Options
}

// NewManager validates options and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("page store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("embedding queue is required")
	}
	if opts.PDF == nil {
		return nil, fmt.Errorf("pdf extractor is required")
	}
	if opts.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.EventTopic == "" {
		opts.EventTopic = crawlEventTopic
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Manager{opts: opts}, nil
}

// CrawlDomain crawls one registered domain breadth-first and returns stats.
// It never returns an error; failures are recorded in the stats and the
// crawl log.
func (m *Manager) CrawlDomain(ctx context.Context, domain string) crawler.CrawlStats {
	name := normalizeDomainName(domain)
	stats := crawler.CrawlStats{
		Domain:  name,
		Started: m.opts.Clock.Now(),
	}
	logger := m.opts.Logger.With(zap.String("domain", name))
	logger.Info("starting crawl")

	s := &session{
		mgr:     m,
		domain:  name,
		baseURL: baseURLFor(domain),
		logger:  logger,
		visited: make(map[string]struct{}),
	}

	if m.opts.RespectRobots && robotsDisallowsAll(ctx, m.opts.Fetcher, s.baseURL) {
		logger.Warn("robots.txt disallows crawling")
		stats.ErrorText = "robots.txt disallows crawling"
		stats.Finished = m.opts.Clock.Now()
		m.publishCrawlEvent(ctx, stats)
		return stats
	}

	seeds := []string{s.baseURL}
	if m.opts.UseSitemap {
		fromSitemap := sitemapURLs(ctx, m.opts.Fetcher, s.baseURL)
		if len(fromSitemap) > 0 {
			logger.Info("seeded from sitemap", zap.Int("urls", len(fromSitemap)))
			seeds = append(seeds, fromSitemap...)
		}
	}

	s.crawl(ctx, seeds, &stats)

	if err := ctx.Err(); err != nil && stats.ErrorText == "" {
		stats.ErrorText = err.Error()
	}
	stats.Finished = m.opts.Clock.Now()
	logger.Info("crawl finished",
		zap.Int("pages_crawled", stats.PagesCrawled),
		zap.Int("pages_failed", stats.PagesFailed),
		zap.Duration("duration", stats.Duration()),
	)
	m.publishCrawlEvent(ctx, stats)
	return stats
}

// SyncDomain re-enqueues every stored page of a domain for embedding.
func (m *Manager) SyncDomain(ctx context.Context, domain string) (int, error) {
	name := normalizeDomainName(domain)
	pages, err := m.opts.Store.GetPagesByDomain(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("load pages for %s: %w", name, err)
	}
	for _, page := range pages {
		m.opts.Queue.Enqueue(page.ID)
	}
	m.opts.Logger.Info("queued domain for re-embedding",
		zap.String("domain", name),
		zap.Int("pages", len(pages)),
	)
	return len(pages), nil
}

func (m *Manager) publishCrawlEvent(ctx context.Context, stats crawler.CrawlStats) {
	if m.opts.Publisher == nil {
		return
	}
	if _, err := m.opts.Publisher.Publish(ctx, m.opts.EventTopic, stats); err != nil {
		m.opts.Logger.Warn("failed to publish crawl event",
			zap.String("domain", stats.Domain),
			zap.Error(err),
		)
	}
}

// session is the per-crawl state: visited URLs, the approved-domain set and
// the mutable base URL (downgraded if the fetcher falls back to HTTP).
type session struct {
	mgr    *Manager
	domain string
	logger *zap.Logger

	mu      sync.Mutex
	baseURL string
	visited map[string]struct{}

	approvedOnce sync.Once
	approved     map[string]struct{}
}

// approvedSet fetches the allow-list on first use and caches it for the
// rest of the session. Failure degrades to same-domain crawling only.
func (s *session) approvedSet(ctx context.Context) map[string]struct{} {
	s.approvedOnce.Do(func() {
		s.approved = make(map[string]struct{})
		names, err := s.mgr.opts.Store.GetApprovedDomains(ctx)
		if err != nil {
			s.logger.Warn("failed to load approved domains", zap.Error(err))
			return
		}
		for _, name := range names {
			s.approved[normalizeDomainName(name)] = struct{}{}
		}
	})
	return s.approved
}

// crawl walks the frontier level by level. Within a level, URLs are fetched
// in batches of Concurrency with a delay between batches.
func (s *session) crawl(ctx context.Context, seeds []string, stats *crawler.CrawlStats) {
	level := s.claimUnvisited(seeds)

	for depth := 0; depth < s.mgr.opts.MaxDepth && len(level) > 0; depth++ {
		var (
			nextMu sync.Mutex
			next   []string
		)

		for start := 0; start < len(level); start += s.mgr.opts.Concurrency {
			if ctx.Err() != nil {
				return
			}
			end := start + s.mgr.opts.Concurrency
			if end > len(level) {
				end = len(level)
			}

			var wg sync.WaitGroup
			for _, pageURL := range level[start:end] {
				wg.Add(1)
				go func(u string) {
					defer wg.Done()
					found := s.crawlOne(ctx, u, stats)
					if len(found) > 0 {
						nextMu.Lock()
						next = append(next, found...)
						nextMu.Unlock()
					}
				}(pageURL)
			}
			wg.Wait()

			if s.mgr.opts.Delay > 0 && end < len(level) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.mgr.opts.Delay):
				}
			}
		}

		level = s.claimUnvisited(next)
		if len(level) > 0 {
			s.logger.Info("descending to next depth",
				zap.Int("depth", depth+1),
				zap.Int("urls", len(level)),
			)
		}
	}
}

// claimUnvisited filters out already-visited URLs and marks the remainder
// visited, deduplicating within the batch.
func (s *session) claimUnvisited(urls []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []string
	for _, u := range urls {
		key := canonicalFrontierKey(u)
		if _, seen := s.visited[key]; seen {
			continue
		}
		s.visited[key] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh
}

func (s *session) markVisited(u string) {
	s.mu.Lock()
	s.visited[canonicalFrontierKey(u)] = struct{}{}
	s.mu.Unlock()
}

func (s *session) currentBaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

func (s *session) setBaseURL(u string) {
	s.mu.Lock()
	s.baseURL = u
	s.mu.Unlock()
}

func (s *session) countCrawled(stats *crawler.CrawlStats) {
	s.mu.Lock()
	stats.PagesCrawled++
	s.mu.Unlock()
}

func (s *session) countFailed(stats *crawler.CrawlStats) {
	s.mu.Lock()
	stats.PagesFailed++
	s.mu.Unlock()
}

// crawlOne fetches one URL, persists extracted content and returns the new
// URLs discovered on the page.
func (s *session) crawlOne(ctx context.Context, pageURL string, stats *crawler.CrawlStats) []string {
	opts := s.mgr.opts
	entry := crawler.CrawlLogEntry{
		Timestamp: opts.Clock.Now(),
		Domain:    s.domain,
		URL:       pageURL,
	}
	started := opts.Clock.Now()

	res, err := opts.Fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		BaseURL: s.currentBaseURL(),
	})
	if err != nil {
		if crawler.IsTLSError(err) {
			entry.Status = crawler.StatusSSLError
			s.logger.Warn("tls failure", zap.String("url", pageURL), zap.Error(err))
		} else {
			entry.Status = crawler.StatusFailed
			s.logger.Warn("fetch failed", zap.String("url", pageURL), zap.Error(err))
		}
		entry.ErrorText = err.Error()
		s.countFailed(stats)
		s.finishEntry(ctx, entry, started)
		return nil
	}

	// Redirects and the HTTP fallback can land on a different URL; claim
	// it too so the frontier does not fetch it twice.
	if res.FinalURL != pageURL {
		s.markVisited(res.FinalURL)
	}
	if res.HTTPFallback {
		s.setBaseURL(res.BaseURL)
		metrics.ObserveHTTPFallback(s.domain)
	}
	metrics.ObserveFetch(s.domain, res.Duration)

	if res.StatusCode >= 400 {
		entry.Status = crawler.StatusFailed
		entry.ErrorText = fmt.Sprintf("HTTP status %d", res.StatusCode)
		s.countFailed(stats)
		s.finishEntry(ctx, entry, started)
		return nil
	}

	var newURLs []string
	switch crawler.KindForContentType(res.ContentType) {
	case crawler.KindHTML:
		newURLs = s.handleHTML(ctx, res, &entry, stats)
	case crawler.KindPDF:
		s.handlePDF(ctx, res, &entry, stats)
	default:
		entry.Status = crawler.StatusSkipped
		entry.ErrorText = fmt.Sprintf("unsupported content type: %s", res.ContentType)
		s.logger.Debug("skipping unsupported content type",
			zap.String("url", res.FinalURL),
			zap.String("content_type", res.ContentType),
		)
	}

	s.finishEntry(ctx, entry, started)
	return newURLs
}

func (s *session) handleHTML(ctx context.Context, res crawler.FetchResult, entry *crawler.CrawlLogEntry, stats *crawler.CrawlStats) []string {
	html, err := extract.HTML(res.Body)
	if err != nil {
		entry.Status = crawler.StatusFailed
		entry.ErrorText = fmt.Sprintf("parse html: %v", err)
		s.countFailed(stats)
		return nil
	}

	s.savePage(ctx, crawler.Page{
		Domain:      hostOf(res.FinalURL),
		URL:         res.FinalURL,
		Title:       html.Title,
		Content:     html.Text,
		ContentType: "html",
		SizeBytes:   len(res.Body),
	})
	s.archiveArtifact(ctx, res, ".html")

	entry.Status = crawler.StatusSuccess
	if res.HTTPFallback {
		entry.Status = crawler.StatusHTTPFallback
	}
	entry.ContentType = "html"
	entry.SizeBytes = len(res.Body)
	s.countCrawled(stats)
	metrics.ObservePage(s.domain, string(entry.Status))

	return s.collectLinks(ctx, html, res.FinalURL)
}

func (s *session) handlePDF(ctx context.Context, res crawler.FetchResult, entry *crawler.CrawlLogEntry, stats *crawler.CrawlStats) {
	text := s.mgr.opts.PDF.Text(res.Body, res.FinalURL)
	if text == "" {
		entry.Status = crawler.StatusSkipped
		entry.ErrorText = "no extractable pdf text"
		return
	}

	s.savePage(ctx, crawler.Page{
		Domain:      hostOf(res.FinalURL),
		URL:         res.FinalURL,
		Content:     text,
		ContentType: "pdf",
		SizeBytes:   len(res.Body),
	})
	s.archiveArtifact(ctx, res, ".pdf")

	entry.Status = crawler.StatusSuccess
	if res.HTTPFallback {
		entry.Status = crawler.StatusHTTPFallback
	}
	entry.ContentType = "pdf"
	entry.SizeBytes = len(res.Body)
	s.countCrawled(stats)
	metrics.ObservePage(s.domain, string(entry.Status))
}

// collectLinks applies the inclusion policy to anchors and frames found on
// a page, resolving them against the page's final URL.
func (s *session) collectLinks(ctx context.Context, html extract.HTMLResult, pageURL string) []string {
	seen := make(map[string]struct{})
	approved := s.approvedSet(ctx)
	var links []string

	for _, href := range html.Anchors {
		abs, ok := resolveLink(href, pageURL)
		if !ok {
			continue
		}
		if !followable(abs, s.domain, approved) {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}

	for _, src := range html.FrameSrcs {
		abs, ok := resolveLink(src, pageURL)
		if !ok {
			continue
		}
		if !sameDomain(hostOf(abs), s.domain) {
			// External frames may be legitimate content but are not crawled.
			s.logger.Info("external frame found",
				zap.String("page", pageURL),
				zap.String("frame", abs),
			)
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}

	return links
}

// savePage upserts the page and enqueues it for embedding when its content
// changed. Persistence errors are logged, not propagated; the crawl goes on.
func (s *session) savePage(ctx context.Context, page crawler.Page) {
	page.CrawledAt = s.mgr.opts.Clock.Now()
	id, changed, err := s.mgr.opts.Store.UpsertPage(ctx, page)
	if err != nil {
		s.logger.Error("failed to save page", zap.String("url", page.URL), zap.Error(err))
		return
	}
	if changed {
		s.mgr.opts.Queue.Enqueue(id)
	}
}

// archiveArtifact writes the raw response body to the artifact archive,
// keyed by domain and URL digest. Best-effort.
func (s *session) archiveArtifact(ctx context.Context, res crawler.FetchResult, ext string) {
	if s.mgr.opts.Archive == nil {
		return
	}
	digest, err := s.mgr.opts.Hasher.Hash([]byte(res.FinalURL))
	if err != nil {
		s.logger.Warn("failed to hash artifact key", zap.Error(err))
		return
	}
	path := s.domain + "/" + digest + ext
	if _, err := s.mgr.opts.Archive.PutObject(ctx, path, res.ContentType, bytes.NewReader(res.Body)); err != nil {
		s.logger.Warn("failed to archive artifact",
			zap.String("url", res.FinalURL),
			zap.Error(err),
		)
	}
}

func (s *session) finishEntry(ctx context.Context, entry crawler.CrawlLogEntry, started time.Time) {
	entry.Duration = s.mgr.opts.Clock.Now().Sub(started)
	if err := s.mgr.opts.Store.AppendCrawlLog(ctx, entry); err != nil {
		s.logger.Warn("failed to append crawl log",
			zap.String("url", entry.URL),
			zap.Error(err),
		)
	}
}
