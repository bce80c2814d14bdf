package frontier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mfalkin/sitefeeder/internal/archive/memory"
	"github.com/mfalkin/sitefeeder/internal/clock/system"
	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/extract"
	collyfetcher "github.com/mfalkin/sitefeeder/internal/fetcher/colly"
	"github.com/mfalkin/sitefeeder/internal/hash/md5sum"
	"github.com/mfalkin/sitefeeder/internal/id/uuid"
	pubmem "github.com/mfalkin/sitefeeder/internal/publish/memory"
	storemem "github.com/mfalkin/sitefeeder/internal/store/memory"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(pageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, pageID)
}

func (q *recordingQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}

type approvalCountingStore struct {
	*storemem.Store
	mu    sync.Mutex
	calls int
}

func (s *approvalCountingStore) GetApprovedDomains(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Store.GetApprovedDomains(ctx)
}

func (s *approvalCountingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticPDFEngine struct{ text string }

func (e staticPDFEngine) ExtractText(_ []byte, _ int) (string, error) {
	return e.text, nil
}

func newTestManager(t *testing.T, mutate func(*Options)) (*Manager, *storemem.Store, *recordingQueue) {
	t.Helper()

	store := storemem.NewStore(md5sum.New(), uuid.New(), system.New())
	queue := &recordingQueue{}
	opts := Options{
		Fetcher: collyfetcher.New(collyfetcher.Config{UserAgent: "sitefeeder-test"}),
		Store:   store,
		Queue:   queue,
		PDF: extract.NewPDFExtractor(
			staticPDFEngine{text: strings.Repeat("annual report text ", 20)},
			nil, nil, nil, extract.PDFConfig{MaxPages: 500}, nil,
		),
		Hasher:      md5sum.New(),
		Clock:       system.New(),
		Concurrency: 2,
		MaxDepth:    3,
	}
	if mutate != nil {
		mutate(&opts)
	}
	mgr, err := NewManager(opts)
	require.NoError(t, err)
	return mgr, store, queue
}

func page(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Test Page</title></head><body><p>Some page content here.</p>")
	for _, l := range links {
		b.WriteString(`<a href="` + l + `">link</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestCrawlDomainWalksSiteBreadthFirst(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page("/about", "/team", "mailto:hi@example.com", "#top", "https://external.example/x")))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("/", "/team")))
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	publisher := pubmem.New()
	artifacts := memory.New()
	mgr, store, queue := newTestManager(t, func(o *Options) {
		o.Publisher = publisher
		o.Archive = artifacts
	})

	stats := mgr.CrawlDomain(context.Background(), srv.URL)

	require.Empty(t, stats.ErrorText)
	require.Equal(t, 3, stats.PagesCrawled)
	require.Zero(t, stats.PagesFailed)
	require.False(t, stats.Finished.Before(stats.Started))

	host := strings.TrimPrefix(srv.URL, "http://")
	pages, err := store.GetPagesByDomain(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, p := range pages {
		require.Equal(t, "html", p.ContentType)
		require.Equal(t, "Test Page", p.Title)
		require.Contains(t, p.Content, "Some page content here.")
		require.NotContains(t, p.Content, "<a ", "content must be extracted text, not markup")
	}

	require.Len(t, queue.IDs(), 3, "every new page is queued for embedding")
	require.Equal(t, 3, artifacts.Len(), "every fetched page is archived")

	msgs := publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(crawler.CrawlStats)
	require.True(t, ok)
	require.Equal(t, 3, event.PagesCrawled)
}

func TestCrawlDomainRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, store, _ := newTestManager(t, func(o *Options) {
		o.RespectRobots = true
	})

	stats := mgr.CrawlDomain(context.Background(), srv.URL)
	require.Contains(t, stats.ErrorText, "robots.txt")
	require.Zero(t, stats.PagesCrawled)

	host := strings.TrimPrefix(srv.URL, "http://")
	pages, err := store.GetPagesByDomain(context.Background(), host)
	require.NoError(t, err)
	require.Empty(t, pages)
}

func TestCrawlDomainLoadsApprovedDomainsLazily(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("/about")))
	})
	blocked := httptest.NewServer(mux)
	defer blocked.Close()

	open := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page()))
	}))
	defer open.Close()

	store := &approvalCountingStore{Store: storemem.NewStore(md5sum.New(), uuid.New(), system.New())}
	mgr, _, _ := newTestManager(t, func(o *Options) {
		o.Store = store
		o.RespectRobots = true
	})

	stats := mgr.CrawlDomain(context.Background(), blocked.URL)
	require.Contains(t, stats.ErrorText, "robots.txt")
	require.Zero(t, store.Calls(), "a crawl that extracts no links never loads the allow-list")

	stats = mgr.CrawlDomain(context.Background(), open.URL)
	require.Equal(t, 1, stats.PagesCrawled)
	require.Equal(t, 1, store.Calls(), "the allow-list is loaded once per session, on first use")
}

func TestCrawlDomainSeedsFromSitemap(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hiddenHits := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://` + r.Host + `/hidden</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/hidden", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hiddenHits++
		mu.Unlock()
		_, _ = w.Write([]byte(page()))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page())) // no link to /hidden anywhere
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, _, _ := newTestManager(t, func(o *Options) {
		o.UseSitemap = true
	})

	stats := mgr.CrawlDomain(context.Background(), srv.URL)
	require.Equal(t, 2, stats.PagesCrawled, "base URL plus the sitemap-only page")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, hiddenHits)
}

func TestCrawlDomainProcessesPDFAndSkipsUnsupported(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page("/report.pdf", "/logo.png")))
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	})
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, store, queue := newTestManager(t, nil)

	stats := mgr.CrawlDomain(context.Background(), srv.URL)
	require.Equal(t, 2, stats.PagesCrawled, "the html page and the pdf")
	require.Zero(t, stats.PagesFailed, "unsupported content is skipped, not failed")

	host := strings.TrimPrefix(srv.URL, "http://")
	pages, err := store.GetPagesByDomain(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	var pdfPage *crawler.Page
	for i := range pages {
		if pages[i].ContentType == "pdf" {
			pdfPage = &pages[i]
		}
	}
	require.NotNil(t, pdfPage)
	require.Contains(t, pdfPage.Content, "annual report text")
	require.Len(t, queue.IDs(), 2)

	statuses := make(map[crawler.CrawlStatus]int)
	for _, entry := range store.Logs() {
		statuses[entry.Status]++
	}
	require.Equal(t, 2, statuses[crawler.StatusSuccess])
	require.Equal(t, 1, statuses[crawler.StatusSkipped])
}

func TestCrawlDomainSkipsPDFWithoutText(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page("/scan.pdf")))
	})
	mux.HandleFunc("/scan.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 image-only scan"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, store, queue := newTestManager(t, func(o *Options) {
		o.PDF = extract.NewPDFExtractor(
			staticPDFEngine{text: ""}, nil, nil, nil, extract.PDFConfig{MaxPages: 500}, nil,
		)
	})

	stats := mgr.CrawlDomain(context.Background(), srv.URL)
	require.Equal(t, 1, stats.PagesCrawled, "only the html page")
	require.Zero(t, stats.PagesFailed, "an unreadable pdf is skipped, not failed")
	require.Len(t, queue.IDs(), 1, "the unreadable pdf is never queued for embedding")

	var skipped *crawler.CrawlLogEntry
	for _, entry := range store.Logs() {
		if entry.Status == crawler.StatusSkipped {
			e := entry
			skipped = &e
		}
	}
	require.NotNil(t, skipped)
	require.Contains(t, skipped.ErrorText, "no extractable pdf text")
	require.Contains(t, skipped.URL, "/scan.pdf")
}

func TestCrawlDomainHonorsMaxDepth(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page("/a")))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("/b")))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("/c")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, _, _ := newTestManager(t, func(o *Options) {
		o.MaxDepth = 2
	})

	stats := mgr.CrawlDomain(context.Background(), srv.URL)
	require.Equal(t, 2, stats.PagesCrawled, "depth 0 and depth 1 only")
}

func TestCrawlDomainRecordsHTTPFallback(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, store, _ := newTestManager(t, nil)

	// A bare domain defaults to https; the plaintext server forces the
	// fetcher through the http downgrade path.
	host := strings.TrimPrefix(srv.URL, "http://")
	stats := mgr.CrawlDomain(context.Background(), host)
	require.Equal(t, 1, stats.PagesCrawled)

	var sawFallback bool
	for _, entry := range store.Logs() {
		if entry.Status == crawler.StatusHTTPFallback {
			sawFallback = true
		}
	}
	require.True(t, sawFallback, "crawl log should record the http fallback status")
}

func TestCrawlDomainCountsFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page("/broken")))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, store, _ := newTestManager(t, nil)

	stats := mgr.CrawlDomain(context.Background(), srv.URL)
	require.Equal(t, 1, stats.PagesCrawled)
	require.Equal(t, 1, stats.PagesFailed)

	var sawFailed bool
	for _, entry := range store.Logs() {
		if entry.Status == crawler.StatusFailed {
			sawFailed = true
			require.Contains(t, entry.ErrorText, "500")
		}
	}
	require.True(t, sawFailed)
}

func TestSyncDomainReenqueuesStoredPages(t *testing.T) {
	t.Parallel()

	mgr, store, queue := newTestManager(t, nil)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		_, _, err := store.UpsertPage(ctx, crawler.Page{
			Domain: "example.com", URL: u, Content: "content " + u, ContentType: "html",
		})
		require.NoError(t, err)
	}

	require.Empty(t, queue.IDs(), "seeding the store directly bypasses the queue")

	n, err := mgr.SyncDomain(ctx, "www.Example.com")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, queue.IDs(), 2)
}

func TestNewManagerValidatesOptions(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore(md5sum.New(), uuid.New(), system.New())
	_, err := NewManager(Options{Store: store})
	require.Error(t, err)
}
