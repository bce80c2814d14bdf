package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/clock/system"
	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/hash/md5sum"
	"github.com/mfalkin/sitefeeder/internal/id/uuid"
	indexmem "github.com/mfalkin/sitefeeder/internal/index/memory"
	storemem "github.com/mfalkin/sitefeeder/internal/store/memory"
)

type fakeCrawlRunner struct {
	mu      sync.Mutex
	crawled []string
	synced  []string
	block   chan struct{}

	syncCount int
	syncErr   error
}

func (f *fakeCrawlRunner) CrawlDomain(_ context.Context, domain string) crawler.CrawlStats {
	f.mu.Lock()
	f.crawled = append(f.crawled, domain)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return crawler.CrawlStats{Domain: domain, PagesCrawled: 1}
}

func (f *fakeCrawlRunner) SyncDomain(_ context.Context, domain string) (int, error) {
	f.mu.Lock()
	f.synced = append(f.synced, domain)
	f.mu.Unlock()
	return f.syncCount, f.syncErr
}

func (f *fakeCrawlRunner) crawledDomains() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.crawled...)
}

type fakeQueueReporter struct {
	stats crawler.QueueStats
}

func (f *fakeQueueReporter) Stats() crawler.QueueStats { return f.stats }

func newTestServer(runner *fakeCrawlRunner) (*Server, *storemem.Store, *indexmem.Index) {
	store := storemem.NewStore(md5sum.New(), uuid.New(), system.New())
	index := indexmem.NewIndex(md5sum.New())
	queue := &fakeQueueReporter{stats: crawler.QueueStats{
		IsRunning:      true,
		QueueSize:      2,
		ProcessedCount: 7,
	}}
	return NewServer(store, index, queue, runner, zap.NewNop()), store, index
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_StartCrawl_RunsInBackground(t *testing.T) {
	t.Parallel()

	runner := &fakeCrawlRunner{}
	server, _, _ := newTestServer(runner)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawl/example.com", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "crawl started")
	require.Eventually(t, func() bool {
		domains := runner.crawledDomains()
		return len(domains) == 1 && domains[0] == "example.com"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StartCrawl_RejectsConcurrentCrawl(t *testing.T) {
	t.Parallel()

	runner := &fakeCrawlRunner{block: make(chan struct{})}
	server, _, _ := newTestServer(runner)

	first := httptest.NewRecorder()
	server.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/v1/crawl/example.com", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	require.Eventually(t, func() bool {
		return len(runner.crawledDomains()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	second := httptest.NewRecorder()
	server.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/v1/crawl/example.com", nil))
	require.Equal(t, http.StatusConflict, second.Code)

	// Other domains are unaffected by the in-flight crawl.
	other := httptest.NewRecorder()
	server.Handler().ServeHTTP(other, httptest.NewRequest(http.MethodPost, "/v1/crawl/other.org", nil))
	require.Equal(t, http.StatusAccepted, other.Code)

	close(runner.block)
}

func TestServer_StartCrawl_RejectsDomainSpellingVariants(t *testing.T) {
	t.Parallel()

	runner := &fakeCrawlRunner{block: make(chan struct{})}
	server, _, _ := newTestServer(runner)

	first := httptest.NewRecorder()
	server.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/v1/crawl/example.com", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	require.Eventually(t, func() bool {
		return len(runner.crawledDomains()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The same site under other spellings shares the in-flight slot.
	for _, variant := range []string{"www.example.com", "Example.com"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/crawl/"+variant, nil))
		require.Equal(t, http.StatusConflict, rec.Code, variant)
	}

	close(runner.block)
}

func TestServer_SyncDomain(t *testing.T) {
	t.Parallel()

	runner := &fakeCrawlRunner{syncCount: 12}
	server, _, _ := newTestServer(runner)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/example.com", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pages_queued":12`)
}

func TestServer_QueueStatus(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})
	req := httptest.NewRequest(http.MethodGet, "/v1/queue/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"is_running":true`)
	require.Contains(t, rec.Body.String(), `"processed_count":7`)
}

func TestServer_Search(t *testing.T) {
	t.Parallel()

	server, _, index := newTestServer(&fakeCrawlRunner{})
	page := crawler.Page{ID: "p1", Domain: "example.com", URL: "https://example.com/go"}
	err := index.AddChunks(context.Background(), page, []crawler.Chunk{
		{Text: "concurrency patterns in production services", Index: 0},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=concurrency+patterns&top_k=3", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":1`)
	require.Contains(t, rec.Body.String(), "concurrency patterns")
}

func TestServer_Search_RequiresQuery(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Search_RejectsBadTopK(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search?q=go&top_k=zero", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RegisterAndListDomains(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})

	body := bytes.NewBufferString(`{"domain":"example.com","base_url":"https://example.com","crawl_interval_hours":24}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/domains/", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	listRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/v1/domains/", nil))
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), "example.com")
	require.Contains(t, listRec.Body.String(), `"enabled":true`)
}

func TestServer_RegisterDomain_RequiresName(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/domains/", bytes.NewBufferString(`{"base_url":"https://example.com"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeletePage(t *testing.T) {
	t.Parallel()

	server, _, index := newTestServer(&fakeCrawlRunner{})
	page := crawler.Page{ID: "p1", Domain: "example.com", URL: "https://example.com/old"}
	err := index.AddChunks(context.Background(), page, []crawler.Chunk{{Text: "stale content", Index: 0}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodDelete, "/v1/pages?url=https%3A%2F%2Fexample.com%2Fold", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, index.Len())
}

func TestServer_DeletePage_RequiresURL(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(&fakeCrawlRunner{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/pages", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
