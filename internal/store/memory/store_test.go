package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/hash/md5sum"
	"github.com/mfalkin/sitefeeder/internal/id/uuid"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore() *Store {
	return NewStore(md5sum.New(), uuid.New(), fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)})
}

// TestUpsertPageIdempotentOnChecksum: re-crawling unchanged content does
// not create a duplicate record and reports changed=false.
func TestUpsertPageIdempotentOnChecksum(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	page := crawler.Page{
		Domain:      "example.com",
		URL:         "https://example.com/a",
		Content:     "stable content",
		ContentType: "html",
	}

	id1, changed, err := s.UpsertPage(ctx, page)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotEmpty(t, id1)

	id2, changed, err := s.UpsertPage(ctx, page)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, id1, id2)

	pages, err := s.GetPagesByDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, pages, 1)
}

// TestUpsertPageUpdatesOnContentChange: a changed checksum mutates the
// record in place, keeping the ID stable.
func TestUpsertPageUpdatesOnContentChange(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	page := crawler.Page{Domain: "example.com", URL: "https://example.com/a", Content: "v1"}

	id1, _, err := s.UpsertPage(ctx, page)
	require.NoError(t, err)

	page.Content = "v2"
	id2, changed, err := s.UpsertPage(ctx, page)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, id1, id2)

	pages, err := s.GetPagesByIDs(ctx, []string{id1})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "v2", pages[0].Content)
	require.NotEmpty(t, pages[0].Checksum)
}

// TestDomainRegistryNormalization: names are lowercased and www-stripped.
func TestDomainRegistryNormalization(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertDomain(ctx, crawler.DomainRecord{Name: "WWW.Example.COM", BaseURL: "https://example.com", Enabled: true}))
	require.NoError(t, s.UpsertDomain(ctx, crawler.DomainRecord{Name: "docs.example.org", BaseURL: "https://docs.example.org", Enabled: true}))

	approved, err := s.GetApprovedDomains(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"docs.example.org", "example.com"}, approved)

	require.Error(t, s.UpsertDomain(ctx, crawler.DomainRecord{Name: "   "}))
}

// TestCrawlLogAppendOnly collects entries in order.
func TestCrawlLogAppendOnly(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.AppendCrawlLog(ctx, crawler.CrawlLogEntry{URL: "https://example.com/1", Status: crawler.StatusSuccess}))
	require.NoError(t, s.AppendCrawlLog(ctx, crawler.CrawlLogEntry{URL: "https://example.com/2", Status: crawler.StatusFailed}))

	logs := s.Logs()
	require.Len(t, logs, 2)
	require.Equal(t, crawler.StatusSuccess, logs[0].Status)
	require.Equal(t, crawler.StatusFailed, logs[1].Status)
}

// TestGetPagesByIDsSkipsUnknown tolerates stale IDs.
func TestGetPagesByIDsSkipsUnknown(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	id, _, err := s.UpsertPage(ctx, crawler.Page{Domain: "example.com", URL: "https://example.com/a", Content: "x"})
	require.NoError(t, err)

	pages, err := s.GetPagesByIDs(ctx, []string{id, "missing-id"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
}
