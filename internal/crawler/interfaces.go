package crawler

import (
	"context"
	"io"
	"time"
)

// PageStore persists pages, domains, and crawl logs.
type PageStore interface {
	// GetApprovedDomains returns the normalized names of all registered
	// domains. The union forms the cross-domain allow-list.
	GetApprovedDomains(ctx context.Context) ([]string, error)

	// UpsertPage creates or updates the page keyed by page.URL. The write
	// is idempotent on the content checksum: if the stored checksum
	// matches, nothing changes and changed is false. The returned ID is
	// stable across upserts of the same URL.
	UpsertPage(ctx context.Context, page Page) (id string, changed bool, err error)

	// AppendCrawlLog records one fetch attempt.
	AppendCrawlLog(ctx context.Context, entry CrawlLogEntry) error

	GetPagesByDomain(ctx context.Context, domain string) ([]Page, error)
	GetPagesByIDs(ctx context.Context, ids []string) ([]Page, error)

	UpsertDomain(ctx context.Context, rec DomainRecord) error
	ListDomains(ctx context.Context) ([]DomainRecord, error)
}

// Index is the embedding/index capability the pipeline feeds. Implementations
// must derive deterministic chunk IDs from the metadata (URL + chunk index)
// so duplicate AddChunks calls are idempotent upserts.
type Index interface {
	AddChunks(ctx context.Context, page Page, chunks []Chunk) error
	DeleteByURL(ctx context.Context, url string) error
	Search(ctx context.Context, query string, topK int) ([]SearchHit, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Publisher pushes crawl events to Pub/Sub (or similar). Publishing is
// best-effort; failures never fail the page that triggered the event.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw fetched artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// PDFTextEngine extracts the text layer of a PDF, reading at most maxPages.
type PDFTextEngine interface {
	ExtractText(data []byte, maxPages int) (string, error)
}

// Rasterizer renders PDF pages to encoded images for OCR.
type Rasterizer interface {
	PageImages(data []byte, maxPages int) ([][]byte, error)
}

// OCREngine recognizes text in one encoded page image.
type OCREngine interface {
	ImageText(image []byte) (string, error)
}

// Hasher computes digests for checksums and deterministic chunk IDs.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces page IDs.
type IDGenerator interface {
	NewID() (string, error)
}
