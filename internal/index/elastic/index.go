// Package elastic implements the chunk index on Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/chunker"
	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// Config holds Elasticsearch connection settings.
type Config struct {
	URL        string
	Username   string
	Password   string
	IndexName  string
	MaxRetries int
}

// Index implements crawler.Index on a single Elasticsearch index. Chunk
// documents carry their text plus flat metadata fields and are keyed by the
// deterministic chunk ID, so re-indexing a page overwrites its chunks.
type Index struct {
	client    *es.Client
	indexName string
	hasher    crawler.Hasher
	logger    *zap.Logger
}

type chunkDocument struct {
	Text        string `json:"text"`
	PageID      string `json:"page_id"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	ChunkIndex  int    `json:"chunk_index"`
	PageNumber  int    `json:"page_number"`
	IndexedAt   string `json:"indexed_at"`
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"text":         map[string]any{"type": "text"},
			"page_id":      map[string]any{"type": "keyword"},
			"url":          map[string]any{"type": "keyword"},
			"domain":       map[string]any{"type": "keyword"},
			"title":        map[string]any{"type": "text"},
			"content_type": map[string]any{"type": "keyword"},
			"chunk_index":  map[string]any{"type": "integer"},
			"page_number":  map[string]any{"type": "integer"},
			"indexed_at":   map[string]any{"type": "date"},
		},
	},
}

// NewIndex creates an Elasticsearch-backed Index.
func NewIndex(cfg Config, hasher crawler.Hasher, logger *zap.Logger) (*Index, error) {
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	address := cfg.URL
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}

	clientCfg := es.Config{
		Addresses:  []string{address},
		MaxRetries: cfg.MaxRetries,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
				MinVersion:         tls.VersionTLS12,
			},
		},
	}
	if cfg.Username != "" && cfg.Password != "" {
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	client, err := es.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return NewIndexWithClient(client, cfg.IndexName, hasher, logger), nil
}

// NewIndexWithClient wraps an existing client (primarily for testing).
func NewIndexWithClient(client *es.Client, indexName string, hasher crawler.Hasher, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{client: client, indexName: indexName, hasher: hasher, logger: logger}
}

// EnsureIndex creates the chunk index with its mapping if it does not exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.indexName},
		i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		if res.IsError() {
			return fmt.Errorf("check index existence: %s", res.String())
		}
		return nil
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}
	createRes, err := i.client.Indices.Create(i.indexName,
		i.client.Indices.Create.WithBody(bytes.NewReader(body)),
		i.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("create index: %s", createRes.String())
	}
	i.logger.Info("created chunk index", zap.String("index", i.indexName))
	return nil
}

// AddChunks bulk-upserts the page's chunks under their deterministic IDs.
func (i *Index) AddChunks(ctx context.Context, page crawler.Page, chunks []crawler.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var buf bytes.Buffer
	for _, chunk := range chunks {
		id, err := chunker.ChunkID(i.hasher, page.URL, chunk.Index)
		if err != nil {
			return fmt.Errorf("derive chunk id: %w", err)
		}

		meta := map[string]any{
			"index": map[string]any{
				"_index": i.indexName,
				"_id":    id,
			},
		}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}

		doc := chunkDocument{
			Text:        chunk.Text,
			PageID:      page.ID,
			URL:         page.URL,
			Domain:      page.Domain,
			Title:       page.Title,
			ContentType: page.ContentType,
			ChunkIndex:  chunk.Index,
			PageNumber:  page.PageNumber,
			IndexedAt:   now,
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("encode chunk document: %w", err)
		}
	}

	res, err := i.client.Bulk(bytes.NewReader(buf.Bytes()),
		i.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk index chunks: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk index chunks: %s", res.String())
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Error  any    `json:"error"`
			ID     string `json:"_id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkRes.Errors {
		for _, item := range bulkRes.Items {
			for _, op := range item {
				if op.Status >= http.StatusBadRequest {
					return fmt.Errorf("bulk index chunk %s: status %d", op.ID, op.Status)
				}
			}
		}
		return fmt.Errorf("bulk index reported errors")
	}

	i.logger.Debug("indexed chunks",
		zap.String("url", page.URL),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// DeleteByURL removes every chunk indexed under the given page URL.
func (i *Index) DeleteByURL(ctx context.Context, url string) error {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"url": url},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("marshal delete query: %w", err)
	}

	res, err := i.client.DeleteByQuery([]string{i.indexName}, bytes.NewReader(body),
		i.client.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete chunks by url: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("delete chunks by url: %s", res.String())
	}
	return nil
}

// Search runs a match query over chunk text and returns the top hits.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]crawler.SearchHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	searchBody := map[string]any{
		"query": map[string]any{
			"match": map[string]any{"text": query},
		},
		"size": topK,
	}
	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.indexName),
		i.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search chunks: %s", res.String())
	}

	var searchRes struct {
		Hits struct {
			Hits []struct {
				Score  float64       `json:"_score"`
				Source chunkDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchRes); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]crawler.SearchHit, 0, len(searchRes.Hits.Hits))
	for _, hit := range searchRes.Hits.Hits {
		hits = append(hits, crawler.SearchHit{
			Text:  hit.Source.Text,
			Score: hit.Score,
			Metadata: crawler.ChunkMetadata{
				PageID:      hit.Source.PageID,
				URL:         hit.Source.URL,
				Domain:      hit.Source.Domain,
				Title:       hit.Source.Title,
				ContentType: hit.Source.ContentType,
				ChunkIndex:  hit.Source.ChunkIndex,
				PageNumber:  hit.Source.PageNumber,
			},
		})
	}
	return hits, nil
}
