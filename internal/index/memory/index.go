// Package memory provides an in-memory chunk index for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mfalkin/sitefeeder/internal/chunker"
	"github.com/mfalkin/sitefeeder/internal/crawler"
)

type document struct {
	id       string
	text     string
	metadata crawler.ChunkMetadata
}

// Index implements crawler.Index with a mutex-guarded map. Search scores
// documents by naive term overlap, which is enough for pipeline tests.
type Index struct {
	mu     sync.Mutex
	docs   map[string]document
	hasher crawler.Hasher
}

// NewIndex returns an empty in-memory index.
func NewIndex(hasher crawler.Hasher) *Index {
	return &Index{
		docs:   make(map[string]document),
		hasher: hasher,
	}
}

// AddChunks stores the given chunks keyed by their deterministic chunk IDs,
// replacing any previous version of the same chunk.
func (i *Index) AddChunks(ctx context.Context, page crawler.Page, chunks []crawler.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, chunk := range chunks {
		id, err := chunker.ChunkID(i.hasher, page.URL, chunk.Index)
		if err != nil {
			return fmt.Errorf("derive chunk id: %w", err)
		}
		i.docs[id] = document{
			id:   id,
			text: chunk.Text,
			metadata: crawler.ChunkMetadata{
				PageID:      page.ID,
				URL:         page.URL,
				Domain:      page.Domain,
				Title:       page.Title,
				ContentType: page.ContentType,
				ChunkIndex:  chunk.Index,
				PageNumber:  page.PageNumber,
			},
		}
	}
	return nil
}

// DeleteByURL removes every chunk indexed under the given page URL.
func (i *Index) DeleteByURL(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for id, doc := range i.docs {
		if doc.metadata.URL == url {
			delete(i.docs, id)
		}
	}
	return nil
}

// Search returns up to topK chunks ranked by how many query terms they contain.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]crawler.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var hits []crawler.SearchHit
	for _, doc := range i.docs {
		text := strings.ToLower(doc.text)
		var score float64
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		hits = append(hits, crawler.SearchHit{
			Text:     doc.text,
			Score:    score / float64(len(terms)),
			Metadata: doc.metadata,
		})
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len reports the number of indexed chunks.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.docs)
}
