// Package memory provides an in-memory page store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// Store implements crawler.PageStore with maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	pages   map[string]*crawler.Page // keyed by URL
	domains map[string]crawler.DomainRecord
	logs    []crawler.CrawlLogEntry

	hasher crawler.Hasher
	idGen  crawler.IDGenerator
	clock  crawler.Clock
}

// NewStore constructs an empty Store.
func NewStore(hasher crawler.Hasher, idGen crawler.IDGenerator, clock crawler.Clock) *Store {
	return &Store{
		pages:   make(map[string]*crawler.Page),
		domains: make(map[string]crawler.DomainRecord),
		hasher:  hasher,
		idGen:   idGen,
		clock:   clock,
	}
}

// GetApprovedDomains returns the normalized names of all registered domains.
func (s *Store) GetApprovedDomains(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.domains))
	for name := range s.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// UpsertPage creates or updates the page keyed by page.URL, idempotent on
// the content checksum.
func (s *Store) UpsertPage(_ context.Context, page crawler.Page) (string, bool, error) {
	checksum, err := s.hasher.Hash([]byte(page.Content))
	if err != nil {
		return "", false, fmt.Errorf("checksum page content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pages[page.URL]; ok {
		if existing.Checksum == checksum {
			return existing.ID, false, nil
		}
		existing.Content = page.Content
		existing.Checksum = checksum
		existing.Title = page.Title
		existing.SizeBytes = page.SizeBytes
		existing.ContentType = page.ContentType
		existing.CrawledAt = s.clock.Now()
		return existing.ID, true, nil
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return "", false, fmt.Errorf("generate page id: %w", err)
	}
	stored := page
	stored.ID = id
	stored.Checksum = checksum
	stored.CrawledAt = s.clock.Now()
	s.pages[page.URL] = &stored
	return id, true, nil
}

// AppendCrawlLog records one fetch attempt.
func (s *Store) AppendCrawlLog(_ context.Context, entry crawler.CrawlLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// GetPagesByDomain returns all pages stored under the given domain.
func (s *Store) GetPagesByDomain(_ context.Context, domain string) ([]crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pages []crawler.Page
	for _, p := range s.pages {
		if p.Domain == domain {
			pages = append(pages, *p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	return pages, nil
}

// GetPagesByIDs returns the pages matching the given IDs; unknown IDs are
// silently skipped.
func (s *Store) GetPagesByIDs(_ context.Context, ids []string) ([]crawler.Page, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var pages []crawler.Page
	for _, p := range s.pages {
		if want[p.ID] {
			pages = append(pages, *p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	return pages, nil
}

// UpsertDomain registers or updates an allow-list entry. The name is
// normalized to lowercase with any leading "www." stripped.
func (s *Store) UpsertDomain(_ context.Context, rec crawler.DomainRecord) error {
	rec.Name = crawler.NormalizeDomain(rec.Name)
	if rec.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[rec.Name] = rec
	return nil
}

// ListDomains returns all registered domains sorted by name.
func (s *Store) ListDomains(_ context.Context) ([]crawler.DomainRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]crawler.DomainRecord, 0, len(s.domains))
	for _, rec := range s.domains {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

// Logs returns a copy of the crawl log, oldest first. Test helper.
func (s *Store) Logs() []crawler.CrawlLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.CrawlLogEntry(nil), s.logs...)
}
