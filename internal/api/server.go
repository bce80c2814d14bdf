// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/metrics"
)

const defaultSearchTopK = 5

// CrawlRunner starts and re-syncs domain crawls.
type CrawlRunner interface {
	CrawlDomain(ctx context.Context, domain string) crawler.CrawlStats
	SyncDomain(ctx context.Context, domain string) (int, error)
}

// QueueReporter exposes embedding queue counters.
type QueueReporter interface {
	Stats() crawler.QueueStats
}

// Server wires HTTP handlers to the crawl manager, stores and index.
type Server struct {
	router chi.Router
	store  crawler.PageStore
	index  crawler.Index
	queue  QueueReporter
	crawls CrawlRunner
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store crawler.PageStore,
	index crawler.Index,
	queue QueueReporter,
	crawls CrawlRunner,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		index:    index,
		queue:    queue,
		crawls:   crawls,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl/{domain}", s.startCrawl)
		r.Post("/sync/{domain}", s.syncDomain)
		r.Get("/queue/status", s.queueStatus)
		r.Get("/search", s.search)
		r.Route("/domains", func(r chi.Router) {
			r.Post("/", s.registerDomain)
			r.Get("/", s.listDomains)
		})
		r.Delete("/pages", s.deletePage)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// startCrawl launches a crawl in the background and returns immediately.
// A domain with a crawl already in flight is rejected so two sessions never
// interleave writes for the same site.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain required")
		return
	}
	if !s.claimCrawl(domain) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("crawl already running for %s", domain))
		return
	}

	go func() {
		defer s.releaseCrawl(domain)
		// The crawl outlives the HTTP request that started it.
		stats := s.crawls.CrawlDomain(context.Background(), domain)
		if stats.ErrorText != "" {
			s.logger.Warn("background crawl ended with error",
				zap.String("domain", stats.Domain),
				zap.String("error", stats.ErrorText),
			)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"domain": domain,
		"status": "crawl started",
	})
}

func (s *Server) syncDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain required")
		return
	}
	queued, err := s.crawls.SyncDomain(r.Context(), domain)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"domain":       domain,
		"pages_queued": queued,
	})
}

func (s *Server) queueStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q required")
		return
	}
	topK := defaultSearchTopK
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}

	hits, err := s.index.Search(r.Context(), query, topK)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if hits == nil {
		hits = []crawler.SearchHit{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(hits),
		"results": hits,
	})
}

type domainRequest struct {
	Name               string `json:"domain"`
	BaseURL            string `json:"base_url"`
	CrawlIntervalHours int    `json:"crawl_interval_hours"`
	Enabled            *bool  `json:"enabled"`
}

func (s *Server) registerDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "domain required")
		return
	}
	rec := crawler.DomainRecord{
		Name:               req.Name,
		BaseURL:            req.BaseURL,
		CrawlIntervalHours: req.CrawlIntervalHours,
		Enabled:            true,
	}
	if req.Enabled != nil {
		rec.Enabled = *req.Enabled
	}
	if err := s.store.UpsertDomain(r.Context(), rec); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"domain": req.Name, "status": "registered"})
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.ListDomains(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if domains == nil {
		domains = []crawler.DomainRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter url required")
		return
	}
	if err := s.index.DeleteByURL(r.Context(), pageURL); err != nil {
		s.logger.Error("delete by url failed", zap.String("url", pageURL), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": pageURL, "status": "deleted"})
}

// claimCrawl keys in-flight crawls by the canonical domain name so spelling
// variants of one site ("example.com", "www.Example.com") cannot run
// concurrent sessions.
func (s *Server) claimCrawl(domain string) bool {
	key := crawler.NormalizeDomain(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[key]; running {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Server) releaseCrawl(domain string) {
	s.mu.Lock()
	delete(s.inFlight, crawler.NormalizeDomain(domain))
	s.mu.Unlock()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
