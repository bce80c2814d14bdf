// Package embedq implements the asynchronous embedding queue that turns
// stored pages into indexed chunks.
package embedq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/chunker"
	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/metrics"
)

const (
	defaultBatchSize       = 10
	defaultBatchTimeout    = 5 * time.Second
	defaultMaxRetries      = 3
	defaultStopGrace       = 20 * time.Second
	defaultChunkSize       = 500
	defaultChunkOverlap    = 100
	defaultDedupeCacheSize = 10000
	initialRetryBackoff    = time.Second
)

// Options configures a Queue.
type Options struct {
	Store crawler.PageStore
	Index crawler.Index

	ChunkSize    int
	ChunkOverlap int

	// BatchSize caps how many page IDs one embedding batch may hold;
	// BatchTimeout bounds how long a partial batch waits for more work.
	BatchSize    int
	BatchTimeout time.Duration

	// MaxRetries is the total number of attempts per batch. A batch that
	// still fails after the last attempt is dropped and counted as failed.
	MaxRetries int

	// StopGrace bounds how long Stop waits for the queue to drain.
	StopGrace time.Duration

	// DedupeCacheSize bounds the processed-set used to skip re-embedding
	// unchanged pages.
	DedupeCacheSize int

	Logger *zap.Logger
}

// Queue accepts page IDs from the crawl path and embeds them in batches on
// a single consumer goroutine. Enqueue never blocks the caller.
//
// A Queue is single-use: once stopped it cannot be restarted.
type Queue struct {
	store  crawler.PageStore
	index  crawler.Index
	logger *zap.Logger

	chunkSize    int
	chunkOverlap int
	batchSize    int
	batchTimeout time.Duration
	maxRetries   int
	stopGrace    time.Duration
	retryBackoff time.Duration

	mu        sync.Mutex
	pending   []string
	isRunning bool
	processed int
	failed    int
	unique    int
	seen      *lruSet
	uniqueIDs *lruSet

	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	stopped sync.Once
}

// New creates a Queue. Zero option fields fall back to defaults.
func New(opts Options) (*Queue, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("page store is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = defaultChunkOverlap
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = defaultBatchTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.DedupeCacheSize <= 0 {
		opts.DedupeCacheSize = defaultDedupeCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	metrics.Init()

	return &Queue{
		store:        opts.Store,
		index:        opts.Index,
		logger:       opts.Logger,
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
		batchSize:    opts.BatchSize,
		batchTimeout: opts.BatchTimeout,
		maxRetries:   opts.MaxRetries,
		stopGrace:    opts.StopGrace,
		retryBackoff: initialRetryBackoff,
		seen:         newLRUSet(opts.DedupeCacheSize),
		uniqueIDs:    newLRUSet(opts.DedupeCacheSize),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine. Calling Start more than once is a
// no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	go q.run(ctx)
	q.logger.Info("embedding queue started",
		zap.Int("batch_size", q.batchSize),
		zap.Duration("batch_timeout", q.batchTimeout),
	)
}

// Enqueue adds a page ID to the queue. It never blocks and is safe to call
// from crawl workers; IDs enqueued after Stop are dropped during shutdown.
func (q *Queue) Enqueue(pageID string) {
	if pageID == "" {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, pageID)
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.SetEmbedQueueDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stop drains the queue and stops the consumer. It blocks until the queue
// is empty or the grace period elapses, whichever comes first; in-flight
// work past the grace period is cancelled.
func (q *Queue) Stop() {
	q.mu.Lock()
	running := q.isRunning
	q.isRunning = false
	q.mu.Unlock()
	if !running {
		return
	}

	q.stopped.Do(func() { close(q.stopCh) })

	select {
	case <-q.done:
	case <-time.After(q.stopGrace + time.Second):
		q.cancel()
		<-q.done
	}
	q.cancel()
	q.logger.Info("embedding queue stopped", zap.Int("dropped", q.pendingLen()))
}

// Stats returns a point-in-time snapshot of queue state.
func (q *Queue) Stats() crawler.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return crawler.QueueStats{
		IsRunning:       q.isRunning,
		QueueSize:       len(q.pending),
		ProcessedCount:  q.processed,
		FailedCount:     q.failed,
		UniqueProcessed: q.unique,
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		if q.pendingLen() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				q.drain(ctx)
				return
			case <-q.wake:
			}
		}

		// A batch dispatches when it is full or when the oldest item has
		// waited out the batch timeout.
		timer := time.NewTimer(q.batchTimeout)
	fill:
		for q.pendingLen() < q.batchSize {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-q.stopCh:
				timer.Stop()
				q.drain(ctx)
				return
			case <-q.wake:
			case <-timer.C:
				break fill
			}
		}
		timer.Stop()

		if batch := q.takeBatch(); len(batch) > 0 {
			q.processWithRetry(ctx, batch)
		}
	}
}

// drain processes whatever is queued until empty or the grace period ends.
func (q *Queue) drain(ctx context.Context) {
	deadline := time.Now().Add(q.stopGrace)
	for q.pendingLen() > 0 && ctx.Err() == nil {
		if time.Now().After(deadline) {
			q.logger.Warn("drain grace period elapsed", zap.Int("remaining", q.pendingLen()))
			return
		}
		if batch := q.takeBatch(); len(batch) > 0 {
			q.processWithRetry(ctx, batch)
		}
	}
}

func (q *Queue) pendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) takeBatch() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.batchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := make([]string, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	metrics.SetEmbedQueueDepth(len(q.pending))
	return batch
}

func (q *Queue) processWithRetry(ctx context.Context, ids []string) {
	backoff := q.retryBackoff
	var lastErr error
	for attempt := 1; attempt <= q.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = q.processBatch(ctx, ids)
		if lastErr == nil {
			metrics.ObserveEmbedBatch("success")
			return
		}
		q.logger.Warn("embedding batch failed",
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(ids)),
			zap.Error(lastErr),
		)
	}

	q.mu.Lock()
	q.failed += len(ids)
	q.mu.Unlock()
	metrics.ObserveEmbedBatch("failed")
	q.logger.Error("dropping embedding batch after retries",
		zap.Int("batch_size", len(ids)),
		zap.Error(lastErr),
	)
}

func (q *Queue) processBatch(ctx context.Context, ids []string) error {
	pages, err := q.store.GetPagesByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	for _, page := range pages {
		// A retried batch may contain pages that already went through on
		// an earlier attempt; deterministic chunk IDs make re-indexing
		// harmless, and the processed-set skips the work entirely.
		key := page.ID + ":" + page.Checksum
		if q.alreadySeen(key) {
			continue
		}

		parts := chunker.Split(page.Content, q.chunkSize, q.chunkOverlap)
		if len(parts) > 0 {
			chunks := make([]crawler.Chunk, len(parts))
			for i, text := range parts {
				chunks[i] = crawler.Chunk{Text: text, Index: i}
			}
			if err := q.index.AddChunks(ctx, page, chunks); err != nil {
				return fmt.Errorf("index chunks for %s: %w", page.URL, err)
			}
			metrics.ObserveChunksIndexed(page.Domain, len(chunks))
		}

		q.markProcessed(page.ID, key)
		q.logger.Debug("embedded page",
			zap.String("url", page.URL),
			zap.Int("chunks", len(parts)),
		)
	}
	return nil
}

func (q *Queue) alreadySeen(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seen.Contains(key)
}

func (q *Queue) markProcessed(pageID, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processed++
	q.seen.Add(key)
	if q.uniqueIDs.Add(pageID) {
		q.unique++
	}
}
