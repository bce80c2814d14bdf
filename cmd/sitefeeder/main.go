// Package main wires together the ingestion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/api"
	archivegcs "github.com/mfalkin/sitefeeder/internal/archive/gcs"
	archivelocal "github.com/mfalkin/sitefeeder/internal/archive/local"
	archivemem "github.com/mfalkin/sitefeeder/internal/archive/memory"
	"github.com/mfalkin/sitefeeder/internal/clock/system"
	"github.com/mfalkin/sitefeeder/internal/config"
	"github.com/mfalkin/sitefeeder/internal/crawler"
	"github.com/mfalkin/sitefeeder/internal/embedq"
	"github.com/mfalkin/sitefeeder/internal/extract"
	collyfetcher "github.com/mfalkin/sitefeeder/internal/fetcher/colly"
	"github.com/mfalkin/sitefeeder/internal/frontier"
	"github.com/mfalkin/sitefeeder/internal/hash/md5sum"
	"github.com/mfalkin/sitefeeder/internal/id/uuid"
	indexelastic "github.com/mfalkin/sitefeeder/internal/index/elastic"
	indexmem "github.com/mfalkin/sitefeeder/internal/index/memory"
	"github.com/mfalkin/sitefeeder/internal/logging"
	"github.com/mfalkin/sitefeeder/internal/ocr/tesseract"
	"github.com/mfalkin/sitefeeder/internal/pdftext/fitz"
	"github.com/mfalkin/sitefeeder/internal/pdftext/ledong"
	publishpubsub "github.com/mfalkin/sitefeeder/internal/publish/pubsub"
	storemem "github.com/mfalkin/sitefeeder/internal/store/memory"
	storepg "github.com/mfalkin/sitefeeder/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	hasher := md5sum.New()
	idGen := uuid.New()
	clock := system.New()

	store, err := buildStore(ctx, cfg, hasher, idGen, clock, logger)
	if err != nil {
		return err
	}
	defer closeIfCloser(store)

	index, err := buildIndex(ctx, cfg, hasher, logger)
	if err != nil {
		return err
	}

	arch, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	seedApprovedDomains(ctx, cfg, store, logger)

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           cfg.FetchTimeout(),
		InsecureTLSCompat: cfg.Fetch.InsecureTLSCompat,
		ProxyURL:          cfg.Fetch.ProxyURL,
	})

	queue, err := embedq.New(embedq.Options{
		Store:           store,
		Index:           index,
		ChunkSize:       cfg.Embed.ChunkSize,
		ChunkOverlap:    cfg.Embed.ChunkOverlap,
		BatchSize:       cfg.Embed.BatchSize,
		BatchTimeout:    cfg.BatchTimeout(),
		MaxRetries:      cfg.Embed.MaxRetries,
		StopGrace:       cfg.StopGrace(),
		DedupeCacheSize: cfg.Embed.DedupeCacheSize,
		Logger:          logger.Named("embedq"),
	})
	if err != nil {
		return fmt.Errorf("init embedding queue: %w", err)
	}

	crawls, err := frontier.NewManager(frontier.Options{
		Fetcher:       fetcher,
		Store:         store,
		Queue:         queue,
		PDF:           buildPDFExtractor(cfg, logger),
		Hasher:        hasher,
		Clock:         clock,
		Publisher:     publisher,
		Archive:       arch,
		Concurrency:   cfg.Crawler.Concurrency,
		Delay:         cfg.CrawlDelay(),
		MaxDepth:      cfg.Crawler.MaxDepth,
		RespectRobots: cfg.Crawler.RespectRobots,
		UseSitemap:    cfg.Crawler.UseSitemap,
		EventTopic:    cfg.PubSub.TopicName,
		Logger:        logger.Named("frontier"),
	})
	if err != nil {
		return fmt.Errorf("init crawl manager: %w", err)
	}

	queue.Start()
	apiServer := api.NewServer(store, index, queue, crawls, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Stop()
	logger.Info("shutdown complete")
	return nil
}

func buildStore(
	ctx context.Context,
	cfg config.Config,
	hasher crawler.Hasher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (crawler.PageStore, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database dsn configured; using in-memory page store")
		return storemem.NewStore(hasher, idGen, clock), nil
	}
	store, err := storepg.NewStore(ctx, storepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}, hasher, idGen, clock)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	return store, nil
}

func buildIndex(ctx context.Context, cfg config.Config, hasher crawler.Hasher, logger *zap.Logger) (crawler.Index, error) {
	if cfg.Index.URL == "" {
		logger.Warn("no elasticsearch url configured; using in-memory index")
		return indexmem.NewIndex(hasher), nil
	}
	index, err := indexelastic.NewIndex(indexelastic.Config{
		URL:        cfg.Index.URL,
		Username:   cfg.Index.Username,
		Password:   cfg.Index.Password,
		IndexName:  cfg.Index.IndexName,
		MaxRetries: cfg.Index.MaxRetries,
	}, hasher, logger.Named("index"))
	if err != nil {
		return nil, fmt.Errorf("init elasticsearch index: %w", err)
	}
	if err := index.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure elasticsearch index: %w", err)
	}
	return index, nil
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.BlobStore, error) {
	switch cfg.Archive.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		return archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
	case "local":
		return archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.LocalDir})
	default:
		logger.Warn("using in-memory artifact archive")
		return archivemem.New(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("no pubsub project configured; crawl events disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	return publishpubsub.New(client), nil
}

func buildPDFExtractor(cfg config.Config, logger *zap.Logger) *extract.PDFExtractor {
	var (
		raster crawler.Rasterizer
		ocr    crawler.OCREngine
	)
	fitzEngine := fitz.New()
	if cfg.PDF.OCREnabled {
		raster = fitzEngine
		ocr = tesseract.New(cfg.PDF.OCRLanguages)
	}
	return extract.NewPDFExtractor(
		ledong.New(),
		fitzEngine,
		raster,
		ocr,
		extract.PDFConfig{
			MinTextLen: cfg.PDF.MinTextLen,
			MaxPages:   cfg.PDF.MaxPages,
			OCREnabled: cfg.PDF.OCREnabled,
		},
		logger.Named("pdf"),
	)
}

// seedApprovedDomains registers configured domains at startup so crawl
// sessions can follow cross-domain links between them.
func seedApprovedDomains(ctx context.Context, cfg config.Config, store crawler.PageStore, logger *zap.Logger) {
	for _, name := range cfg.Crawler.ApprovedDomains {
		err := store.UpsertDomain(ctx, crawler.DomainRecord{Name: name, Enabled: true})
		if err != nil {
			logger.Warn("failed to register configured domain",
				zap.String("domain", name),
				zap.Error(err),
			)
		}
	}
}

func closeIfCloser(store crawler.PageStore) {
	if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}
}
