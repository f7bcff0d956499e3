package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"nextpage/api/internal/app"
	"nextpage/api/internal/authpw"
	"nextpage/api/internal/config"
	"nextpage/api/internal/export"
	"nextpage/api/internal/identity"
	"nextpage/api/internal/imagegen"
	"nextpage/api/internal/imaging"
	"nextpage/api/internal/search"
	"nextpage/api/internal/store"
)

// storyBackend is the union of what the API needs from a store.
type storyBackend interface {
	app.StoryRepository
	identity.UserLookup
	authpw.UserStore
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var backend storyBackend
	var recordLoader search.RecordLoader
	var fallback search.Searcher
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		backend = store.NewMemoryStore()
		fallback = search.NewMemoryIndex()
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			applied, err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir))
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", zap.Strings("versions", applied))
			}
		}
		backend = store.NewPostgresStore(db)
		fts := search.NewPgFTS(db)
		fallback = fts
		recordLoader = fts
	}

	var cache identity.NicknameCache
	if cfg.RedisURL != "" {
		redisCache, err := identity.NewRedisCache(ctx, cfg.RedisURL, cfg.NicknameCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		cache = redisCache
		logger.Info("nickname cache enabled", zap.Duration("ttl", cfg.NicknameCacheTTL))
	}
	resolver := identity.NewResolver(backend, identity.Options{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		Cache:  cache,
		Logger: logger.Named("identity"),
	})

	objects, closeObjects, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	defer closeObjects()

	metrics := app.NewMetrics("nextpage")
	pipeline := imaging.NewPipeline(objects, imaging.Options{
		HTTPClient:          &http.Client{Timeout: cfg.ImageDownloadTimeout},
		DownloadTimeout:     cfg.ImageDownloadTimeout,
		MaxBytes:            cfg.MaxImageBytes,
		PublicBaseURL:       cfg.Storage.PublicBaseURL,
		ResizedBucketSuffix: cfg.Storage.ResizedBucketSuffix,
		ResizedKeyPrefix:    cfg.Storage.ResizedKeyPrefix,
		Observe:             metrics.ObserveImage,
		Logger:              logger.Named("imaging"),
	})
	generator := imagegen.New(imagegen.Options{
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Logger:  logger.Named("imagegen"),
	}, pipeline)
	if !generator.Enabled() {
		logger.Info("image generation disabled; set OPENAI_API_KEY to enable")
	}

	var primary search.Backend
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("search"))
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, fallback, logger.Named("search"))
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if n := searchService.ReindexAll(reindexCtx, recordLoader); n > 0 {
			logger.Info("search index rebuilt", zap.Int("stories", n))
		}
	}()

	service := app.New(backend, resolver, pipeline, app.Options{
		Generator: generator,
		Search:    searchService,
		Exporter:  export.NewService(export.ChromePDF{Timeout: time.Minute}),
		Accounts: authpw.NewService(backend, authpw.TokenOptions{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
			TTL:    cfg.TokenTTL,
		}),
		Metrics: metrics,
		Logger:  logger,
	})

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin:          cfg.CORSOrigin,
		CreateRatePerMinute: cfg.CreateRatePerMinute,
		CreateBurst:         cfg.CreateBurst,
		Metrics:             metrics,
		Logger:              logger.Named("http"),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("NextPage API listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openObjectStore(ctx context.Context, cfg config.StorageConfig) (imaging.ObjectStore, func(), error) {
	switch cfg.Backend {
	case "gcs":
		gcs, err := imaging.NewGCSStore(ctx, cfg.Bucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { _ = gcs.Close() }, nil
	default:
		minioStore, err := imaging.NewMinIOStore(ctx, imaging.MinIOOptions{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return minioStore, func() {}, nil
	}
}
