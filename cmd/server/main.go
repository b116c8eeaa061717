package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/leca/dt-image-renditions/internal/cache"
	"github.com/leca/dt-image-renditions/internal/config"
	"github.com/leca/dt-image-renditions/internal/database"
	"github.com/leca/dt-image-renditions/internal/handler"
	"github.com/leca/dt-image-renditions/internal/imagefield"
	"github.com/leca/dt-image-renditions/internal/imageproc"
	"github.com/leca/dt-image-renditions/internal/imageproc/webpenc"
	"github.com/leca/dt-image-renditions/internal/metrics"
	"github.com/leca/dt-image-renditions/internal/naming"
	"github.com/leca/dt-image-renditions/internal/optimizer"
	"github.com/leca/dt-image-renditions/internal/rendition"
	"github.com/leca/dt-image-renditions/internal/renditionset"
	"github.com/leca/dt-image-renditions/internal/router"
	"github.com/leca/dt-image-renditions/internal/storage"
	"github.com/leca/dt-image-renditions/internal/validate"
	"github.com/leca/dt-image-renditions/internal/warmer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	sets, err := cfg.RenditionSets()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, mediaRoot, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	cacheStore, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := cacheStore.(io.Closer); ok {
		defer c.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	codec := imageproc.NewCodec(cfg.OptimizeQuality, webpenc.New())
	engine := rendition.New(store, cache.NewExistence(cacheStore, cfg.CacheTTL, logger), codec, rendition.Config{
		Namer:          naming.New(cfg.SizedRoot, cfg.FilteredRoot, cfg.OptimizeQuality),
		Placeholder:    cfg.PlaceholderPath,
		CreateOnDemand: cfg.CreateOnDemand,
	}, rendition.WithLogger(logger), rendition.WithMetrics(m))
	resolver := renditionset.NewResolver(engine, sets)

	opt := optimizer.New(codec, optimizer.NewTinyPNG(cfg.TinyPNGEndpoint, nil), apiKey(cfg), optimizer.Config{
		Timeout: cfg.OptimizeTimeout,
	}, optimizer.WithLogger(logger), optimizer.WithMetrics(m))

	w := warmer.New(resolver, opt, cfg.WarmWorkers, warmer.WithLogger(logger), warmer.WithMetrics(m))

	rules := validate.Rules{
		AllowedExtensions: cfg.AllowedExtensions,
		MaxFileSizeMB:     cfg.MaxFileSizeMB,
		MinWidth:          cfg.MinWidth,
		MinHeight:         cfg.MinHeight,
		MaxWidth:          cfg.MaxWidth,
		MaxHeight:         cfg.MaxHeight,
	}
	fields := imagefield.New(resolver, w, opt, rules, imagefield.WithLogger(logger))

	h := &handler.Handler{
		DB:       db,
		Fields:   fields,
		Resolver: resolver,
		Warmer:   w,
		Config:   cfg,
	}
	srv := router.New(h, router.Options{
		AuthToken: cfg.AuthToken,
		MediaRoot: mediaRoot,
		Gatherer:  reg,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ListenAddr, "storage", cfg.StorageBackend)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStorage returns the configured backend and, for the filesystem
// backend, the directory to serve under /media.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, string, error) {
	if cfg.StorageBackend == "s3" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			EndpointURL:     cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		})
		return s3, "", err
	}
	return storage.NewFileSystem(cfg.StoragePath, cfg.MediaURL), cfg.StoragePath, nil
}

// openCache connects to Redis when configured, falling back to a process
// local cache.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.RedisAddr == "" {
		slog.Warn("DT_REDIS_ADDR not set, using in-process existence cache")
		return cache.NewMemory(), nil
	}
	return cache.NewRedis(ctx, cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func apiKey(cfg *config.Config) optimizer.KeyFunc {
	if cfg.TinyPNGKeyFile != "" {
		return optimizer.FileKey(cfg.TinyPNGKeyFile)
	}
	if cfg.TinyPNGAPIKey != "" {
		return optimizer.StaticKey(cfg.TinyPNGAPIKey)
	}
	return nil
}
