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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/config"
	"bookcatalog/internal/consistency"
	"bookcatalog/internal/enrich"
	"bookcatalog/internal/events"
	"bookcatalog/internal/httpx"
	"bookcatalog/internal/telemetry"
)

type ServeCmd struct{}

func (cmd *ServeCmd) Run(g *Globals) error {
	cfg, log, err := setup(g)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.OTel.Enabled,
		ServiceName: cfg.OTel.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
		SampleRatio: cfg.OTel.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error("Tracer shutdown failed", zap.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	lookup, closeLookup := buildLookup(ctx, cfg, log)
	defer closeLookup()

	publisher, closePublisher := buildPublisher(cfg, log)
	defer closePublisher()

	reg := prometheus.DefaultRegisterer
	meterProvider, err := telemetry.NewMeterProvider(ctx, reg, cfg.OTel.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	otel.SetMeterProvider(meterProvider)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(sctx); err != nil {
			log.Error("Meter provider shutdown failed", zap.Error(err))
		}
	}()

	handler := newHandler(cfg, store, lookup, publisher, meterProvider, log)
	router := newRouter(ctx, cfg, log, handler, reg)

	if cfg.Consistency.Interval > 0 {
		checker := consistency.NewChecker(store, log)
		go checker.Run(ctx, cfg.Consistency.Interval, cfg.Consistency.Repair)
		log.Info("Consistency checks enabled",
			zap.Duration("interval", cfg.Consistency.Interval),
			zap.Bool("repair", cfg.Consistency.Repair),
		)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           otelhttp.NewHandler(router, "bookcatalog"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("🚀 Starting Book Catalog Service on port %s\n", cfg.HTTP.Port)
	log.Info("HTTP server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newHandler(cfg *config.Config, store catalog.Store, lookup enrich.Lookup, publisher catalog.Publisher, mp metric.MeterProvider, log *zap.Logger) *catalog.Handler {
	ratings := catalog.NewRatingAggregator(store, cfg.Ratings.MaxRetries, log, catalog.WithMeterProvider(mp))
	enricher := catalog.NewMetadataEnricher(lookup, cfg.Enrich.AllowMissing, log)
	books := catalog.NewBookCatalog(store, enricher, ratings, publisher, log,
		catalog.WithPublishTimeout(cfg.AMQP.PublishTimeout))
	return catalog.NewHandler(catalog.NewService(store, books, ratings, cfg.Ratings.TopN), log)
}

// newRouter mounts the API behind the middleware chain.
func newRouter(ctx context.Context, cfg *config.Config, log *zap.Logger, handler *catalog.Handler, reg prometheus.Registerer) chi.Router {
	router := chi.NewRouter()
	router.Use(httpx.RequestIDMiddleware)
	router.Use(httpx.RecoveryMiddleware(log))
	router.Use(httpx.AccessLogMiddleware(log))
	router.Use(httpx.NewMetrics(reg).Handler)
	if cfg.HTTP.RateLimit.RPS > 0 {
		rl := httpx.NewRateLimitMiddleware(cfg.HTTP.RateLimit.RPS, cfg.HTTP.RateLimit.Burst)
		go rl.Run(ctx)
		router.Use(rl.Handler)
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	handler.Routes(router)
	return router
}

// buildLookup returns the Google Books client, fronted by the redis cache
// when one is configured and reachable.
func buildLookup(ctx context.Context, cfg *config.Config, log *zap.Logger) (enrich.Lookup, func()) {
	var lookup enrich.Lookup = enrich.NewGoogleBooks(enrich.GoogleBooksConfig{
		BaseURL:           cfg.Enrich.BaseURL,
		APIKey:            cfg.Enrich.APIKey,
		Timeout:           cfg.Enrich.Timeout,
		RequestsPerSecond: cfg.Enrich.RPS,
	})
	if cfg.Redis.Addr == "" {
		return lookup, func() {}
	}

	rdb, err := enrich.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("Redis unavailable, volume lookups are not cached", zap.Error(err))
		return lookup, func() {}
	}
	log.Info("Caching volume lookups in redis", zap.String("addr", cfg.Redis.Addr))
	return enrich.NewCachedLookup(lookup, rdb, cfg.Redis.TTL, log), func() { _ = rdb.Close() }
}

// buildPublisher connects to RabbitMQ when a URL is configured and falls
// back to logging events.
func buildPublisher(cfg *config.Config, log *zap.Logger) (catalog.Publisher, func()) {
	if cfg.AMQP.URL == "" {
		return events.NewLogPublisher(log), func() {}
	}
	p, err := events.NewPublisher(cfg.AMQP.URL, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, logging events instead", zap.Error(err))
		return events.NewLogPublisher(log), func() {}
	}
	return p, func() { _ = p.Close() }
}
