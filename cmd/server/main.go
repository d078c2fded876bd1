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

	"github.com/sirupsen/logrus"

	"github.com/ghostlayer/server/internal/api"
	"github.com/ghostlayer/server/internal/campaign"
	"github.com/ghostlayer/server/internal/config"
	"github.com/ghostlayer/server/internal/dedup"
	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/logger"
	"github.com/ghostlayer/server/internal/metrics"
	"github.com/ghostlayer/server/internal/pixel"
	"github.com/ghostlayer/server/internal/ratelimit"
	"github.com/ghostlayer/server/internal/rules"
	"github.com/ghostlayer/server/internal/tracking"
	"github.com/ghostlayer/server/internal/tracking/sqlite"
	"github.com/ghostlayer/server/internal/verdict"
)

const pruneInterval = time.Minute

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loaded, err := rules.NewLoader(cfg.Rules.File).Load(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	log.WithFields(logrus.Fields{
		"version": loaded.Version,
		"sha256":  loaded.SHA256,
	}).Info("detection rules loaded")

	det := detector.New(detector.WithPatterns(loaded.Patterns), detector.WithLogger(log))

	store, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	counter, closeCounter := newCounter(ctx, cfg.Redis.URL, log)
	defer closeCounter()
	campaigns := campaign.FromConfig(cfg.Campaigns)
	log.WithField("campaigns", campaigns.IDs()).Info("campaigns configured")

	signer := verdict.NewSigner(cfg.Verdict.Secret, cfg.Verdict.TTL)
	limiter := ratelimit.New(cfg.RateLimit.TrackPerMinute, time.Minute)

	svc := &tracking.Service{
		Detector:   det,
		Signer:     signer,
		Counter:    counter,
		Store:      store,
		Campaigns:  campaigns,
		Dispatcher: pixel.FromConfig(cfg.Pixel, m, log),
		Metrics:    m,
		Logger:     log,
	}

	h := api.NewHandler(api.Deps{
		Detector: det,
		Signer:   signer,
		Tracking: svc,
		Limiter:  limiter,
		Metrics:  m,
		Logger:   log,
		DB:       store,
	})

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(h, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Timeout:        cfg.Server.WriteTimeout,
			Metrics:        m.Handler(),
			TrustProxy:     cfg.Server.TrustProxy,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go pruneLoop(ctx, limiter, counter)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("ghostlayer server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newCounter prefers Redis and falls back to process memory when Redis is
// not configured or unreachable at startup. The returned func releases the
// Redis connection.
func newCounter(ctx context.Context, url string, log *logrus.Logger) (dedup.Counter, func()) {
	noop := func() {}
	if url == "" {
		log.Info("redis not configured, using in-memory dedup")
		return dedup.NewMemoryCounter(dedup.DefaultWindow), noop
	}

	client, err := dedup.NewRedisClient(url)
	if err != nil {
		log.WithError(err).Warn("invalid redis url, using in-memory dedup")
		return dedup.NewMemoryCounter(dedup.DefaultWindow), noop
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, using in-memory dedup")
		_ = client.Close()
		return dedup.NewMemoryCounter(dedup.DefaultWindow), noop
	}

	log.Info("using redis dedup")
	return dedup.NewRedisCounter(client, dedup.DefaultWindow), func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("closing redis client")
		}
	}
}

func pruneLoop(ctx context.Context, limiter *ratelimit.Limiter, counter dedup.Counter) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
			if mem, ok := counter.(*dedup.MemoryCounter); ok {
				mem.Prune()
			}
		}
	}
}
