package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/api"
	"github.com/JakeFAU/knowledge-base-crawler/internal/clock/system"
	"github.com/JakeFAU/knowledge-base-crawler/internal/config"
	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/crawlproc"
	"github.com/JakeFAU/knowledge-base-crawler/internal/dispatcher"
	"github.com/JakeFAU/knowledge-base-crawler/internal/extraction"
	"github.com/JakeFAU/knowledge-base-crawler/internal/id/uuid"
	"github.com/JakeFAU/knowledge-base-crawler/internal/orchestrator"
	"github.com/JakeFAU/knowledge-base-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/knowledge-base-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/knowledge-base-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/knowledge-base-crawler/internal/queue/memory"
	redisclient "github.com/JakeFAU/knowledge-base-crawler/internal/redis"
	"github.com/JakeFAU/knowledge-base-crawler/internal/storage/gcs"
	"github.com/JakeFAU/knowledge-base-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/knowledge-base-crawler/internal/storage/memory"
	"github.com/JakeFAU/knowledge-base-crawler/internal/telemetry"
	"github.com/JakeFAU/knowledge-base-crawler/internal/webhook"
	"github.com/JakeFAU/knowledge-base-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// closer releases a dependency on shutdown.
type closer func() error

// newServeCmd creates the command that runs the HTTP API and worker pool.
func newServeCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawl API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rt)
		},
	}
}

func runServe(ctx context.Context, rt *cliState) error {
	cfg, logger := rt.cfg, rt.logger

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close dependency failed", zap.Error(err))
			}
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}
	clock := system.NewIn(loc)
	idGen, err := uuid.ForFormat(cfg.Crawler.TaskIDs)
	if err != nil {
		return err
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		closers = append(closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
	}

	limiter, ready, closeLimiter, err := buildRateLimiter(ctx, cfg, clock, logger.Named("ratelimit"))
	if err != nil {
		return err
	}
	closers = append(closers, closeLimiter)

	archive, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeArchive)

	publisher, topic, closePublisher, err := buildPublisher(ctx, cfg, logger.Named("publisher"))
	if err != nil {
		return err
	}
	closers = append(closers, closePublisher)

	runner, err := buildRunner(rt)
	if err != nil {
		return err
	}

	taskStore := memoryStorage.NewTaskStore(clock)
	queue := queueMemory.NewQueue(cfg.Crawler.QueueDepth)

	notifier := webhook.New(
		webhook.Config{Timeout: cfg.WebhookTimeout()},
		nil,
		clock,
		logger.Named("webhook"),
	)
	extractor := extraction.New(extraction.Config{
		FetchTimeout:  cfg.FetchTimeout(),
		LinkDelay:     cfg.LinkDelay(),
		MaxPageBytes:  cfg.Extraction.MaxPageBytes,
		HostRPS:       cfg.Extraction.HostRPS,
		UserAgent:     cfg.Spider.UserAgent,
		ArchivePrefix: cfg.Archive.Prefix,
	}, nil, notifier, archive, logger.Named("extraction"))

	workerCfg := worker.Config{
		ArtifactDir: cfg.Spider.ArtifactDir,
		Topic:       topic,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			taskStore,
			runner,
			extractor,
			publisher,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	orch := orchestrator.New(taskStore, dispatch, idGen, clock, logger.Named("orchestrator"))
	apiServer := api.NewServer(orch, limiter, ready, api.Config{
		BasePath:       cfg.Server.BasePath,
		AuthEnabled:    cfg.Auth.Enabled,
		AuthToken:      cfg.Auth.Token,
		RequestTimeout: cfg.RequestTimeout(),

		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, logger.Named("api"))

	port := listenPort(cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatch.Start(context.WithoutCancel(ctx))
	logger.Info("dispatcher started", zap.Int("workers", len(workers)))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.DrainTimeout())
	defer cancelDrain()
	if err := dispatch.Shutdown(drainCtx); err != nil {
		logger.Warn("in-flight tasks canceled", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}

// listenPort honors PORT (set by Cloud Run) over server.port.
func listenPort(cfg config.Config) int {
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			return port
		}
	}
	return cfg.Server.Port
}

func noopCloser() error { return nil }

// buildRateLimiter returns nil admitter and pinger when rate limiting is off.
func buildRateLimiter(
	ctx context.Context,
	cfg config.Config,
	clock crawler.Clock,
	logger *zap.Logger,
) (api.Admitter, api.Pinger, closer, error) {
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled")
		return nil, nil, noopCloser, nil
	}
	limiterCfg := ratelimit.Config{
		Window:    cfg.RateLimitWindow(),
		KeyPrefix: cfg.RateLimit.KeyPrefix,
	}

	switch cfg.RateLimit.Backend {
	case "memory":
		store := ratelimit.NewMemoryStore(clock)
		return ratelimit.New(store, clock, limiterCfg), store, noopCloser, nil
	case "redis":
		client, err := redisclient.NewClient(ctx, redisclient.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, noopCloser, fmt.Errorf("connect rate limit store: %w", err)
		}
		prefix := cfg.RateLimit.KeyPrefix
		if prefix == "" {
			prefix = ratelimit.DefaultKeyPrefix
		}
		updated, err := redisclient.RefreshStaleKeys(ctx, client, prefix, cfg.StaleKeyTTL(), logger)
		if err != nil {
			logger.Warn("refresh stale rate limit keys failed", zap.Error(err))
		} else {
			logger.Info("stale rate limit keys refreshed", zap.Int("updated", updated))
		}
		store := ratelimit.NewRedisStore(client)
		return ratelimit.New(store, clock, limiterCfg), store, client.Close, nil
	default:
		return nil, nil, noopCloser, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// buildArchive returns a nil store when archiving is disabled.
func buildArchive(ctx context.Context, cfg config.Config) (crawler.BlobStore, closer, error) {
	switch cfg.Archive.Provider {
	case "", "none":
		return nil, noopCloser, nil
	case "memory":
		return memoryStorage.NewBlobStore(), noopCloser, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, noopCloser, fmt.Errorf("init local archive: %w", err)
		}
		return store, noopCloser, nil
	case "gcs":
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, noopCloser, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, noopCloser, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

// buildPublisher falls back to the in-memory publisher when no topic is set.
// It returns the topic summaries should be published to.
func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, string, closer, error) {
	if cfg.PubSub.TopicName == "" {
		pub := memorypublisher.New(memorypublisher.DefaultCapacity, logger)
		return pub, memorypublisher.DefaultTopic, pub.Close, nil
	}
	pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", noopCloser, fmt.Errorf("init pubsub publisher: %w", err)
	}
	return pub, cfg.PubSub.TopicName, pub.Close, nil
}

// buildRunner launches spider.command, or this binary's spider subcommand
// when none is configured.
func buildRunner(rt *cliState) (*crawlproc.Runner, error) {
	command := rt.cfg.Spider.Command
	args := append([]string(nil), rt.cfg.Spider.Args...)
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		command = self
		args = append([]string{"spider"}, args...)
		if rt.cfgFile != "" {
			args = append(args, "--config", rt.cfgFile)
		}
	}
	return crawlproc.New(command, args, rt.logger.Named("crawlproc"))
}
