// Command study-server runs the Q-Net study helper: a cached
// passthrough proxy for the national qualification open API plus the
// OpenAI study planner and the Gemini document services behind a
// single HTTP surface. The Q-Net service key is the only required
// credential; routes backed by a missing LLM key answer 503 instead
// of failing startup.
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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qnetstudy/qnet-study-server/pkg/api"
	"github.com/qnetstudy/qnet-study-server/pkg/cache"
	"github.com/qnetstudy/qnet-study-server/pkg/config"
	"github.com/qnetstudy/qnet-study-server/pkg/logging"
	"github.com/qnetstudy/qnet-study-server/pkg/metrics"
	"github.com/qnetstudy/qnet-study-server/pkg/pdf"
	"github.com/qnetstudy/qnet-study-server/pkg/planner"
	"github.com/qnetstudy/qnet-study-server/pkg/qnet"
	"github.com/qnetstudy/qnet-study-server/pkg/quiz"
	"github.com/qnetstudy/qnet-study-server/pkg/quota"
	"github.com/qnetstudy/qnet-study-server/pkg/rag"
)

const (
	redisPingTimeout = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Redis is optional. Without it the response cache lives in process
	// and quota tracking stays off.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}

	store, err := newStore(redisClient, cfg.Cache)
	if err != nil {
		return fmt.Errorf("building cache store: %w", err)
	}

	qnetCfg := buildQNetConfig(cfg, store, redisClient)
	qnetClient, err := qnet.New(qnetCfg)
	if err != nil {
		return fmt.Errorf("building qnet client: %w", err)
	}

	srv := &api.Server{
		QNet:             qnetClient,
		TestInfoURL:      qnetCfg.TestInfoBaseURL,
		QualificationURL: qnetCfg.QualificationBaseURL,
		Logger:           logging.NewLogger("api"),
	}

	if cfg.OpenAI.APIKey != "" {
		p, err := planner.New(planner.Config{APIKey: cfg.OpenAI.APIKey, Model: cfg.OpenAI.Model})
		if err != nil {
			return fmt.Errorf("building study planner: %w", err)
		}
		srv.Planner = p
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set; study plan routes are disabled")
	}

	if cfg.Gemini.APIKey != "" {
		loader, err := pdf.New(ctx, pdf.Config{
			APIKey:         cfg.Gemini.APIKey,
			Model:          cfg.Gemini.Model,
			UploadDir:      cfg.Upload.Dir,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		})
		if err != nil {
			return fmt.Errorf("building pdf loader: %w", err)
		}
		defer loader.Close()

		srv.Docs = loader
		srv.Quiz = quiz.New(loader)
		srv.RAG = rag.New(loader, loader, rag.DefaultConfig())

		janitor := pdf.NewJanitor(cfg.Upload.Dir, time.Duration(cfg.Upload.Retention), "")
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("starting upload janitor: %w", err)
		}
		defer janitor.Stop()
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set; document routes are disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", srv.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: mux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("study server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// newStore picks the cache backend: Redis when configured, otherwise
// the in-process LRU. Zero config values fall back to the cache
// package defaults.
func newStore(redisClient *redis.Client, cfg config.CacheConfig) (cache.Store, error) {
	if redisClient != nil {
		return cache.NewRedisStore(redisClient, time.Duration(cfg.TTL))
	}
	return cache.NewMemoryStore(cfg.Capacity, time.Duration(cfg.TTL))
}

// buildQNetConfig lays the loaded settings over the package defaults.
// Empty values keep the public Q-Net endpoints and standard policy.
func buildQNetConfig(cfg *config.Config, store cache.Store, redisClient *redis.Client) qnet.Config {
	qc := qnet.DefaultConfig(cfg.QNet.ServiceKey, store)
	if cfg.QNet.TestInfoURL != "" {
		qc.TestInfoBaseURL = cfg.QNet.TestInfoURL
	}
	if cfg.QNet.QualificationURL != "" {
		qc.QualificationBaseURL = cfg.QNet.QualificationURL
	}
	if cfg.QNet.Timeout > 0 {
		qc.Timeout = time.Duration(cfg.QNet.Timeout)
	}
	if cfg.QNet.MaxRetries > 0 {
		qc.Retry.MaxAttempts = cfg.QNet.MaxRetries
	}
	if cfg.Quota.Enabled {
		qc.Quota = quota.NewTracker(redisClient, logging.NewLogger("quota"))
	}
	return qc
}
