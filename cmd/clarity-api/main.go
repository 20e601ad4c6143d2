// Command clarity-api serves brand reputation searches over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/clarityhq/clarity/engine/events"
	"github.com/clarityhq/clarity/engine/normalize"
	"github.com/clarityhq/clarity/engine/search"
	"github.com/clarityhq/clarity/engine/store"
	"github.com/clarityhq/clarity/engine/task"
	"github.com/clarityhq/clarity/pkg/browsercash"
	"github.com/clarityhq/clarity/pkg/config"
	"github.com/clarityhq/clarity/pkg/llm"
	"github.com/clarityhq/clarity/pkg/metrics"
	"github.com/clarityhq/clarity/pkg/natsutil"
	"github.com/clarityhq/clarity/pkg/ollama"
	"github.com/clarityhq/clarity/pkg/resilience"
)

const lockFileName = ".clarity.lock"

func main() {
	defaultPath := "clarity.toml"
	if v := os.Getenv("CLARITY_CONFIG"); v != "" {
		defaultPath = v
	}
	configPath := flag.String("config", defaultPath, "path to the TOML configuration file")
	writeSample := flag.Bool("write-sample-config", false, "write a sample configuration to -config and exit")
	flag.Parse()

	if *writeSample {
		if err := config.CreateSample(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("sample configuration written to", *configPath)
		return
	}

	cfg, fromFile, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "path", *configPath, "from_file", fromFile, "extractor", cfg.Extractor.Kind)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Data directory lock ---
	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.Store.DataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is in use by another clarity-api", cfg.Store.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release data dir lock", "err", err)
		}
	}()

	var reg *metrics.Registry
	if cfg.Telemetry.MetricsEnabled {
		reg = metrics.New()
	}

	st, err := store.Open(cfg.Store.DataDir, store.Options{Logger: logger, Metrics: reg})
	if err != nil {
		return err
	}

	coord := newCoordinator(cfg, logger, reg)
	norm := normalize.New(newExtractor(cfg, logger), normalize.Options{
		MaxInputChars: cfg.Extractor.MaxInputChars,
		Logger:        logger,
		Metrics:       reg,
	})

	// --- Optional completion events ---
	var notifier search.Notifier
	if cfg.NATS.URL != "" {
		nc, err := natsutil.Connect(cfg.NATS.URL, cfg.NATS.Name, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		notifier = events.NewPublisher(nc, cfg.NATS.Subject, logger)
		logger.Info("publishing session events", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}

	registry := search.NewRegistry(cfg.SessionTTL(), nil, logger)
	go registry.Run(ctx, cfg.CleanupInterval())

	mgr := search.NewManager(coord, norm, search.Options{
		Registry: registry,
		Store:    st,
		Notifier: notifier,
		Workers:  cfg.Session.Workers,
		Logger:   logger,
		Metrics:  reg,
	})

	a := &api{searches: mgr, tasks: coord, store: st, norm: norm, logger: logger, now: time.Now}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.routes(cfg.Server.CORSOrigin, cfg.Telemetry.ServiceName, reg),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- gRPC health ---
	var grpcSrv *grpc.Server
	var hs *health.Server
	errCh := make(chan error, 2)
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		hs = health.NewServer()
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcSrv, hs)
		go func() {
			logger.Info("grpc health server starting", "addr", cfg.Server.GRPCAddr)
			errCh <- grpcSrv.Serve(lis)
		}()
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr, "data_dir", st.Root())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if hs != nil {
		hs.Shutdown()
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	err = srv.Shutdown(shutCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return err
}

func newCoordinator(cfg *config.Config, logger *slog.Logger, reg *metrics.Registry) *task.Coordinator {
	client := browsercash.NewClient(browsercash.Config{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Agent:             cfg.Provider.Agent,
		Mode:              cfg.Provider.Mode,
		StepLimit:         cfg.Provider.StepLimit,
		TimeoutSeconds:    cfg.Provider.TimeoutSeconds,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	})
	if cfg.Provider.APIKey == "" {
		logger.Warn("no provider api key configured; every task submission will fail")
	}
	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.Provider.BreakerFailures,
		Timeout:       time.Duration(cfg.Provider.BreakerCooldown) * time.Second,
		HalfOpenMax:   1,
		IsFailure:     browsercash.IsTemporary,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("provider circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	})
	return task.New(task.BrowserCash{Client: client}, task.Options{
		StepLimit: cfg.Provider.StepLimit,
		Workers:   cfg.Session.Workers,
		Breaker:   breaker,
		Logger:    logger,
		Metrics:   reg,
	})
}

// newExtractor picks the extraction backend. The llm backend degrades to
// the keyword heuristic when no API key is configured.
func newExtractor(cfg *config.Config, logger *slog.Logger) normalize.Extractor {
	ec := cfg.Extractor
	switch ec.Kind {
	case "ollama":
		client := ollama.NewChatClient(ec.OllamaURL, ec.OllamaModel, time.Duration(ec.TimeoutSeconds)*time.Second)
		return normalize.NewLLMExtractor(client, ec.Attempts)
	case "heuristic":
		return normalize.HeuristicExtractor{}
	}
	if ec.APIKey == "" {
		logger.Warn("no llm api key configured; falling back to keyword heuristic extraction")
		return normalize.HeuristicExtractor{}
	}
	client := llm.NewClient(llm.Config{
		APIKey:         ec.APIKey,
		BaseURL:        ec.BaseURL,
		Model:          ec.Model,
		Referer:        ec.Referer,
		Title:          ec.Title,
		TimeoutSeconds: ec.TimeoutSeconds,
	})
	return normalize.NewLLMExtractor(client, ec.Attempts)
}
