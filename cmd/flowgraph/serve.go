package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flowgraph"
	"github.com/meikuraledutech/flowgraph/gemini"
	"github.com/meikuraledutech/flowgraph/internal/config"
	"github.com/meikuraledutech/flowgraph/internal/metrics"
	"github.com/meikuraledutech/flowgraph/memory"
	"github.com/meikuraledutech/flowgraph/postgres"
	"github.com/meikuraledutech/flowgraph/redis"
	"github.com/meikuraledutech/flowgraph/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the editor API. Workflows go to Postgres when DATABASE_URL is set and
sessions go to Redis when REDIS_ADDR is set; otherwise both stay in memory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config)")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Auth.Tokens) == 0 {
		return fmt.Errorf("no API tokens configured; set FLOWGRAPH_TOKENS")
	}

	workflows, closeWorkflows, err := openWorkflowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeWorkflows()

	sessions, closeSessions, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	var opts []gemini.Option
	if cfg.Gemini.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; runs will fail")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(server.Config{
		Workflows:   workflows,
		Sessions:    sessions,
		Generator:   gemini.New(cfg.Gemini.APIKey, opts...),
		Auth:        server.StaticTokens(cfg.Auth.Tokens),
		Logger:      logger,
		Observer:    metrics.New(reg),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		BodyLimit:   cfg.BodyLimit,
		CORSOrigins: cfg.CORSOrigins,
		SessionIdle: cfg.Redis.TTL,
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		serverErrors <- srv.Listen(cfg.Addr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server: %w", err)
	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("graceful shutdown did not complete", "wait", cfg.ShutdownWait, "error", err)
			return err
		}
		logger.Info("stopped")
	}
	return nil
}

func openWorkflowStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (flowgraph.WorkflowStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory workflow store")
		return memory.NewWorkflowStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := postgres.New(pool)
	if err := store.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("using postgres workflow store")
	return store, pool.Close, nil
}

func openSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (flowgraph.SessionStore, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory session store")
		return memory.NewSessionStore(), func() {}, nil
	}
	store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithTTL(cfg.Redis.TTL))
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("using redis session store", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	return store, func() { store.Close() }, nil
}
