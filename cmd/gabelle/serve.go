package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tallyworks/gabelle/internal/api"
	"github.com/tallyworks/gabelle/internal/billing"
	"github.com/tallyworks/gabelle/internal/config"
	"github.com/tallyworks/gabelle/internal/counter"
	"github.com/tallyworks/gabelle/internal/metrics"
	"github.com/tallyworks/gabelle/internal/ratelimit"
	"github.com/tallyworks/gabelle/internal/tenant"
	"github.com/tallyworks/gabelle/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Gabelle usage engine server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	counters := counter.New(rdb)
	if err := counters.Ping(ctx); err != nil {
		// The engine stays up without redis; quota checks fall back to
		// the durable aggregates.
		slog.Warn("redis unavailable, counter fast path degraded", "error", err)
	} else {
		slog.Info("connected to redis")
	}

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.PoolStats {
		stat := pool.Stat()
		return metrics.PoolStats{
			Total:    stat.TotalConns(),
			Idle:     stat.IdleConns(),
			Acquired: stat.AcquiredConns(),
		}
	})

	usageStore := usage.NewStore(pool)
	tenantStore := tenant.NewStore(pool)

	collector := usage.NewCollector(usageStore, counters, cfg.Metering.FlushThreshold, cfg.Metering.FlushInterval).
		WithMetrics(m)
	go collector.Start(ctx)

	tables := &cfg.Billing
	quota := usage.NewQuotaChecker(counters, usageStore, tables).WithMetrics(m)
	reporter := usage.NewReporter(usageStore, tenantStore, tables)
	calculator := billing.NewCalculator(tables, tenantStore, usageStore)

	limiter := ratelimit.New(cfg.Ingest.RateLimit, cfg.Ingest.Window)

	router := api.NewRouter(api.RouterDeps{
		Collector:   collector,
		Reporter:    reporter,
		Events:      usageStore,
		Quota:       quota,
		Tenants:     tenantStore,
		Calculator:  calculator,
		Tables:      tables,
		Limiter:     limiter,
		Metrics:     m,
		CORSOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop blocks until the final flush lands, so buffered events survive
	// the restart.
	collector.Stop()

	return srv.Shutdown(shutdownCtx)
}
