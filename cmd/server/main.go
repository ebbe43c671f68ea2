package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/fleet-dispatch/internal/config"
	"github.com/example/fleet-dispatch/internal/feed"
	"github.com/example/fleet-dispatch/internal/httpapi"
	"github.com/example/fleet-dispatch/internal/logging"
	"github.com/example/fleet-dispatch/internal/matcher"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/orchestrator"
	"github.com/example/fleet-dispatch/internal/payments"
	"github.com/example/fleet-dispatch/internal/rebalance"
	"github.com/example/fleet-dispatch/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("server", cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	var st store.Store
	if cfg.RedisAddr != "" {
		rs := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		defer rs.Close()
		st = rs
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	var dlog store.DispatchLog
	if cfg.PGDSN != "" {
		pl, err := store.NewPostgresLog(cfg.PGDSN)
		if err != nil {
			logger.Warn("dispatch log unavailable", "error", err)
		} else {
			defer pl.Close()
			dlog = pl
		}
	}

	wsreg := notify.NewWSRegistry()
	var push notify.Notifier
	if cfg.FCMEndpoint != "" {
		push = notify.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey)
	}
	notifier := &notify.Multi{WS: wsreg, Push: push}

	var holder payments.Holder
	if os.Getenv("STRIPE_API_KEY") != "" && cfg.StripeDepositCents > 0 {
		holder = payments.NewStripeClient()
	}

	var producer *feed.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = feed.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	m := &matcher.Service{
		Store:           st,
		Notifier:        notifier,
		Payments:        holder,
		Log:             dlog,
		Logger:          logger,
		DepositCents:    cfg.StripeDepositCents,
		DepositCurrency: cfg.StripeDepositCurrency,
	}
	runner := &rebalance.Runner{
		Store:      st,
		Log:        dlog,
		Logger:     logger,
		Window:     cfg.RebalanceWindow,
		ApplyLimit: cfg.RebalanceApplyLimit,
	}
	orch := &orchestrator.Orchestrator{Assigner: m, Rebalancer: runner, Logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orch.RunRebalanceLoop(ctx, cfg.RebalanceInterval)

	api := httpapi.NewServer(st, orch, producer, wsreg, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("fleet-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
		slog.Info("migration applied", "file", f)
	}
	return nil
}
