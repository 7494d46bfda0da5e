package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/risk-engine/internal/api"
	"github.com/atmx/risk-engine/internal/config"
	"github.com/atmx/risk-engine/internal/events"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/limits"
	"github.com/atmx/risk-engine/internal/logging"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/risk"
	"github.com/atmx/risk-engine/internal/scheduler"
	"github.com/atmx/risk-engine/internal/sensitivity"
	"github.com/atmx/risk-engine/internal/store"
	"github.com/atmx/risk-engine/internal/stress"
	"github.com/atmx/risk-engine/internal/varengine"
	"github.com/atmx/risk-engine/internal/workpool"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger, flush := logging.New(cfg.Env)
	slog.SetDefault(logger)
	defer flush()

	if err := run(cfg, logger); err != nil {
		slog.Error("risk-engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("risk-engine stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
	}

	// --- Result archive ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
		slog.Info("connected to PostgreSQL")
		if rdb != nil {
			st = store.NewCachedStore(st, store.NewRedisKV(rdb), cfg.Redis.TTL)
		}
	} else {
		slog.Warn("database url not set, using in-memory store (results will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Market data ---
	static := marketdata.NewStaticProvider(&marketdata.Snapshot{
		AsOf:         time.Now().UTC().Truncate(24 * time.Hour),
		RiskFreeRate: cfg.Risk.RiskFreeRate,
	})
	var market interface {
		marketdata.Provider
		risk.MarketSink
	} = static
	if rdb != nil {
		market = marketdata.NewCachedProvider(static, rdb, cfg.Redis.TTL)
	}

	// --- Events ---
	hub := events.NewHub()
	fanout := events.NewFanout(logger).Add("ws", hub)
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Warn("kafka writer close failed", "err", err)
			}
		})
		fanout.Add("kafka", kp)
		slog.Info("kafka event sink enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// --- Engines ---
	concentration := limits.NewConcentrationLimiter(
		decimal.NewFromFloat(cfg.Limits.MaxPerInstrument),
		decimal.NewFromFloat(cfg.Limits.MaxPerGroup),
		cfg.Limits.GroupPrefixLen,
	)
	led := ledger.New(ledger.WithPreTradeCheck(concentration), ledger.WithLogger(logger))
	sens := sensitivity.New(sensitivity.WithBaseCurrency(cfg.Risk.BaseCurrency), sensitivity.WithLogger(logger))
	vars := varengine.New(
		varengine.WithSensitivity(sens),
		varengine.WithDefaultCorrelation(cfg.Risk.DefaultCorrelation),
		varengine.WithMinObservations(cfg.Risk.MinObservations),
		varengine.WithSimulations(cfg.Risk.Simulations),
		varengine.WithLogger(logger),
	)
	monitor := limits.NewMonitor(limits.WithBooks(led), limits.WithLogger(logger))
	workers := workpool.New(cfg.Risk.Workers)
	stressEngine := stress.New(stress.NewRegistry(nil), sens,
		stress.WithVaRCalculator(vars),
		stress.WithLimitChecker(monitor),
		stress.WithPool(workers),
		stress.WithLogger(logger),
	)

	svc := risk.NewService(risk.Deps{
		Ledger:      led,
		Market:      market,
		MarketSink:  market,
		Sensitivity: sens,
		VaR:         vars,
		Stress:      stressEngine,
		Limits:      monitor,
		Store:       st,
		Events:      fanout,
		Pool:        workers,
		Defaults:    risk.Defaults{ConfidenceLevel: cfg.Risk.ConfidenceLevel, HorizonDays: cfg.Risk.HorizonDays},
		Log:         logger,
	})

	sched, err := scheduler.New(svc, scheduler.Specs{EOD: cfg.Schedule.EOD, Stress: cfg.Schedule.Stress}, logger)
	if err != nil {
		return err
	}

	// --- HTTP ---
	router := api.NewHandler(svc, hub.HandleWS).Router(api.RouterConfig{AllowedOrigins: cfg.CORS.AllowedOrigins})
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		slog.Info("risk-engine listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down risk-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
