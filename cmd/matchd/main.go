package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"matchd/internal/book"
	"matchd/internal/config"
	"matchd/internal/matcher"
	"matchd/internal/publish"
	"matchd/internal/repository"
	"matchd/internal/scheduler"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config failed", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	book.SetLogger(logger)
	matcher.SetLogger(logger)
	scheduler.SetLogger(logger)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("connecting to database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	store := repository.NewSQLStore(db)

	pub, closePub := newPublisher(cfg, logger)
	defer closePub()

	cache := book.NewCache(cfg.Book.CacheTTL)
	generator := book.NewGenerator(store, store, store, cache, pub, cfg.Book.Interval)

	// Wallet movements and fee schedules live in their own services; the
	// in-process implementations here keep the engine runnable standalone.
	wallet := matcher.NewMemoryWallet()
	fees := matcher.NewFlatFeeSchedule(decimal.RequireFromString("0.001"))

	eng := matcher.New(store, wallet, fees,
		matcher.WithMaxRoundTrades(cfg.Matching.MaxRoundTrades))

	state := scheduler.NewMemoryState()
	sched := scheduler.New(store, eng, state, nil, scheduler.Config{
		Workers:       cfg.Matching.Workers,
		Interval:      cfg.Matching.RoundInterval,
		FullPassEvery: cfg.Matching.FullPassEvery,
		Isolated:      cfg.Matching.IsolatedMarkets,
		PostWorkers:   cfg.Matching.PostWorkers,
		PostQueueSize: cfg.Matching.PostQueueSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	httpServer := startHTTP(cfg, logger)

	go func() {
		if err := generator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("book generator stopped", "error", err)
		}
	}()

	logger.Info("matching engine started",
		"workers", cfg.Matching.Workers,
		"round_interval", cfg.Matching.RoundInterval.String())

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("matching engine stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (publish.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("kafka disabled, discarding book updates")
		return publish.NewDiscardPublisher(), func() {}
	}

	kp := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	logger.Info("publishing book updates", "topic", cfg.Kafka.Topic)
	return kp, func() {
		if err := kp.Close(); err != nil {
			logger.Error("closing kafka writer failed", "error", err)
		}
	}
}

func startHTTP(cfg *config.Config, logger *slog.Logger) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	logger.Info("http listener started", "addr", cfg.HTTP.Addr)

	return server
}
