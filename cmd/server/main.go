package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/credal-io/credal/internal/api"
	"github.com/credal-io/credal/internal/config"
	"github.com/credal-io/credal/internal/service"
	"github.com/credal-io/credal/internal/substrate"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := buildLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	wc, wr, wt, wx := config.SalienceWeights()
	opts := service.Options{
		Policy: config.ResolutionPolicy(),
		Weights: service.SalienceWeights{
			Confidence: wc,
			Recency:    wr,
			Trust:      wt,
			Context:    wx,
		},
		NumericTolerance:   config.NumericTolerance(),
		MaterialityFloor:   config.MaterialityFloor(),
		DecayHalfLife:      config.DecayHalfLife(),
		DecayTTL:           config.DecayTTL(),
		DecayInterval:      config.DecayInterval(),
		ConsensusThreshold: config.ConsensusThreshold(),
		ContributionFloor:  config.ContributionFloor(),
		SupersedePerAgent:  config.SupersedePerAgent(),
	}

	svc, err := service.NewBeliefService(opts, logger)
	if err != nil {
		logger.Fatal("invalid store configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Audit events go to the log always, and to the substrate database
	// when one is configured. The store itself holds all state in memory.
	sinks := substrate.MultiSink{substrate.NewLogSink(logger)}
	if dbURL := config.DatabaseURL(); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to substrate database", zap.Error(err))
		}
		defer pool.Close()

		pg := substrate.NewPostgresSink(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare substrate schema", zap.Error(err))
		}
		sinks = append(sinks, pg)
		logger.Info("substrate audit sink enabled")
	}
	svc.SetEventSink(sinks)

	app := api.NewApp(svc, logger)
	app.Decay.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	app.Decay.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func buildLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
