package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/yossior/doublechess/internal/config"
	"github.com/yossior/doublechess/internal/game"
	"github.com/yossior/doublechess/internal/health"
	"github.com/yossior/doublechess/internal/obslog"
	"github.com/yossior/doublechess/internal/registry"
	"github.com/yossior/doublechess/internal/store"
	"github.com/yossior/doublechess/internal/transport"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	// Persistence tiers are optional; each runs only when configured.
	var snapshots *store.SnapshotStore
	if cfg.RedisURL != "" {
		snapshots, err = store.NewSnapshotStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("snapshot store init error", zap.Error(err))
		}
		defer func() { _ = snapshots.Close() }()
	}
	var results *store.ResultStore
	if cfg.DatabaseURL != "" {
		results, err = store.NewResultStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("result store init error", zap.Error(err))
		}
		defer func() { _ = results.Close() }()
	}
	gateway := store.NewGateway(snapshots, results)

	sup := game.NewSupervisor(cfg.GracePeriod(), logger)
	defaults := game.Config{
		Variant:     game.Variant(cfg.DefaultVariant),
		InitialMS:   cfg.DefaultInitialMS,
		IncrementMS: cfg.DefaultIncrementMS,
	}
	reg := registry.New(gateway, sup, defaults, logger)

	ws := transport.NewServer(reg, logger)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      ws.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
	}

	hs := health.New(cfg.HealthAddr, func() map[string]any {
		return map[string]any{"sessions": reg.Count()}
	}, logger)
	go func() {
		if err := hs.Run(); err != nil {
			logger.Warn("health server stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg.Drain(ctx)
	_ = srv.Shutdown(ctx)
	_ = hs.Shutdown()
	logger.Info("shutdown complete")
}
