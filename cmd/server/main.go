package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moltlink/internal/config"
	"moltlink/internal/db"
	"moltlink/internal/logging"
	"moltlink/internal/middleware"
	"moltlink/internal/router"
	"moltlink/internal/services"
	"moltlink/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		logging.FromContext(context.Background()).Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	gdb, err := db.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()
	if err := db.Migrate(ctx, gdb); err != nil {
		return err
	}
	if err := db.SeedSubmolts(ctx, gdb, cfg.SeedSubmolts); err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	keys, err := utils.NewCache[string, uint](cfg.AuthCacheSize, cfg.AuthCacheTTL, clock)
	if err != nil {
		return err
	}
	limiter, err := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.AuthCacheSize*4, 10*time.Minute)
	if err != nil {
		return err
	}

	engine := router.New(router.Deps{
		DB:       gdb,
		Logger:   logger,
		Agents:   services.NewAgentService(gdb, keys),
		Follows:  services.NewFollowService(gdb),
		Submolts: services.NewSubmoltService(gdb),
		Content:  services.NewContentService(gdb, clock),
		Votes:    services.NewVoteService(gdb),
		Feed: services.NewFeedComposer(gdb, clock, services.FeedSettings{
			DefaultLimit:    cfg.FeedDefaultLimit,
			MaxLimit:        cfg.FeedMaxLimit,
			CandidateWindow: cfg.FeedCandidateWindow,
		}),
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("moltlink server starting", "port", cfg.Port, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
