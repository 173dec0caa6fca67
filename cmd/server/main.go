// Package main provides the entry point for the HTTP server.
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

	"github.com/gin-gonic/gin"

	"github.com/castingclouds/gerrit-sub002/internal/cache"
	changeRepository "github.com/castingclouds/gerrit-sub002/internal/change/repository"
	changeRouter "github.com/castingclouds/gerrit-sub002/internal/change/router"
	changeService "github.com/castingclouds/gerrit-sub002/internal/change/service"
	"github.com/castingclouds/gerrit-sub002/internal/config"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/database/database"
	"github.com/castingclouds/gerrit-sub002/internal/database/migrate"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/health"
	"github.com/castingclouds/gerrit-sub002/internal/middleware"
	submitRouter "github.com/castingclouds/gerrit-sub002/internal/submit/router"
	submitService "github.com/castingclouds/gerrit-sub002/internal/submit/service"
	"github.com/castingclouds/gerrit-sub002/pkg/keylock"
	"github.com/castingclouds/gerrit-sub002/pkg/logger"
)

func main() {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zlog, err := logger.NewWithConfig(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	db, err := database.New()
	if err != nil {
		zlog.Fatalw("failed to connect to database", "error", err)
	}
	defer database.Close(db) //nolint:errcheck

	if err := migrate.Migrate(db); err != nil {
		zlog.Fatalw("failed to apply migrations", "error", err)
	}

	git, err := gitstore.Open(cfg.Engine.GitDir, cfg.Engine.GitOpTimeout)
	if err != nil {
		zlog.Fatalw("failed to open git repository", "git_dir", cfg.Engine.GitDir, "error", err)
	}

	projects := project.NewRegistry()
	if cfg.Engine.PolicyPath != "" {
		projects, err = project.Load(cfg.Engine.PolicyPath)
		if err != nil {
			zlog.Fatalw("failed to load project policy", "path", cfg.Engine.PolicyPath, "error", err)
		}
	}
	projects.SetFallbackMaxPatchSets(cfg.Engine.MaxPatchSets)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Engine.PolicyPath != "" {
		go func() {
			if err := projects.Watch(ctx, zlog); err != nil {
				zlog.Warnw("policy watcher stopped", "error", err)
			}
		}()
	}

	var snapshots *cache.Client
	if cfg.Engine.RedisAddr != "" {
		snapshots, err = cache.New(ctx, cfg.Engine.RedisAddr, 5*time.Minute, zlog)
		if err != nil {
			zlog.Fatalw("failed to connect to redis", "addr", cfg.Engine.RedisAddr, "error", err)
		}
		defer snapshots.Close() //nolint:errcheck
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(zlog))
	r.Use(middleware.Recovery(zlog))

	repo := changeRepository.New(db)
	locks := keylock.New()
	changes := changeService.New(repo, git, projects, locks, snapshots, zlog)
	engine := submitService.New(repo, changes, git, projects, locks, snapshots, zlog, cfg.Engine.SubmitRetries)

	changeRouter.RegisterRoutes(r, changes)
	submitRouter.RegisterRoutes(r, engine)

	healthHandler := health.New(db, git, zlog)
	r.GET("/health", healthHandler.Check)

	srv := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Infow("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	zlog.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("forced shutdown", "error", err)
	}
}
