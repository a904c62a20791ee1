package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	app "mentalmath/internal/app"
	config "mentalmath/internal/config"
	handlers "mentalmath/internal/handlers"
	util "mentalmath/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		util.LogFatal("Failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	util.LogInfo("Starting Mental Math Trainer in %s mode", map[bool]string{true: "production", false: "development"}[cfg.IsProduction()])

	a := app.New(cfg, nil, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCleanupRoutines(ctx, a)
	startServer(ctx, a, handlers.NewRouter(a))
}

func startCleanupRoutines(ctx context.Context, a *app.App) {
	a.Sessions.StartCleanup(ctx, a.Config.SessionCleanupInterval)

	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.CleanupStaleRateLimiters()
			}
		}
	}()

	util.LogInfo("Started cleanup routines for sessions and rate limiters")
}

func startServer(ctx context.Context, a *app.App, router *gin.Engine) {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		util.LogInfo("Shutdown signal received, shutting down server gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Sessions.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			util.LogWarn("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	util.LogInfo("Server starting on http://localhost:%s", a.Config.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		util.LogFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
	util.LogInfo("Server shutdown complete")
}
