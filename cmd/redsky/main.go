package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/redsky/internal/actor"
	"github.com/steemit/redsky/internal/api"
	"github.com/steemit/redsky/internal/app"
	"github.com/steemit/redsky/internal/blobcache"
	"github.com/steemit/redsky/internal/bsky"
	"github.com/steemit/redsky/internal/cache"
	"github.com/steemit/redsky/internal/protocol"
	"github.com/steemit/redsky/internal/ui"
	"github.com/steemit/redsky/pkg/config"
	"github.com/steemit/redsky/pkg/logging"
	"github.com/steemit/redsky/pkg/telemetry"
)

// How long shutdown waits for in-flight jobs to deliver their events
const drainTimeout = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting redsky", zap.String("host", cfg.Bluesky.Host))

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	blobs, err := blobcache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize blob cache", zap.Error(err))
	}
	defer blobs.Close()

	client, err := bsky.New(&cfg.Bluesky, blobs)
	if err != nil {
		logger.Fatal("Failed to create Bluesky client", zap.Error(err))
	}

	commands := make(chan protocol.Command, cfg.Actor.CommandQueue)
	events := make(chan protocol.Event, cfg.Actor.EventQueue)

	a := app.New(commands, events, cache.NewStore(cfg.UI.ImageCacheBytes))
	loop := ui.New(a, ui.NewTextRenderer(os.Stdout), cfg.UI.FrameInterval)
	dispatcher := actor.New(client, commands, events, loop, actor.OptionsFromConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	actorDone := make(chan error, 1)
	go func() { actorDone <- dispatcher.Run(context.Background()) }()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	var srv *http.Server
	if cfg.Control.Enabled {
		srv = newControlServer(cfg, loop, blobs)
		go func() {
			logger.Info("Control server starting", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("Control server failed to start", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-loopDone:
		logger.Error("UI loop exited", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Control server forced to shutdown", zap.Error(err))
		}
	}

	// The actor stops receiving on Close; the queue may still hold commands
	// sent before it.
	select {
	case commands <- protocol.Close{}:
	case <-shutdownCtx.Done():
		logger.Warn("Command queue full, actor not closed")
	}
	cancel()

	select {
	case <-actorDone:
	case <-shutdownCtx.Done():
	}

	drained := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn("In-flight jobs still running at exit")
	}

	logger.Info("redsky exited")
}

func newControlServer(cfg *config.Config, loop *ui.Loop, blobs *blobcache.Cache) *http.Server {
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	var health api.HealthChecker
	if blobs != nil {
		health = blobs
	}
	api.NewRouter(loop, health).SetupRoutes(engine)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Control.Host, cfg.Control.Port),
		Handler: engine,
	}
}
