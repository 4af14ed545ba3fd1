package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend"
	"github.com/jo-hoe/contentdesk/internal/backend/scheduler"
	"github.com/jo-hoe/contentdesk/internal/common"
	"github.com/jo-hoe/contentdesk/internal/core"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	taskTimeout     = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "config.yaml")
}

func main() {
	configPath := getConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(core.NewLogger(config.Log, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coreService, err := core.NewCoreService(ctx, config)
	if err != nil {
		slog.Error("failed to start core service", "error", err)
		os.Exit(1)
	}

	runner, err := defineTasks(config, coreService)
	if err != nil {
		slog.Error("failed to schedule tasks", "error", err)
		_ = coreService.Close()
		os.Exit(1)
	}
	runner.Start()

	server := defineServer()
	backend.NewAPIService(config, coreService).SetRoutes(server)

	portString := fmt.Sprintf(":%d", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := coreService.Close(); err != nil {
		slog.Error("core service close error", "error", err)
	}
}

// defineTasks registers the periodic background work of one instance.
func defineTasks(config *core.ServiceConfig, coreService *core.CoreService) (*scheduler.Runner, error) {
	runner := scheduler.NewRunner(taskTimeout)
	if err := runner.Add("publish-posts", config.Scheduler.Schedule, coreService.SweepPosts); err != nil {
		return nil, err
	}
	if err := runner.Add("sweep-post-changes", config.ChangeTracker.SweepSchedule, coreService.SweepChanges); err != nil {
		return nil, err
	}
	if len(config.RunPod.Endpoints) > 0 {
		if err := runner.Add("reconcile-jobs", config.RunPod.ReconcileSchedule, coreService.ReconcileTask); err != nil {
			return nil, err
		}
	}
	return runner, nil
}

func defineServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Configure request logger to skip the probe endpoint
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/probe"
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRoutePath: true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"user_agent", v.UserAgent,
			}
			if v.Error != nil {
				slog.Error("request failed", append(attrs, "error", v.Error)...)
			} else {
				slog.Info("request", attrs...)
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Pre(middleware.RemoveTrailingSlash())

	e.Validator = &common.GenericEchoValidator{}

	return e
}
