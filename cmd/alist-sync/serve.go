package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/alist"
	"github.com/alexjbarnes/alist-sync/internal/auth"
	"github.com/alexjbarnes/alist-sync/internal/config"
	"github.com/alexjbarnes/alist-sync/internal/logging"
	"github.com/alexjbarnes/alist-sync/internal/mcpserver"
	"github.com/alexjbarnes/alist-sync/internal/monitor"
	"github.com/alexjbarnes/alist-sync/internal/server"
	"github.com/alexjbarnes/alist-sync/internal/state"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/alexjbarnes/alist-sync/internal/syncer"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service and the monitoring server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	hour, minute, err := cfg.DailyTime()
	if err != nil {
		return err
	}

	users, err := cfg.ParseMonitorUsers()
	if err != nil {
		return fmt.Errorf("parsing monitor auth users: %w", err)
	}

	logFile, err := logging.OpenDailyFile(cfg.LogDir(), logging.DefaultBackups)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	logger := logging.NewLogger(cfg.Environment, os.Stdout, logFile)
	logger.Info("alist-sync starting",
		slog.String("version", Version),
		slog.String("source", cfg.SyncSource),
		slog.String("target", cfg.SyncTarget),
		slog.String("daily_at", cfg.SyncDailyAt),
		slog.Bool("monitor", cfg.MonitorEnabled),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(state.DBPath(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	session := alist.NewSession(
		alist.NewClient(cfg.AListURL, nil),
		cfg.AListUsername,
		cfg.AListPassword,
		func(token string) {
			if err := appState.SetToken(token); err != nil {
				logger.Warn("failed to save token", slog.String("error", err.Error()))
			}
		},
		logger,
	)

	authCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	err = session.Authenticate(authCtx, appState.Token())
	cancel()
	if err != nil {
		return fmt.Errorf("authenticating with AList: %w", err)
	}

	reporter := status.NewReporter(cfg.DataDir, logger)

	sched := syncer.New(syncer.Config{
		SourceDir:      cfg.SyncSource,
		DestDir:        cfg.SyncTarget,
		DailyHour:      hour,
		DailyMinute:    minute,
		RunOnStart:     cfg.SyncOnStart,
		CheckInterval:  cfg.TaskCheckInterval,
		ErrorBackoff:   cfg.TaskErrorBackoff,
		SettleDelay:    cfg.RenameSettleDelay,
		RequestTimeout: cfg.RequestTimeout,
		MaxConcurrent:  cfg.TaskMaxConcurrent,
		StripChars:     cfg.RenameStripChars,
	}, session, appState, reporter, logger, syncer.WithLastRefresh(appState.LastRefresh()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.MonitorEnabled {
		g.Go(func() error {
			return runMonitor(gctx, cfg, users, reporter.Path(), logFile.Path(), sched, logger)
		})
	}

	err = g.Wait()
	logger.Info("alist-sync stopped")

	return err
}

// runMonitor serves the status, logs, refresh, stream and MCP endpoints
// until ctx is cancelled.
func runMonitor(ctx context.Context, cfg *config.Config, users auth.UserCredentials, statusPath, logPath string, refresher monitor.Refresher, logger *slog.Logger) error {
	monLogger := logger.With(slog.String("service", "monitor"))

	watcher := monitor.NewStatusWatcher(statusPath, monLogger)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "alist-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		StatusPath:   statusPath,
		LogPath:      logPath,
		DefaultLines: cfg.MonitorLogLines,
		Refresher:    refresher,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Users:        users,
		StatusPath:   statusPath,
		LogPath:      logPath,
		DefaultLines: cfg.MonitorLogLines,
		Refresher:    refresher,
		Watcher:      watcher,
		MCPHandler:   mcpHandler,
		Logger:       monLogger,
	})

	// No read or write timeout: status streams stay open indefinitely and
	// a refresh blocks for a listing round trip plus renames.
	srv := &http.Server{
		Addr:              cfg.MonitorListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	monLogger.Info("starting monitoring server",
		slog.String("listen", cfg.MonitorListenAddr),
		slog.Int("users", len(users)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Watch(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		monLogger.Info("shutting down monitoring server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("monitoring server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
