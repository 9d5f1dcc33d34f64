// Package server provides HTTP server construction for alist-sync.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/alist-sync/internal/auth"
	"github.com/alexjbarnes/alist-sync/internal/monitor"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Users        auth.UserCredentials
	StatusPath   string
	LogPath      string
	DefaultLines int
	Refresher    monitor.Refresher
	Watcher      *monitor.StatusWatcher
	MCPHandler   http.Handler
	Logger       *slog.Logger
}

// NewMux builds the monitoring mux. Reads are open; the refresh trigger
// and the MCP endpoint sit behind basic auth when users are configured.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", monitor.HandleHealth())
	mux.HandleFunc("/api/status", monitor.HandleStatus(cfg.StatusPath, cfg.Logger))
	mux.HandleFunc("/api/logs", monitor.HandleLogs(cfg.LogPath, cfg.DefaultLines, cfg.Logger))

	if cfg.Watcher != nil {
		mux.HandleFunc("/api/status/stream", monitor.HandleStream(cfg.StatusPath, cfg.Watcher, cfg.Logger))
	}

	authMiddleware := auth.Middleware(cfg.Users, cfg.Logger)
	mux.Handle("/api/refresh", authMiddleware(monitor.HandleRefresh(cfg.Refresher, cfg.Logger)))

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	}

	return mux
}
