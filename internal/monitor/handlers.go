// Package monitor serves the read-mostly HTTP surface over the status
// document and the log file, plus the manual refresh trigger.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexjbarnes/alist-sync/internal/auth"
	"github.com/alexjbarnes/alist-sync/internal/logging"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/alexjbarnes/alist-sync/internal/syncer"
)

// MaxLogLines caps the lines parameter of the logs endpoint.
const MaxLogLines = 1000

// Refresher starts a sync cycle. Satisfied by *syncer.Scheduler.
type Refresher interface {
	Refresh(ctx context.Context) (syncer.RefreshResult, error)
}

// RefreshResponse is the body of POST /api/refresh.
type RefreshResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	NewWork        bool   `json:"new_work"`
	AlreadyRunning bool   `json:"already_running"`
	CycleID        string `json:"cycle_id,omitempty"`
}

// LogsResponse is the body of GET /api/logs.
type LogsResponse struct {
	Logs []string `json:"logs"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// HandleStatus serves the status document verbatim, or {} before the
// first update.
func HandleStatus(statusPath string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		doc, err := status.ReadRaw(statusPath)
		if err != nil {
			logger.Error("reading status document", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "status unavailable")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(doc)
	}
}

// LogLines parses the lines query parameter: missing or invalid values
// fall back to def, and the result is clamped to 1..MaxLogLines.
func LogLines(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		n = def
	}

	return max(1, min(n, MaxLogLines))
}

// HandleLogs serves the tail of the log file.
func HandleLogs(logPath string, defaultLines int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		n := LogLines(r.URL.Query().Get("lines"), defaultLines)

		lines, err := logging.Tail(logPath, n)
		if err != nil {
			logger.Error("reading log file", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "logs unavailable")
			return
		}

		writeJSON(w, http.StatusOK, LogsResponse{Logs: lines})
	}
}

// HandleRefresh triggers a sync cycle and reports whether it found new
// work or one was already running.
func HandleRefresh(refresher Refresher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		logger.Info("manual refresh requested",
			slog.String("user", auth.RequestUserID(r.Context())),
			slog.String("ip", auth.RequestRemoteIP(r.Context())),
		)

		res, err := refresher.Refresh(r.Context())
		if err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, syncer.ErrStopped) {
				code = http.StatusServiceUnavailable
			}

			writeJSON(w, code, RefreshResponse{
				Success: false,
				Message: err.Error(),
			})

			return
		}

		writeJSON(w, http.StatusOK, RefreshResponse{
			Success:        true,
			Message:        RefreshMessage(res),
			NewWork:        res.NewWork,
			AlreadyRunning: res.AlreadyRunning,
			CycleID:        res.CycleID,
		})
	}
}

// RefreshMessage describes a refresh result for people.
func RefreshMessage(res syncer.RefreshResult) string {
	switch {
	case res.AlreadyRunning:
		return "a sync cycle is already processing"
	case res.NewWork:
		return strconv.Itoa(res.Pending) + " new folders queued for copy"
	default:
		return "no new folders to copy"
	}
}

// HandleHealth reports liveness.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
