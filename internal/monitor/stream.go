package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/coder/websocket"
)

const streamWriteTimeout = 10 * time.Second

// HandleStream upgrades to a websocket and pushes the status document on
// connect and after every rewrite. Messages from the client are ignored.
func HandleStream(statusPath string, watcher *StatusWatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("status stream: accept failed", slog.String("error", err.Error()))
			return
		}
		defer conn.CloseNow()

		updates, unsubscribe := watcher.Subscribe()
		defer unsubscribe()

		// CloseRead discards client frames and cancels ctx when the
		// peer goes away.
		ctx := conn.CloseRead(r.Context())

		doc, err := status.ReadRaw(statusPath)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "status unavailable")
			return
		}

		if err := writeDoc(ctx, conn, doc); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case doc := <-updates:
				if err := writeDoc(ctx, conn, doc); err != nil {
					logger.Debug("status stream: write failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	}
}

func writeDoc(ctx context.Context, conn *websocket.Conn, doc []byte) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	return conn.Write(wctx, websocket.MessageText, doc)
}
