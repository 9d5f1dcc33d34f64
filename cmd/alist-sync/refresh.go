package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/config"
	"github.com/alexjbarnes/alist-sync/internal/monitor"
	"github.com/spf13/cobra"
)

// refreshTimeout covers the listing round trip and any renames the
// service makes before answering.
const refreshTimeout = 10 * time.Minute

func newRefreshCmd() *cobra.Command {
	var (
		serverURL string
		user      string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask the running service to refresh listings now",
		Long: `Trigger a sync cycle on the running service through its monitoring
endpoint. Credentials are needed when MONITOR_AUTH_USERS is set; the
password may also come from ALIST_SYNC_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				cfg, err := config.LoadClient()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				serverURL = cfg.MonitorURL()
			}

			if password == "" {
				password = os.Getenv("ALIST_SYNC_PASSWORD")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), refreshTimeout)
			defer cancel()

			resp, err := requestRefresh(ctx, http.DefaultClient, serverURL, user, password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Monitoring server URL (defaults to http://MONITOR_LISTEN_ADDR)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Monitoring username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Monitoring password")

	return cmd
}

// requestRefresh posts to /api/refresh and decodes the answer. A non-2xx
// status is an error carrying the server's message.
func requestRefresh(ctx context.Context, client *http.Client, serverURL, user, password string) (*monitor.RefreshResponse, error) {
	url := strings.TrimRight(serverURL, "/") + "/api/refresh"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if user != "" {
		req.SetBasicAuth(user, password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("refresh rejected: bad or missing credentials")
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("refresh rejected: too many failed attempts")
	}

	var out monitor.RefreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unexpected response (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode != http.StatusOK || !out.Success {
		return nil, fmt.Errorf("refresh failed (HTTP %d): %s", resp.StatusCode, out.Message)
	}

	return &out, nil
}
