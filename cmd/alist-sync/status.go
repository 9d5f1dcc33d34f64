package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/config"
	"github.com/alexjbarnes/alist-sync/internal/state"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// stateLockWait bounds how long status waits for the database while a
// running service holds it.
const stateLockWait = 500 * time.Millisecond

// statusView is what the status command prints.
type statusView struct {
	State        string               `json:"state" yaml:"state"`
	CycleID      string               `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`
	CurrentTask  string               `json:"current_task" yaml:"current_task"`
	Progress     int                  `json:"progress" yaml:"progress"`
	PendingFiles int                  `json:"pending_files" yaml:"pending_files"`
	ActiveTasks  int                  `json:"active_tasks" yaml:"active_tasks"`
	TotalCopied  int                  `json:"total_copied" yaml:"total_copied"`
	TotalErrors  int                  `json:"total_errors" yaml:"total_errors"`
	Errors       status.ErrorCounters `json:"errors" yaml:"errors"`
	LastSuccess  *time.Time           `json:"last_success" yaml:"last_success"`
	LastRefresh  *time.Time           `json:"last_refresh" yaml:"last_refresh"`
	UpdateTime   time.Time            `json:"update_time" yaml:"update_time"`
	RunningTime  string               `json:"running_time" yaml:"running_time"`
}

func newStatusView(doc *status.Document, lastRefresh time.Time) statusView {
	v := statusView{
		State:        doc.State,
		CycleID:      doc.CycleID,
		CurrentTask:  doc.CurrentTask,
		Progress:     doc.Progress,
		PendingFiles: doc.Details.PendingFiles,
		ActiveTasks:  doc.Details.ActiveTasks,
		TotalCopied:  doc.Details.TotalCopied,
		TotalErrors:  doc.Details.TotalErrors,
		Errors:       doc.Details.Errors,
		LastSuccess:  doc.Details.LastSuccess,
		UpdateTime:   doc.UpdateTime,
		RunningTime:  doc.Statistics.RunningTime,
	}

	if !lastRefresh.IsZero() {
		v.LastRefresh = &lastRefresh
	}

	return v
}

func newStatusCmd() *cobra.Command {
	var (
		output  string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current sync status",
		Long: `Print the status document written by the running service, including the
time of the last completed listing refresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				cfg, err := config.LoadClient()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				dataDir = cfg.DataDir
			}

			doc, err := status.Read(filepath.Join(dataDir, status.FileName))
			if err != nil {
				return err
			}

			return renderStatus(cmd.OutOrStdout(), output, newStatusView(doc, refreshTime(doc, dataDir)))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (defaults to DATA_DIR or ~/.alist-sync)")

	return cmd
}

// refreshTime prefers the time carried in the status document and only
// opens the database for documents written without one.
func refreshTime(doc *status.Document, dataDir string) time.Time {
	if doc.Details.LastRefresh != nil {
		return *doc.Details.LastRefresh
	}

	return lastRefresh(dataDir)
}

// lastRefresh reads the last refresh time, or the zero time when the
// database is missing or locked by a running service.
func lastRefresh(dataDir string) time.Time {
	s, err := state.OpenReadOnly(state.DBPath(dataDir), stateLockWait)
	if err != nil {
		return time.Time{}
	}
	defer s.Close()

	return s.LastRefresh()
}

func renderStatus(w io.Writer, format string, v statusView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		writeStatusTable(w, v)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func writeStatusTable(w io.Writer, v statusView) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	phase := v.State
	if phase == "" {
		phase = "unknown"
	}

	table.AppendBulk([][]string{
		{"State", phase},
		{"Current task", orDash(v.CurrentTask)},
		{"Progress", strconv.Itoa(v.Progress) + "%"},
		{"Pending folders", strconv.Itoa(v.PendingFiles)},
		{"Active tasks", strconv.Itoa(v.ActiveTasks)},
		{"Total copied", strconv.Itoa(v.TotalCopied)},
		{"Errors", fmt.Sprintf("%d (listing %d, rename %d, submission %d, poll %d)",
			v.TotalErrors, v.Errors.Listing, v.Errors.Rename, v.Errors.Submission, v.Errors.Poll)},
		{"Last success", formatTime(v.LastSuccess)},
		{"Last refresh", formatTime(v.LastRefresh)},
		{"Running time", orDash(v.RunningTime)},
	})

	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
