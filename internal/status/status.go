// Package status owns the status document: a single JSON object that is
// rewritten atomically on every update and is the only thing the
// monitoring surface reads from the sync side.
package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the status document's name inside the data directory.
const FileName = "task_status.json"

// Document is the serialized status snapshot.
type Document struct {
	CurrentTask    string     `json:"current_task"`
	Progress       int        `json:"progress"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	UpdateTime     time.Time  `json:"update_time"`
	State          string     `json:"state"`
	CycleID        string     `json:"cycle_id,omitempty"`
	Details        Details    `json:"status_details"`
	Statistics     Statistics `json:"statistics"`
}

// Details holds the running counters.
type Details struct {
	PendingFiles int           `json:"pending_files"`
	ActiveTasks  int           `json:"active_tasks"`
	TotalCopied  int           `json:"total_copied"`
	TotalErrors  int           `json:"total_errors"`
	LastSuccess  *time.Time    `json:"last_success"`
	LastRefresh  *time.Time    `json:"last_refresh,omitempty"`
	Errors       ErrorCounters `json:"errors"`
}

// ErrorCounters splits TotalErrors by category.
type ErrorCounters struct {
	Listing    int `json:"listing"`
	Rename     int `json:"rename"`
	Submission int `json:"submission"`
	Poll       int `json:"poll"`
}

// Total sums all categories.
func (e ErrorCounters) Total() int {
	return e.Listing + e.Rename + e.Submission + e.Poll
}

// Statistics covers process lifetime figures.
type Statistics struct {
	StartTime   time.Time `json:"start_time"`
	RunningTime string    `json:"running_time"`
}

// Reporter rewrites the status document. Write failures are logged and
// swallowed: a broken status file must never stop a sync cycle.
type Reporter struct {
	path   string
	logger *slog.Logger

	// mu serialises rewrites so two temp files never race for the rename.
	mu sync.Mutex
}

// NewReporter creates a reporter writing to dir/task_status.json.
func NewReporter(dir string, logger *slog.Logger) *Reporter {
	return &Reporter{
		path:   filepath.Join(dir, FileName),
		logger: logger,
	}
}

// Path returns the status document path.
func (r *Reporter) Path() string {
	return r.path
}

// Publish atomically replaces the status document with doc.
func (r *Reporter) Publish(doc Document) {
	if err := r.write(doc); err != nil {
		r.logger.Error("failed to write status document",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reporter) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	// Atomic write: write to temp file, then rename.
	tmp, err := os.CreateTemp(dir, ".status-write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// ReadRaw returns the status document bytes verbatim. A missing document
// reads as an empty JSON object.
func ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status document: %w", err)
	}

	return data, nil
}

// Read decodes the status document. A missing document decodes as the
// zero Document.
func Read(path string) (*Document, error) {
	data, err := ReadRaw(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding status document: %w", err)
	}

	return &doc, nil
}

// FormatRunningTime renders an elapsed duration as H:MM:SS.
func FormatRunningTime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
