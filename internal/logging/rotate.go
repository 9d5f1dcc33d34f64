package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// FileName is the active log file inside the log directory.
	FileName = "copy_task.log"

	// DefaultBackups is how many rotated files are kept.
	DefaultBackups = 30

	backupDateLayout = "20060102"
)

// DailyFile is an io.Writer that appends to dir/copy_task.log and rotates
// it at local midnight to copy_task.log.YYYYMMDD, keeping the newest
// backups.
type DailyFile struct {
	dir     string
	backups int
	now     func() time.Time

	mu     sync.Mutex
	file   *os.File
	opened time.Time
}

// OpenDailyFile opens (or creates) the log file in dir.
func OpenDailyFile(dir string, backups int) (*DailyFile, error) {
	return openDailyFile(dir, backups, time.Now)
}

func openDailyFile(dir string, backups int, now func() time.Time) (*DailyFile, error) {
	if backups < 1 {
		backups = DefaultBackups
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	d := &DailyFile{dir: dir, backups: backups, now: now}

	path := d.Path()

	// A file left over from a previous day is rotated before reuse.
	if info, err := os.Stat(path); err == nil && !sameDay(info.ModTime(), now()) {
		if err := d.rotateFile(info.ModTime()); err != nil {
			return nil, err
		}
	}

	if err := d.open(); err != nil {
		return nil, err
	}

	return d, nil
}

// Path returns the active log file path.
func (d *DailyFile) Path() string {
	return filepath.Join(d.dir, FileName)
}

// Write appends p, rotating first if the day changed.
func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return 0, os.ErrClosed
	}

	if now := d.now(); !sameDay(d.opened, now) {
		if err := d.file.Close(); err != nil {
			return 0, fmt.Errorf("closing log file: %w", err)
		}
		d.file = nil

		if err := d.rotateFile(d.opened); err != nil {
			return 0, err
		}
		if err := d.open(); err != nil {
			return 0, err
		}
	}

	return d.file.Write(p)
}

// Close closes the active file.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil

	return err
}

func (d *DailyFile) open() error {
	f, err := os.OpenFile(d.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	d.file = f
	d.opened = d.now()

	return nil
}

// rotateFile renames the active file to a backup named after day and
// prunes old backups.
func (d *DailyFile) rotateFile(day time.Time) error {
	backup := d.Path() + "." + day.Format(backupDateLayout)

	// Two rotations on the same day append a counter instead of
	// clobbering the first backup.
	for i := 1; fileExists(backup); i++ {
		backup = fmt.Sprintf("%s.%s.%d", d.Path(), day.Format(backupDateLayout), i)
	}

	if err := os.Rename(d.Path(), backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating log file: %w", err)
	}

	return d.prune()
}

func (d *DailyFile) prune() error {
	matches, err := filepath.Glob(d.Path() + ".*")
	if err != nil {
		return err
	}

	if len(matches) <= d.backups {
		return nil
	}

	// Backup names sort chronologically.
	sort.Strings(matches)

	for _, old := range matches[:len(matches)-d.backups] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing old log file: %w", err)
		}
	}

	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Tail returns up to the last n lines of the file at path. A missing file
// yields no lines.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	return tailLines(f, n)
}

func tailLines(r io.Reader, n int) ([]string, error) {
	ring := make([]string, 0, n)
	start := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if len(ring) < n {
			ring = append(ring, line)
			continue
		}
		ring[start] = line
		start = (start + 1) % n
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading log file: %w", err)
	}

	return append(ring[start:], ring[:start]...), nil
}
