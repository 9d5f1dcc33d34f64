package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for alist-sync.
type Config struct {
	// AList server and the account used to drive it.
	AListURL      string `env:"ALIST_URL" envDefault:"http://127.0.0.1:5244"`
	AListUsername string `env:"ALIST_USERNAME"`
	AListPassword string `env:"ALIST_PASSWORD"`

	// Source and destination directories as AList paths. Top-level
	// folders of SyncSource missing from SyncTarget are copied.
	SyncSource string `env:"SYNC_SOURCE"`
	SyncTarget string `env:"SYNC_TARGET"`

	// Local time of the daily cycle, HH:MM.
	SyncDailyAt string `env:"SYNC_DAILY_AT" envDefault:"00:00"`
	SyncOnStart bool   `env:"SYNC_ON_START" envDefault:"true"`

	// Copy queue settings.
	TaskCheckInterval time.Duration `env:"TASK_CHECK_INTERVAL" envDefault:"60s"`
	TaskMaxConcurrent int           `env:"TASK_MAX_CONCURRENT" envDefault:"3"`
	TaskErrorBackoff  time.Duration `env:"TASK_ERROR_BACKOFF" envDefault:"5s"`

	// Folder name repair.
	RenameSettleDelay time.Duration `env:"RENAME_SETTLE_DELAY" envDefault:"10s"`
	RenameStripChars  string        `env:"RENAME_STRIP_CHARS" envDefault:"'"`

	// Upper bound for a single AList call.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Directory for state.db, task_status.json and logs. Defaults to
	// ~/.alist-sync.
	DataDir string `env:"DATA_DIR"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Monitoring HTTP surface.
	MonitorEnabled    bool   `env:"MONITOR_ENABLED" envDefault:"true"`
	MonitorListenAddr string `env:"MONITOR_LISTEN_ADDR" envDefault:"127.0.0.1:62333"`
	MonitorAuthUsers  string `env:"MONITOR_AUTH_USERS"`
	MonitorLogLines   int    `env:"MONITOR_LOG_LINES" envDefault:"100"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	dataDir, err := resolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	cfg.DataDir = dataDir
	cfg.AListURL = strings.TrimRight(cfg.AListURL, "/")

	return cfg, nil
}

// ClientConfig is the subset of settings the status and refresh commands
// need. It does not require AList credentials.
type ClientConfig struct {
	DataDir           string `env:"DATA_DIR"`
	MonitorListenAddr string `env:"MONITOR_LISTEN_ADDR" envDefault:"127.0.0.1:62333"`
}

// LoadClient reads ClientConfig from the environment and .env file.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	dataDir, err := resolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	cfg.DataDir = dataDir

	return cfg, nil
}

// MonitorURL returns the base URL of the local monitoring server.
func (c *ClientConfig) MonitorURL() string {
	return "http://" + c.MonitorListenAddr
}

func (c *Config) validate() error {
	if c.AListURL == "" {
		return fmt.Errorf("ALIST_URL is required")
	}

	if c.AListUsername == "" {
		return fmt.Errorf("ALIST_USERNAME is required")
	}

	if c.AListPassword == "" {
		return fmt.Errorf("ALIST_PASSWORD is required")
	}

	if c.SyncSource == "" {
		return fmt.Errorf("SYNC_SOURCE is required")
	}

	if c.SyncTarget == "" {
		return fmt.Errorf("SYNC_TARGET is required")
	}

	if strings.TrimRight(c.SyncSource, "/") == strings.TrimRight(c.SyncTarget, "/") {
		return fmt.Errorf("SYNC_SOURCE and SYNC_TARGET must differ")
	}

	if _, _, err := c.DailyTime(); err != nil {
		return err
	}

	if c.TaskMaxConcurrent < 1 {
		return fmt.Errorf("TASK_MAX_CONCURRENT must be at least 1")
	}

	if c.TaskCheckInterval <= 0 {
		return fmt.Errorf("TASK_CHECK_INTERVAL must be positive")
	}

	if c.TaskErrorBackoff <= 0 {
		return fmt.Errorf("TASK_ERROR_BACKOFF must be positive")
	}

	if c.RenameSettleDelay < 0 {
		return fmt.Errorf("RENAME_SETTLE_DELAY must not be negative")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.MonitorEnabled && c.MonitorListenAddr == "" {
		return fmt.Errorf("MONITOR_LISTEN_ADDR is required when monitoring is enabled")
	}

	if c.MonitorLogLines < 1 {
		return fmt.Errorf("MONITOR_LOG_LINES must be at least 1")
	}

	return nil
}

// DailyTime returns the hour and minute of SYNC_DAILY_AT.
func (c *Config) DailyTime() (int, int, error) {
	t, err := time.Parse("15:04", c.SyncDailyAt)
	if err != nil {
		return 0, 0, fmt.Errorf("SYNC_DAILY_AT must be HH:MM, got %q", c.SyncDailyAt)
	}

	return t.Hour(), t.Minute(), nil
}

// resolveDataDir expands a leading ~ and makes dir absolute. An empty dir
// resolves to DefaultDataDir.
func resolveDataDir(dir string) (string, error) {
	if dir == "" {
		return DefaultDataDir()
	}

	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}

		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	return abs, nil
}

// DefaultDataDir returns ~/.alist-sync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".alist-sync"), nil
}

// LogDir returns the directory the rotating log file lives in.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseMonitorUsers parses the MONITOR_AUTH_USERS string into a
// UserCredentials map.
// Format: "user1:$2a$10$hash1,user2:$2a$10$hash2"
// Passwords must be bcrypt hashes, as produced by `alist-sync hash-password`.
func (c *Config) ParseMonitorUsers() (auth.UserCredentials, error) {
	users := make(auth.UserCredentials)
	if c.MonitorAuthUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.MonitorAuthUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or password hash in entry %d", len(users)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("password for %q must be a bcrypt hash", username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in MONITOR_AUTH_USERS", username)
		}

		users[username] = hash
	}

	return users, nil
}
