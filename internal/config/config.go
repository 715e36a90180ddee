package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// DefaultPath is read when Load is called without an explicit path.
const DefaultPath = "teamberlin.toml"

// Config holds runtime settings for the server.
type Config struct {
	ServerAddr  string   `toml:"server_addr"`
	CORSOrigins []string `toml:"cors_origins"`

	DataDir      string `toml:"data_dir"`
	UploadsDir   string `toml:"uploads_dir"`
	OutputsDir   string `toml:"outputs_dir"`
	DatabasePath string `toml:"database_path"`

	FFmpegBinary  string `toml:"ffmpeg_bin"`
	FFprobeBinary string `toml:"ffprobe_bin"`

	MergeWorkers        int `toml:"merge_workers"`
	MergeQueueSize      int `toml:"merge_queue_size"`
	MergeTimeoutMinutes int `toml:"merge_timeout_minutes"`
	MergeMaxInputs      int `toml:"merge_max_inputs"`
	MaxUploadMB         int `toml:"max_upload_mb"`

	JanitorSchedule     string `toml:"janitor_schedule"`
	JanitorGraceMinutes int    `toml:"janitor_grace_minutes"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerAddr:          ":8080",
		CORSOrigins:         []string{"*"},
		DataDir:             "./data",
		FFmpegBinary:        "ffmpeg",
		FFprobeBinary:       "ffprobe",
		MergeWorkers:        2,
		MergeQueueSize:      64,
		MergeTimeoutMinutes: 30,
		MergeMaxInputs:      32,
		MaxUploadMB:         100,
		JanitorSchedule:     "@every 30m",
		JanitorGraceMinutes: 60,
		LogLevel:            "info",
		LogFormat:           "auto",
	}
}

// Load builds the configuration from defaults, an optional TOML file, a .env
// file and finally environment variables. An empty path falls back to
// DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.UploadsDir = getEnv("UPLOADS_DIR", c.UploadsDir)
	c.OutputsDir = getEnv("OUTPUTS_DIR", c.OutputsDir)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.FFmpegBinary = getEnv("FFMPEG_BIN", c.FFmpegBinary)
	c.FFprobeBinary = getEnv("FFPROBE_BIN", c.FFprobeBinary)
	c.MergeWorkers = getEnvInt("MERGE_WORKERS", c.MergeWorkers)
	c.MergeQueueSize = getEnvInt("MERGE_QUEUE_SIZE", c.MergeQueueSize)
	c.MergeTimeoutMinutes = getEnvInt("MERGE_TIMEOUT_MINUTES", c.MergeTimeoutMinutes)
	c.MergeMaxInputs = getEnvInt("MERGE_MAX_INPUTS", c.MergeMaxInputs)
	c.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.JanitorSchedule = getEnv("JANITOR_SCHEDULE", c.JanitorSchedule)
	c.JanitorGraceMinutes = getEnvInt("JANITOR_GRACE_MINUTES", c.JanitorGraceMinutes)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.CORSOrigins = splitList(origins)
	}
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.UploadsDir == "" {
		c.UploadsDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.OutputsDir == "" {
		c.OutputsDir = filepath.Join(c.DataDir, "outputs")
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "teamberlin.db")
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("config: data_dir is required")
	case c.UploadsDir == c.OutputsDir:
		return errors.New("config: uploads_dir and outputs_dir must differ")
	case c.MergeWorkers <= 0:
		return errors.New("config: merge_workers must be positive")
	case c.MergeQueueSize <= 0:
		return errors.New("config: merge_queue_size must be positive")
	case c.MergeTimeoutMinutes <= 0:
		return errors.New("config: merge_timeout_minutes must be positive")
	case c.MergeMaxInputs < 2:
		return errors.New("config: merge_max_inputs must be at least 2")
	case c.MaxUploadMB <= 0 || c.MaxUploadMB > 100:
		return errors.New("config: max_upload_mb must be within 1..100")
	case c.JanitorGraceMinutes <= 0:
		return errors.New("config: janitor_grace_minutes must be positive")
	}
	if _, err := cron.ParseStandard(c.JanitorSchedule); err != nil {
		return fmt.Errorf("config: invalid janitor_schedule %q: %w", c.JanitorSchedule, err)
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("config: unsupported log_format %q", c.LogFormat)
	}
	return nil
}

// EnsureDirectories creates the data, uploads and outputs roots.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.UploadsDir, c.OutputsDir, filepath.Dir(c.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// MergeTimeout returns the per-job deadline.
func (c *Config) MergeTimeout() time.Duration {
	return time.Duration(c.MergeTimeoutMinutes) * time.Minute
}

// JanitorGrace returns how old an unreferenced output must be before removal.
func (c *Config) JanitorGrace() time.Duration {
	return time.Duration(c.JanitorGraceMinutes) * time.Minute
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// LockPath is the single-instance lock file for the server.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "server.lock")
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out int
	_, err := fmt.Sscanf(value, "%d", &out)
	if err != nil || out <= 0 {
		return fallback
	}
	return out
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
