// Package config loads application configuration. Precedence, lowest to
// highest: built-in defaults, the TOML config file, environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultExtensions is the media allow-list used when neither the config
// file nor the UI has overridden it.
var DefaultExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff",
	".mp4", ".mov", ".avi", ".mkv", ".heic",
}

// DefaultSkipPatterns prunes system trees that never hold user media.
var DefaultSkipPatterns = []string{
	"c:/windows", "c:/program files", "c:/program files (x86)",
	"c:/programdata", "c:/$recycle.bin", "c:/system volume information",
	"c:/recovery", "c:/perflogs",
	"*/.git", "*/node_modules",
	"/proc", "/sys", "/dev",
}

// ThrottleConfig mirrors scan.ThrottlePolicy for file/env configuration.
type ThrottleConfig struct {
	Enabled       bool `toml:"enabled"`
	Workers       int  `toml:"workers"`
	DispatchDelay int  `toml:"dispatch_delay_ms"`
	ReadDelay     int  `toml:"read_delay_ms"`
}

// Config holds all application configuration.
type Config struct {
	Port          int            `toml:"port"`
	DBPath        string         `toml:"db_path"`
	DataDir       string         `toml:"data_dir"`
	RetentionDays int            `toml:"retention_days"`
	ScanTimeout   time.Duration  `toml:"-"`
	ScanTimeoutS  int            `toml:"scan_timeout_seconds"`
	ScanPaths     []string       `toml:"scan_paths"`
	Extensions    []string       `toml:"extensions"`
	SkipPatterns  []string       `toml:"skip_patterns"`
	Precision     bool           `toml:"precision"`
	Throttle      ThrottleConfig `toml:"throttle"`

	// RetentionDaysFromEnv locks retention against DB-stored settings.
	RetentionDaysFromEnv bool `toml:"-"`
}

func defaults() *Config {
	return &Config{
		Port:          8080,
		DBPath:        "./data/mediadup.db",
		DataDir:       "./data",
		RetentionDays: 30,
		ScanTimeoutS:  int((6 * time.Hour).Seconds()),
		Extensions:    append([]string(nil), DefaultExtensions...),
		SkipPatterns:  append([]string(nil), DefaultSkipPatterns...),
		Throttle: ThrottleConfig{
			Enabled:       true,
			DispatchDelay: 25,
			ReadDelay:     2,
		},
	}
}

// Load reads configuration from the config file (if any) and environment.
func Load() *Config {
	cfg := defaults()

	if path := configFilePath(); path != "" {
		if err := loadFile(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
	}

	applyEnv(cfg)
	cfg.ScanTimeout = time.Duration(cfg.ScanTimeoutS) * time.Second
	return cfg
}

// configFilePath returns the config file to read: MEDIADUP_CONFIG if set,
// otherwise the XDG location when it exists.
func configFilePath() string {
	if p := os.Getenv("MEDIADUP_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	p := filepath.Join(base, "mediadup", "config.toml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("MEDIADUP_PORT", cfg.Port)
	cfg.DBPath = getEnv("MEDIADUP_DB_PATH", cfg.DBPath)
	cfg.DataDir = getEnv("MEDIADUP_DATA_DIR", cfg.DataDir)
	cfg.ScanTimeoutS = getEnvInt("MEDIADUP_SCAN_TIMEOUT_SECONDS", cfg.ScanTimeoutS)

	if v := os.Getenv("MEDIADUP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = days
			cfg.RetentionDaysFromEnv = true
		}
	}
	if paths := getEnv("MEDIADUP_SCAN_PATHS", ""); paths != "" {
		cfg.ScanPaths = splitList(paths)
	}
	if exts := getEnv("MEDIADUP_EXTENSIONS", ""); exts != "" {
		cfg.Extensions = splitList(exts)
	}
	if v := os.Getenv("MEDIADUP_PRECISION"); v != "" {
		cfg.Precision = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MEDIADUP_THROTTLE"); v != "" {
		cfg.Throttle.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// ExpandPath expands a leading ~ to the user's home directory and cleans
// the result. Relative paths stay relative.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
