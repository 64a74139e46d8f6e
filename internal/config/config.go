package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"moodcam/internal/report"
)

// Config holds the service configuration.
type Config struct {
	Port        int            `yaml:"port"`
	StaticDir   string         `yaml:"static_dir"`
	MaxSessions int            `yaml:"max_sessions"` // concurrently running sessions, 0 = unlimited
	Store       StoreConfig    `yaml:"store"`
	Detector    DetectorConfig `yaml:"detector"`
	Camera      CameraConfig   `yaml:"camera"`
	Live        LiveConfig     `yaml:"live"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"` // file, sqlite
	ReportsDir string `yaml:"reports_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type DetectorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CameraConfig selects the frame source: an HTTP snapshot endpoint, or a
// file re-read on every sample.
type CameraConfig struct {
	SnapshotURL string        `yaml:"snapshot_url"`
	FrameFile   string        `yaml:"frame_file"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LiveConfig struct {
	Interval time.Duration `yaml:"interval"`
	History  int           `yaml:"history"`
	MaxRate  float64       `yaml:"max_rate"` // detector calls per second, 0 = unlimited
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:        5000,
		MaxSessions: 16,
		Store: StoreConfig{
			Backend:    report.BackendFile,
			ReportsDir: "./reports",
			SQLitePath: "./reports/moodcam.db",
		},
		Detector: DetectorConfig{
			URL:     "http://127.0.0.1:5001/detect",
			Timeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Timeout: 5 * time.Second,
		},
		Live: LiveConfig{
			Interval: 1200 * time.Millisecond,
			History:  100,
			MaxRate:  5,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = n
	}
	if v := getenv("MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_SESSIONS: %w", err)
		}
		cfg.MaxSessions = n
	}
	if v := getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := getenv("REPORTS_DIR"); v != "" {
		cfg.Store.ReportsDir = v
	}
	if v := getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := getenv("DETECTOR_URL"); v != "" {
		cfg.Detector.URL = v
	}
	if v := getenv("FRAME_URL"); v != "" {
		cfg.Camera.SnapshotURL = v
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if cfg.MaxSessions < 0 {
		errs = append(errs, errors.New("max_sessions must not be negative"))
	}

	switch cfg.Store.Backend {
	case report.BackendFile:
		if cfg.Store.ReportsDir == "" {
			errs = append(errs, errors.New("store.reports_dir is required"))
		}
	case report.BackendSQLite:
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", cfg.Store.Backend))
	}

	if cfg.Detector.URL == "" {
		errs = append(errs, errors.New("detector.url is required"))
	}
	if cfg.Detector.Timeout <= 0 {
		errs = append(errs, errors.New("detector.timeout must be positive"))
	}
	if cfg.Live.Interval <= 0 {
		errs = append(errs, errors.New("live.interval must be positive"))
	}
	if cfg.Live.History <= 0 {
		errs = append(errs, errors.New("live.history must be positive"))
	}
	if cfg.Live.MaxRate < 0 {
		errs = append(errs, errors.New("live.max_rate must not be negative"))
	}

	return errors.Join(errs...)
}
