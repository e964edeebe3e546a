// Package config loads service configuration from defaults, an optional YAML
// file, and OCRSERVE_* environment overrides, in that order. Command-line
// flags are applied last by the binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the OCR service.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Pool   PoolConfig   `yaml:"pool"`
	OCR    OCRConfig    `yaml:"ocr"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds the RPC listener settings.
type ServerConfig struct {
	// Listen is the host:port the server binds to.
	Listen string `yaml:"listen"`
	// MaxImageBytes rejects request payloads larger than this before a task
	// is built.
	MaxImageBytes int64 `yaml:"max_image_bytes"`
	// RequestTimeout bounds a single ProcessImage call end to end. Zero
	// disables the timeout; a worker finishing after a timed-out call fires
	// into a gate nobody reads, which the task absorbs.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// GracefulShutdown bounds the drain of queued tasks on SIGINT/SIGTERM.
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	// Workers is the number of long-lived compute goroutines.
	Workers int `yaml:"workers"`
	// QueueDepth bounds the task queue; submissions beyond it are rejected
	// rather than buffered without limit.
	QueueDepth int `yaml:"queue_depth"`
}

// OCRConfig holds recognition engine settings.
type OCRConfig struct {
	// TessdataPrefix points at the trained-data directory. Empty defers to
	// the engine's compiled-in default.
	TessdataPrefix string `yaml:"tessdata_prefix"`
	// Languages lists trained-data languages, e.g. ["eng"].
	Languages []string `yaml:"languages"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration used when nothing else is supplied:
// loopback listener on port 50051 and four workers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:           "127.0.0.1:50051",
			MaxImageBytes:    32 << 20,
			RequestTimeout:   0,
			GracefulShutdown: 30 * time.Second,
		},
		Pool: PoolConfig{
			Workers:    4,
			QueueDepth: 256,
		},
		OCR: OCRConfig{
			Languages: []string{"eng"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OCRSERVE_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("OCRSERVE_MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Server.MaxImageBytes = n
		}
	}
	if v := os.Getenv("OCRSERVE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("OCRSERVE_GRACEFUL_SHUTDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.GracefulShutdown = d
		}
	}
	if v := os.Getenv("OCRSERVE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.Workers = n
		}
	}
	if v := os.Getenv("OCRSERVE_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.QueueDepth = n
		}
	}
	if v := os.Getenv("OCRSERVE_TESSDATA_PREFIX"); v != "" {
		c.OCR.TessdataPrefix = v
	}
	if v := os.Getenv("OCRSERVE_LANGUAGES"); v != "" {
		parts := strings.Split(v, ",")
		langs := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				langs = append(langs, p)
			}
		}
		if len(langs) > 0 {
			c.OCR.Languages = langs
		}
	}
	if v := os.Getenv("OCRSERVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OCRSERVE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen cannot be empty")
	}
	if c.Server.MaxImageBytes <= 0 {
		return fmt.Errorf("server.max_image_bytes must be positive, got %d", c.Server.MaxImageBytes)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout cannot be negative, got %s", c.Server.RequestTimeout)
	}
	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be at least 1, got %d", c.Pool.Workers)
	}
	if c.Pool.QueueDepth < 1 {
		return fmt.Errorf("pool.queue_depth must be at least 1, got %d", c.Pool.QueueDepth)
	}
	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("ocr.languages cannot be empty")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
