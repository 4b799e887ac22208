package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/dgallion1/docforge/internal/format"
)

// EnvFile names the environment variable pointing at an optional YAML config file.
const EnvFile = "DOCFORGE_CONFIG"

// maxFileSize caps the config file read.
const maxFileSize = 1 << 20

var ErrFileTooLarge = errors.New("config file too large")

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Section transformer and titler
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicModel   string `yaml:"anthropic_model"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`

	// Worker pool
	WorkerCount          int `yaml:"worker_count"`
	MaxQueueSize         int `yaml:"max_queue_size"`
	TransformConcurrency int `yaml:"transform_concurrency"`

	// Pipeline
	MaxChunkSize int           `yaml:"max_chunk_size"`
	MaxRetries   int           `yaml:"max_retries"`
	OutputKind   string        `yaml:"output_kind"`
	OutputDir    string        `yaml:"output_dir"`
	CallTimeout  time.Duration `yaml:"-"`
	RetryBackoff time.Duration `yaml:"-"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"-"`

	// PDF input and output
	PDFFallbackPdftotext bool   `yaml:"pdf_fallback_pdftotext"`
	RodBrowserBin        string `yaml:"rod_browser_bin"`

	// Run archive; empty URL disables it.
	PathstoreURL    string `yaml:"pathstore_url"`
	PathstoreAPIKey string `yaml:"pathstore_api_key"`
}

// durations carries the duration keys of a config file as text.
type durations struct {
	CallTimeout  string `yaml:"call_timeout"`
	RetryBackoff string `yaml:"retry_backoff"`
	JobTTL       string `yaml:"job_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:                 "8090",
		AnthropicModel:       "claude-sonnet-4-5-20250929",
		WorkerCount:          4,
		MaxQueueSize:         100,
		TransformConcurrency: 4,
		MaxChunkSize:         12000,
		MaxRetries:           3,
		OutputKind:           string(format.OutputPdf),
		OutputDir:            "output",
		CallTimeout:          3 * time.Minute,
		RetryBackoff:         2 * time.Second,
		MaxUploadBytes:       52428800, // 50MB
		JobTTL:               1 * time.Hour,
		PDFFallbackPdftotext: true,
	}
}

// Load reads the file named by DOCFORGE_CONFIG, if any, then applies the environment.
func Load() (Config, error) {
	return LoadFile(os.Getenv(EnvFile))
}

// LoadFile layers defaults, the YAML file at path (skipped when empty) and
// the environment, in that order.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var d durations
	if err := yaml.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, f := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"call_timeout", d.CallTimeout, &c.CallTimeout},
		{"retry_backoff", d.RetryBackoff, &c.RetryBackoff},
		{"job_ttl", d.JobTTL, &c.JobTTL},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %s: %w", path, f.key, err)
		}
		*f.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)

	c.APIKey = envOr("DOCFORGE_API_KEY", c.APIKey)

	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)
	c.AnthropicBaseURL = envOr("ANTHROPIC_BASE_URL", c.AnthropicBaseURL)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.TransformConcurrency = envInt("TRANSFORM_CONCURRENCY", c.TransformConcurrency)

	c.MaxChunkSize = envInt("MAX_CHUNK_SIZE", c.MaxChunkSize)
	c.MaxRetries = envInt("MAX_RETRIES", c.MaxRetries)
	c.OutputKind = envOr("OUTPUT_KIND", c.OutputKind)
	c.OutputDir = envOr("OUTPUT_DIR", c.OutputDir)
	c.CallTimeout = envDuration("CALL_TIMEOUT", c.CallTimeout)
	c.RetryBackoff = envDuration("RETRY_BACKOFF", c.RetryBackoff)

	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)

	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
	c.RodBrowserBin = envOr("ROD_BROWSER_BIN", c.RodBrowserBin)

	c.PathstoreURL = envOr("PATHSTORE_URL", c.PathstoreURL)
	c.PathstoreAPIKey = envOr("PATHSTORE_API_KEY", c.PathstoreAPIKey)
}

// normalize replaces non-positive sizes with defaults. MaxRetries 0 is kept.
func (c *Config) normalize() {
	def := Default()
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.TransformConcurrency <= 0 {
		c.TransformConcurrency = def.TransformConcurrency
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = def.MaxChunkSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.JobTTL <= 0 {
		c.JobTTL = def.JobTTL
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.CallTimeout < 0 {
		c.CallTimeout = 0
	}
}

// Output returns the configured default output kind.
func (c Config) Output() (format.OutputKind, error) {
	return format.ParseOutputKind(c.OutputKind)
}

// Validate checks settings needed by every entry point.
func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if _, err := c.Output(); err != nil {
		return fmt.Errorf("OUTPUT_KIND: %w", err)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.PathstoreURL != "" && c.PathstoreAPIKey == "" {
		return fmt.Errorf("PATHSTORE_API_KEY is required when PATHSTORE_URL is set")
	}
	return nil
}

// ValidateServer adds the checks the HTTP server needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("DOCFORGE_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
