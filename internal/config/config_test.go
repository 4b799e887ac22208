package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"PORT", "DOCFORGE_API_KEY", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "ANTHROPIC_BASE_URL",
	"WORKER_COUNT", "MAX_QUEUE_SIZE", "TRANSFORM_CONCURRENCY", "MAX_CHUNK_SIZE", "MAX_RETRIES",
	"OUTPUT_KIND", "OUTPUT_DIR", "CALL_TIMEOUT", "RETRY_BACKOFF", "MAX_UPLOAD_BYTES", "JOB_TTL",
	"PDF_FALLBACK_PDFTOTEXT", "ROD_BROWSER_BIN", "PATHSTORE_URL", "PATHSTORE_API_KEY", EnvFile,
}

// clearEnv blanks every key; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docforge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if cfg.MaxChunkSize != 12000 || cfg.MaxRetries != 3 || cfg.OutputKind != "pdf" {
		t.Errorf("unexpected pipeline defaults %+v", cfg)
	}
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_CHUNK_SIZE", "4000")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("OUTPUT_KIND", "slides")
	t.Setenv("CALL_TIMEOUT", "45s")
	t.Setenv("PDF_FALLBACK_PDFTOTEXT", "false")
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9000" || cfg.MaxChunkSize != 4000 || cfg.OutputKind != "slides" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected MaxRetries 0 to be kept, got %d", cfg.MaxRetries)
	}
	if cfg.CallTimeout != 45*time.Second || cfg.PDFFallbackPdftotext {
		t.Errorf("unexpected timeout/fallback %v %v", cfg.CallTimeout, cfg.PDFFallbackPdftotext)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("expected invalid int to fall back to 4, got %d", cfg.WorkerCount)
	}
}

func TestLoad_Normalize(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RETRIES", "-2")
	t.Setenv("MAX_QUEUE_SIZE", "0")
	t.Setenv("JOB_TTL", "-1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxRetries != 3 || cfg.MaxQueueSize != 100 || cfg.JobTTL != time.Hour {
		t.Errorf("expected defaults after normalize, got %+v", cfg)
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
port: "7000"
max_chunk_size: 8000
max_retries: 1
output_kind: slides
call_timeout: 90s
job_ttl: 2h
pathstore_url: http://ps:8080
`)
	t.Setenv("PORT", "7100")
	t.Setenv(EnvFile, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "7100" {
		t.Errorf("expected env to win, got port %q", cfg.Port)
	}
	if cfg.MaxChunkSize != 8000 || cfg.MaxRetries != 1 || cfg.OutputKind != "slides" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.CallTimeout != 90*time.Second || cfg.JobTTL != 2*time.Hour {
		t.Errorf("durations not applied: %v %v", cfg.CallTimeout, cfg.JobTTL)
	}
	if cfg.RetryBackoff != 2*time.Second {
		t.Errorf("expected untouched default backoff, got %v", cfg.RetryBackoff)
	}
	if cfg.PathstoreURL != "http://ps:8080" {
		t.Errorf("unexpected pathstore url %q", cfg.PathstoreURL)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		path func(t *testing.T) string
		want string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }, "config file"},
		{"bad yaml", func(t *testing.T) string { return writeFile(t, "port: [unclosed\n") }, "parse"},
		{"bad duration", func(t *testing.T) string { return writeFile(t, "call_timeout: soon\n") }, "call_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path(t))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFile_TooLarge(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "port: \"1\"\n"+strings.Repeat("#", maxFileSize))
	if _, err := LoadFile(path); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.AnthropicAPIKey = "sk"
	valid.APIKey = "df"

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		serverErr bool
	}{
		{"valid", func(*Config) {}, false, false},
		{"no anthropic key", func(c *Config) { c.AnthropicAPIKey = "" }, true, true},
		{"bad output", func(c *Config) { c.OutputKind = "docx" }, true, true},
		{"no output dir", func(c *Config) { c.OutputDir = "" }, true, true},
		{"pathstore without key", func(c *Config) { c.PathstoreURL = "http://ps" }, true, true},
		{"pathstore with key", func(c *Config) { c.PathstoreURL = "http://ps"; c.PathstoreAPIKey = "k" }, false, false},
		{"no server key", func(c *Config) { c.APIKey = "" }, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := cfg.ValidateServer(); (err != nil) != tt.serverErr {
				t.Errorf("ValidateServer() error = %v, wantErr %v", err, tt.serverErr)
			}
		})
	}
}
