package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/dgallion1/docforge/internal/config"
)

func TestParseFlags(t *testing.T) {
	f, location, err := parseFlags([]string{"-o", "slides", "--max-retries", "0", "--title", "Guide", "notes.md"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if location != "notes.md" || f.output != "slides" || f.title != "Guide" {
		t.Errorf("unexpected flags %+v location=%q", f, location)
	}
	if !f.set["max-retries"] || f.set["max-chunk-size"] {
		t.Errorf("unexpected set flags %v", f.set)
	}
}

func TestParseFlags_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"two inputs", []string{"a.md", "b.md"}},
		{"unknown flag", []string{"--bogus", "a.md"}},
		{"bad int", []string{"--max-retries", "many", "a.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseFlags(tt.args, io.Discard); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(config.Config) bool
		wantErr bool
	}{
		{"unset flags keep config", []string{"a.md"}, func(c config.Config) bool {
			return c.MaxRetries == 3 && c.MaxChunkSize == 12000 && c.OutputKind == "pdf"
		}, false},
		{"zero retries", []string{"--max-retries", "0", "a.md"}, func(c config.Config) bool { return c.MaxRetries == 0 }, false},
		{"out dir and output", []string{"--out-dir", "/tmp/x", "-o", "slides", "a.md"}, func(c config.Config) bool {
			return c.OutputDir == "/tmp/x" && c.OutputKind == "slides"
		}, false},
		{"chunk size", []string{"--max-chunk-size", "500", "a.md"}, func(c config.Config) bool { return c.MaxChunkSize == 500 }, false},
		{"negative retries", []string{"--max-retries", "-1", "a.md"}, nil, true},
		{"zero chunk size", []string{"--max-chunk-size", "0", "a.md"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, err := parseFlags(tt.args, io.Discard)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			cfg := config.Default()
			err = f.apply(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("apply error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	env := func(key string) string {
		if key == config.EnvFile {
			return "/etc/docforge.yaml"
		}
		return ""
	}
	f := &cliFlags{}
	if got := f.configPath(env); got != "/etc/docforge.yaml" {
		t.Errorf("expected env path, got %q", got)
	}
	f.config = "local.yaml"
	if got := f.configPath(env); got != "local.yaml" {
		t.Errorf("expected flag path, got %q", got)
	}
}

func TestRun_UsageExitCodes(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", nil, "usage"},
		{"missing api key", []string{"notes.md"}, "ANTHROPIC_API_KEY"},
		{"bad output kind", []string{"-o", "docx", "notes.md"}, "ANTHROPIC_API_KEY"},
		{"missing config file", []string{"--config", "/nonexistent/docforge.yaml", "notes.md"}, "config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != exitUsage {
				t.Errorf("expected exit %d, got %d", exitUsage, code)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Errorf("expected stderr to mention %q, got %q", tt.want, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("expected no stdout, got %q", stdout.String())
			}
		})
	}
}

func TestRun_BadOutputKind(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	var stderr bytes.Buffer
	if code := run([]string{"-o", "docx", "notes.md"}, io.Discard, &stderr); code != exitUsage {
		t.Errorf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr.String(), "OUTPUT_KIND") {
		t.Errorf("unexpected stderr %q", stderr.String())
	}
}
