package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.APIVersion != "3.1" {
		t.Errorf("expected 3.1, got %s", cfg.APIVersion)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected 30s, got %s", cfg.Timeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info, got %s", cfg.LogLevel)
	}
	if cfg.HasTracing() {
		t.Error("tracing should be off by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tabops.yaml")
	os.WriteFile(path, []byte(`
server_url: https://bi.example.com
api_version: "3.2"
timeout: 45s
username: svc-admin
default_site: finance
retry_delay: 1s
otlp_endpoint: localhost:4317
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ServerURL != "https://bi.example.com" {
		t.Errorf("expected server url, got %s", cfg.ServerURL)
	}
	if cfg.APIVersion != "3.2" {
		t.Errorf("expected 3.2, got %s", cfg.APIVersion)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.Timeout)
	}
	if cfg.DefaultSite != "finance" {
		t.Errorf("expected finance, got %s", cfg.DefaultSite)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("expected 1s, got %s", cfg.RetryDelay)
	}
	if !cfg.HasTracing() {
		t.Error("expected tracing enabled")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unset fields should keep defaults, got log level %s", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tabops.yaml")
	os.WriteFile(path, []byte("server_url: https://file.example.com\ndefault_site: finance\n"), 0644)

	t.Setenv("TABOPS_SERVER_URL", "https://env.example.com")
	t.Setenv("TABOPS_PASSWORD", "s3cret")
	t.Setenv("TABOPS_DEFAULT_SITE", "")
	t.Setenv("TABOPS_RETRY_DELAY", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ServerURL != "https://env.example.com" {
		t.Errorf("env should override file: got %s", cfg.ServerURL)
	}
	if cfg.Password != "s3cret" {
		t.Error("expected password from env")
	}
	if cfg.DefaultSite != "" {
		t.Errorf("empty TABOPS_DEFAULT_SITE should select the default site, got %q", cfg.DefaultSite)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.RetryDelay)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("TABOPS_TIMEOUT", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad TABOPS_TIMEOUT")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "https://bi.example.com"
	cfg.Username = "svc-admin"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := Default()
	bad.ServerURL = "bi.example.com"
	bad.APIVersion = "9.9"
	bad.LogLevel = "loud"
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"server_url", "api_version", "username", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestValidateSharesLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "error", ""} {
		cfg := Default()
		cfg.ServerURL = "https://bi.example.com"
		cfg.Username = "svc-admin"
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			t.Errorf("log level %q rejected: %v", level, err)
		}
	}
	for _, level := range []string{"warning", "fatal"} {
		cfg := Default()
		cfg.ServerURL = "https://bi.example.com"
		cfg.Username = "svc-admin"
		cfg.LogLevel = level
		if err := cfg.Validate(); err == nil {
			t.Errorf("log level %q accepted", level)
		}
	}
}

func TestSaveOmitsPassword(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "https://bi.example.com"
	cfg.Username = "svc-admin"
	cfg.Password = "s3cret"

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "s3cret") {
		t.Fatal("password written to disk")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ServerURL != cfg.ServerURL || loaded.Timeout != cfg.Timeout {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}
