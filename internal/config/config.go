// Package config provides configuration loading for tabops.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/tabops/internal/capability"
	"github.com/marcus-qen/tabops/internal/logging"
)

// Config holds all tabops configuration.
type Config struct {
	// Server base URL, e.g. https://bi.example.com
	ServerURL string `yaml:"server_url"`
	// REST API version (default "3.1")
	APIVersion string `yaml:"api_version"`
	// Per-request timeout (default 30s)
	Timeout time.Duration `yaml:"timeout"`

	// Admin credentials used for master sessions and impersonation
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`

	// Content URL of the site to bootstrap against; empty is the default site
	DefaultSite string `yaml:"default_site"`

	// Delay before the single retry of a failed sign-in (default 500ms)
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// OTLP gRPC endpoint for traces; empty disables tracing
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		APIVersion: "3.1",
		Timeout:    30 * time.Second,
		RetryDelay: 500 * time.Millisecond,
		LogLevel:   "info",
	}
}

// Load reads configuration from a YAML file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("TABOPS_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("TABOPS_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}
	if v := os.Getenv("TABOPS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("TABOPS_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("TABOPS_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("TABOPS_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v, ok := os.LookupEnv("TABOPS_DEFAULT_SITE"); ok {
		cfg.DefaultSite = v
	}
	if v := os.Getenv("TABOPS_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("TABOPS_RETRY_DELAY: %w", err)
		}
		cfg.RetryDelay = d
	}
	if v := os.Getenv("TABOPS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TABOPS_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	return cfg, nil
}

// Validate checks that the configuration can be used to reach a server.
func (c Config) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	} else if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server_url %q is not an absolute URL", c.ServerURL))
	}
	if _, err := capability.CapabilitiesFor(capability.Version(c.APIVersion), capability.KindWorkbook); err != nil {
		errs = append(errs, fmt.Errorf("api_version: %w", err))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Save writes configuration to a file. The password is never written.
func (c Config) Save(path string) error {
	c.Password = ""
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasTracing returns true if an OTLP endpoint is configured.
func (c Config) HasTracing() bool {
	return c.OTLPEndpoint != ""
}
