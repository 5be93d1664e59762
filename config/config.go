// Package config provides YAML configuration parsing for adtrail.
//
// This package enables running adtrail as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	db_path: adtrail.db
//	poll_interval: 60s
//	window_days: 30
//	enabled: true
//	subject_id: "123-456-7890"
//
//	source:
//	  url: https://metrics.example.com/api/campaigns
//	  timeout: 30s
//	  headers:
//	    Authorization: Bearer ${METRICS_TOKEN}
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval for production
// configs. This prevents accidental DoS of the metrics source.
const minPollInterval = 1 * time.Second

// window_days bounds
const (
	minWindowDays = 1
	maxWindowDays = 365
)

// defaults applied by Parse
const (
	defaultPort          = 8080
	defaultDBPath        = "adtrail.db"
	defaultPollInterval  = 60 * time.Second
	defaultWindowDays    = 30
	defaultSourceTimeout = 30 * time.Second
)

// Config is the root configuration structure for adtrail.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// DBPath is the SQLite file backing the run history. Defaults to
	// "adtrail.db" in the working directory.
	DBPath string `yaml:"db_path"`

	// PollInterval is the pause between automatic runs.
	// Accepts duration strings like "60s", "5m". Defaults to 60s.
	PollInterval Duration `yaml:"poll_interval"`

	// WindowDays is the lookback window passed to the metrics source.
	// Defaults to 30; must be between 1 and 365.
	WindowDays int `yaml:"window_days"`

	// Enabled controls whether the automatic poller starts with the
	// server. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// SubjectID is the default subject polled automatically. When empty,
	// the poller idles and runs must name a subject explicitly.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	SubjectID string `yaml:"subject_id"`

	// ManualBypassBackoff lets manual runs proceed during a backoff
	// window. Defaults to true.
	ManualBypassBackoff *bool `yaml:"manual_bypass_backoff"`

	// Source describes the HTTP metrics source runs are fetched from.
	Source SourceConfig `yaml:"source"`
}

// SourceConfig describes the HTTP endpoint metric rows are fetched from.
type SourceConfig struct {
	// URL is the metrics source endpoint.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// IsEnabled reports whether the automatic poller should start. Unset
// defaults to true.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ManualBypassesBackoff reports whether manual runs ignore an active
// backoff window. Unset defaults to true.
func (c *Config) ManualBypassesBackoff() bool {
	return c.ManualBypassBackoff == nil || *c.ManualBypassBackoff
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded after parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in SubjectID, Source.URL and header
// values. Defaults are applied for Port (8080), DBPath ("adtrail.db"),
// PollInterval (60s), WindowDays (30) and Source.Timeout (30s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}
	if cfg.WindowDays == 0 {
		cfg.WindowDays = defaultWindowDays
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = Duration(defaultSourceTimeout)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}

	if c.WindowDays < minWindowDays || c.WindowDays > maxWindowDays {
		return fmt.Errorf("window_days must be between %d and %d, got %d", minWindowDays, maxWindowDays, c.WindowDays)
	}

	expanded, err := expandEnvVars(c.SubjectID)
	if err != nil {
		return fmt.Errorf("subject_id: %w", err)
	}
	c.SubjectID = expanded

	if c.Source.URL != "" {
		expanded, err := expandEnvVars(c.Source.URL)
		if err != nil {
			return fmt.Errorf("source: url: %w", err)
		}
		c.Source.URL = expanded

		parsedURL, err := url.Parse(c.Source.URL)
		if err != nil {
			return fmt.Errorf("source: invalid url: %w", err)
		}
		if parsedURL.Scheme == "" {
			return fmt.Errorf("source: url must have a scheme (http:// or https://)")
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("source: url scheme must be http or https, got %q", parsedURL.Scheme)
		}
	}

	for k, v := range c.Source.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("source: headers[%s]: %w", k, err)
		}
		c.Source.Headers[k] = expanded
	}

	if c.Source.Timeout.Duration() < time.Second {
		return fmt.Errorf("source: timeout must be at least 1s, got %s", c.Source.Timeout.Duration())
	}

	return nil
}
