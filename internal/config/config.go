// Package config loads client and dev backend configuration from
// FILETREE_* environment variables and an optional YAML file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FILETREE"

// Config holds all configuration.
type Config struct {
	// Backend
	ServerURL   string
	Timeout     time.Duration
	ReadRetries int
	AuthToken   string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics endpoint (empty disables it)
	MetricsAddr string

	// Dev backend
	ListenAddr       string
	UploadExtensions []string
}

// Load reads configuration with defaults. If file is non-empty it must
// exist; environment variables override file values.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://127.0.0.1:5000")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("read_retries", 3)
	v.SetDefault("auth_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("listen_addr", "127.0.0.1:5000")
	v.SetDefault("upload_extensions", "")

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		ServerURL:        strings.TrimSuffix(v.GetString("server_url"), "/"),
		Timeout:          v.GetDuration("timeout"),
		ReadRetries:      v.GetInt("read_retries"),
		AuthToken:        v.GetString("auth_token"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		MetricsAddr:      v.GetString("metrics_addr"),
		ListenAddr:       v.GetString("listen_addr"),
		UploadExtensions: splitList(v.Get("upload_extensions")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be an absolute http(s) URL", c.ServerURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.ReadRetries < 1 {
		return fmt.Errorf("read_retries must be at least 1")
	}
	return nil
}

// splitList accepts either a YAML list or a comma/space separated string
// (the form environment variables take). Extensions are lowercased and
// stripped of a leading dot.
func splitList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	case []string:
		parts = val
	case string:
		parts = strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' })
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p)), ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
