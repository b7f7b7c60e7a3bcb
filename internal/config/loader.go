package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads environment files that exist. Variables already set in
// the environment are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. ${VAR} references are expanded
// from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if _, _, err := cfg.Handler.Masks(); err != nil {
		return nil, err
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return nil, err
	}
	if rl := cfg.Sinks.RateLimit; rl.PerSecond < 0 || rl.PerFingerprint < 0 {
		return nil, errors.New("sinks.rate_limit: rates must not be negative")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Tags set from unset environment variables expand to "".
	for k, v := range cfg.Tags {
		if v == "" {
			delete(cfg.Tags, k)
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Handler.CaptureTimeout == 0 {
		cfg.Handler.CaptureTimeout = 5 * time.Second
	}
	if cfg.Sinks.CXDB.ClientTag == "" {
		cfg.Sinks.CXDB.ClientTag = "aisen"
	}
	if cfg.Sinks.Metrics.Path == "" {
		cfg.Sinks.Metrics.Path = "/metrics"
	}
	if rl := &cfg.Sinks.RateLimit; rl.PerSecond > 0 && rl.Burst == 0 {
		rl.Burst = int(max(rl.PerSecond, 1))
	}
	if rl := &cfg.Sinks.RateLimit; rl.PerFingerprint > 0 && rl.FingerprintBurst == 0 {
		rl.FingerprintBurst = int(max(rl.PerFingerprint, 1))
	}
}
