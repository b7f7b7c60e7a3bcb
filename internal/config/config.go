// Package config loads the aisen-demo configuration file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strongdm/aisen-errhook/pkg/aisen"
	"github.com/strongdm/aisen-errhook/pkg/aisen/errhandler"
)

// Config is the root of the YAML file.
type Config struct {
	Log       LogConfig         `yaml:"log"`
	Server    ServerConfig      `yaml:"server"`
	Handler   HandlerConfig     `yaml:"handler"`
	Sinks     SinksConfig       `yaml:"sinks"`
	Scrubbing ScrubbingConfig   `yaml:"scrubbing"`
	Tags      map[string]string `yaml:"tags"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HandlerConfig controls what the error handler reports.
type HandlerConfig struct {
	// ReportingMask is parsed by errhandler.ParseMask. Empty or "default"
	// defers to the runtime's live mask.
	ReportingMask string `yaml:"reporting_mask"`

	// RuntimeMask is the live mask of the process runtime.
	RuntimeMask string `yaml:"runtime_mask"`

	PropagateErrors     bool          `yaml:"propagate_errors"`
	PropagateExceptions bool          `yaml:"propagate_exceptions"`
	CaptureTimeout      time.Duration `yaml:"capture_timeout"`
}

type SinksConfig struct {
	Stderr    StderrConfig    `yaml:"stderr"`
	CXDB      CXDBConfig      `yaml:"cxdb"`
	Async     AsyncConfig     `yaml:"async"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type StderrConfig struct {
	Enabled bool `yaml:"enabled"`
	Verbose bool `yaml:"verbose"`
}

// CXDBConfig enables the cxdb sink when Addr is set.
type CXDBConfig struct {
	Addr                string   `yaml:"addr"`
	ClientTag           string   `yaml:"client_tag"`
	OrphanLabels        []string `yaml:"orphan_labels"`
	SharedOrphanContext bool     `yaml:"shared_orphan_context"`
}

type AsyncConfig struct {
	Enabled       bool          `yaml:"enabled"`
	QueueSize     int           `yaml:"queue_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RateLimitConfig limits events per second. Zero disables the limit.
type RateLimitConfig struct {
	PerSecond        float64 `yaml:"per_second"`
	Burst            int     `yaml:"burst"`
	PerFingerprint   float64 `yaml:"per_fingerprint"`
	FingerprintBurst int     `yaml:"fingerprint_burst"`
	MaxFingerprints  int     `yaml:"max_fingerprints"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ScrubbingConfig struct {
	Disabled       bool     `yaml:"disabled"`
	SensitiveKeys  []string `yaml:"sensitive_keys"`
	MaxMessageSize int      `yaml:"max_message_size"`
}

// Masks returns the handler's reporting mask and the runtime's live mask.
func (h HandlerConfig) Masks() (reporting, runtime errhandler.Mask, err error) {
	reporting, err = errhandler.ParseMask(h.ReportingMask)
	if err != nil {
		return 0, 0, fmt.Errorf("handler.reporting_mask: %w", err)
	}
	runtime = errhandler.MaskAll
	if h.RuntimeMask != "" {
		runtime, err = errhandler.ParseMask(h.RuntimeMask)
		if err != nil {
			return 0, 0, fmt.Errorf("handler.runtime_mask: %w", err)
		}
		if runtime == errhandler.MaskDefault {
			return 0, 0, fmt.Errorf("handler.runtime_mask: %q is not a level set", h.RuntimeMask)
		}
	}
	return reporting, runtime, nil
}

// SlogLevel maps Log.Level to a slog level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Scrubber builds the collector's scrubber configuration.
func (s ScrubbingConfig) Scrubber() aisen.ScrubberConfig {
	cfg := aisen.DefaultScrubberConfig()
	if s.Disabled {
		cfg.ScrubMessages = false
		cfg.FailClosed = false
	}
	cfg.SensitiveKeys = s.SensitiveKeys
	if s.MaxMessageSize > 0 {
		cfg.MaxMessageSize = s.MaxMessageSize
	}
	return cfg
}
