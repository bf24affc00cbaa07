// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration with the
// precedence ENV > YAML file > defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AppConfig is the fully resolved, validated runtime configuration.
type AppConfig struct {
	Version string
	DataDir string
	Listen  string

	Stream   StreamConfig
	Session  SessionConfig
	Resume   ResumeConfig
	Pipeline PipelineConfig
	API      APIConfig
	Log      LogConfig
	OTel     OTelConfig
}

// StreamConfig describes the stream this daemon controls.
type StreamConfig struct {
	// URL is the stream source, boot-only (a change requires a restart).
	URL string
}

// SessionConfig carries the playback session tuning knobs.
type SessionConfig struct {
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	PollInterval         time.Duration
	DrainInterval        time.Duration
}

// ResumeConfig configures the resume-position store.
type ResumeConfig struct {
	Backend          string // "sqlite" or "memory"
	AutosaveInterval time.Duration
}

// PipelineConfig selects and configures the media pipeline backend.
type PipelineConfig struct {
	Backend   string // "mpv"
	MpvBin    string
	SocketDir string // defaults to DataDir when empty
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	RateLimitEnabled bool
	RateRPS          int
	RateBurst        int
	// IntentPerMinute caps intent endpoints (play/pause/seek/stop) per client IP.
	IntentPerMinute int
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// OTelConfig configures the optional tracing provider.
type OTelConfig struct {
	Enabled      bool
	ExporterType string // "grpc" or "http"
	Endpoint     string
	SamplingRate float64
}

// FileConfig mirrors AppConfig for strict YAML parsing. Zero values mean
// "not set in file" and leave the default (or ENV override) in place.
type FileConfig struct {
	DataDir string `yaml:"data_dir"`
	Listen  string `yaml:"listen"`

	Stream struct {
		URL string `yaml:"url"`
	} `yaml:"stream"`

	Session struct {
		MaxReconnectAttempts *int           `yaml:"max_reconnect_attempts"`
		ReconnectBackoff     *time.Duration `yaml:"reconnect_backoff"`
		PollInterval         *time.Duration `yaml:"poll_interval"`
		DrainInterval        *time.Duration `yaml:"drain_interval"`
	} `yaml:"session"`

	Resume struct {
		Backend          string         `yaml:"backend"`
		AutosaveInterval *time.Duration `yaml:"autosave_interval"`
	} `yaml:"resume"`

	Pipeline struct {
		Backend   string `yaml:"backend"`
		MpvBin    string `yaml:"mpv_bin"`
		SocketDir string `yaml:"socket_dir"`
	} `yaml:"pipeline"`

	API struct {
		RateLimitEnabled *bool `yaml:"rate_limit_enabled"`
		RateRPS          *int  `yaml:"rate_rps"`
		RateBurst        *int  `yaml:"rate_burst"`
		IntentPerMinute  *int  `yaml:"intent_per_minute"`
	} `yaml:"api"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	OTel struct {
		Enabled      *bool    `yaml:"enabled"`
		ExporterType string   `yaml:"exporter"`
		Endpoint     string   `yaml:"endpoint"`
		SamplingRate *float64 `yaml:"sampling_rate"`
	} `yaml:"otel"`
}

// DefaultStreamURL matches the conventional local RTSP test source.
const DefaultStreamURL = "rtsp://127.0.0.1:8554/live.sdp"

// Defaults returns the built-in configuration baseline.
func Defaults() AppConfig {
	return AppConfig{
		DataDir: "./data",
		Listen:  ":8090",
		Stream:  StreamConfig{URL: DefaultStreamURL},
		Session: SessionConfig{
			MaxReconnectAttempts: 5,
			ReconnectBackoff:     2 * time.Second,
			PollInterval:         500 * time.Millisecond,
			DrainInterval:        500 * time.Millisecond,
		},
		Resume: ResumeConfig{
			Backend:          "sqlite",
			AutosaveInterval: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			Backend: "mpv",
			MpvBin:  "mpv",
		},
		API: APIConfig{
			RateLimitEnabled: true,
			RateRPS:          20,
			RateBurst:        40,
			IntentPerMinute:  60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		OTel: OTelConfig{
			Enabled:      false,
			ExporterType: "grpc",
			SamplingRate: 0.1,
		},
	}
}

var validStreamSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtp":   true,
	"http":  true,
	"https": true,
	"file":  true,
}

// Validate checks the resolved configuration for internal consistency.
func Validate(cfg AppConfig) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if cfg.Stream.URL == "" {
		return fmt.Errorf("stream URL must not be empty")
	}
	u, err := url.Parse(cfg.Stream.URL)
	if err != nil {
		return fmt.Errorf("stream URL: %w", err)
	}
	if !validStreamSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("stream URL scheme %q not supported", u.Scheme)
	}

	if cfg.Session.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be >= 0, got %d", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Session.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect backoff must be positive, got %s", cfg.Session.ReconnectBackoff)
	}
	if cfg.Session.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", cfg.Session.PollInterval)
	}
	if cfg.Session.DrainInterval <= 0 {
		return fmt.Errorf("drain interval must be positive, got %s", cfg.Session.DrainInterval)
	}

	switch cfg.Resume.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("resume backend %q not supported (sqlite, memory)", cfg.Resume.Backend)
	}
	if cfg.Resume.AutosaveInterval <= 0 {
		return fmt.Errorf("resume autosave interval must be positive, got %s", cfg.Resume.AutosaveInterval)
	}

	switch cfg.Pipeline.Backend {
	case "mpv":
		if cfg.Pipeline.MpvBin == "" {
			return fmt.Errorf("mpv binary path must not be empty")
		}
	default:
		return fmt.Errorf("pipeline backend %q not supported (mpv)", cfg.Pipeline.Backend)
	}

	if cfg.API.RateRPS <= 0 {
		return fmt.Errorf("api rate rps must be positive, got %d", cfg.API.RateRPS)
	}
	if cfg.API.RateBurst < cfg.API.RateRPS {
		return fmt.Errorf("api rate burst (%d) must be >= rps (%d)", cfg.API.RateBurst, cfg.API.RateRPS)
	}
	if cfg.API.IntentPerMinute <= 0 {
		return fmt.Errorf("api intent per-minute limit must be positive, got %d", cfg.API.IntentPerMinute)
	}

	if cfg.OTel.Enabled {
		switch cfg.OTel.ExporterType {
		case "grpc", "http":
		default:
			return fmt.Errorf("otel exporter %q not supported (grpc, http)", cfg.OTel.ExporterType)
		}
		if cfg.OTel.Endpoint == "" {
			return fmt.Errorf("otel endpoint must be set when tracing is enabled")
		}
	}
	if cfg.OTel.SamplingRate < 0 || cfg.OTel.SamplingRate > 1 {
		return fmt.Errorf("otel sampling rate must be in [0,1], got %g", cfg.OTel.SamplingRate)
	}

	return nil
}

// MaskURL redacts credentials from a stream URL for logging.
// Query parameters are dropped as they may carry tokens.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***invalid***"
	}
	hadUser := u.User != nil
	u.User = nil
	u.RawQuery = ""
	masked := u.String()
	// url.URL.String percent-encodes userinfo, which would turn the marker
	// into %2A%2A%2A, so splice it in after serializing.
	if hadUser {
		if i := strings.Index(masked, "://"); i >= 0 {
			masked = masked[:i+3] + "***@" + masked[i+3:]
		}
	}
	return masked
}
