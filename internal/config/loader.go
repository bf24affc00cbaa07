package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Wrapper methods for mechanical connection tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: parse file (strict) -> apply env -> validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	l.mergeEnvConfig(&cfg)

	// DataDir must be absolute to prevent surprises when the working
	// directory changes at runtime.
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Pipeline.SocketDir == "" {
		cfg.Pipeline.SocketDir = cfg.DataDir
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

// mergeFileConfig applies file values over the defaults. Set pointers and
// non-empty strings win; everything else keeps the baseline.
func mergeFileConfig(cfg *AppConfig, file *FileConfig) {
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.Listen != "" {
		cfg.Listen = file.Listen
	}
	if file.Stream.URL != "" {
		cfg.Stream.URL = file.Stream.URL
	}

	if file.Session.MaxReconnectAttempts != nil {
		cfg.Session.MaxReconnectAttempts = *file.Session.MaxReconnectAttempts
	}
	if file.Session.ReconnectBackoff != nil {
		cfg.Session.ReconnectBackoff = *file.Session.ReconnectBackoff
	}
	if file.Session.PollInterval != nil {
		cfg.Session.PollInterval = *file.Session.PollInterval
	}
	if file.Session.DrainInterval != nil {
		cfg.Session.DrainInterval = *file.Session.DrainInterval
	}

	if file.Resume.Backend != "" {
		cfg.Resume.Backend = file.Resume.Backend
	}
	if file.Resume.AutosaveInterval != nil {
		cfg.Resume.AutosaveInterval = *file.Resume.AutosaveInterval
	}

	if file.Pipeline.Backend != "" {
		cfg.Pipeline.Backend = file.Pipeline.Backend
	}
	if file.Pipeline.MpvBin != "" {
		cfg.Pipeline.MpvBin = file.Pipeline.MpvBin
	}
	if file.Pipeline.SocketDir != "" {
		cfg.Pipeline.SocketDir = file.Pipeline.SocketDir
	}

	if file.API.RateLimitEnabled != nil {
		cfg.API.RateLimitEnabled = *file.API.RateLimitEnabled
	}
	if file.API.RateRPS != nil {
		cfg.API.RateRPS = *file.API.RateRPS
	}
	if file.API.RateBurst != nil {
		cfg.API.RateBurst = *file.API.RateBurst
	}
	if file.API.IntentPerMinute != nil {
		cfg.API.IntentPerMinute = *file.API.IntentPerMinute
	}

	if file.Log.Level != "" {
		cfg.Log.Level = file.Log.Level
	}
	if file.Log.Format != "" {
		cfg.Log.Format = file.Log.Format
	}

	if file.OTel.Enabled != nil {
		cfg.OTel.Enabled = *file.OTel.Enabled
	}
	if file.OTel.ExporterType != "" {
		cfg.OTel.ExporterType = file.OTel.ExporterType
	}
	if file.OTel.Endpoint != "" {
		cfg.OTel.Endpoint = file.OTel.Endpoint
	}
	if file.OTel.SamplingRate != nil {
		cfg.OTel.SamplingRate = *file.OTel.SamplingRate
	}
}

// mergeEnvConfig applies environment variables (highest precedence).
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("R2G_DATA_DIR", cfg.DataDir)
	cfg.Listen = l.envString("R2G_LISTEN", cfg.Listen)
	cfg.Stream.URL = l.envString("R2G_STREAM_URL", cfg.Stream.URL)

	cfg.Session.MaxReconnectAttempts = l.envInt("R2G_MAX_RECONNECT_ATTEMPTS", cfg.Session.MaxReconnectAttempts)
	cfg.Session.ReconnectBackoff = l.envDuration("R2G_RECONNECT_BACKOFF", cfg.Session.ReconnectBackoff)
	cfg.Session.PollInterval = l.envDuration("R2G_POLL_INTERVAL", cfg.Session.PollInterval)
	cfg.Session.DrainInterval = l.envDuration("R2G_DRAIN_INTERVAL", cfg.Session.DrainInterval)

	cfg.Resume.Backend = l.envString("R2G_RESUME_BACKEND", cfg.Resume.Backend)
	cfg.Resume.AutosaveInterval = l.envDuration("R2G_RESUME_AUTOSAVE_INTERVAL", cfg.Resume.AutosaveInterval)

	cfg.Pipeline.Backend = l.envString("R2G_PIPELINE", cfg.Pipeline.Backend)
	cfg.Pipeline.MpvBin = l.envString("R2G_MPV_BIN", cfg.Pipeline.MpvBin)
	cfg.Pipeline.SocketDir = l.envString("R2G_PIPELINE_SOCKET_DIR", cfg.Pipeline.SocketDir)

	cfg.API.RateLimitEnabled = l.envBool("R2G_API_RATE_LIMIT_ENABLED", cfg.API.RateLimitEnabled)
	cfg.API.RateRPS = l.envInt("R2G_API_RATE_RPS", cfg.API.RateRPS)
	cfg.API.RateBurst = l.envInt("R2G_API_RATE_BURST", cfg.API.RateBurst)
	cfg.API.IntentPerMinute = l.envInt("R2G_API_INTENT_PER_MINUTE", cfg.API.IntentPerMinute)

	cfg.Log.Level = l.envString("R2G_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = l.envString("R2G_LOG_FORMAT", cfg.Log.Format)

	cfg.OTel.Enabled = l.envBool("R2G_OTEL_ENABLED", cfg.OTel.Enabled)
	cfg.OTel.ExporterType = l.envString("R2G_OTEL_EXPORTER", cfg.OTel.ExporterType)
	cfg.OTel.Endpoint = l.envString("R2G_OTEL_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.SamplingRate = l.envFloat("R2G_OTEL_SAMPLING_RATE", cfg.OTel.SamplingRate)
}
