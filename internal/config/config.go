// Package config provides the configuration schema, loader, and file watcher
// for the Parley voice conversation engine.
package config

import (
	"fmt"
	"time"

	"github.com/parley-ai/parley/internal/tool"
)

// LogLevel controls log verbosity for the Parley process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps [time.Duration] with YAML decoding from strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// AudioConfig describes the PCM format the capture utility delivers on stdin.
// Input is normalized to the engine format (mono 24 kHz) when it differs.
type AudioConfig struct {
	// CaptureSampleRate is the input sample rate in Hz. Defaults to 24000.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// CaptureChannels is the input channel count, 1 or 2. Defaults to 1.
	CaptureChannels int `yaml:"capture_channels"`
}

// ServerConfig holds network and logging settings for the Parley process.
type ServerConfig struct {
	// MetricsAddr is the TCP address the metrics/health endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ModelConfig configures the realtime speech model connection.
type ModelConfig struct {
	// APIKey authenticates against the model provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default realtime endpoint.
	// Leave empty to use the built-in default.
	BaseURL string `yaml:"base_url"`

	// Name selects the realtime model (e.g., "gpt-4o-realtime-preview").
	Name string `yaml:"name"`

	// Voice selects the synthesis voice (e.g., "alloy").
	Voice string `yaml:"voice"`

	// Instructions is the system prompt that shapes the assistant's persona.
	Instructions string `yaml:"instructions"`
}

// SessionConfig holds runtime behaviour knobs for the voice session.
type SessionConfig struct {
	// Greeting, when non-empty, is sent as the first user message so the
	// model speaks first. Defaults to "Hello".
	Greeting string `yaml:"greeting"`

	// ToolTimeout bounds a single tool dispatch (e.g., "30s").
	ToolTimeout Duration `yaml:"tool_timeout"`

	// Reconnect bounds automatic channel re-establishment.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds the automatic reconnection of a dropped model channel.
type ReconnectConfig struct {
	// MaxRetries is the number of attempts before the session gives up.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay between attempts; it doubles up to MaxBackoff.
	Backoff Duration `yaml:"backoff"`

	// MaxBackoff caps the delay between attempts.
	MaxBackoff Duration `yaml:"max_backoff"`
}

// SchedulerConfig configures the chat_voice scheduling backend.
type SchedulerConfig struct {
	// Endpoint is the backend URL the chat_voice tool POSTs to.
	// Empty disables the tool.
	Endpoint string `yaml:"endpoint"`

	// Token is the static Bearer token sent with every backend request.
	Token string `yaml:"token"`

	// Timezone is the IANA timezone reported in the request context
	// (e.g., "Europe/Berlin"). Defaults to the host timezone.
	Timezone string `yaml:"timezone"`
}

// MCPConfig holds the list of Model Context Protocol servers whose tools are
// offered to the model.
type MCPConfig struct {
	Servers []tool.MCPServerConfig `yaml:"servers"`
}
