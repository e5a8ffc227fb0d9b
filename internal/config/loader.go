package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parley-ai/parley/internal/tool"
	"github.com/parley-ai/parley/pkg/audio"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Session.Greeting == "" {
		cfg.Session.Greeting = "Hello"
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = audio.SampleRate
	}
	if cfg.Audio.CaptureChannels == 0 {
		cfg.Audio.CaptureChannels = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Model
	if cfg.Model.APIKey == "" {
		errs = append(errs, errors.New("model.api_key is required"))
	}

	// Audio
	if cfg.Audio.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d must not be negative", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.CaptureChannels < 0 || cfg.Audio.CaptureChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.capture_channels %d must be 1 (mono) or 2 (stereo)", cfg.Audio.CaptureChannels))
	}

	// Session
	if cfg.Session.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.reconnect.max_retries %d must not be negative", cfg.Session.Reconnect.MaxRetries))
	}
	if cfg.Session.ToolTimeout < 0 {
		errs = append(errs, errors.New("session.tool_timeout must not be negative"))
	}

	// Scheduler availability warnings
	if cfg.Scheduler.Endpoint == "" {
		slog.Warn("scheduler.endpoint is empty; the chat_voice tool will not be offered to the model")
	} else if cfg.Scheduler.Token == "" {
		slog.Warn("scheduler.endpoint is configured without a token; backend requests will be unauthenticated")
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tool.MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tool.MCPTransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}
