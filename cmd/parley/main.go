// Command parley is the main entry point for the Parley voice conversation
// engine. It wires a realtime speech channel, stdio audio streams, the tool
// registry and the session orchestrator together, then runs until interrupted.
//
// Audio transport is plain PCM16 over the process's standard streams: the
// microphone capture utility pipes 24 kHz mono PCM into stdin, and synthesized
// speech is written to stdout at playback rate. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/conversation"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/tool"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/stream"
	"github.com/parley-ai/parley/pkg/realtime/openai"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// The level var makes log verbosity hot-reloadable from the config watcher.
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// ── Load configuration (with hot reload) ───────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(levelVar, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("parley starting",
		"config", *configPath,
		"version", version,
		"model", cfg.Model.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Tools ──────────────────────────────────────────────────────────────────
	sessionID := loadOrCreateSessionID(*configPath)

	registry := tool.NewRegistry()
	registry.Register(tool.NewMemoryTool(tool.NewMemoryStore()))

	if cfg.Scheduler.Endpoint != "" {
		var schedOpts []tool.ScheduleOption
		if cfg.Scheduler.Timezone != "" {
			schedOpts = append(schedOpts, tool.WithTimezone(cfg.Scheduler.Timezone))
		}
		client := tool.NewScheduleClient(
			cfg.Scheduler.Endpoint,
			sessionID,
			tool.StaticToken(cfg.Scheduler.Token),
			schedOpts...,
		)
		// A dead backend should fail fast instead of stalling every turn on
		// the dispatch timeout.
		breaker := resilience.NewCircuitBreaker(resilience.Config{Name: "chat_voice"})
		registry.Register(resilience.GuardTool(breaker, tool.NewChatVoiceTool(client)))
		slog.Info("chat_voice tool enabled", "endpoint", cfg.Scheduler.Endpoint)
	}

	mcpSource := tool.NewMCPSource()
	defer func() {
		if err := mcpSource.Close(); err != nil {
			slog.Warn("mcp source close error", "err", err)
		}
	}()
	for _, srv := range cfg.MCP.Servers {
		if err := mcpSource.RegisterServer(ctx, registry, srv); err != nil {
			slog.Error("failed to register MCP server", "name", srv.Name, "err", err)
			return 1
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	// ── Realtime channel ───────────────────────────────────────────────────────
	channel := openai.New(cfg.Model.APIKey, channelOptions(cfg, registry)...)

	// ── Session ────────────────────────────────────────────────────────────────
	var sourceOpts []stream.SourceOption
	captureFormat := audio.Format{
		SampleRate: cfg.Audio.CaptureSampleRate,
		Channels:   cfg.Audio.CaptureChannels,
	}
	if captureFormat != audio.EngineFormat {
		sourceOpts = append(sourceOpts, stream.WithCaptureFormat(captureFormat))
	}

	store := conversation.New()
	sess, err := session.New(session.Config{
		Channel:     channel,
		Source:      stream.NewSource(os.Stdin, sourceOpts...),
		Sink:        stream.NewSink(os.Stdout),
		Store:       store,
		Tools:       registry,
		Greeting:    cfg.Session.Greeting,
		ToolTimeout: cfg.Session.ToolTimeout.Std(),
		Reconnect: session.ReconnectPolicy{
			MaxRetries: cfg.Session.Reconnect.MaxRetries,
			Backoff:    cfg.Session.Reconnect.Backoff.Std(),
			MaxBackoff: cfg.Session.Reconnect.MaxBackoff.Std(),
		},
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	printStartupSummary(cfg, sessionID)

	if err := sess.Connect(ctx); err != nil {
		slog.Error("failed to connect session", "err", err)
		return 1
	}

	slog.Info("session connected, press Ctrl+C to shut down", "session_id", sessionID)

	// ── Run until interrupted ──────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		srv := newMetricsServer(cfg, channel)
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		drainNotices(gctx, sess)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		// Fall through to the session teardown regardless.
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	if err := sess.Disconnect(); err != nil {
		slog.Error("session disconnect error", "err", err)
		return 1
	}
	slog.Info("goodbye", "items", store.Len())
	return 0
}

// ── Wiring helpers ──────────────────────────────────────────────────────────────

// loadOrCreateSessionID returns the stable conversation identifier for this
// installation, stored in a session.id file next to the config. The
// scheduling backend keys its conversation context on it, so the id must
// survive restarts. A missing or corrupt file yields a fresh identifier; a
// write failure is tolerated with an ephemeral one.
func loadOrCreateSessionID(configPath string) string {
	path := filepath.Join(filepath.Dir(configPath), "session.id")

	if data, err := os.ReadFile(path); err == nil {
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String()
		}
		slog.Warn("ignoring corrupt session id file", "path", path)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		slog.Warn("could not persist session id, using an ephemeral one", "path", path, "err", err)
	}
	return id
}

// channelOptions translates the model config and the registered tool set into
// channel options.
func channelOptions(cfg *config.Config, registry *tool.Registry) []openai.Option {
	var opts []openai.Option
	if cfg.Model.Name != "" {
		opts = append(opts, openai.WithModel(cfg.Model.Name))
	}
	if cfg.Model.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Model.BaseURL))
	}
	if cfg.Model.Voice != "" {
		opts = append(opts, openai.WithVoice(cfg.Model.Voice))
	}
	if cfg.Model.Instructions != "" {
		opts = append(opts, openai.WithInstructions(cfg.Model.Instructions))
	}

	defs := registry.Definitions()
	schemas := make([]openai.ToolSchema, 0, len(defs))
	for _, d := range defs {
		schemas = append(schemas, openai.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		})
	}
	if len(schemas) > 0 {
		opts = append(opts, openai.WithTools(schemas))
	}
	return opts
}

// newMetricsServer builds the HTTP server exposing /metrics, /healthz and
// /readyz. Readiness follows the realtime channel: the process reports ready
// only while the model connection is up.
func newMetricsServer(cfg *config.Config, channel *openai.Channel) *http.Server {
	checkers := []health.Checker{{
		Name: "channel",
		Check: func(context.Context) error {
			if !channel.IsConnected() {
				return errors.New("realtime channel disconnected")
			}
			return nil
		},
	}}
	if cfg.Scheduler.Endpoint != "" {
		checkers = append(checkers, health.HTTPChecker("scheduler", cfg.Scheduler.Endpoint, nil))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	return &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// drainNotices logs non-fatal session errors until ctx is done. The session
// drops the oldest notice when its buffer fills, so a stalled drain never
// blocks the run loop.
func drainNotices(ctx context.Context, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sess.Notices():
			slog.Warn("session notice", "op", n.Op, "err", n.Err)
		}
	}
}

// applyConfigChange reacts to a config file update. Only the log level takes
// effect live; everything else needs a process restart because the channel
// and session capture their settings at construction time.
func applyConfigChange(levelVar *slog.LevelVar, old, new *config.Config) {
	diff := config.Diff(old, new)
	if !diff.Changed() {
		return
	}
	if diff.LogLevelChanged {
		levelVar.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}
	if diff.InstructionsChanged {
		slog.Info("instructions updated; they apply on the next connection")
	}
	if diff.GreetingChanged {
		slog.Info("greeting updated; it applies on the next connection")
	}
	if diff.RestartRequired {
		slog.Warn("config changes to connection settings require a restart")
	}
}

// ── Startup summary ─────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sessionID string) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║           Parley startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Model", orPlaceholder(cfg.Model.Name))
	printRow("Voice", orPlaceholder(cfg.Model.Voice))
	printRow("Session", sessionID)
	if cfg.Scheduler.Endpoint != "" {
		printRow("Scheduler", "enabled")
	} else {
		printRow("Scheduler", "(disabled)")
	}
	printRow("MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics", cfg.Server.MetricsAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-15s : %-19s ║\n", label, value)
}

func orPlaceholder(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// ── Logger ──────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
