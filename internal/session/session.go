// Package session implements the realtime voice conversation orchestrator.
//
// A [Session] owns one model channel plus the local audio endpoints and keeps
// the three in lock-step: captured microphone frames stream to the channel,
// inbound events update the conversation [conversation.Store] and feed
// synthesized audio to the playback sink, tool calls dispatch through the
// [tool.Registry], and a barge-in truncates the model's response at the exact
// sample offset the user heard.
//
// A dropped channel is re-established automatically under the configured
// [ReconnectPolicy]; only an exhausted retry budget tears the session down.
// Non-fatal problems surface on the [Session.Notices] stream instead of
// failing operations.
//
// Session is safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parley-ai/parley/internal/conversation"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/tool"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/realtime"
)

const (
	// defaultToolTimeout bounds a single tool dispatch.
	defaultToolTimeout = 30 * time.Second

	// noticeBuf is the buffer depth of the notice stream. When the consumer
	// lags, older notices are dropped rather than blocking the run loop.
	noticeBuf = 16
)

// ErrNotConnected is returned by operations that require a live session.
var ErrNotConnected = errors.New("session: not connected")

// State is the lifecycle phase of a [Session].
type State int

const (
	// StateIdle means no connection exists.
	StateIdle State = iota

	// StateConnecting means the channel and audio endpoints are being opened.
	StateConnecting

	// StateConnected means the full duplex loop is live.
	StateConnected

	// StateDisconnecting means teardown is in progress.
	StateDisconnecting
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Notice is one non-fatal problem observed by the session: a failed send, a
// tool error, a channel drop. Op names the operation that failed.
type Notice struct {
	Op  string
	Err error
}

// Config assembles the collaborators of a [Session].
type Config struct {
	// Channel is the duplex model connection. Required.
	Channel realtime.Channel

	// Source captures microphone audio. Required.
	Source audio.Source

	// Sink plays synthesized audio. Required.
	Sink audio.Sink

	// Store receives all conversation state. Required.
	Store *conversation.Store

	// Tools dispatches model tool calls. When nil an empty registry is used.
	Tools *tool.Registry

	// Metrics records session telemetry. When nil the package-level default
	// instance is used.
	Metrics *observe.Metrics

	// Greeting, when non-empty, is sent as a user message right after connect
	// so the model speaks first.
	Greeting string

	// ToolTimeout bounds a single tool dispatch. Defaults to 30s.
	ToolTimeout time.Duration

	// Reconnect bounds automatic channel re-establishment.
	Reconnect ReconnectPolicy
}

// Session orchestrates one bidirectional voice conversation.
type Session struct {
	channel     realtime.Channel
	source      audio.Source
	sink        audio.Sink
	store       *conversation.Store
	tools       *tool.Registry
	metrics     *observe.Metrics
	greeting    string
	toolTimeout time.Duration
	policy      ReconnectPolicy

	notices chan Notice

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	// loopWG tracks the event run loop; toolWG tracks in-flight tool
	// dispatches. Disconnect waits on both.
	loopWG sync.WaitGroup
	toolWG sync.WaitGroup
}

// New creates a Session from cfg. The session does not connect until
// [Session.Connect] is called.
func New(cfg Config) (*Session, error) {
	if cfg.Channel == nil {
		return nil, errors.New("session: config requires a channel")
	}
	if cfg.Source == nil {
		return nil, errors.New("session: config requires an audio source")
	}
	if cfg.Sink == nil {
		return nil, errors.New("session: config requires an audio sink")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: config requires a conversation store")
	}
	tools := cfg.Tools
	if tools == nil {
		tools = tool.NewRegistry()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	return &Session{
		channel:     cfg.Channel,
		source:      cfg.Source,
		sink:        cfg.Sink,
		store:       cfg.Store,
		tools:       tools,
		metrics:     metrics,
		greeting:    cfg.Greeting,
		toolTimeout: toolTimeout,
		policy:      cfg.Reconnect.withDefaults(),
		notices:     make(chan Notice, noticeBuf),
	}, nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Notices returns the stream of non-fatal problems. The channel is never
// closed; when the consumer lags, older notices are dropped.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Items returns a snapshot of the conversation in order.
func (s *Session) Items() []conversation.Item {
	return s.store.Items()
}

// InputFrequencies returns the live spectrum of captured microphone audio.
func (s *Session) InputFrequencies(kind audio.SpectrumKind) audio.Spectrum {
	return s.source.Frequencies(kind)
}

// OutputFrequencies returns the live spectrum of playing assistant audio.
func (s *Session) OutputFrequencies(kind audio.SpectrumKind) audio.Spectrum {
	return s.sink.Frequencies(kind)
}

// Connect opens the model channel and both audio endpoints, then starts the
// capture and event loops. Calling Connect on a session that is not idle is a
// no-op. On partial failure everything already opened is closed again and
// the session returns to idle.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	start := time.Now()
	if err := s.channel.Connect(ctx); err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("session: connect channel: %w", err)
	}
	if err := s.sink.Connect(ctx); err != nil {
		_ = s.channel.Disconnect()
		s.setState(StateIdle)
		return fmt.Errorf("session: connect sink: %w", err)
	}
	if err := s.source.Begin(ctx); err != nil {
		_ = s.sink.Close()
		_ = s.channel.Disconnect()
		s.setState(StateIdle)
		return fmt.Errorf("session: begin capture: %w", err)
	}
	if err := s.source.Record(s.forwardFrame); err != nil {
		_ = s.source.End()
		_ = s.sink.Close()
		_ = s.channel.Disconnect()
		s.setState(StateIdle)
		return fmt.Errorf("session: start capture: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.state = StateConnected
	s.mu.Unlock()

	s.metrics.ConnectDuration.Record(runCtx, time.Since(start).Seconds())
	s.metrics.ActiveSessions.Add(runCtx, 1)

	if s.greeting != "" {
		if err := s.channel.SendUserText(s.greeting); err != nil {
			s.notify(Notice{Op: "greeting", Err: err})
		}
	}

	s.loopWG.Add(1)
	go s.runLoop(runCtx)

	return nil
}

// Disconnect tears the session down: the event loop drains, in-flight tool
// dispatches finish, audio endpoints close and the conversation store resets.
// Idempotent; Disconnect on an idle session returns nil.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnecting
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Closing the channel ends event delivery, which lets the run loop drain
	// and exit cleanly.
	err := s.channel.Disconnect()
	s.loopWG.Wait()
	s.toolWG.Wait()

	if e := s.source.End(); e != nil && err == nil {
		err = e
	}
	if e := s.sink.Close(); e != nil && err == nil {
		err = e
	}
	s.store.Reset()
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.setState(StateIdle)
	return err
}

// SendText injects a typed user message into the conversation and requests a
// model response.
func (s *Session) SendText(text string) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if err := s.channel.SendUserText(text); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	return nil
}

// Interrupt stops assistant playback mid-utterance. The sink reports which
// track was playing and how many samples the user actually heard; the model
// is told to cancel generation and truncate the item's audio at exactly that
// offset, and the item is marked interrupted. A no-op when nothing is
// playing.
func (s *Session) Interrupt() {
	off, ok := s.sink.Interrupt()
	if !ok {
		return
	}
	s.metrics.Interruptions.Add(context.Background(), 1)

	if err := s.channel.CancelResponse(off.TrackID, off.Offset); err != nil {
		s.notify(Notice{Op: "cancel", Err: err})
	}
	s.store.ApplyDelta(off.TrackID, conversation.Delta{Status: conversation.StatusInterrupted})
}

// ── Internals ──────────────────────────────────────────────────────────────

// forwardFrame streams one captured frame to the model. Registered as the
// source's frame callback; sends block under transport backpressure so no
// frame is ever dropped.
func (s *Session) forwardFrame(f audio.Frame) {
	if s.State() != StateConnected {
		return
	}
	if err := s.channel.SendAudio(f.Data); err != nil {
		s.notify(Notice{Op: "capture", Err: err})
		return
	}
	s.metrics.RecordAudioFrame(context.Background(), "capture")
}

// runLoop consumes inbound channel events until the stream ends. A stream
// that ends with a non-nil channel error triggers reconnection; an exhausted
// retry budget tears the session down.
func (s *Session) runLoop(ctx context.Context) {
	defer s.loopWG.Done()

	for {
		for evt := range s.channel.Events() {
			s.handleEvent(ctx, evt)
		}

		err := s.channel.Err()
		if err == nil || ctx.Err() != nil {
			return
		}

		s.metrics.RecordChannelError(ctx, "disconnect")
		s.notify(Notice{Op: "channel", Err: err})

		r := &reconnector{
			channel: s.channel,
			policy:  s.policy,
			onAttempt: func(status string) {
				s.metrics.RecordReconnect(ctx, status)
			},
		}
		if rerr := r.reconnect(ctx); rerr != nil {
			s.notify(Notice{Op: "reconnect", Err: rerr})
			s.teardownFromLoop()
			return
		}
	}
}

// teardownFromLoop closes the session from inside the run loop after
// reconnection gave up. It must not wait on loopWG (that would be waiting on
// ourselves), so it performs the same teardown as Disconnect minus the wait.
func (s *Session) teardownFromLoop() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnecting
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.channel.Disconnect()
	_ = s.source.End()
	_ = s.sink.Close()
	s.store.Reset()
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.setState(StateIdle)
}

// handleEvent applies one inbound channel event to local state.
func (s *Session) handleEvent(ctx context.Context, evt realtime.ServerEvent) {
	switch evt.Type {
	case realtime.EventItemCreated:
		s.store.Append(conversation.Item{
			ID:   evt.ItemID,
			Role: conversation.Role(evt.Role),
		})

	case realtime.EventItemDelta:
		if len(evt.Delta.Audio) > 0 {
			if err := s.sink.Add16BitPCM(evt.Delta.Audio, evt.ItemID); err != nil {
				s.notify(Notice{Op: "playback", Err: err})
			} else {
				s.metrics.RecordAudioFrame(ctx, "playback")
			}
		}
		item := s.store.ApplyDelta(evt.ItemID, conversation.Delta{
			Text:       evt.Delta.Text,
			Transcript: evt.Delta.Transcript,
			Audio:      evt.Delta.Audio,
			Status:     conversation.Status(evt.Delta.Status),
		})
		// A finished spoken item gets a playable WAV clip attached.
		if item.Status == conversation.StatusCompleted && len(item.Audio) > 0 && item.Clip == nil {
			s.store.AttachClip(item.ID, audio.EncodeWAV(item.Audio, audio.SampleRate))
		}

	case realtime.EventToolCall:
		s.dispatchTool(ctx, evt.Tool)

	case realtime.EventInterrupted:
		s.Interrupt()

	case realtime.EventError:
		s.metrics.RecordChannelError(ctx, "protocol")
		s.notify(Notice{Op: "channel", Err: evt.Err})
	}
}

// dispatchTool executes one model tool call on its own goroutine and returns
// the result to the model. Tool failures are reported back as an error
// payload, never as a session failure.
func (s *Session) dispatchTool(ctx context.Context, call realtime.ToolCall) {
	if call.ItemID != "" {
		s.store.Append(conversation.Item{
			ID:   call.ItemID,
			Role: conversation.RoleAssistant,
			Tool: &conversation.ToolInvocation{Name: call.Name, Arguments: call.Arguments},
		})
	}

	s.toolWG.Add(1)
	go func() {
		defer s.toolWG.Done()

		tctx, span := observe.StartSpan(ctx, "tool.dispatch")
		defer span.End()
		tctx, cancel := context.WithTimeout(tctx, s.toolTimeout)
		defer cancel()

		start := time.Now()
		output, err := s.tools.Dispatch(tctx, tool.Call{
			Name:      call.Name,
			Arguments: call.Arguments,
			CallID:    call.CallID,
		})
		status := "ok"
		if err != nil {
			status = "error"
			output = fmt.Sprintf(`{"error": %q}`, err.Error())
			s.notify(Notice{Op: "tool:" + call.Name, Err: err})
		}
		s.metrics.RecordToolCall(tctx, call.Name, status)
		s.metrics.ToolExecutionDuration.Record(tctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", call.Name)))

		// Record the outcome on the item before returning it to the model, so
		// the conversation log carries the error payload even when the channel
		// send fails. Completion here means the dispatch finished, not that it
		// succeeded; the recorded output tells which.
		if call.ItemID != "" {
			s.store.ApplyDelta(call.ItemID, conversation.Delta{
				Output: output,
				Status: conversation.StatusCompleted,
			})
		}
		if serr := s.channel.SendToolResult(call.CallID, output); serr != nil {
			s.notify(Notice{Op: "tool_result", Err: serr})
		}
	}()
}

// notify delivers a notice without ever blocking; when the buffer is full
// the oldest notice is discarded to make room.
func (s *Session) notify(n Notice) {
	for {
		select {
		case s.notices <- n:
			return
		default:
			select {
			case <-s.notices:
			default:
			}
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
