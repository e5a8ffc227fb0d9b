// Package openai implements the realtime.Channel interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 chunks; server-side voice
// activity detection drives turn taking and surfaces barge-in as
// input_audio_buffer.speech_started, which this package maps to
// [realtime.EventInterrupted]. Barge-in cancellation is sample-accurate:
// [Channel.CancelResponse] sends response.cancel followed by
// conversation.item.truncate with the audio offset the listener actually
// heard.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/realtime"
)

// Compile-time assertion that Channel satisfies the realtime interface.
var _ realtime.Channel = (*Channel)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// eventBuf is the buffer depth of the inbound event channel. Deep enough
	// to absorb bursts of audio deltas without stalling the receive loop.
	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Channel.
type Option func(*Channel)

// WithModel sets the OpenAI model used for the session.
func WithModel(model string) Option {
	return func(c *Channel) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Channel) { c.baseURL = url }
}

// WithVoice selects the synthesis voice.
func WithVoice(voice string) Option {
	return func(c *Channel) { c.voice = voice }
}

// WithInstructions sets the system-level instructions sent at session open.
func WithInstructions(instructions string) Option {
	return func(c *Channel) { c.instructions = instructions }
}

// WithTools declares the tool set offered to the model. Parameters follow
// JSON Schema object form ({"type":"object","properties":{...},"required":[...]}).
func WithTools(tools []ToolSchema) Option {
	return func(c *Channel) { c.tools = tools }
}

// ToolSchema is the LLM-facing declaration of one tool.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ── Channel ────────────────────────────────────────────────────────────────────

// Channel implements realtime.Channel over the OpenAI Realtime WebSocket
// protocol. A Channel value may be connected, disconnected and reconnected;
// each connection gets a fresh event stream.
type Channel struct {
	apiKey       string
	model        string
	baseURL      string
	voice        string
	instructions string
	tools        []ToolSchema

	mu        sync.Mutex
	conn      *websocket.Conn
	events    chan realtime.ServerEvent
	errVal    error
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Channel with the given API key and options. The channel does
// not dial until [Channel.Connect].
func New(apiKey string, opts ...Option) *Channel {
	c := &Channel{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Tools                   []oaiTool      `json:"tools,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	TurnDetection           *turnDetection `json:"turn_detection,omitempty"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcription struct {
	Model string `json:"model"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type truncateItemMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta / response.text.delta
	ItemID string `json:"item_id,omitempty"`
	Delta  string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// conversation.item.created / response.output_item.done
	Item *serverItem `json:"item,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── Connection lifecycle ───────────────────────────────────────────────────────

// Connect dials the Realtime endpoint, configures the session (voice,
// instructions, tools, server VAD, whisper input transcription, pcm16 both
// ways) and starts the receive loop.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("openai: dial: %w", err)
	}

	chanCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.ctx = chanCtx
	c.cancel = cancel
	c.events = make(chan realtime.ServerEvent, eventBuf)
	c.errVal = nil
	c.connected = true

	if err := c.writeJSONLocked(c.sessionUpdate()); err != nil {
		c.teardownLocked(websocket.StatusInternalError, "session update failed")
		return fmt.Errorf("openai: session update: %w", err)
	}

	go c.receiveLoop(conn, chanCtx, c.events)
	return nil
}

// sessionUpdate builds the session.update payload from the configured options.
func (c *Channel) sessionUpdate() sessionUpdateMessage {
	params := sessionParams{
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		TurnDetection:           &turnDetection{Type: "server_vad"},
		InputAudioTranscription: &transcription{Model: "whisper-1"},
		Voice:                   c.voice,
		Instructions:            c.instructions,
	}
	for _, t := range c.tools {
		params.Tools = append(params.Tools, oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// Disconnect closes the connection. The event stream of the current
// connection is closed; Err reports nil for a clean disconnect. Idempotent.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.teardownLocked(websocket.StatusNormalClosure, "channel closed")
	return nil
}

// teardownLocked cancels the receive loop and closes the socket. Must be
// called with c.mu held.
func (c *Channel) teardownLocked(code websocket.StatusCode, reason string) {
	c.cancel()
	c.conn.Close(code, reason)
	c.conn = nil
	c.connected = false
}

// IsConnected reports whether the channel is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err returns the error that terminated the last connection's event
// delivery, or nil after a clean Disconnect.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Events returns the inbound event stream of the current connection.
func (c *Channel) Events() <-chan realtime.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// ── Receive path ───────────────────────────────────────────────────────────────

// receiveLoop reads events from the WebSocket, decodes them into typed
// ServerEvents and delivers them on out. It owns out and closes it on exit.
func (c *Channel) receiveLoop(conn *websocket.Conn, ctx context.Context, out chan realtime.ServerEvent) {
	defer close(out)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.setErr(err)
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Malformed frames are skipped; the session stays up.
			continue
		}

		if mapped, ok := c.mapServerEvent(&evt); ok {
			select {
			case out <- mapped:
			case <-ctx.Done():
				return
			}
		}
	}
}

// mapServerEvent translates one wire event into the typed channel event.
// Events with no orchestration significance are dropped (ok=false).
func (c *Channel) mapServerEvent(evt *serverEvent) (realtime.ServerEvent, bool) {
	switch evt.Type {
	case "conversation.item.created":
		if evt.Item == nil || evt.Item.Type != "message" {
			return realtime.ServerEvent{}, false
		}
		return realtime.ServerEvent{
			Type:   realtime.EventItemCreated,
			ItemID: evt.Item.ID,
			Role:   evt.Item.Role,
		}, true

	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return realtime.ServerEvent{}, false
		}
		return realtime.ServerEvent{
			Type:   realtime.EventItemDelta,
			ItemID: evt.ItemID,
			Delta:  realtime.ItemDelta{Audio: pcm},
		}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return realtime.ServerEvent{}, false
		}
		return realtime.ServerEvent{
			Type:   realtime.EventItemDelta,
			ItemID: evt.ItemID,
			Delta:  realtime.ItemDelta{Transcript: evt.Delta},
		}, true

	case "response.text.delta":
		if evt.Delta == "" {
			return realtime.ServerEvent{}, false
		}
		return realtime.ServerEvent{
			Type:   realtime.EventItemDelta,
			ItemID: evt.ItemID,
			Delta:  realtime.ItemDelta{Text: evt.Delta},
		}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return realtime.ServerEvent{}, false
		}
		return realtime.ServerEvent{
			Type:   realtime.EventItemDelta,
			ItemID: evt.ItemID,
			Delta:  realtime.ItemDelta{Transcript: evt.Transcript},
		}, true

	case "response.output_item.done":
		if evt.Item == nil {
			return realtime.ServerEvent{}, false
		}
		return realtime.ServerEvent{
			Type:   realtime.EventItemDelta,
			ItemID: evt.Item.ID,
			Delta:  realtime.ItemDelta{Status: mapItemStatus(evt.Item.Status)},
		}, true

	case "input_audio_buffer.speech_started":
		return realtime.ServerEvent{Type: realtime.EventInterrupted}, true

	case "response.function_call_arguments.done":
		return realtime.ServerEvent{
			Type: realtime.EventToolCall,
			Tool: realtime.ToolCall{
				Name:      evt.Name,
				Arguments: evt.Arguments,
				CallID:    evt.CallID,
				ItemID:    evt.ItemID,
			},
		}, true

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return realtime.ServerEvent{
			Type: realtime.EventError,
			Err:  fmt.Errorf("openai: %s", msg),
		}, true
	}

	return realtime.ServerEvent{}, false
}

// mapItemStatus converts a wire item status to the channel's status strings.
// The Realtime API reports cancelled generations as "incomplete"; the engine
// calls that interrupted.
func mapItemStatus(status string) string {
	switch status {
	case "completed":
		return "completed"
	case "incomplete", "cancelled":
		return "interrupted"
	default:
		return ""
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

// ── Send path ──────────────────────────────────────────────────────────────────

// writeJSON marshals v and writes it as a text WebSocket message. Writes
// block under transport backpressure, which is exactly what the audio
// forwarding path wants: frames are delayed, never dropped.
func (c *Channel) writeJSON(v any) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return fmt.Errorf("openai: channel not connected")
	}
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// writeJSONLocked is writeJSON for callers already holding c.mu.
func (c *Channel) writeJSONLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// SendAudio forwards one block of microphone PCM16 to the input buffer.
func (c *Channel) SendAudio(pcm []byte) error {
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendUserText injects a typed user message and requests a response.
func (c *Channel) SendUserText(text string) error {
	err := c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// SendToolResult returns a tool output for callID and asks the model to
// continue the conversation with it.
func (c *Channel) SendToolResult(callID, output string) error {
	err := c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
	if err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// CancelResponse stops the in-flight generation and truncates the item's
// audio at the sample offset the listener heard, converted to milliseconds
// as the wire protocol requires.
func (c *Channel) CancelResponse(trackID string, offsetSamples int) error {
	if err := c.writeJSON(map[string]string{"type": "response.cancel"}); err != nil {
		return err
	}
	return c.writeJSON(truncateItemMessage{
		Type:         "conversation.item.truncate",
		ItemID:       trackID,
		ContentIndex: 0,
		AudioEndMs:   offsetSamples * 1000 / audio.SampleRate,
	})
}
