// Package realtime defines the duplex model-channel abstraction the session
// orchestrator speaks to.
//
// A [Channel] is a message-oriented, bidirectional connection to a
// speech-capable model: outbound it accepts microphone PCM, user text and
// tool results; inbound it emits a typed stream of [ServerEvent] values
// (item lifecycle, content deltas, tool-call requests, barge-in
// interruptions, protocol errors). The wire encoding is a provider detail;
// see the openai subpackage for the OpenAI Realtime implementation and the
// mock subpackage for a scriptable test double.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// EventType classifies inbound server events.
type EventType int

const (
	// EventItemCreated announces a new conversation item.
	EventItemCreated EventType = iota

	// EventItemDelta carries an incremental update (text, transcript, audio,
	// status) for an existing item.
	EventItemDelta

	// EventToolCall signals that the model wants a tool executed.
	EventToolCall

	// EventInterrupted signals that server-side voice activity detection heard
	// the user speaking while assistant audio was still playing (barge-in).
	EventInterrupted

	// EventError carries a non-fatal protocol error.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventItemCreated:
		return "ITEM_CREATED"
	case EventItemDelta:
		return "ITEM_DELTA"
	case EventToolCall:
		return "TOOL_CALL"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ItemDelta is an incremental update to a conversation item as carried on
// the wire. Text, Transcript and Audio are additive; Status, when non-empty,
// is one of "in_progress", "completed", "interrupted".
type ItemDelta struct {
	Text       string
	Transcript string
	Audio      []byte
	Status     string
}

// ToolCall is a structured tool-invocation request from the model. CallID
// correlates the eventual result with this request; ItemID links the call to
// the conversation item that carries it.
type ToolCall struct {
	Name      string
	Arguments string
	CallID    string
	ItemID    string
}

// ServerEvent is one inbound event from the model channel. Exactly the
// fields relevant to Type are populated.
type ServerEvent struct {
	Type EventType

	// ItemID names the conversation item the event concerns
	// (EventItemCreated, EventItemDelta).
	ItemID string

	// Role is the speaker role of a newly created item ("user", "assistant",
	// "system"). EventItemCreated only.
	Role string

	// Delta holds the incremental update for EventItemDelta.
	Delta ItemDelta

	// Tool holds the request for EventToolCall.
	Tool ToolCall

	// Err holds the protocol error for EventError.
	Err error
}

// Channel is the duplex event stream to the model.
//
// Events are delivered on the channel returned by [Channel.Events], which is
// closed when the connection ends; call [Channel.Err] afterwards to learn
// whether it ended cleanly. Outbound sends may block under transport
// backpressure: callers forward audio synchronously so no frame is ever
// dropped.
type Channel interface {
	// Connect opens the connection and starts event delivery.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Idempotent.
	Disconnect() error

	// IsConnected reports whether the channel is currently open.
	IsConnected() bool

	// SendAudio forwards one block of mono PCM16 microphone audio.
	SendAudio(pcm []byte) error

	// SendUserText injects a typed user message into the conversation and
	// requests a model response.
	SendUserText(text string) error

	// SendToolResult returns a tool execution result (or a serialized error
	// result) for the call identified by callID and requests the model
	// continue.
	SendToolResult(callID, output string) error

	// CancelResponse tells the model to stop its in-flight generation for the
	// item behind trackID and truncate the item's audio at offsetSamples,
	// the exact amount the user heard before barging in.
	CancelResponse(trackID string, offsetSamples int) error

	// Events returns the inbound event stream. The channel is closed when the
	// connection ends.
	Events() <-chan ServerEvent

	// Err returns the error that terminated event delivery, or nil if the
	// channel was closed cleanly via Disconnect.
	Err() error
}
