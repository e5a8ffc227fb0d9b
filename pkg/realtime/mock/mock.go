// Package mock provides a scriptable in-memory implementation of the
// [realtime.Channel] interface for use in unit tests.
//
// Tests drive the inbound side by calling [Channel.Emit] and observe the
// outbound side through the recorded Sent* fields. A mid-session connection
// drop is simulated with [Channel.Drop].
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/realtime"
)

// Compile-time assertion that Channel satisfies the realtime interface.
var _ realtime.Channel = (*Channel)(nil)

// CancelRequest records one CancelResponse call.
type CancelRequest struct {
	TrackID string
	Offset  int
}

// ToolResult records one SendToolResult call.
type ToolResult struct {
	CallID string
	Output string
}

// Channel is a mock implementation of [realtime.Channel].
type Channel struct {
	mu sync.Mutex

	// ConnectError is returned by [Channel.Connect].
	ConnectError error

	// SendError, when set, is returned by every outbound send.
	SendError error

	// Recorded outbound traffic, in call order.
	SentAudio       [][]byte
	SentUserTexts   []string
	SentToolResults []ToolResult
	SentCancels     []CancelRequest

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	connected bool
	events    chan realtime.ServerEvent
	errVal    error
}

// Connect implements [realtime.Channel]. Each successful connect starts a
// fresh event stream.
func (c *Channel) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountConnect++
	if c.ConnectError != nil {
		return c.ConnectError
	}
	if c.connected {
		return nil
	}
	c.connected = true
	c.errVal = nil
	c.events = make(chan realtime.ServerEvent, 64)
	return nil
}

// Disconnect implements [realtime.Channel]. Idempotent.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.events)
	return nil
}

// IsConnected implements [realtime.Channel].
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendAudio implements [realtime.Channel].
func (c *Channel) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.SentAudio = append(c.SentAudio, buf)
	return nil
}

// SendUserText implements [realtime.Channel].
func (c *Channel) SendUserText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	c.SentUserTexts = append(c.SentUserTexts, text)
	return nil
}

// SendToolResult implements [realtime.Channel].
func (c *Channel) SendToolResult(callID, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	c.SentToolResults = append(c.SentToolResults, ToolResult{CallID: callID, Output: output})
	return nil
}

// CancelResponse implements [realtime.Channel].
func (c *Channel) CancelResponse(trackID string, offsetSamples int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	c.SentCancels = append(c.SentCancels, CancelRequest{TrackID: trackID, Offset: offsetSamples})
	return nil
}

// Events implements [realtime.Channel].
func (c *Channel) Events() <-chan realtime.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Err implements [realtime.Channel].
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Emit delivers an inbound event to the session under test. It blocks until
// the session's run loop accepts the event.
func (c *Channel) Emit(evt realtime.ServerEvent) {
	c.mu.Lock()
	events := c.events
	connected := c.connected
	c.mu.Unlock()
	if connected {
		events <- evt
	}
}

// Drop simulates a mid-session connection loss: the event stream closes and
// Err reports err.
func (c *Channel) Drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.connected = false
	c.errVal = err
	close(c.events)
}

// Cancels returns a copy of the recorded CancelResponse calls.
func (c *Channel) Cancels() []CancelRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CancelRequest, len(c.SentCancels))
	copy(out, c.SentCancels)
	return out
}

// ToolResults returns a copy of the recorded SendToolResult calls.
func (c *Channel) ToolResults() []ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolResult, len(c.SentToolResults))
	copy(out, c.SentToolResults)
	return out
}

// AudioFrames returns the number of audio sends recorded.
func (c *Channel) AudioFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.SentAudio)
}

// UserTexts returns a copy of the recorded SendUserText calls.
func (c *Channel) UserTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.SentUserTexts))
	copy(out, c.SentUserTexts)
	return out
}
