package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parley-ai/parley/pkg/realtime"
	"github.com/parley-ai/parley/pkg/realtime/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// dial connects a Channel to the test server and registers cleanup.
func dial(t *testing.T, srv *httptest.Server, opts ...openai.Option) *openai.Channel {
	t.Helper()
	opts = append(opts, openai.WithBaseURL(wsURL(srv)))
	c := openai.New("key", opts...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// nextEvent receives one event from the channel or fails the test.
func nextEvent(t *testing.T, c *openai.Channel) realtime.ServerEvent {
	t.Helper()
	select {
	case evt, ok := <-c.Events():
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return realtime.ServerEvent{}
}

// ── Connection ────────────────────────────────────────────────────────────────

func TestConnect_SendsAuthHeadersAndModel(t *testing.T) {
	t.Parallel()

	type dialInfo struct {
		auth, beta, model string
	}
	info := make(chan dialInfo, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		info <- dialInfo{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	dial(t, srv, openai.WithModel("gpt-4o-mini-realtime"))

	select {
	case got := <-info:
		if got.auth != "Bearer key" {
			t.Errorf("Authorization = %q; want Bearer key", got.auth)
		}
		if got.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", got.beta)
		}
		if got.model != "gpt-4o-mini-realtime" {
			t.Errorf("model in URL = %q; want gpt-4o-mini-realtime", got.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice        string `json:"voice"`
			Instructions string `json:"instructions"`
			Tools        []struct {
				Type string `json:"type"`
				Name string `json:"name"`
			} `json:"tools"`
			InputAudioFormat  string `json:"input_audio_format"`
			OutputAudioFormat string `json:"output_audio_format"`
			TurnDetection     struct {
				Type string `json:"type"`
			} `json:"turn_detection"`
		} `json:"session"`
	}

	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	dial(t, srv,
		openai.WithVoice("alloy"),
		openai.WithInstructions("You are a scheduling assistant."),
		openai.WithTools([]openai.ToolSchema{{
			Name:        "set_memory",
			Description: "Remember a fact",
			Parameters:  map[string]any{"type": "object"},
		}}),
	)

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "alloy" {
			t.Errorf("voice = %q; want alloy", msg.Session.Voice)
		}
		if msg.Session.Instructions != "You are a scheduling assistant." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16 both ways",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
		if msg.Session.TurnDetection.Type != "server_vad" {
			t.Errorf("turn_detection = %q; want server_vad", msg.Session.TurnDetection.Type)
		}
		if len(msg.Session.Tools) != 1 {
			t.Fatalf("tools = %d entries; want 1", len(msg.Session.Tools))
		}
		if msg.Session.Tools[0].Type != "function" || msg.Session.Tools[0].Name != "set_memory" {
			t.Errorf("tool[0] = %+v; want function set_memory", msg.Session.Tools[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_WhileConnectedIsNoOp(t *testing.T) {
	t.Parallel()

	dials := make(chan struct{}, 2)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		dials <- struct{}{}
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	<-dials
	select {
	case <-dials:
		t.Error("second Connect dialed again; want no-op")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnect_CancelledContextReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed Connect")
	}
}

func TestDisconnect_IdempotentAndClean(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)
	events := c.Events()

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	select {
	case _, open := <-events:
		if open {
			t.Error("event stream should be closed after Disconnect")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event stream to close")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v; want nil after clean Disconnect", err)
	}
}

func TestServerDrop_SetsErrAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		// Handler returns; the deferred close drops the connection.
	})

	c := dial(t, srv)

	select {
	case _, open := <-c.Events():
		if open {
			t.Fatal("expected closed event stream after server drop")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event stream to close")
	}
	if c.Err() == nil {
		t.Error("Err() = nil; want the transport error that ended the connection")
	}
}

// ── Send path ─────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	audioMsg := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var msg appendMsg
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	wantPCM := []byte{0x10, 0x20, 0x30, 0x40}
	if err := c.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		got, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append message")
	}
}

func TestSendAudio_NotConnectedReturnsError(t *testing.T) {
	t.Parallel()

	c := openai.New("key")
	if err := c.SendAudio([]byte{1, 2}); err == nil {
		t.Fatal("SendAudio before Connect should return an error")
	}
}

func TestSendUserText_CreatesItemAndRequestsResponse(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}

	msgs := make(chan []string, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var item itemMsg
		readJSON(t, conn, &item)
		var followup struct {
			Type string `json:"type"`
		}
		readJSON(t, conn, &followup)

		if item.Type != "conversation.item.create" ||
			item.Item.Type != "message" || item.Item.Role != "user" ||
			len(item.Item.Content) != 1 || item.Item.Content[0].Text != "Hello there" {
			msgs <- []string{"bad item"}
			return
		}
		msgs <- []string{item.Type, followup.Type}

		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)
	if err := c.SendUserText("Hello there"); err != nil {
		t.Fatalf("SendUserText: %v", err)
	}

	select {
	case got := <-msgs:
		if len(got) != 2 || got[1] != "response.create" {
			t.Errorf("messages = %v; want item.create followed by response.create", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSendToolResult_SendsFunctionCallOutput(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}

	received := make(chan itemMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var item itemMsg
		readJSON(t, conn, &item)
		received <- item

		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)
	if err := c.SendToolResult("call_42", `{"ok":true}`); err != nil {
		t.Fatalf("SendToolResult: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Item.Type != "function_call_output" {
			t.Errorf("item type = %q; want function_call_output", msg.Item.Type)
		}
		if msg.Item.CallID != "call_42" {
			t.Errorf("call_id = %q; want call_42", msg.Item.CallID)
		}
		if msg.Item.Output != `{"ok":true}` {
			t.Errorf("output = %q", msg.Item.Output)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestCancelResponse_TruncatesAtHeardOffset(t *testing.T) {
	t.Parallel()

	type truncateMsg struct {
		Type         string `json:"type"`
		ItemID       string `json:"item_id"`
		ContentIndex int    `json:"content_index"`
		AudioEndMs   int    `json:"audio_end_ms"`
	}

	received := make(chan []any, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var cancelMsg struct {
			Type string `json:"type"`
		}
		readJSON(t, conn, &cancelMsg)
		var trunc truncateMsg
		readJSON(t, conn, &trunc)
		received <- []any{cancelMsg.Type, trunc}

		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	// One second of audio heard: 24000 samples is 1000 ms on the wire.
	if err := c.CancelResponse("item_7", 24000); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}

	select {
	case got := <-received:
		if got[0] != "response.cancel" {
			t.Errorf("first message = %v; want response.cancel", got[0])
		}
		trunc := got[1].(truncateMsg)
		if trunc.Type != "conversation.item.truncate" {
			t.Errorf("second message = %q; want conversation.item.truncate", trunc.Type)
		}
		if trunc.ItemID != "item_7" {
			t.Errorf("item_id = %q; want item_7", trunc.ItemID)
		}
		if trunc.AudioEndMs != 1000 {
			t.Errorf("audio_end_ms = %d; want 1000", trunc.AudioEndMs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── Receive path ──────────────────────────────────────────────────────────────

func TestEvents_AudioDeltaDeliversDecodedPCM(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":    "response.audio.delta",
			"item_id": "item_1",
			"delta":   base64.StdEncoding.EncodeToString(wantPCM),
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.Type != realtime.EventItemDelta {
		t.Fatalf("event type = %v; want item delta", evt.Type)
	}
	if evt.ItemID != "item_1" {
		t.Errorf("item id = %q; want item_1", evt.ItemID)
	}
	if string(evt.Delta.Audio) != string(wantPCM) {
		t.Errorf("audio = %v; want %v", evt.Delta.Audio, wantPCM)
	}
}

func TestEvents_ItemCreated(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		// Non-message items carry no conversation state for the engine.
		writeJSON(t, conn, map[string]any{
			"type": "conversation.item.created",
			"item": map[string]any{"id": "fc_1", "type": "function_call"},
		})
		writeJSON(t, conn, map[string]any{
			"type": "conversation.item.created",
			"item": map[string]any{"id": "item_2", "type": "message", "role": "assistant"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.Type != realtime.EventItemCreated {
		t.Fatalf("event type = %v; want item created", evt.Type)
	}
	if evt.ItemID != "item_2" || evt.Role != "assistant" {
		t.Errorf("event = %+v; want item_2/assistant (function_call item should be dropped)", evt)
	}
}

func TestEvents_TranscriptDeltas(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":    "response.audio_transcript.delta",
			"item_id": "item_1",
			"delta":   "Good morning",
		})
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"item_id":    "item_0",
			"transcript": "What time is it?",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.Delta.Transcript != "Good morning" {
		t.Errorf("assistant transcript = %q; want %q", evt.Delta.Transcript, "Good morning")
	}

	evt = nextEvent(t, c)
	if evt.ItemID != "item_0" || evt.Delta.Transcript != "What time is it?" {
		t.Errorf("user transcription = %+v; want item_0 with full transcript", evt)
	}
}

func TestEvents_OutputItemDoneMapsStatus(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		// Cancelled generations come back "incomplete" on the wire.
		writeJSON(t, conn, map[string]any{
			"type": "response.output_item.done",
			"item": map[string]any{"id": "item_3", "status": "incomplete"},
		})
		writeJSON(t, conn, map[string]any{
			"type": "response.output_item.done",
			"item": map[string]any{"id": "item_4", "status": "completed"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.ItemID != "item_3" || evt.Delta.Status != "interrupted" {
		t.Errorf("event = %+v; want item_3 interrupted", evt)
	}
	evt = nextEvent(t, c)
	if evt.ItemID != "item_4" || evt.Delta.Status != "completed" {
		t.Errorf("event = %+v; want item_4 completed", evt)
	}
}

func TestEvents_SpeechStartedMapsToInterrupted(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.Type != realtime.EventInterrupted {
		t.Errorf("event type = %v; want interrupted", evt.Type)
	}
}

func TestEvents_ToolCall(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":      "response.function_call_arguments.done",
			"name":      "set_memory",
			"arguments": `{"key":"name","value":"Ada"}`,
			"call_id":   "call_1",
			"item_id":   "item_9",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.Type != realtime.EventToolCall {
		t.Fatalf("event type = %v; want tool call", evt.Type)
	}
	want := realtime.ToolCall{
		Name:      "set_memory",
		Arguments: `{"key":"name","value":"Ada"}`,
		CallID:    "call_1",
		ItemID:    "item_9",
	}
	if evt.Tool != want {
		t.Errorf("tool call = %+v; want %+v", evt.Tool, want)
	}
}

func TestEvents_ErrorCarriesMessage(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "audio_unintelligible",
				"message": "Could not understand audio.",
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	evt := nextEvent(t, c)
	if evt.Type != realtime.EventError {
		t.Fatalf("event type = %v; want error", evt.Type)
	}
	if evt.Err == nil || !strings.Contains(evt.Err.Error(), "Could not understand audio") {
		t.Errorf("err = %v; want the server message", evt.Err)
	}
}

func TestEvents_MalformedFramesAreSkipped(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv)

	// The malformed frame must not kill the stream.
	evt := nextEvent(t, c)
	if evt.Type != realtime.EventInterrupted {
		t.Errorf("event type = %v; want interrupted after skipping bad frame", evt.Type)
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	c := dial(t, srv)

	const goroutines = 8
	const chunksPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range chunksPerGoroutine {
				_ = c.SendAudio([]byte{0xCA, 0xFE, 0xBA, 0xBE})
			}
		})
	}
	wg.Wait()
}
