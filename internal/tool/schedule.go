package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenSource supplies the bearer credential for authenticated tool calls.
// Token refresh is the auth collaborator's job: when a call comes back
// unauthorized the engine surfaces the failure and relies on the
// collaborator's retry-with-refreshed-token wrapper.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed credential.
type StaticToken string

// Token implements [TokenSource].
func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// RemoteToolError reports a non-success HTTP status from a remote tool
// endpoint. The remote error payload is preserved verbatim so the model (and
// ultimately the user) can see what the backend said.
type RemoteToolError struct {
	StatusCode int
	Body       string
}

func (e *RemoteToolError) Error() string {
	return fmt.Sprintf("tool: remote endpoint returned %d: %s", e.StatusCode, e.Body)
}

// defaultScheduleTimeout bounds one scheduling backend call. The registry
// contract has no engine-level handler timeout; this is the caller-supplied
// deadline for the built-in remote tool.
const defaultScheduleTimeout = 30 * time.Second

// ScheduleOption is a functional option for configuring a [ScheduleClient].
type ScheduleOption func(*ScheduleClient)

// WithHTTPClient overrides the HTTP client used for backend calls.
func WithHTTPClient(hc *http.Client) ScheduleOption {
	return func(c *ScheduleClient) { c.http = hc }
}

// WithTimezone sets the IANA timezone name forwarded in the call context.
// Defaults to the process-local zone.
func WithTimezone(tz string) ScheduleOption {
	return func(c *ScheduleClient) { c.timezone = tz }
}

// ScheduleClient talks to the external scheduling backend behind the
// chat_voice tool. The engine knows it only as an opaque remote procedure:
// POST {message, context} with a bearer token, get back a JSON body whose
// reply field must reach the user unchanged.
type ScheduleClient struct {
	endpoint  string
	sessionID string
	timezone  string
	tokens    TokenSource
	http      *http.Client
}

// NewScheduleClient creates a client for the scheduling endpoint. sessionID
// is the process-durable identifier supplied by the hosting application; it
// is forwarded verbatim in every call context.
func NewScheduleClient(endpoint, sessionID string, tokens TokenSource, opts ...ScheduleOption) *ScheduleClient {
	c := &ScheduleClient{
		endpoint:  endpoint,
		sessionID: sessionID,
		timezone:  time.Local.String(),
		tokens:    tokens,
		http:      &http.Client{Timeout: defaultScheduleTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatRequest is the wire form of one scheduling backend call.
type chatRequest struct {
	Message string      `json:"message"`
	Context chatContext `json:"context"`
}

type chatContext struct {
	SessionID string `json:"session_id"`
	Timezone  string `json:"timezone"`
	InputMode string `json:"input_mode"`
}

// Chat forwards a transcribed utterance to the scheduling backend and
// returns the decoded JSON body verbatim. Non-2xx responses yield a
// [*RemoteToolError] carrying the status and the remote error payload.
func (c *ScheduleClient) Chat(ctx context.Context, message string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("tool: chat_voice: credential: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Message: message,
		Context: chatContext{
			SessionID: c.sessionID,
			Timezone:  c.timezone,
			InputMode: "voice",
		},
	})
	if err != nil {
		return "", fmt.Errorf("tool: chat_voice: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tool: chat_voice: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool: chat_voice: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tool: chat_voice: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RemoteToolError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return string(respBody), nil
}

// chatVoiceArgs is the JSON-decoded input for the "chat_voice" tool.
type chatVoiceArgs struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// NewChatVoiceTool returns the built-in "chat_voice" tool bound to client.
// The model supplies the transcribed utterance; the session id in the call
// context always comes from the hosting application, not from the model.
func NewChatVoiceTool(client *ScheduleClient) Tool {
	return Tool{
		Definition: Definition{
			Name:        "chat_voice",
			Description: "Forwards the user's utterance to the scheduling backend for processing.",
			Parameters: map[string]ParamSpec{
				"message": {
					Type:        "string",
					Description: "Full user utterance (transcribed text)",
					Required:    true,
				},
				"session_id": {
					Type:        "string",
					Description: "Conversation session identifier",
					Required:    true,
				},
			},
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var a chatVoiceArgs
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("tool: chat_voice: failed to parse arguments: %w", err)
			}
			return client.Chat(ctx, a.Message)
		},
	}
}
