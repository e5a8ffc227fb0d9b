package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPTransport selects the connection mechanism for an MCP server.
type MCPTransport string

const (
	// MCPTransportStdio spawns a subprocess and communicates over stdin/stdout.
	MCPTransportStdio MCPTransport = "stdio"

	// MCPTransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPTransportStdio || t == MCPTransportStreamableHTTP
}

// MCPServerConfig describes one external MCP server whose tools should be
// offered to the model alongside the built-ins.
type MCPServerConfig struct {
	// Name identifies the server; replacing a registration with the same name
	// closes the old connection.
	Name string `yaml:"name"`

	// Transport selects stdio or streamable-http.
	Transport MCPTransport `yaml:"transport"`

	// Command is the executable plus space-separated arguments for stdio
	// servers.
	Command string `yaml:"command"`

	// URL is the endpoint for streamable-http servers.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}

// MCPSource connects to external MCP servers and imports their tool
// catalogues into a [Registry]. It holds the live server sessions so that
// registered handlers can route calls back to the right server.
//
// MCPSource is safe for concurrent use.
type MCPSource struct {
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
}

// NewMCPSource returns a ready-to-use MCPSource.
func NewMCPSource() *MCPSource {
	return &MCPSource{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "parley", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// RegisterServer connects to the MCP server described by cfg and registers
// every tool it advertises into reg. Re-registering a server name closes the
// previous connection first; its tools are overwritten in reg by name.
func (s *MCPSource) RegisterServer(ctx context.Context, reg *Registry, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool: mcp server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tool: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tool: stdio mcp server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case MCPTransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tool: streamable-http mcp server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tool: failed to connect to mcp server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tool: failed to list tools for mcp server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *t)
	}

	s.mu.Lock()
	if old, ok := s.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	s.sessions[cfg.Name] = session
	s.mu.Unlock()

	for _, mcpTool := range discovered {
		reg.Register(Tool{
			Definition: definitionFromMCP(mcpTool),
			Handler:    s.makeHandler(cfg.Name, mcpTool.Name),
		})
	}
	return nil
}

// makeHandler returns a Handler that routes a call to the named tool on the
// named server's live session.
func (s *MCPSource) makeHandler(serverName, toolName string) Handler {
	return func(ctx context.Context, args string) (string, error) {
		s.mu.Lock()
		session, ok := s.sessions[serverName]
		s.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("tool: mcp server %q not connected for tool %q", serverName, toolName)
		}

		var argsMap map[string]any
		if args != "" && args != "{}" {
			if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
				return "", fmt.Errorf("tool: invalid args JSON for mcp tool %q: %w", toolName, err)
			}
		}

		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: argsMap,
		})
		if err != nil {
			return "", fmt.Errorf("tool: call to mcp tool %q failed: %w", toolName, err)
		}

		var sb strings.Builder
		for _, c := range result.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if result.IsError {
			return "", fmt.Errorf("tool: mcp tool %q reported an error: %s", toolName, sb.String())
		}
		return sb.String(), nil
	}
}

// Close terminates all server sessions. Idempotent.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, session := range s.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tool: close mcp server %q: %w", name, err)
		}
		delete(s.sessions, name)
	}
	return firstErr
}

// definitionFromMCP converts an MCP tool declaration into the registry's
// flat parameter schema.
func definitionFromMCP(t mcpsdk.Tool) Definition {
	def := Definition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  make(map[string]ParamSpec),
	}

	schema := schemaToMap(t.InputSchema)
	if schema == nil {
		return def
	}

	required := map[string]bool{}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for name, raw := range props {
			spec := ParamSpec{Type: "string", Required: required[name]}
			if m, ok := raw.(map[string]any); ok {
				if typ, ok := m["type"].(string); ok {
					spec.Type = typ
				}
				if desc, ok := m["description"].(string); ok {
					spec.Description = desc
				}
			}
			def.Parameters[name] = spec
		}
	}
	return def
}

// schemaToMap round-trips an SDK schema value through JSON into a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// splitCommand splits a command string on spaces into executable + args.
func splitCommand(command string) (string, []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
