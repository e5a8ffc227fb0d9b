package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is session-scoped key/value memory backing the set_memory
// tool. It lives for one logical conversation and is never persisted.
type MemoryStore struct {
	mu sync.RWMutex
	kv map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string]string)}
}

// Set stores value under key, overwriting any previous value.
func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kv)
}

// Snapshot returns a copy of all stored entries.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.kv))
	for k, v := range m.kv {
		out[k] = v
	}
	return out
}

// setMemoryArgs is the JSON-decoded input for the "set_memory" tool.
type setMemoryArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewMemoryTool returns the built-in "set_memory" tool bound to store. It is
// purely local, performs no network I/O and always succeeds on valid input.
func NewMemoryTool(store *MemoryStore) Tool {
	return Tool{
		Definition: Definition{
			Name:        "set_memory",
			Description: "Saves important data about the user into memory.",
			Parameters: map[string]ParamSpec{
				"key": {
					Type:        "string",
					Description: "The key of the memory value. Always use lowercase and underscores, no other characters.",
					Required:    true,
				},
				"value": {
					Type:        "string",
					Description: "Value can be anything represented as a string",
					Required:    true,
				},
			},
		},
		Handler: func(_ context.Context, args string) (string, error) {
			var a setMemoryArgs
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("tool: set_memory: failed to parse arguments: %w", err)
			}
			store.Set(a.Key, a.Value)
			return `{"ok":true}`, nil
		},
	}
}
