package tool_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/parley-ai/parley/internal/tool"
)

func TestMemoryTool_SetAndOverwrite(t *testing.T) {
	t.Parallel()

	store := tool.NewMemoryStore()
	reg := tool.NewRegistry()
	reg.Register(tool.NewMemoryTool(store))

	ctx := context.Background()
	res, err := reg.Dispatch(ctx, tool.Call{
		Name:      "set_memory",
		Arguments: `{"key": "favorite_color", "value": "teal"}`,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var ack struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(res), &ack); err != nil || !ack.OK {
		t.Errorf("result = %q, want {\"ok\":true}", res)
	}
	if got, _ := store.Get("favorite_color"); got != "teal" {
		t.Errorf("Get = %q, want %q", got, "teal")
	}

	// Same key again replaces the value without growing the store.
	if _, err := reg.Dispatch(ctx, tool.Call{
		Name:      "set_memory",
		Arguments: `{"key": "favorite_color", "value": "ochre"}`,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got, _ := store.Get("favorite_color"); got != "ochre" {
		t.Errorf("Get after overwrite = %q, want %q", got, "ochre")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestMemoryTool_MissingValueRejected(t *testing.T) {
	t.Parallel()

	store := tool.NewMemoryStore()
	reg := tool.NewRegistry()
	reg.Register(tool.NewMemoryTool(store))

	if _, err := reg.Dispatch(context.Background(), tool.Call{
		Name:      "set_memory",
		Arguments: `{"key": "orphan"}`,
	}); err == nil {
		t.Error("Dispatch accepted a set_memory call without a value")
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want untouched store", store.Len())
	}
}

func TestMemoryStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	store := tool.NewMemoryStore()

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				store.Set(key, "v")
				store.Get(key)
				store.Snapshot()
			}
		}()
	}
	wg.Wait()

	if store.Len() != 4 {
		t.Errorf("Len = %d, want 4", store.Len())
	}
}
