package conversation

import (
	"sync"

	"github.com/parley-ai/parley/pkg/audio"
)

// Delta is an incremental update to a conversation item. Text, Transcript,
// Audio and Arguments are additive (appended in arrival order); Output
// replaces the tool result wholesale since it arrives in one piece; Status,
// when non-empty, requests a forward transition.
type Delta struct {
	Text       string
	Transcript string
	Audio      []byte
	Arguments  string
	Output     string
	Status     Status
}

// Store is the ordered log of conversation items.
//
// All mutation is linearized behind a single writer lock; [Store.Items]
// returns value snapshots so readers never observe a torn item. Store is safe
// for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items []*Item
	index map[string]*Item
	watch chan struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		index: make(map[string]*Item),
		watch: make(chan struct{}, 1),
	}
}

// Items returns a snapshot of all items in conversation order. The returned
// values are copies; mutating them does not affect the store.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = *it
	}
	return out
}

// Item returns a snapshot of the item with the given id.
func (s *Store) Item(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Len returns the number of items in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Append adds a new item to the end of the log. If an item with the same ID
// already exists the call is a no-op (the upstream protocol may announce an
// item the store has already created from an earlier delta). Empty status
// defaults to in_progress.
func (s *Store) Append(item Item) {
	s.mu.Lock()
	if _, ok := s.index[item.ID]; ok {
		s.mu.Unlock()
		return
	}
	if item.Status == "" {
		item.Status = StatusInProgress
	}
	it := item
	s.items = append(s.items, &it)
	s.index[it.ID] = &it
	s.mu.Unlock()

	s.notify()
}

// ApplyDelta merges d into the item with the given id, creating the item
// (role assistant, in progress) if it does not exist yet. Additive fields
// append in arrival order. Status transitions only move forward; a late
// transition on an already-terminal item is a no-op, not an error, since the
// upstream protocol may legitimately send a late completion for an item that
// was already interrupted.
//
// The returned Item is a post-merge snapshot.
func (s *Store) ApplyDelta(id string, d Delta) Item {
	s.mu.Lock()
	it, ok := s.index[id]
	if !ok {
		it = &Item{ID: id, Role: RoleAssistant, Status: StatusInProgress}
		s.items = append(s.items, it)
		s.index[id] = it
	}

	if d.Text != "" {
		it.Text += d.Text
	}
	if d.Transcript != "" {
		it.Transcript += d.Transcript
	}
	if len(d.Audio) > 0 {
		it.Audio = append(it.Audio, d.Audio...)
	}
	if d.Arguments != "" || d.Output != "" {
		if it.Tool == nil {
			it.Tool = &ToolInvocation{}
		} else {
			tool := *it.Tool
			it.Tool = &tool
		}
		it.Tool.Arguments += d.Arguments
		if d.Output != "" {
			it.Tool.Output = d.Output
		}
	}
	if d.Status != "" && d.Status != it.Status && it.Status == StatusInProgress {
		it.Status = d.Status
	}

	snap := *it
	s.mu.Unlock()

	s.notify()
	return snap
}

// AttachClip stores the decoded playable clip on a completed item.
func (s *Store) AttachClip(id string, clip audio.Clip) {
	s.mu.Lock()
	if it, ok := s.index[id]; ok {
		c := clip
		it.Clip = &c
	}
	s.mu.Unlock()

	s.notify()
}

// Delete removes the item with the given id. Unknown ids are a no-op.
// Used for discarding placeholder items (e.g. memory-saving markers).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	if _, ok := s.index[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.index, id)
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.notify()
}

// Reset clears all items. Called on session teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.index = make(map[string]*Item)
	s.mu.Unlock()

	s.notify()
}

// Watch returns a channel that receives a coalesced signal after every store
// mutation. Presentation layers subscribe here instead of hooking into the
// session's event handling.
func (s *Store) Watch() <-chan struct{} {
	return s.watch
}

// notify delivers a non-blocking, coalesced change signal.
func (s *Store) notify() {
	select {
	case s.watch <- struct{}{}:
	default:
	}
}
