// Package conversation maintains the ordered, mutable log of conversation
// items, the single source of truth for what has been said in a realtime
// voice session.
//
// Items are owned exclusively by the [Store]; the session's inbound-event
// path mutates them through [Store.ApplyDelta] and everything else (hosts,
// renderers) reads value snapshots via [Store.Items]. Mutation is linearized
// per store so snapshot readers see either the pre- or post-mutation state of
// an item, never a torn one.
package conversation

import "github.com/parley-ai/parley/pkg/audio"

// Role identifies the speaker of a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a conversation item. Transitions only
// move forward: in_progress → completed or in_progress → interrupted.
type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusInterrupted
}

// ToolInvocation records a tool call carried by an item: the tool name, the
// accumulated JSON argument string, and the result returned to the model.
// Output holds an error payload when the dispatch failed, so a completed
// tool item is not evidence the call succeeded.
type ToolInvocation struct {
	Name      string
	Arguments string
	Output    string
}

// Item is one turn in the dialogue. The identifier is unique and stable for
// the item's lifetime; content fields are filled incrementally as deltas
// arrive and frozen once Status becomes terminal.
type Item struct {
	ID     string
	Role   Role
	Status Status

	// Text is plain text content, set for typed or locally injected messages.
	Text string

	// Transcript is the text derived from audio via transcription.
	Transcript string

	// Audio is the accumulated mono PCM16 for the item.
	Audio []byte

	// Clip is the decoded playable file, attached once the item completes
	// with audio.
	Clip *audio.Clip

	// Tool is set when the item represents a tool invocation.
	Tool *ToolInvocation
}

// AudioSamples returns the number of PCM samples accumulated so far.
func (it Item) AudioSamples() int {
	return len(it.Audio) / audio.BytesPerSample
}

// FormattedText returns the display text for the item, falling back to the
// transcript and then to a role-appropriate placeholder, mirroring how the
// original conversation view renders unfinished items.
func (it Item) FormattedText() string {
	if it.Text != "" {
		return it.Text
	}
	if it.Transcript != "" {
		return it.Transcript
	}
	switch {
	case it.Role == RoleAssistant && it.Status == StatusInterrupted:
		return "(was interrupted)"
	case len(it.Audio) > 0:
		return "(awaiting transcript)"
	default:
		return "(item sent)"
	}
}
