// Package audio defines the types and interfaces for audio capture and
// playback within Parley.
//
// The two primary abstractions are:
//
//   - [Source] acquires a capture device (microphone) and delivers a live
//     sequence of fixed-format PCM frames.
//   - [Sink] acquires a playback device (speaker) and plays PCM frames in
//     strict per-track order, supporting sample-accurate interruption.
//
// Implementations of these interfaces are provided by device-specific adapter
// packages (e.g. audio/stream for io-backed endpoints, audio/mock for tests).
// The interfaces are intentionally narrow to keep the session orchestrator
// decoupled from device details.
//
// All audio in Parley is mono 16-bit little-endian PCM at [SampleRate] Hz;
// this is the exchange format of the realtime model channel and no codec
// conversion happens inside the engine.
package audio

import "time"

// SampleRate is the engine-wide sample rate in Hz. Both the capture and
// playback pipelines and the model channel exchange PCM at this rate.
const SampleRate = 24000

// BytesPerSample is the size of one mono PCM16 sample.
const BytesPerSample = 2

// Frame is a block of mono 16-bit little-endian PCM samples.
//
// Frames are the atomic unit of audio transport: captured from the input
// device, forwarded to the model channel, and queued for playback. A Frame is
// never mutated after creation; pipeline stages that need to retain data
// beyond the callback must copy it.
type Frame struct {
	// Data is raw little-endian PCM16. len(Data) is always even.
	Data []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples in the frame.
func (f Frame) Samples() int {
	return len(f.Data) / BytesPerSample
}

// Duration returns the playable duration of the frame at [SampleRate].
func (f Frame) Duration() time.Duration {
	return SamplesDuration(f.Samples())
}

// SamplesDuration converts a sample count to wall-clock duration at [SampleRate].
func SamplesDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / SampleRate
}

// Clone returns a deep copy of the frame. Use when forwarding a frame to a
// stage that outlives the capture callback.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Data: data, Timestamp: f.Timestamp}
}
