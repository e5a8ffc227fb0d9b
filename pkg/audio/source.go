package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [Source.Begin] and [Sink.Connect] when
// the underlying device cannot be acquired: it does not exist, is already
// claimed, or permission was denied.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// FrameFunc is the callback invoked by [Source.Record] for every captured
// frame. The frame is owned by the callback for the duration of the call
// only; retain with [Frame.Clone]. The callback runs on the source's capture
// goroutine; blocking here applies backpressure to capture, it never drops
// frames.
type FrameFunc func(Frame)

// Source abstracts the microphone: it produces a live sequence of mono PCM16
// frames at [SampleRate].
//
// Lifecycle: Begin → Record → End. Implementations must be safe for
// concurrent use; Frequencies in particular may be polled by a render loop
// while Record is delivering frames.
type Source interface {
	// Begin acquires the capture device. Returns an error wrapping
	// [ErrDeviceUnavailable] if no input device exists or permission is denied.
	Begin(ctx context.Context) error

	// Record starts continuous capture and invokes fn with every newly
	// captured frame until [Source.End] is called. Record returns once capture
	// is running; frame delivery happens on a dedicated capture goroutine, not
	// inline with the caller. Calling Record before Begin, or twice, is an
	// error.
	Record(fn FrameFunc) error

	// End stops capture and releases the device. Idempotent.
	End() error

	// Frequencies returns the latest magnitude spectrum of the captured
	// signal for monitoring. It never blocks and is safe to call concurrently
	// with Record.
	Frequencies(kind SpectrumKind) Spectrum
}
