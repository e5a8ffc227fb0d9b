package audio

import "context"

// TrackOffset identifies the exact point at which playback of a track was
// interrupted: the track and the number of samples the listener actually
// heard. The session orchestrator forwards this pair upstream so the model
// can truncate its in-flight generation at precisely that point.
type TrackOffset struct {
	// TrackID is the identifier of the track that was playing.
	TrackID string

	// Offset is the number of samples consumed before the interrupt.
	Offset int
}

// Sink abstracts the speaker: it accepts PCM frames tagged with a track
// identifier and plays them in strict FIFO order per track.
//
// At most one track is active at any instant. Enqueueing audio under a new
// track identifier starts that track with its playback cursor at offset 0;
// any audio still queued for the previous track is discarded.
//
// Implementations must be safe for concurrent use, though only the session's
// inbound-event path may start new tracks or call Interrupt.
type Sink interface {
	// Connect acquires the playback device. Returns an error wrapping
	// [ErrDeviceUnavailable] if no output device exists.
	Connect(ctx context.Context) error

	// Add16BitPCM enqueues mono PCM16 samples for playback under trackID.
	// Frames enqueued for a track play in order without gaps or reordering.
	// The pcm slice is copied; the caller may reuse it.
	Add16BitPCM(pcm []byte, trackID string) error

	// Interrupt stops the active track immediately and returns its identifier
	// together with the sample-accurate offset at which playback stopped.
	// Queued but unplayed audio is discarded. Returns ok=false if nothing was
	// playing. Interrupt completes promptly and never blocks on playback.
	Interrupt() (TrackOffset, bool)

	// Frequencies returns the latest magnitude spectrum of the played signal
	// for monitoring. It never blocks and is safe to call concurrently with
	// playback.
	Frequencies(kind SpectrumKind) Spectrum

	// Close releases the playback device, discarding any queued audio.
	// Idempotent.
	Close() error
}
