// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	sink.Connect(ctx)
//	sink.Add16BitPCM(pcm, "track-1")
//	sink.SetPlayed(24000)
//	off, ok := sink.Interrupt() // {track-1, 24000}, true
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/audio"
)

// Compile-time assertions that the mocks satisfy the audio interfaces.
var _ audio.Source = (*Source)(nil)
var _ audio.Sink = (*Sink)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are delivered by
// calling [Source.Emit] from the test.
type Source struct {
	mu sync.Mutex

	// BeginError is returned by [Source.Begin].
	BeginError error

	// CallCountBegin records how many times Begin was called.
	CallCountBegin int

	// CallCountEnd records how many times End was called.
	CallCountEnd int

	// FrequenciesResult is returned by [Source.Frequencies].
	FrequenciesResult audio.Spectrum

	fn audio.FrameFunc
}

// Begin implements [audio.Source]. Returns BeginError.
func (s *Source) Begin(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountBegin++
	return s.BeginError
}

// Record implements [audio.Source]. It stores fn for use by [Source.Emit].
func (s *Source) Record(fn audio.FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return nil
}

// End implements [audio.Source]. It clears the recorded callback.
func (s *Source) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountEnd++
	s.fn = nil
	return nil
}

// Frequencies implements [audio.Source]. Returns FrequenciesResult.
func (s *Source) Frequencies(_ audio.SpectrumKind) audio.Spectrum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FrequenciesResult
}

// Emit delivers a frame to the callback registered via Record, synchronously
// on the caller's goroutine. It is a no-op if recording is not active.
func (s *Source) Emit(frame audio.Frame) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. It records enqueued PCM per
// track; the test controls the simulated playback cursor via [Sink.SetPlayed].
type Sink struct {
	mu sync.Mutex

	// ConnectError is returned by [Sink.Connect].
	ConnectError error

	// AddError is returned by [Sink.Add16BitPCM].
	AddError error

	// FrequenciesResult is returned by [Sink.Frequencies].
	FrequenciesResult audio.Spectrum

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// CallCountInterrupt records how many times Interrupt was called.
	CallCountInterrupt int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	track    string
	active   bool
	enqueued int // samples enqueued for the active track
	played   int // simulated samples consumed
}

// Connect implements [audio.Sink]. Returns ConnectError.
func (s *Sink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountConnect++
	return s.ConnectError
}

// Add16BitPCM implements [audio.Sink]. A new trackID resets the simulated
// cursor to zero, matching the real sink's per-track PlaybackState.
func (s *Sink) Add16BitPCM(pcm []byte, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddError != nil {
		return s.AddError
	}
	if !s.active || trackID != s.track {
		s.track = trackID
		s.active = true
		s.enqueued = 0
		s.played = 0
	}
	s.enqueued += len(pcm) / audio.BytesPerSample
	return nil
}

// SetPlayed sets the simulated playback cursor for the active track.
func (s *Sink) SetPlayed(samples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = samples
}

// Enqueued returns the number of samples enqueued for the active track.
func (s *Sink) Enqueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueued
}

// ActiveTrack returns the active track ID and whether a track is active.
func (s *Sink) ActiveTrack() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track, s.active
}

// Interrupt implements [audio.Sink].
func (s *Sink) Interrupt() (audio.TrackOffset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountInterrupt++
	if !s.active {
		return audio.TrackOffset{}, false
	}
	off := audio.TrackOffset{TrackID: s.track, Offset: s.played}
	s.active = false
	s.enqueued = 0
	s.played = 0
	return off, true
}

// Frequencies implements [audio.Sink]. Returns FrequenciesResult.
func (s *Sink) Frequencies(_ audio.SpectrumKind) audio.Spectrum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FrequenciesResult
}

// Close implements [audio.Sink]. Idempotent by construction.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.active = false
	s.enqueued = 0
	s.played = 0
	return nil
}
