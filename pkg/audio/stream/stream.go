// Package stream provides [audio.Source] and [audio.Sink] implementations
// backed by plain io endpoints.
//
// A stream source reads PCM16 from an io.Reader that is expected to deliver
// audio in real time (a capture utility piping the microphone, a network
// stream, or a test fixture). A stream sink writes PCM16 to an io.Writer
// whose consumption rate paces playback (a playback utility reading from a
// pipe, or a test writer). This keeps the engine free of cgo device bindings
// while preserving the device lifecycle and the sample-accurate playback
// cursor the orchestrator needs for barge-in.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
)

// Compile-time assertions that the stream types satisfy the audio interfaces.
var _ audio.Source = (*Source)(nil)
var _ audio.Sink = (*Sink)(nil)

const (
	// defaultFrameSamples is the capture frame size: 100 ms at 24 kHz.
	defaultFrameSamples = 2400

	// defaultWriteSamples is the playback write granularity: 50 ms at 24 kHz.
	// Smaller writes keep the interrupt offset tight; larger writes reduce
	// syscall overhead.
	defaultWriteSamples = 1200
)

// ── Source ─────────────────────────────────────────────────────────────────────

// SourceOption is a functional option for configuring a [Source].
type SourceOption func(*Source)

// WithFrameSamples sets the number of samples per captured frame.
// The default is 2400 (100 ms at 24 kHz).
func WithFrameSamples(n int) SourceOption {
	return func(s *Source) { s.frameSamples = n }
}

// WithCaptureFormat declares the format the reader actually delivers. Frames
// are normalized to the engine format (mono 24 kHz) before delivery, so a
// capture utility producing 48 kHz or stereo PCM can be piped in directly.
func WithCaptureFormat(f audio.Format) SourceOption {
	return func(s *Source) { s.converter = &audio.Converter{Source: f} }
}

// Source captures PCM16 frames from an io.Reader.
type Source struct {
	r            io.Reader
	frameSamples int
	converter    *audio.Converter
	analyzer     *audio.Analyzer

	mu        sync.Mutex
	begun     bool
	recording bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSource creates a Source reading from r. A nil r models a missing
// capture device: Begin will fail with [audio.ErrDeviceUnavailable].
func NewSource(r io.Reader, opts ...SourceOption) *Source {
	s := &Source{
		r:            r,
		frameSamples: defaultFrameSamples,
		analyzer:     audio.NewAnalyzer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin acquires the capture stream.
func (s *Source) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stream: begin: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r == nil {
		return fmt.Errorf("stream: no capture stream: %w", audio.ErrDeviceUnavailable)
	}
	if s.begun {
		return nil
	}
	s.begun = true
	s.done = make(chan struct{})
	return nil
}

// Record starts the capture loop on a dedicated goroutine. It returns once
// the loop is running.
func (s *Source) Record(fn audio.FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.begun {
		return errors.New("stream: record before begin")
	}
	if s.recording {
		return errors.New("stream: already recording")
	}
	s.recording = true

	done := s.done
	s.wg.Add(1)
	go s.captureLoop(fn, done)
	return nil
}

// captureLoop reads fixed-size frames from the stream and delivers them to fn
// until the stream ends or End is called. fn may block; that blocks capture
// (backpressure) rather than dropping frames.
func (s *Source) captureLoop(fn audio.FrameFunc, done chan struct{}) {
	defer s.wg.Done()

	start := time.Now()
	buf := make([]byte, s.frameSamples*audio.BytesPerSample)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			data := buf[:n]
			if s.converter != nil {
				data = s.converter.Convert(data)
			}
			if len(data) > 0 {
				frame := audio.Frame{Data: data, Timestamp: time.Since(start)}
				s.analyzer.Push(frame)
				fn(frame.Clone())
			}
		}
		if err != nil {
			return
		}
	}
}

// End stops capture and releases the stream. Idempotent.
func (s *Source) End() error {
	s.mu.Lock()
	if !s.begun {
		s.mu.Unlock()
		return nil
	}
	s.begun = false
	s.recording = false
	close(s.done)
	s.mu.Unlock()

	// The capture goroutine may be blocked in Read; it exits on the next
	// delivered frame or stream error. Waiting here would hinge on the
	// reader, so End only signals.
	return nil
}

// Frequencies returns the spectrum of recently captured audio.
func (s *Source) Frequencies(kind audio.SpectrumKind) audio.Spectrum {
	return s.analyzer.Frequencies(kind)
}

// ── Sink ───────────────────────────────────────────────────────────────────────

// SinkOption is a functional option for configuring a [Sink].
type SinkOption func(*Sink)

// WithWriteSamples sets the playback write granularity in samples. Smaller
// values tighten the interrupt offset; the default is 1200 (50 ms).
func WithWriteSamples(n int) SinkOption {
	return func(s *Sink) { s.writeSamples = n }
}

// Sink plays PCM16 by writing it to an io.Writer whose consumption rate
// paces playback. It keeps a per-track sample cursor so that Interrupt can
// report exactly how much of the active track was played.
type Sink struct {
	w            io.Writer
	writeSamples int
	analyzer     *audio.Analyzer

	mu     sync.Mutex
	cond   *sync.Cond
	track  string
	active bool
	queue  []byte
	played int
	// gen is bumped whenever the active track changes or is interrupted so
	// that an in-flight device write for the old track is not counted.
	gen       int
	connected bool
	closed    bool
	wg        sync.WaitGroup
}

// NewSink creates a Sink writing to w. A nil w models a missing playback
// device: Connect will fail with [audio.ErrDeviceUnavailable].
func NewSink(w io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{
		w:            w,
		writeSamples: defaultWriteSamples,
		analyzer:     audio.NewAnalyzer(),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect acquires the playback stream and starts the playback goroutine.
func (s *Sink) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stream: connect: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return fmt.Errorf("stream: no playback stream: %w", audio.ErrDeviceUnavailable)
	}
	if s.connected {
		return nil
	}
	s.connected = true
	s.closed = false

	s.wg.Add(1)
	go s.playLoop()
	return nil
}

// playLoop drains the queue into the writer one block at a time. The write
// itself happens outside the lock so that Add16BitPCM and Interrupt stay
// prompt while the device blocks.
func (s *Sink) playLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	for {
		for !s.closed && len(s.queue) == 0 {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}

		n := s.writeSamples * audio.BytesPerSample
		if n > len(s.queue) {
			n = len(s.queue)
		}
		block := make([]byte, n)
		copy(block, s.queue[:n])
		s.queue = s.queue[n:]
		gen := s.gen
		s.mu.Unlock()

		_, err := s.w.Write(block)

		s.mu.Lock()
		if err != nil {
			// Device write failure: drop the track, playback cannot continue.
			s.queue = nil
			s.active = false
			continue
		}
		// Count the block only if the track it belongs to is still active.
		if s.gen == gen {
			s.played += n / audio.BytesPerSample
			s.analyzer.Push(audio.Frame{Data: block})
		}
	}
}

// Add16BitPCM enqueues samples for playback under trackID. A differing
// trackID starts a new track at offset 0 and discards the previous queue.
func (s *Sink) Add16BitPCM(pcm []byte, trackID string) error {
	if len(pcm)%audio.BytesPerSample != 0 {
		return fmt.Errorf("stream: odd PCM16 byte count %d", len(pcm))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.closed {
		return errors.New("stream: sink not connected")
	}
	if !s.active || trackID != s.track {
		s.track = trackID
		s.active = true
		s.queue = nil
		s.played = 0
		s.gen++
	}
	s.queue = append(s.queue, pcm...)
	s.cond.Signal()
	return nil
}

// Interrupt stops the active track and reports the sample offset reached.
func (s *Sink) Interrupt() (audio.TrackOffset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return audio.TrackOffset{}, false
	}
	off := audio.TrackOffset{TrackID: s.track, Offset: s.played}
	s.queue = nil
	s.active = false
	s.played = 0
	s.gen++
	s.analyzer.Reset()
	return off, true
}

// Frequencies returns the spectrum of recently played audio.
func (s *Sink) Frequencies(kind audio.SpectrumKind) audio.Spectrum {
	return s.analyzer.Frequencies(kind)
}

// Close releases the playback stream, discarding queued audio. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.closed = true
	s.queue = nil
	s.active = false
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
