package audio

import (
	"math"
	"sync"
)

// SpectrumKind selects the frequency band of interest for monitoring output.
type SpectrumKind int

const (
	// SpectrumFrequency covers the full analyzable band (0 Hz – Nyquist).
	SpectrumFrequency SpectrumKind = iota

	// SpectrumVoice covers the human vocal band (~85 Hz – 3.4 kHz), which is
	// what waveform visualizations typically want for speech.
	SpectrumVoice
)

// Spectrum is a normalized magnitude spectrum. Values are in [0, 1], lowest
// frequency first.
type Spectrum struct {
	Values []float64
}

// Vocal band bounds in Hz for SpectrumVoice.
const (
	voiceLowHz  = 85.0
	voiceHighHz = 3400.0
)

const (
	// analyzerWindow is the number of most-recent samples the analyzer keeps.
	analyzerWindow = 2048

	// spectrumBars is the number of magnitude values returned per spectrum.
	spectrumBars = 32
)

// Analyzer computes magnitude spectra from a rolling window of recent PCM16
// samples. Both the capture and playback pipelines push frames into an
// Analyzer so that a host UI can render live frequency bars.
//
// Push is called from audio goroutines; Frequencies from a render loop.
// All methods are safe for concurrent use and none of them block.
type Analyzer struct {
	mu   sync.Mutex
	ring [analyzerWindow]float64
	pos  int
	full bool
}

// NewAnalyzer returns an Analyzer with an empty window.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Push appends the samples of frame to the rolling window, evicting the
// oldest samples once the window is full.
func (a *Analyzer) Push(frame Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := frame.Data
	for i := 0; i+1 < len(data); i += BytesPerSample {
		s := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		a.ring[a.pos] = float64(s) / 32768.0
		a.pos++
		if a.pos == analyzerWindow {
			a.pos = 0
			a.full = true
		}
	}
}

// Reset clears the window. Use when the stream is interrupted so stale audio
// does not linger in the visualization.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring = [analyzerWindow]float64{}
	a.pos = 0
	a.full = false
}

// Frequencies computes the magnitude spectrum of the current window,
// restricted to the band selected by kind. The result has [spectrumBars]
// values normalized to [0, 1]. An empty window yields all zeros.
func (a *Analyzer) Frequencies(kind SpectrumKind) Spectrum {
	window := a.snapshot()

	low, high := 0.0, float64(SampleRate)/2
	if kind == SpectrumVoice {
		low, high = voiceLowHz, voiceHighHz
	}

	values := make([]float64, spectrumBars)
	if len(window) == 0 {
		return Spectrum{Values: values}
	}

	// One Goertzel pass per bar, centred on logarithmically insensitive
	// (linear) spacing across the requested band. Cheap enough at 32 bars
	// over a 2048-sample window for a per-animation-frame poll.
	step := (high - low) / float64(spectrumBars)
	peak := 0.0
	for i := range values {
		freq := low + (float64(i)+0.5)*step
		values[i] = goertzel(window, freq)
		if values[i] > peak {
			peak = values[i]
		}
	}
	if peak > 0 {
		for i := range values {
			values[i] /= peak
		}
	}
	return Spectrum{Values: values}
}

// snapshot copies the window contents in chronological order.
func (a *Analyzer) snapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.full && a.pos == 0 {
		return nil
	}
	if !a.full {
		out := make([]float64, a.pos)
		copy(out, a.ring[:a.pos])
		return out
	}
	out := make([]float64, analyzerWindow)
	n := copy(out, a.ring[a.pos:])
	copy(out[n:], a.ring[:a.pos])
	return out
}

// goertzel returns the magnitude of samples at freq Hz using the Goertzel
// algorithm with a Hann window applied on the fly.
func goertzel(samples []float64, freq float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	k := 2 * math.Pi * freq / SampleRate
	coeff := 2 * math.Cos(k)

	var s0, s1, s2 float64
	for i, x := range samples {
		// Hann window to reduce spectral leakage.
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		s0 = x*w + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / float64(n)
}
