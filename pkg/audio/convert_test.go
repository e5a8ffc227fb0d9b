package audio_test

import (
	"testing"

	"github.com/parley-ai/parley/pkg/audio"
)

// pcm16 builds little-endian PCM16 bytes from sample values.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestStereoToMono_AveragesChannels(t *testing.T) {
	t.Parallel()

	// Two stereo frames: (100, 200) and (-300, 100).
	in := pcm16(100, 200, -300, 100)
	out := audio.StereoToMono(in)

	want := pcm16(150, -100)
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, out[i], want[i])
		}
	}
}

func TestStereoToMono_ClampsOverflow(t *testing.T) {
	t.Parallel()

	// Both channels at the negative extreme; the average stays in range so
	// clamping only matters for asymmetric rounding at the boundary.
	in := pcm16(-32768, -32768)
	out := audio.StereoToMono(in)

	got := int16(out[0]) | int16(out[1])<<8
	if got != -32768 {
		t.Errorf("sample = %d, want -32768", got)
	}
}

func TestResampleMono16_HalvesSampleCount(t *testing.T) {
	t.Parallel()

	in := pcm16(0, 100, 200, 300, 400, 500, 600, 700)
	out := audio.ResampleMono16(in, 48000, 24000)

	if got, want := len(out)/2, 4; got != want {
		t.Fatalf("output samples = %d, want %d", got, want)
	}
	// Downsampling by 2 picks every other sample under linear interpolation.
	first := int16(out[0]) | int16(out[1])<<8
	if first != 0 {
		t.Errorf("first sample = %d, want 0", first)
	}
}

func TestResampleMono16_SameRateIsPassthrough(t *testing.T) {
	t.Parallel()

	in := pcm16(1, 2, 3)
	out := audio.ResampleMono16(in, 24000, 24000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestResampleMono16_Upsamples(t *testing.T) {
	t.Parallel()

	in := pcm16(0, 1000)
	out := audio.ResampleMono16(in, 12000, 24000)

	if got, want := len(out)/2, 4; got != want {
		t.Fatalf("output samples = %d, want %d", got, want)
	}
	// Interpolated midpoint between 0 and 1000.
	mid := int16(out[2]) | int16(out[3])<<8
	if mid != 500 {
		t.Errorf("interpolated sample = %d, want 500", mid)
	}
}

func TestConverter_EngineFormatIsZeroCopy(t *testing.T) {
	t.Parallel()

	c := &audio.Converter{Source: audio.EngineFormat}
	in := pcm16(1, 2, 3)
	out := c.Convert(in)
	if &out[0] != &in[0] {
		t.Error("matching format should return the input unchanged")
	}
}

func TestConverter_NormalizesStereo48k(t *testing.T) {
	t.Parallel()

	c := &audio.Converter{Source: audio.Format{SampleRate: 48000, Channels: 2}}

	// 20 ms of 48 kHz stereo: 960 frames, 4 bytes each.
	in := make([]byte, 960*4)
	out := c.Convert(in)

	// 20 ms at 24 kHz mono: 480 samples.
	if got, want := len(out)/2, 480; got != want {
		t.Errorf("output samples = %d, want %d", got, want)
	}
}

func TestConverter_DropsMisalignedInput(t *testing.T) {
	t.Parallel()

	c := &audio.Converter{Source: audio.Format{SampleRate: 48000, Channels: 1}}
	if out := c.Convert([]byte{0x01}); out != nil {
		t.Errorf("Convert(odd bytes) = %v, want nil", out)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 24000, Channels: 1}, "24000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 6}, "16000Hz 6ch"},
	}
	for _, tc := range cases {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("String(%+v) = %q, want %q", tc.f, got, tc.want)
		}
	}
}
