package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Clip is a decoded, playable audio file: a complete mono PCM16 recording
// wrapped in a RIFF/WAVE container. Completed conversation items that carry
// audio get a Clip attached so hosts can offer replay.
type Clip struct {
	// WAV is the full RIFF/WAVE file contents.
	WAV []byte

	// SampleRate of the contained PCM data in Hz.
	SampleRate int

	// Samples is the number of PCM samples in the clip.
	Samples int
}

// Duration returns the playable duration of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Samples) * time.Second / time.Duration(c.SampleRate)
}

const wavHeaderSize = 44

// EncodeWAV wraps mono little-endian PCM16 data in a RIFF/WAVE container at
// the given sample rate.
func EncodeWAV(pcm []byte, sampleRate int) Clip {
	n := len(pcm)
	buf := make([]byte, wavHeaderSize+n)

	le := binary.LittleEndian
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+n))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)                      // fmt chunk size
	le.PutUint16(buf[20:22], 1)                       // PCM
	le.PutUint16(buf[22:24], 1)                       // mono
	le.PutUint32(buf[24:28], uint32(sampleRate))      // sample rate
	le.PutUint32(buf[28:32], uint32(sampleRate*2))    // byte rate
	le.PutUint16(buf[32:34], uint16(BytesPerSample))  // block align
	le.PutUint16(buf[34:36], 16)                      // bits per sample

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(n))
	copy(buf[wavHeaderSize:], pcm)

	return Clip{WAV: buf, SampleRate: sampleRate, Samples: n / BytesPerSample}
}

// DecodeWAV extracts mono PCM16 data and its sample rate from a RIFF/WAVE
// container produced by [EncodeWAV] or an equivalent encoder.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < wavHeaderSize {
		return nil, 0, fmt.Errorf("audio: wav too short: %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	le := binary.LittleEndian
	if le.Uint16(wav[20:22]) != 1 {
		return nil, 0, fmt.Errorf("audio: unsupported wav encoding %d", le.Uint16(wav[20:22]))
	}
	if ch := le.Uint16(wav[22:24]); ch != 1 {
		return nil, 0, fmt.Errorf("audio: expected mono, got %d channels", ch)
	}
	sampleRate = int(le.Uint32(wav[24:28]))

	size := int(le.Uint32(wav[40:44]))
	if wavHeaderSize+size > len(wav) {
		size = len(wav) - wavHeaderSize
	}
	return wav[wavHeaderSize : wavHeaderSize+size], sampleRate, nil
}
