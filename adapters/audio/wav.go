// Package audio handles the LINEAR16 WAV audio exchanged with the speech
// engines.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

// Format describes uncompressed PCM audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond is the data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration is the playback length of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// ParseWAV returns the format and PCM payload of a RIFF/WAVE file. Chunks
// other than "fmt " and "data" are skipped.
func ParseWAV(b []byte) (Format, []byte, error) {
	if len(b) < 12 || !bytes.HasPrefix(b, []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return Format{}, nil, errors.New("not a RIFF/WAVE file")
	}

	var (
		f      Format
		gotFmt bool
	)
	i := 12
	for i+8 <= len(b) {
		id := string(b[i : i+4])
		size := int(binary.LittleEndian.Uint32(b[i+4 : i+8]))
		body := i + 8
		next := body + size

		switch id {
		case "fmt ":
			if size < 16 || next > len(b) {
				return Format{}, nil, errors.New("invalid WAV: short fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(b[body:]); tag != 1 {
				return Format{}, nil, errors.New("invalid WAV: only PCM is supported")
			}
			f.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return Format{}, nil, errors.New("invalid WAV: data before fmt chunk")
			}
			if next > len(b) {
				// streamed WAV headers may carry a placeholder size
				next = len(b)
			}
			return f, b[body:next], nil
		}

		if size%2 != 0 {
			next++
		}
		i = next
	}
	return Format{}, nil, errors.New("invalid WAV: data chunk not found")
}

// EncodeWAV wraps 16-bit little endian PCM in a WAV header.
func EncodeWAV(pcm []byte, channels, sampleRate int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
