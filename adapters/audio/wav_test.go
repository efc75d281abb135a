package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWAV_RoundTripsEncodedAudio(t *testing.T) {
	pcm := make([]byte, 32000) // one second of 16kHz mono
	f, got, err := ParseWAV(EncodeWAV(pcm, 1, 16000))
	require.NoError(t, err)

	assert.Equal(t, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, f)
	assert.Len(t, got, len(pcm))
	assert.Equal(t, time.Second, f.Duration(len(got)))
}

func TestParseWAV_SkipsUnknownChunks(t *testing.T) {
	wav := EncodeWAV(make([]byte, 8), 2, 24000)
	// splice a LIST chunk with odd size between fmt and data
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	f, pcm, err := ParseWAV(spliced)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Channels)
	assert.Len(t, pcm, 8)
}

func TestParseWAV_Rejects(t *testing.T) {
	_, _, err := ParseWAV([]byte("ID3 not a wav file"))
	assert.Error(t, err)

	wav := EncodeWAV(make([]byte, 4), 1, 8000)
	_, _, err = ParseWAV(wav[:36])
	assert.Error(t, err)
}

func TestFormat_Duration(t *testing.T) {
	f := Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
	assert.Equal(t, 500*time.Millisecond, f.Duration(24000))
	assert.Zero(t, Format{}.Duration(100))
}
