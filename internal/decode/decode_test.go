package decode

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWav encodes interleaved 16-bit PCM to a temp file and returns its
// path.
func writeWav(t *testing.T, data []int, sampleRate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestLoadFileMonoRoundTrips(t *testing.T) {
	sr := 8000
	n := 1600
	data := make([]int, n)
	for i := range data {
		data[i] = int(0.5 * 0x7FFF * math.Sin(2*math.Pi*440*float64(i)/float64(sr)))
	}
	path := writeWav(t, data, sr, 1)

	track, err := LoadFile(path, 0)
	require.NoError(t, err)
	assert.Equal(t, sr, track.SampleRate)
	require.Len(t, track.Samples, n)
	assert.InDelta(t, 0.0, track.Samples[0], 1e-3)
	for _, v := range track.Samples {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestLoadFileTakesFirstChannelOfStereo(t *testing.T) {
	sr := 8000
	frames := 100
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[i*2] = 0x4000  // left: constant half-scale
		data[i*2+1] = -1000 // right: ignored
	}
	path := writeWav(t, data, sr, 2)

	track, err := LoadFile(path, 0)
	require.NoError(t, err)
	require.Len(t, track.Samples, frames)
	for _, v := range track.Samples {
		assert.InDelta(t, float64(0x4000)/float64(0x7FFF), v, 1e-3)
	}
}

func TestLoadFileResamplesToTargetRate(t *testing.T) {
	sr := 48000
	n := 4800
	data := make([]int, n)
	for i := range data {
		data[i] = int(0.3 * 0x7FFF * math.Sin(2*math.Pi*200*float64(i)/float64(sr)))
	}
	path := writeWav(t, data, sr, 1)

	track, err := LoadFile(path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, track.SampleRate)
	assert.InDelta(t, n/3, len(track.Samples), 3)
}

func TestLoadFileMissingFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.wav"), 0)
	require.Error(t, err)
}
