// Package decode loads whole audio files into mono float64 sample
// slices for the scan and offline drivers.
package decode

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Track is a fully decoded, downmixed-to-mono track.
type Track struct {
	Samples    []float64
	SampleRate int
}

// LoadFile decodes a WAV file at path to mono float64 samples in [-1, 1].
// Multi-channel files are downmixed by taking the first channel. If
// targetSampleRate is non-zero, the decoded audio is resampled to it (via
// the polyphase filter for downsampling, linear interpolation for
// upsampling); 0 means keep the file's native rate.
func LoadFile(path string, targetSampleRate int) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, fmt.Errorf("decode: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Track{}, fmt.Errorf("decode: %s is not a valid wav file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Track{}, fmt.Errorf("decode: read %s: %w", path, err)
	}

	nativeRate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}

	samples := firstChannelFloat64(buf, channels)

	rate := nativeRate
	if targetSampleRate > 0 && targetSampleRate != nativeRate {
		samples = Resample(samples, nativeRate, targetSampleRate)
		rate = targetSampleRate
	}

	return Track{Samples: samples, SampleRate: rate}, nil
}

// firstChannelFloat64 extracts channel 0 of an interleaved PCM buffer,
// scaled to [-1, 1] by the source bit depth.
func firstChannelFloat64(buf *audio.IntBuffer, channels int) []float64 {
	var scale float64
	switch buf.SourceBitDepth {
	case 8:
		scale = float64(0x7F)
	case 24:
		scale = float64(0x7FFFFF)
	case 32:
		scale = float64(0x7FFFFFFF)
	default:
		scale = float64(0x7FFF)
	}

	n := len(buf.Data) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(buf.Data[i*channels]) / scale
	}
	return out
}
