package fingerprint

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func toneTrack(sampleRate int, seconds float64, freq float64) []float64 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = math.Sin(2 * math.Pi * freq * t)
	}
	return out
}

func TestMakeIsDeterministic(t *testing.T) {
	samples := toneTrack(48000, 10, 440)
	fp1, ok1 := Make(samples, 48000, 5.0)
	fp2, ok2 := Make(samples, 48000, 5.0)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, fp1.Bins, fp2.Bins)
}

func TestSimilaritySelfIsOne(t *testing.T) {
	samples := toneTrack(48000, 10, 440)
	fp, ok := Make(samples, 48000, 5.0)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, Similarity(fp, fp), 1e-9)
}

func TestSimilarityIsSymmetricUpToQuantization(t *testing.T) {
	a := toneTrack(48000, 10, 440)
	b := toneTrack(48000, 10, 660)
	fpA, _ := Make(a, 48000, 5.0)
	fpB, _ := Make(b, 48000, 5.0)
	assert.InDelta(t, Similarity(fpA, fpB), Similarity(fpB, fpA), 1e-9)
}

func TestSimilarityZeroOnTypeMismatch(t *testing.T) {
	a := Fingerprint{FpType: "bandpeak_v1", Bands: 32, HopS: 0.01, Bins: []byte{1, 2, 3}}
	b := Fingerprint{FpType: "other", Bands: 32, HopS: 0.01, Bins: []byte{1, 2, 3}}
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestSimilarityZeroOnEmptyInput(t *testing.T) {
	a := Fingerprint{FpType: "bandpeak_v1", Bands: 32, HopS: 0.01}
	b := Fingerprint{FpType: "bandpeak_v1", Bands: 32, HopS: 0.01, Bins: []byte{1, 2, 3}}
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestHexRoundTripsAllByteSequences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(rt, "n")
		bins := make([]byte, n)
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(rt, "seed")))
		for i := range bins {
			bins[i] = byte(rng.Intn(256))
		}
		encoded := BinsToHex(bins)
		decoded, err := BinsFromHex(encoded)
		if err != nil {
			rt.Fatalf("decode error: %v", err)
		}
		if len(decoded) != len(bins) {
			rt.Fatalf("length mismatch: %d vs %d", len(decoded), len(bins))
		}
		for i := range bins {
			if decoded[i] != bins[i] {
				rt.Fatalf("byte mismatch at %d", i)
			}
		}
	})
}

func TestMakeTooShortReturnsFalse(t *testing.T) {
	samples := make([]float64, 100)
	_, ok := Make(samples, 48000, 5.0)
	assert.False(t, ok)
}
