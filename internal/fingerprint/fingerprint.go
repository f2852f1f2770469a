// Package fingerprint builds short, lag-tolerant coarse-band argmax
// sequences that identify a playing track, and scores similarity between
// two fingerprints via a lag sweep.
package fingerprint

import (
	"encoding/hex"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Type is the fingerprint algorithm identifier, carried in the persisted
// store so future algorithm revisions can coexist.
const Type = "bandpeak_v1"

const numBands = 32
const maxBandHz = 6000.0

// Fingerprint is a coarse-band argmax sequence derived from the most
// energetic fpWinS window within the first few seconds of a track.
type Fingerprint struct {
	FpType  string
	Bands   int
	HopS    float64
	OffsetS float64
	Bins    []byte
}

// Make locates the most energetic window of length fpWinS within the first
// max(7s, fpWinS+1s) of samples, and derives a coarse-band argmax
// fingerprint from it. Returns false if samples is too short to contain a
// full window.
func Make(samples []float64, sampleRate int, fpWinS float64) (Fingerprint, bool) {
	seekS := math.Max(7.0, fpWinS+1.0)
	seekSamples := int(seekS * float64(sampleRate))
	if seekSamples > len(samples) {
		seekSamples = len(samples)
	}
	winSamples := int(fpWinS * float64(sampleRate))
	if winSamples <= 0 || winSamples > seekSamples {
		return Fingerprint{}, false
	}

	offsetSamples := mostEnergeticWindow(samples[:seekSamples], winSamples)
	offsetS := float64(offsetSamples) / float64(sampleRate)
	window := samples[offsetSamples : offsetSamples+winSamples]

	frameLen := nextPow2(int(math.Round(float64(sampleRate) * 0.023)))
	hopLen := frameLen / 2
	if hopLen < 1 {
		hopLen = 1
	}
	hopS := float64(hopLen) / float64(sampleRate)

	hzPerBin := float64(sampleRate) / float64(frameLen)
	nyquistGuardHz := float64(sampleRate)/2 - hzPerBin
	maxHz := math.Min(maxBandHz, nyquistGuardHz)
	if maxHz <= 0 {
		return Fingerprint{}, false
	}
	maxBin := int(maxHz / hzPerBin)
	if maxBin < numBands {
		maxBin = numBands
	}

	win := hannWindow(frameLen)
	var bins []byte
	for start := 0; start+frameLen <= len(window); start += hopLen {
		frame := make([]float64, frameLen)
		for i := 0; i < frameLen; i++ {
			frame[i] = window[start+i] * win[i]
		}
		spec := fft.FFTReal(frame)

		power := make([]float64, maxBin+1)
		for i := 0; i <= maxBin && i < len(spec); i++ {
			power[i] = real(spec[i])*real(spec[i]) + imag(spec[i])*imag(spec[i])
		}

		bins = append(bins, argmaxBand(power, numBands))
	}

	return Fingerprint{
		FpType:  Type,
		Bands:   numBands,
		HopS:    hopS,
		OffsetS: offsetS,
		Bins:    bins,
	}, true
}

// argmaxBand splits power (length maxBin+1, index 0 is DC) into `bands`
// equal-width (in bin-count) coarse bands and returns the argmax band,
// ties resolving to the lower index.
func argmaxBand(power []float64, bands int) byte {
	n := len(power)
	bandWidth := float64(n) / float64(bands)

	best := 0
	var bestEnergy float64 = -1
	for b := 0; b < bands; b++ {
		lo := int(float64(b) * bandWidth)
		hi := int(float64(b+1) * bandWidth)
		if hi > n {
			hi = n
		}
		var sum float64
		for i := lo; i < hi; i++ {
			sum += power[i]
		}
		if sum > bestEnergy {
			bestEnergy = sum
			best = b
		}
	}
	return byte(best)
}

func mostEnergeticWindow(samples []float64, winSamples int) int {
	if winSamples >= len(samples) {
		return 0
	}
	var sum float64
	for i := 0; i < winSamples; i++ {
		sum += samples[i] * samples[i]
	}
	best := 0
	bestSum := sum
	for i := winSamples; i < len(samples); i++ {
		sum += samples[i] * samples[i]
		sum -= samples[i-winSamples] * samples[i-winSamples]
		start := i - winSamples + 1
		if sum > bestSum {
			bestSum = sum
			best = start
		}
	}
	return best
}

// Similarity sweeps lags in [-0.5s, +0.5s] and returns the best coincidence
// ratio across the sweep. Returns 0 on type/band mismatch or empty input.
func Similarity(a, b Fingerprint) float64 {
	if a.FpType != b.FpType || a.Bands != b.Bands || len(a.Bins) == 0 || len(b.Bins) == 0 {
		return 0
	}

	step := math.Min(a.HopS, b.HopS)
	if step <= 0 {
		return 0
	}

	durA := float64(len(a.Bins)) * a.HopS
	durB := float64(len(b.Bins)) * b.HopS

	best := 0.0
	for lag := -0.5; lag <= 0.5+1e-9; lag += step {
		ratio := coincidenceRatio(a, b, lag, step, durA, durB)
		if ratio > best {
			best = ratio
		}
	}
	return best
}

func coincidenceRatio(a, b Fingerprint, lag, step, durA, durB float64) float64 {
	commonDur := math.Min(durA, durB-lag)
	if commonDur <= 0 {
		return 0
	}

	var matches, total int
	for t := 0.0; t < commonDur; t += step {
		ai := int(math.Round(t / a.HopS))
		bi := int(math.Round((t + lag) / b.HopS))
		if ai < 0 || ai >= len(a.Bins) || bi < 0 || bi >= len(b.Bins) {
			continue
		}
		total++
		if a.Bins[ai] == b.Bins[bi] {
			matches++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matches) / float64(total)
}

// BinsToHex lower-case hex encodes the bin byte sequence for storage.
func BinsToHex(bins []byte) string {
	return hex.EncodeToString(bins)
}

// BinsFromHex decodes a lower-case hex-encoded bin byte sequence.
func BinsFromHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
