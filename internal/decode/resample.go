package decode

import "math"

// polyphaseFilterTaps is the length of the anti-aliasing sinc/Hamming
// filter applied when downsampling.
const polyphaseFilterTaps = 64

// Resample converts a whole decoded track from fromRate to toRate.
// Downsampling goes through a sinc/Hamming low-pass filter to prevent
// aliasing; upsampling uses linear interpolation, which is sufficient
// once the source is already band-limited.
func Resample(input []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(input) == 0 {
		return input
	}
	ratio := float64(toRate) / float64(fromRate)
	if ratio > 1.0 {
		return upsampleLinear(input, ratio)
	}
	return downsamplePolyphase(input, ratio)
}

func upsampleLinear(input []float64, ratio float64) []float64 {
	inputLen := len(input)
	outputLen := int(float64(inputLen) * ratio)
	output := make([]float64, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s1 := input[minInt(srcIdx, inputLen-1)]
		s2 := input[minInt(srcIdx+1, inputLen-1)]
		output[i] = s1 + (s2-s1)*frac
	}
	return output
}

func downsamplePolyphase(input []float64, ratio float64) []float64 {
	filter := sincHammingFilter(polyphaseFilterTaps, ratio*0.5)
	inputLen := len(input)
	outputLen := int(float64(inputLen) * ratio)
	output := make([]float64, outputLen)

	for i := 0; i < outputLen; i++ {
		srcIdx := int(float64(i) / ratio)
		var sample float64
		for j := 0; j < polyphaseFilterTaps; j++ {
			idx := srcIdx - polyphaseFilterTaps/2 + j
			if idx >= 0 && idx < inputLen {
				sample += input[idx] * filter[j]
			}
		}
		output[i] = sample
	}
	return output
}

// sincHammingFilter builds a normalized low-pass FIR filter of n taps
// with cutoff (as a fraction of the sampling rate, 0-0.5).
func sincHammingFilter(n int, cutoff float64) []float64 {
	filter := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i) - float64(n-1)/2.0
		if x == 0 {
			filter[i] = 2.0 * cutoff
		} else {
			sinc := math.Sin(2.0*math.Pi*cutoff*x) / (math.Pi * x)
			window := 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(n-1))
			filter[i] = sinc * window
		}
	}
	var sum float64
	for _, f := range filter {
		sum += f
	}
	if sum != 0 {
		for i := range filter {
			filter[i] /= sum
		}
	}
	return filter
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
