// Package presence implements the reference/observation correlation
// estimator, the sliding aggregator, and the hysteresis state machine that
// together turn two synchronized audio frames into a smoothed
// present/absent signal.
package presence

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// speedOfSoundMPS is the speed of sound used to convert lags into distances.
const speedOfSoundMPS = 343.0

// MaxPipelineDelayMS bounds the unknown ref-vs-mic pipeline delay the
// direct-path search must absorb.
const MaxPipelineDelayMS = 200

// Params holds the estimator's tunables. It is a plain struct rather than
// the full application Config so the estimator package has no dependency
// on CLI/config concerns.
type Params struct {
	FrontMinM float32
	FrontMaxM float32
	DistMaxM  float32
	MinRMS    float32
	MinRefRMS float32
}

// Estimate implements the ref/mic cross-correlation presence estimator. It
// never panics or returns an error: insufficient input simply yields
// (0, 0, false).
//
// refFrame and micFrame must be equal length and at least 1024 samples.
func Estimate(refFrame, micFrame []float32, sampleRate float32, p Params) (distanceM, strength float32, ok bool) {
	n := len(refFrame)
	if n != len(micFrame) || n < 1024 {
		return 0, 0, false
	}

	rmsRef := rms(refFrame)
	rmsMic := rms(micFrame)
	if rmsMic < p.MinRMS && rmsRef < p.MinRefRMS {
		return 0, 0, false
	}

	a := make([]float32, n)
	b := make([]float32, n)
	copy(a, refFrame)
	copy(b, micFrame)
	condition(a)
	condition(b)

	minEcho := int(math.Round(float64(2 * p.FrontMinM * sampleRate / speedOfSoundMPS)))
	maxEcho := int(math.Round(float64(2 * p.FrontMaxM * sampleRate / speedOfSoundMPS)))
	if maxEcho <= minEcho || maxEcho >= n {
		return 0, 0, false
	}

	baseMax := int(math.Round(float64(MaxPipelineDelayMS) * float64(sampleRate) / 1000.0))
	kmax := baseMax + maxEcho
	// Keep at least half the frame overlapping at every searched lag: with
	// only a few overlapping samples the normalized correlation approaches
	// ±1 and would be taken for the direct path.
	if kmax > n/2 {
		kmax = n / 2
	}

	rs := make([]float32, kmax+1)
	for k := 0; k <= kmax; k++ {
		rs[k] = normalizedCorrelation(a, b, k)
	}

	k0 := argmax(rs, 0, kmax)

	bandLo := k0 + minEcho
	bandHi := k0 + maxEcho
	if bandHi > kmax {
		bandHi = kmax
	}
	if bandLo >= bandHi {
		return 0, 0, false
	}

	k1 := argmax(rs, bandLo, bandHi)
	r1 := rs[k1]

	r2 := secondBestOutsideNeighborhood(rs, bandLo, bandHi, k1, 6)

	band := append([]float32(nil), rs[bandLo:bandHi+1]...)
	p75 := percentile(band, 0.75)
	p95 := percentile(band, 0.95)

	denom := p95 - p75
	if denom < 1e-9 {
		denom = 1e-9
	}
	prominence := clamp((r1-r2)/denom, 0, 1)
	if r1 < p75 {
		prominence /= 2
	}

	distance := float32(k1-k0) * speedOfSoundMPS / (2 * sampleRate)
	if distance < 0 {
		distance = 0
	}
	if distance > p.DistMaxM {
		distance = p.DistMaxM
	}

	return distance, prominence, true
}

// condition removes DC, applies a single-tap pre-emphasis (first
// difference), and L2-normalizes x in place.
func condition(x []float32) {
	dcRemove(x)
	preemphasize(x)
	l2Normalize(x)
}

func dcRemove(x []float32) {
	if len(x) == 0 {
		return
	}
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))
	for i, v := range x {
		x[i] = v - float32(mean)
	}
}

func preemphasize(x []float32) {
	if len(x) < 2 {
		return
	}
	for i := len(x) - 1; i > 0; i-- {
		x[i] = x[i] - x[i-1]
	}
	x[0] = 0
}

func l2Normalize(x []float32) {
	var sumSq float64
	for _, v := range x {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-9 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range x {
		x[i] *= inv
	}
}

func rms(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum / float64(len(x))))
}

// normalizedCorrelation computes r[k] = sum(a[i]*b[i+k]) / (||a[0:n-k]|| * ||b[k:n]|| + eps).
func normalizedCorrelation(a, b []float32, k int) float32 {
	n := len(a)
	if k >= n {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n-k; i++ {
		av := float64(a[i])
		bv := float64(b[i+k])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	denom := math.Sqrt(na)*math.Sqrt(nb) + 1e-9
	return float32(dot / denom)
}

func argmax(xs []float32, lo, hi int) int {
	best := lo
	bestV := xs[lo]
	for k := lo + 1; k <= hi; k++ {
		if xs[k] > bestV {
			bestV = xs[k]
			best = k
		}
	}
	return best
}

func secondBestOutsideNeighborhood(xs []float32, lo, hi, center, radius int) float32 {
	var best float32 = float32(math.Inf(-1))
	found := false
	for k := lo; k <= hi; k++ {
		if k >= center-radius && k <= center+radius {
			continue
		}
		if xs[k] > best {
			best = xs[k]
			found = true
		}
	}
	if !found {
		return 0
	}
	return best
}

func percentile(xs []float32, p float64) float32 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	for i, v := range xs {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	return float32(stat.Quantile(p, stat.Empirical, sorted, nil))
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
