// Package spectral implements the STFT-based feature extractor used to
// rank candidate segments of a track for fingerprinting and gating.
package spectral

import (
	"math"
	"sort"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

// Params configures the windowing and scoring thresholds of Analyze.
type Params struct {
	FrameMs       float64
	ScanWindowS   float64
	StrideMs      float64
	HfSplitHz     float64
	TopN          int
	MinPercentile float64 // 0-100
	NmsRadiusS    float64
	MergeGapS     float64
	ClampMinS     float64
	ClampMaxS     float64
}

// FeatZ holds MAD-normalized z-scores for the seven scored features.
type FeatZ struct {
	Flux      float64
	Flatness  float64
	CrestDB   float64
	Bandwidth float64
	HfRatio   float64
	DynRange  float64
	Tonality  float64
}

// WindowFeat describes one analysis window of a track.
type WindowFeat struct {
	StartS        float64
	EndS          float64
	Flux          float64
	Flatness      float64
	CrestDB       float64
	BandwidthHz95 float64
	HfRatio       float64
	DynRange      float64
	Tonality      float64
	LoudnessDBFS  float64
	Score         float64
	Z             FeatZ
}

// Segment is a maximal time range selected by non-max suppression and
// merging of nearby winning windows.
type Segment struct {
	StartS float64
	EndS   float64
	Peak   WindowFeat
}

type frameStats struct {
	rms     float64
	peak    float64
	crestDB float64
	mag     []float64
}

// Analyze runs the STFT feature pipeline over mono samples at sampleRate
// and returns ranked, merged, duration-clamped segments.
func Analyze(samples []float64, sampleRate int, p Params) []Segment {
	frameLen := nextPow2(roundClampMin(sampleRate, p.FrameMs))
	hopLen := frameLen / 2
	if hopLen < 1 {
		hopLen = 1
	}

	frames := stft(samples, frameLen, hopLen)
	if len(frames) == 0 {
		return nil
	}

	framesPerWin := int(math.Round(p.ScanWindowS * float64(sampleRate) / float64(hopLen)))
	if framesPerWin < 1 {
		framesPerWin = 1
	}
	strideFrames := int(math.Round(p.StrideMs / 1000.0 * float64(sampleRate) / float64(hopLen)))
	if strideFrames < 1 {
		strideFrames = 1
	}

	var feats []WindowFeat
	for start := 0; start+framesPerWin <= len(frames); start += strideFrames {
		win := frames[start : start+framesPerWin]
		feats = append(feats, windowFeature(win, frameLen, sampleRate, hopLen, start, p))
	}
	if len(feats) == 0 {
		return nil
	}

	scoreWindows(feats)
	return selectSegments(feats, p)
}

func windowFeature(win []frameStats, frameLen, sampleRate, hopLen, startFrame int, p Params) WindowFeat {
	startS := float64(startFrame*hopLen) / float64(sampleRate)
	endS := float64((startFrame+len(win))*hopLen) / float64(sampleRate)

	mid := win[len(win)/2].mag
	bandwidth := bandwidth95(mid, frameLen, sampleRate)
	flat := flatness(mid)
	hf := hfRatio(mid, frameLen, sampleRate, p.HfSplitHz)

	fluxes := make([]float64, 0, len(win)-1)
	for i := 1; i < len(win); i++ {
		fluxes = append(fluxes, spectralFlux(win[i-1].mag, win[i].mag))
	}
	flux := percentile(fluxes, 0.90)

	crests := make([]float64, len(win))
	for i, f := range win {
		crests[i] = f.crestDB
	}
	crestDB := percentile(crests, 0.75)

	rmses := make([]float64, len(win))
	for i, f := range win {
		rmses[i] = f.rms
	}
	loudness := 20 * math.Log10(math.Max(median(rmses), 1e-12))
	if loudness < -120 {
		loudness = -120
	}

	p95 := percentile(rmses, 0.95)
	p50 := median(rmses)
	dynRange := 0.0
	if p50 > 1e-12 {
		dynRange = 20 * math.Log10(math.Max(p95/p50, 1))
	}
	if dynRange < 0 {
		dynRange = 0
	}

	return WindowFeat{
		StartS:        startS,
		EndS:          endS,
		Flux:          flux,
		Flatness:      flat,
		CrestDB:       crestDB,
		BandwidthHz95: bandwidth,
		HfRatio:       hf,
		DynRange:      dynRange,
		Tonality:      1 - flat,
		LoudnessDBFS:  loudness,
	}
}

// scoreWindows computes MAD-based z-scores across the whole track's windows
// and the fixed weighted score, including the loudness penalties.
func scoreWindows(feats []WindowFeat) {
	flux := extract(feats, func(w WindowFeat) float64 { return w.Flux })
	flat := extract(feats, func(w WindowFeat) float64 { return w.Flatness })
	crest := extract(feats, func(w WindowFeat) float64 { return w.CrestDB })
	bw := extract(feats, func(w WindowFeat) float64 { return w.BandwidthHz95 })
	hf := extract(feats, func(w WindowFeat) float64 { return w.HfRatio })
	dyn := extract(feats, func(w WindowFeat) float64 { return w.DynRange })
	ton := extract(feats, func(w WindowFeat) float64 { return w.Tonality })

	for i := range feats {
		z := FeatZ{
			Flux:      madZScore(flux, flux[i]),
			Flatness:  madZScore(flat, flat[i]),
			CrestDB:   madZScore(crest, crest[i]),
			Bandwidth: madZScore(bw, bw[i]),
			HfRatio:   madZScore(hf, hf[i]),
			DynRange:  madZScore(dyn, dyn[i]),
			Tonality:  madZScore(ton, ton[i]),
		}
		feats[i].Z = z

		score := 0.25*z.Flux + 0.2*z.Flatness + 0.2*z.CrestDB + 0.15*z.Bandwidth +
			0.1*z.HfRatio + 0.1*z.DynRange - 0.2*z.Tonality

		if feats[i].LoudnessDBFS < -45 {
			score -= 0.5
		}
		if feats[i].LoudnessDBFS < -60 {
			score -= 1.0
		}
		feats[i].Score = score
	}
}

func selectSegments(feats []WindowFeat, p Params) []Segment {
	scores := extract(feats, func(w WindowFeat) float64 { return w.Score })
	threshold := percentile(append([]float64(nil), scores...), p.MinPercentile/100.0)

	type candidate struct {
		idx int
		w   WindowFeat
	}
	var candidates []candidate
	for i, w := range feats {
		if w.Score > threshold {
			candidates = append(candidates, candidate{idx: i, w: w})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].w.Score > candidates[j].w.Score })

	var kept []candidate
	for _, c := range candidates {
		suppressed := false
		for _, k := range kept {
			if math.Abs(c.w.StartS-k.w.StartS) <= p.NmsRadiusS {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
		if len(kept) >= p.TopN {
			break
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].w.StartS < kept[j].w.StartS })

	var segs []Segment
	for _, c := range kept {
		seg := Segment{StartS: c.w.StartS, EndS: c.w.EndS, Peak: c.w}
		if len(segs) > 0 && seg.StartS-segs[len(segs)-1].EndS <= p.MergeGapS {
			prev := &segs[len(segs)-1]
			prev.EndS = math.Max(prev.EndS, seg.EndS)
			if seg.Peak.Score > prev.Peak.Score {
				prev.Peak = seg.Peak
			}
			continue
		}
		segs = append(segs, seg)
	}

	for i := range segs {
		dur := segs[i].EndS - segs[i].StartS
		if dur < p.ClampMinS {
			segs[i].EndS = segs[i].StartS + p.ClampMinS
		} else if dur > p.ClampMaxS {
			segs[i].EndS = segs[i].StartS + p.ClampMaxS
		}
	}

	return segs
}

func stft(samples []float64, frameLen, hopLen int) []frameStats {
	window := hann(frameLen)
	var out []frameStats
	for start := 0; start+frameLen <= len(samples); start += hopLen {
		frame := make([]float64, frameLen)
		var peak, sumSq float64
		for i := 0; i < frameLen; i++ {
			v := samples[start+i] * window[i]
			frame[i] = v
			av := math.Abs(v)
			if av > peak {
				peak = av
			}
			sumSq += v * v
		}
		spec := fft.FFTReal(frame)
		mag := make([]float64, frameLen/2+1)
		for i := range mag {
			mag[i] = cmplxAbs(spec[i])
		}
		r := math.Sqrt(sumSq / float64(frameLen))
		crest := 0.0
		if r > 1e-12 {
			crest = 20 * math.Log10(math.Max(peak/r, 1))
		}
		out = append(out, frameStats{rms: r, peak: peak, crestDB: crest, mag: mag})
	}
	return out
}

func bandwidth95(mag []float64, frameLen, sampleRate int) float64 {
	var total float64
	power := make([]float64, len(mag))
	for i, m := range mag {
		power[i] = m * m
		total += power[i]
	}
	if total <= 0 {
		return 0
	}
	var cum float64
	for i, p := range power {
		cum += p
		if cum/total >= 0.95 {
			return float64(i) * float64(sampleRate) / float64(frameLen)
		}
	}
	return float64(len(mag)-1) * float64(sampleRate) / float64(frameLen)
}

func flatness(mag []float64) float64 {
	power := make([]float64, len(mag))
	var sum, logSum float64
	n := 0
	for i, m := range mag {
		p := m*m + 1e-12
		power[i] = p
		sum += p
		logSum += math.Log(p)
		n++
	}
	if n == 0 || sum <= 0 {
		return 0
	}
	geoMean := math.Exp(logSum / float64(n))
	arithMean := sum / float64(n)
	if arithMean <= 0 {
		return 0
	}
	f := geoMean / arithMean
	return clamp01(f)
}

func hfRatio(mag []float64, frameLen, sampleRate int, hfSplitHz float64) float64 {
	splitBin := int(hfSplitHz * float64(frameLen) / float64(sampleRate))
	var total, hf float64
	for i, m := range mag {
		p := m * m
		total += p
		if i >= splitBin {
			hf += p
		}
	}
	if total <= 0 {
		return 0
	}
	return hf / total
}

func spectralFlux(prev, cur []float64) float64 {
	var sum float64
	for i := range cur {
		d := cur[i] - prev[i]
		if d > 0 {
			sum += d
		}
	}
	return sum
}

func hann(n int) []float64 {
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
	if n < 256 {
		n = 256
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func roundClampMin(sampleRate int, ms float64) int {
	return int(math.Round(float64(sampleRate) * ms / 1000.0))
}

func median(xs []float64) float64 {
	return percentile(xs, 0.5)
}

func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func madZScore(population []float64, x float64) float64 {
	m := median(population)
	devs := make([]float64, len(population))
	for i, v := range population {
		devs[i] = math.Abs(v - m)
	}
	mad := median(devs)
	if mad < 1e-6 {
		mad = 1e-6
	}
	return (x - m) / (1.4826 * mad)
}

func extract(feats []WindowFeat, f func(WindowFeat) float64) []float64 {
	out := make([]float64, len(feats))
	for i, w := range feats {
		out[i] = f(w)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
