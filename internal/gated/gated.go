// Package gated implements the fingerprint-based gated controller: it
// aligns live loopback audio to a stored track, then runs the presence
// pipeline only within that track's known segment windows.
package gated

import (
	"errors"
	"math"
	"time"

	"github.com/agalue/sonar-presence/internal/fingerprint"
	"github.com/agalue/sonar-presence/internal/presence"
	"github.com/agalue/sonar-presence/internal/ringbuffer"
	"github.com/agalue/sonar-presence/internal/store"
)

// ErrFingerprintMissing is returned at startup when the store has no URL
// with a parseable fingerprint, so gated mode has nothing to align to.
var ErrFingerprintMissing = errors.New("gated: no usable fingerprint in store")

// dropAfterLastEndS is how long past the last known segment's end the
// controller keeps riding an alignment before dropping it.
const dropAfterLastEndS = 60.0

// Params configures arming and alignment.
type Params struct {
	FpWinS    float64
	FpThr     float64
	FpMargin  float64
	GuardS    float64
	FpArmDBFS float64
}

// Controller tracks whether the live loopback stream is currently aligned
// to a known track, and if so, to which segments.
type Controller struct {
	catalog []store.SongWindows
	params  Params

	aligned   bool
	matched   store.SongWindows
	virtualT0 time.Time
	lastEndS  float64
}

// NewController requires a non-empty catalog with at least one usable
// fingerprint; Load already discards URLs lacking one.
func NewController(catalog []store.SongWindows, params Params) (*Controller, error) {
	if len(catalog) == 0 {
		return nil, ErrFingerprintMissing
	}
	return &Controller{catalog: catalog, params: params}, nil
}

// Aligned reports whether the controller currently believes the loopback
// stream matches a known track.
func (c *Controller) Aligned() bool {
	return c.aligned
}

// TryArm attempts to align refSnapshot (the last few seconds of
// loopback) against the catalog. now is recorded as the wall-clock
// instant the snapshot was taken.
func (c *Controller) TryArm(refSnapshot []float32, sampleRate int, now time.Time) bool {
	if rmsDBFS(refSnapshot) < c.params.FpArmDBFS {
		return false
	}
	minSamples := int(c.params.FpWinS * float64(sampleRate))
	if len(refSnapshot) < minSamples {
		return false
	}

	samples := toFloat64(refSnapshot)
	live, ok := fingerprint.Make(samples, sampleRate, c.params.FpWinS)
	if !ok {
		return false
	}

	bestIdx := -1
	var top, second float64
	for i, sw := range c.catalog {
		sim := fingerprint.Similarity(live, sw.FP)
		if sim > top {
			second = top
			top = sim
			bestIdx = i
		} else if sim > second {
			second = sim
		}
	}

	if bestIdx < 0 || top < c.params.FpThr || top-second < c.params.FpMargin {
		return false
	}

	matched := c.catalog[bestIdx]
	c.virtualT0 = now.Add(-time.Duration(matched.FP.OffsetS * float64(time.Second)))
	c.matched = matched
	c.aligned = true
	c.lastEndS = 0
	for _, seg := range matched.Segments {
		if seg.EndS > c.lastEndS {
			c.lastEndS = seg.EndS
		}
	}
	return true
}

// SongClock returns the elapsed time since virtualT0, i.e. the believed
// playback position within the matched track.
func (c *Controller) SongClock(now time.Time) float64 {
	return now.Sub(c.virtualT0).Seconds()
}

// InGuardedSegment reports whether songClock falls within any matched
// segment widened by guard_s on both sides.
func (c *Controller) InGuardedSegment(songClock float64) bool {
	for _, seg := range c.matched.Segments {
		if songClock >= seg.StartS-c.params.GuardS && songClock <= seg.EndS+c.params.GuardS {
			return true
		}
	}
	return false
}

// ShouldDrop reports whether songClock has run far enough past the last
// known segment's end that alignment should be abandoned.
func (c *Controller) ShouldDrop(songClock float64) bool {
	return songClock > c.lastEndS+dropAfterLastEndS
}

// Drop clears alignment and resets sm to Absent with its last flip
// pushed back, so the next lock can report presence without waiting out
// the dwell.
func (c *Controller) Drop(sm *presence.StateMachine, now time.Time) {
	c.aligned = false
	c.matched = store.SongWindows{}
	sm.Reset(now)
}

// Tick runs one gated-mode tick: arming if not aligned, otherwise
// evaluating the guarded-segment gate and running the estimator only
// inside a guarded window. It returns the Vote for the caller to push into
// the aggregator; a zero Vote stands for None.
func (c *Controller) Tick(ref, mic *ringbuffer.Buffer, snapshotLen int, est presence.Params, sm *presence.StateMachine, now time.Time) presence.Vote {
	if !c.aligned {
		want := 7 * ref.SampleRate()
		if have := ref.Len(); have < want {
			want = have
		}
		snap := ref.Snapshot(want)
		c.TryArm(snap, ref.SampleRate(), now)
		return presence.Vote{}
	}

	songClock := c.SongClock(now)
	if c.ShouldDrop(songClock) {
		c.Drop(sm, now)
		return presence.Vote{}
	}
	if !c.InGuardedSegment(songClock) {
		return presence.Vote{}
	}

	refSnap := ref.Snapshot(snapshotLen)
	micSnap := mic.Snapshot(snapshotLen)
	if len(refSnap) < snapshotLen || len(micSnap) < snapshotLen || ref.SampleRate() != mic.SampleRate() {
		return presence.Vote{}
	}

	distance, strength, ok := presence.Estimate(refSnap, micSnap, float32(ref.SampleRate()), est)
	return sm.QualifyVote(distance, strength, ok)
}

func rmsDBFS(x []float32) float64 {
	if len(x) == 0 {
		return -math.MaxFloat64
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	r := math.Sqrt(sum / float64(len(x)))
	if r < 1e-12 {
		return -240
	}
	return 20 * math.Log10(r)
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
