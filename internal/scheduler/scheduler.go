// Package scheduler runs the single cooperative tick loop that ties the
// ring buffers, presence estimator, aggregator, and hysteresis state
// machine together and emits state-flip events.
package scheduler

import (
	"time"

	"github.com/agalue/sonar-presence/internal/eventsink"
	"github.com/agalue/sonar-presence/internal/presence"
	"github.com/agalue/sonar-presence/internal/ringbuffer"
)

// SnapshotLen is the number of trailing samples pulled from each ring on
// every tick: a power-of-two frame of ~1.37s at 48kHz, longer than the
// estimator's worst-case lag search (front-max echo plus pipeline delay).
const SnapshotLen = 65536

// Scheduler drives ticks at a fixed period using absolute-deadline
// pacing: missed deadlines reset to now rather than bursting catch-up
// ticks.
type Scheduler struct {
	ref    *ringbuffer.Buffer
	mic    *ringbuffer.Buffer
	params presence.Params
	agg    *presence.Aggregator
	sm     *presence.StateMachine
	sink   *eventsink.CSVSink
	logger *eventsink.Logger
	tickMs int
	pacer  *Pacer
}

// New builds a Scheduler that ticks every tickMs milliseconds.
func New(ref, mic *ringbuffer.Buffer, params presence.Params, agg *presence.Aggregator, sm *presence.StateMachine,
	sink *eventsink.CSVSink, logger *eventsink.Logger, tickMs int) *Scheduler {
	return &Scheduler{
		ref: ref, mic: mic, params: params, agg: agg, sm: sm,
		sink: sink, logger: logger, tickMs: tickMs,
		pacer: NewPacer(tickMs),
	}
}

// Stop requests the run loop exit at the next tick boundary. Must be
// called at most once.
func (s *Scheduler) Stop() {
	s.pacer.Stop()
}

// Run executes the tick loop until Stop is called. No step inside a tick
// may block longer than tickMs/2; ring-buffer snapshots copy under the
// mutex and release it before any estimator work runs.
func (s *Scheduler) Run() {
	s.pacer.Run(s.tick)
}

// Pacer issues wakeups at a fixed period using absolute-deadline pacing:
// `next_deadline += tick_ms`; a deadline missed by more than one period
// resets to now instead of bursting catch-up ticks. Shared by Scheduler
// and any other driver (e.g. the gated controller) that needs the same
// cadence with a different per-tick body.
type Pacer struct {
	period   time.Duration
	stopChan chan struct{}
}

// NewPacer builds a Pacer for the given tick period in milliseconds.
func NewPacer(tickMs int) *Pacer {
	return &Pacer{period: time.Duration(tickMs) * time.Millisecond, stopChan: make(chan struct{})}
}

// Stop requests Run exit at the next tick boundary.
func (p *Pacer) Stop() {
	close(p.stopChan)
}

// Run calls onTick once per period until Stop is called.
func (p *Pacer) Run(onTick func(now time.Time)) {
	nextDeadline := time.Now().Add(p.period)

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		now := time.Now()
		if now.Before(nextDeadline) {
			sleepOrStop(p.stopChan, nextDeadline.Sub(now))
			select {
			case <-p.stopChan:
				return
			default:
			}
		}

		onTick(time.Now())

		nextDeadline = nextDeadline.Add(p.period)
		if time.Now().After(nextDeadline) {
			nextDeadline = time.Now()
		}
	}
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
	case <-timer.C:
	}
}

func (s *Scheduler) tick(now time.Time) {
	refSnap := s.ref.Snapshot(SnapshotLen)
	micSnap := s.mic.Snapshot(SnapshotLen)

	if len(refSnap) < SnapshotLen || len(micSnap) < SnapshotLen {
		s.pushVote(presence.Vote{}, now)
		return
	}
	if s.ref.SampleRate() != s.mic.SampleRate() {
		if s.logger != nil {
			s.logger.Warn("ref/mic sample rate mismatch (%d vs %d), skipping tick", s.ref.SampleRate(), s.mic.SampleRate())
		}
		return
	}

	distance, strength, ok := presence.Estimate(refSnap, micSnap, float32(s.ref.SampleRate()), s.params)
	vote := s.sm.QualifyVote(distance, strength, ok)
	s.pushVote(vote, now)
}

func (s *Scheduler) pushVote(vote presence.Vote, now time.Time) {
	PushVote(s.agg, s.sm, s.sink, s.logger, vote, now)
}

// PushVote applies one vote to agg, advances sm on a full window, and
// emits a StateEvent to sink on a state flip. Shared between Scheduler
// and the gated driver, whose tick body decides the vote differently but
// drives the same aggregator/state-machine/event-sink chain.
func PushVote(agg *presence.Aggregator, sm *presence.StateMachine, sink *eventsink.CSVSink, logger *eventsink.Logger, vote presence.Vote, now time.Time) {
	aggOut, full := agg.Push(vote)
	if !full {
		return
	}

	flipped := sm.Advance(aggOut, now)
	if !flipped {
		return
	}

	if sink == nil {
		return
	}
	ev := eventsink.StateEvent{
		TimestampLocal: now,
		Present:        sm.State() == presence.Present,
		MeanDistance:   aggOut.MeanDistance,
		MeanStrength:   aggOut.MeanStrength,
		AgreementPct:   aggOut.Agreement * 100,
	}
	if err := sink.Write(ev); err != nil && logger != nil {
		logger.Error("failed to write state event: %v", err)
	}
}
