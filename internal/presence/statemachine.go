package presence

import "time"

// State is the smoothed present/absent signal.
type State int

const (
	Absent State = iota
	Present
)

func (s State) String() string {
	if s == Present {
		return "present"
	}
	return "absent"
}

// HysteresisConfig carries the two-threshold Schmitt trigger tunables.
type HysteresisConfig struct {
	EnterFrac   float64
	ExitFrac    float64
	MinDwell    time.Duration
	StrengthThr float32
	DistMaxM    float32
}

// StateMachine is a single-owner, single-threaded hysteresis state machine
// with minimum dwell between flips.
type StateMachine struct {
	cfg      HysteresisConfig
	state    State
	lastFlip time.Time
}

// NewStateMachine starts in Absent with lastFlip set minDwell in the past,
// so the first legitimate flip is immediate.
func NewStateMachine(cfg HysteresisConfig, now time.Time) *StateMachine {
	return &StateMachine{
		cfg:      cfg,
		state:    Absent,
		lastFlip: now.Add(-cfg.MinDwell),
	}
}

// QualifyVote converts a raw estimator result into a Vote: a distance/
// strength pair qualifies as an instant detection only if it is within the
// configured distance cap and strength threshold.
func (sm *StateMachine) QualifyVote(distanceM, strength float32, ok bool) Vote {
	if !ok {
		return Vote{}
	}
	if distanceM <= sm.cfg.DistMaxM && strength >= sm.cfg.StrengthThr {
		return Vote{DistanceM: distanceM, Strength: strength, Ok: true}
	}
	return Vote{}
}

// Advance applies one accepted WindowAggregate, flipping state when the
// hysteresis condition is met and the minimum dwell has elapsed. It
// reports whether a flip occurred.
func (sm *StateMachine) Advance(agg WindowAggregate, now time.Time) bool {
	var want bool
	if sm.state == Absent {
		want = agg.Agreement >= sm.cfg.EnterFrac
	} else {
		want = agg.Agreement >= sm.cfg.ExitFrac
	}

	if want == (sm.state == Present) {
		return false
	}
	if now.Sub(sm.lastFlip) < sm.cfg.MinDwell {
		return false
	}

	if want {
		sm.state = Present
	} else {
		sm.state = Absent
	}
	sm.lastFlip = now
	return true
}

// State reports the current smoothed state.
func (sm *StateMachine) State() State {
	return sm.state
}

// Reset forces the machine back to Absent and pushes lastFlip minDwell into
// the past, so a flip right after a gated re-arm is not dwell-blocked.
func (sm *StateMachine) Reset(now time.Time) {
	sm.state = Absent
	sm.lastFlip = now.Add(-sm.cfg.MinDwell)
}

// LastFlip reports the wall-clock time of the most recent flip.
func (sm *StateMachine) LastFlip() time.Time {
	return sm.lastFlip
}
