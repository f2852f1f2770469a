package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCfg() HysteresisConfig {
	return HysteresisConfig{
		EnterFrac:   0.6,
		ExitFrac:    0.3,
		MinDwell:    5 * time.Second,
		StrengthThr: 0.2,
		DistMaxM:    1.5,
	}
}

func TestStateMachineStartsAbsent(t *testing.T) {
	sm := NewStateMachine(testCfg(), time.Now())
	assert.Equal(t, Absent, sm.State())
}

func TestStateMachineFlipsOnHighAgreementImmediately(t *testing.T) {
	now := time.Now()
	sm := NewStateMachine(testCfg(), now)
	flipped := sm.Advance(WindowAggregate{Agreement: 0.9}, now)
	assert.True(t, flipped)
	assert.Equal(t, Present, sm.State())
}

func TestStateMachineRespectsMinDwell(t *testing.T) {
	now := time.Now()
	sm := NewStateMachine(testCfg(), now)
	sm.Advance(WindowAggregate{Agreement: 0.9}, now)
	assert.Equal(t, Present, sm.State())

	soon := now.Add(1 * time.Second)
	flipped := sm.Advance(WindowAggregate{Agreement: 0.0}, soon)
	assert.False(t, flipped)
	assert.Equal(t, Present, sm.State())

	later := now.Add(6 * time.Second)
	flipped = sm.Advance(WindowAggregate{Agreement: 0.0}, later)
	assert.True(t, flipped)
	assert.Equal(t, Absent, sm.State())
}

func TestStateMachineHysteresisBand(t *testing.T) {
	now := time.Now()
	sm := NewStateMachine(testCfg(), now)
	sm.Advance(WindowAggregate{Agreement: 0.9}, now)
	assert.Equal(t, Present, sm.State())

	// Between exit and enter thresholds: should remain Present.
	later := now.Add(10 * time.Second)
	flipped := sm.Advance(WindowAggregate{Agreement: 0.4}, later)
	assert.False(t, flipped)
	assert.Equal(t, Present, sm.State())
}

func TestQualifyVoteEnforcesDistanceAndStrength(t *testing.T) {
	sm := NewStateMachine(testCfg(), time.Now())

	v := sm.QualifyVote(1.0, 0.5, true)
	assert.True(t, v.Ok)

	v = sm.QualifyVote(2.0, 0.5, true)
	assert.False(t, v.Ok)

	v = sm.QualifyVote(1.0, 0.1, true)
	assert.False(t, v.Ok)
}

func TestResetPushesLastFlipBack(t *testing.T) {
	now := time.Now()
	sm := NewStateMachine(testCfg(), now)
	sm.Advance(WindowAggregate{Agreement: 0.9}, now)
	sm.Reset(now)
	assert.Equal(t, Absent, sm.State())
	assert.True(t, sm.LastFlip().Before(now))
}
