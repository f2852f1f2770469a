package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/sonar-presence/internal/eventsink"
	"github.com/agalue/sonar-presence/internal/presence"
	"github.com/agalue/sonar-presence/internal/ringbuffer"
)

func newTestSink(t *testing.T) *eventsink.CSVSink {
	t.Helper()
	sink, err := eventsink.NewCSVSink(filepath.Join(t.TempDir(), "events.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func defaultParams() presence.Params {
	return presence.Params{FrontMinM: 0.3, FrontMaxM: 1.5, DistMaxM: 1.5, MinRMS: 0.0002, MinRefRMS: 0.0001}
}

func TestTickSkipsOnShortSnapshot(t *testing.T) {
	ref := ringbuffer.NewWithCapacity(48000, SnapshotLen)
	mic := ringbuffer.NewWithCapacity(48000, SnapshotLen)
	ref.Append(make([]float32, 100)) // far short of SnapshotLen

	agg := presence.NewAggregator(1, 250, 0.5)
	sm := presence.NewStateMachine(presence.HysteresisConfig{EnterFrac: 0.6, ExitFrac: 0.3, MinDwell: 0}, time.Now())
	sink := newTestSink(t)
	logger, err := eventsink.NewLogger(filepath.Join(t.TempDir(), "sonar.log"), eventsink.Info)
	require.NoError(t, err)
	defer logger.Close()

	sch := New(ref, mic, defaultParams(), agg, sm, sink, logger, 250)
	sch.tick(time.Now())
	// one tick should not panic and should not crash on an empty snapshot path
	assert.Equal(t, presence.Absent, sm.State())
}

func TestTickSkipsOnSampleRateMismatch(t *testing.T) {
	ref := ringbuffer.NewWithCapacity(48000, SnapshotLen)
	mic := ringbuffer.NewWithCapacity(44100, SnapshotLen)
	ref.Append(make([]float32, SnapshotLen))
	mic.Append(make([]float32, SnapshotLen))

	agg := presence.NewAggregator(1, 250, 0.5)
	sm := presence.NewStateMachine(presence.HysteresisConfig{EnterFrac: 0.6, ExitFrac: 0.3, MinDwell: 0}, time.Now())
	sink := newTestSink(t)
	logger, err := eventsink.NewLogger(filepath.Join(t.TempDir(), "sonar.log"), eventsink.Info)
	require.NoError(t, err)
	defer logger.Close()

	sch := New(ref, mic, defaultParams(), agg, sm, sink, logger, 250)
	sch.tick(time.Now())
	assert.Equal(t, presence.Absent, sm.State())
}

func TestPushVoteFlipsPresentThenDecaysToAbsent(t *testing.T) {
	agg := presence.NewAggregator(1, 250, 0.5) // cap = 4
	cfg := presence.HysteresisConfig{EnterFrac: 0.6, ExitFrac: 0.3, MinDwell: time.Second, StrengthThr: 0.2, DistMaxM: 1.5}
	now := time.Now()
	sm := presence.NewStateMachine(cfg, now)
	sink := newTestSink(t)

	for i := 0; i < agg.Cap(); i++ {
		now = now.Add(250 * time.Millisecond)
		PushVote(agg, sm, sink, nil, presence.Vote{DistanceM: 1.0, Strength: 0.5, Ok: true}, now)
	}
	assert.Equal(t, presence.Present, sm.State())

	for i := 0; i < agg.Cap()*2; i++ {
		now = now.Add(250 * time.Millisecond)
		PushVote(agg, sm, sink, nil, presence.Vote{}, now)
	}
	assert.Equal(t, presence.Absent, sm.State())
}

func TestRunStopsPromptly(t *testing.T) {
	ref := ringbuffer.NewWithCapacity(48000, SnapshotLen)
	mic := ringbuffer.NewWithCapacity(48000, SnapshotLen)

	agg := presence.NewAggregator(1, 10, 0.5)
	sm := presence.NewStateMachine(presence.HysteresisConfig{EnterFrac: 0.6, ExitFrac: 0.3, MinDwell: 0}, time.Now())
	sink := newTestSink(t)
	logger, err := eventsink.NewLogger(filepath.Join(t.TempDir(), "sonar.log"), eventsink.Info)
	require.NoError(t, err)
	defer logger.Close()

	sch := New(ref, mic, defaultParams(), agg, sm, sink, logger, 10)

	done := make(chan struct{})
	go func() {
		sch.Run()
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	sch.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
