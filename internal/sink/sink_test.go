package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/sonar-presence/internal/capture"
	"github.com/agalue/sonar-presence/internal/ringbuffer"
)

func TestRunAppendsBlocksUntilClose(t *testing.T) {
	blocks := make(chan capture.AudioBlock, 4)
	buf := ringbuffer.NewWithCapacity(16000, 100)

	done := make(chan struct{})
	go func() {
		Run(blocks, buf)
		close(done)
	}()

	blocks <- capture.AudioBlock{Samples: []float32{1, 2, 3}, SampleRate: 16000}
	blocks <- capture.AudioBlock{Samples: []float32{4, 5}, SampleRate: 16000}
	close(blocks)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}

	require.Equal(t, 5, buf.Len())
	snap := buf.Snapshot(5)
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, snap)
}
