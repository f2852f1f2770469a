package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAppendTrimsToCapacity(t *testing.T) {
	b := NewWithCapacity(16000, 10)
	b.Append([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	assert.Equal(t, 10, b.Len())

	snap := b.Snapshot(10)
	require.Len(t, snap, 10)
	assert.Equal(t, float32(3), snap[0])
	assert.Equal(t, float32(12), snap[9])
}

func TestSnapshotShortWhenInsufficientData(t *testing.T) {
	b := NewWithCapacity(16000, 100)
	b.Append([]float32{1, 2, 3})
	assert.Nil(t, b.Snapshot(10))
	assert.Len(t, b.Snapshot(3), 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewWithCapacity(16000, 100)
	b.Append([]float32{1, 2, 3})
	snap := b.Snapshot(3)
	snap[0] = 99
	assert.Equal(t, float32(1), b.Snapshot(3)[0])
}

func TestLenNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 500).Draw(rt, "capacity")
		b := NewWithCapacity(16000, capacity)

		blocks := rapid.SliceOfN(rapid.IntRange(0, 50), 0, 20).Draw(rt, "blockSizes")
		for _, n := range blocks {
			block := make([]float32, n)
			for i := range block {
				block[i] = float32(i)
			}
			b.Append(block)
			if b.Len() > capacity {
				rt.Fatalf("len %d exceeds capacity %d", b.Len(), capacity)
			}
		}
	})
}
