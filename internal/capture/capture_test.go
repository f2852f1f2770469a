package capture

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func encodeFloat32LE(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

func TestDownmixToMonoTakesFirstChannel(t *testing.T) {
	var data []byte
	frames := [][2]float32{{0.5, -0.9}, {-0.25, 0.1}, {1.0, 0.0}}
	for _, f := range frames {
		data = append(data, encodeFloat32LE(f[0])...)
		data = append(data, encodeFloat32LE(f[1])...)
	}

	out := downmixToMono(data, 2)
	assert.Equal(t, []float32{0.5, -0.25, 1.0}, out)
}

func TestDownmixToMonoMonoPassthrough(t *testing.T) {
	var data []byte
	for _, v := range []float32{0.1, 0.2, 0.3} {
		data = append(data, encodeFloat32LE(v)...)
	}
	out := downmixToMono(data, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out)
}

func TestDownmixToMonoShortBufferReturnsNil(t *testing.T) {
	assert.Nil(t, downmixToMono([]byte{1, 2, 3}, 2))
	assert.Nil(t, downmixToMono(nil, 2))
}

func TestDownmixToMonoZeroChannelsReturnsNil(t *testing.T) {
	assert.Nil(t, downmixToMono([]byte{0, 0, 0, 0}, 0))
}
