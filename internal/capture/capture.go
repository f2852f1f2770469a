// Package capture implements the loopback and microphone capturers.
// Each is an independent malgo-backed device pushing mono AudioBlocks
// onto a bounded channel.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// queueCapacity is the bounded channel depth each capturer writes into.
const queueCapacity = 8

// ErrCaptureUnavailable is returned when no default device exists or the
// audio service fails to initialize.
var ErrCaptureUnavailable = errors.New("capture: device unavailable")

// AudioBlock is one chunk of mono float32 samples at SampleRate, in
// [-1, 1].
type AudioBlock struct {
	Samples    []float32
	SampleRate int
}

// Source identifies which stream a Capturer reads.
type Source int

const (
	SourceLoopback Source = iota
	SourceMicrophone
)

// Capturer owns one malgo device and emits AudioBlocks on Blocks until
// Close, at which point Blocks is closed.
type Capturer struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	source     Source
	sampleRate int
	blocks     chan AudioBlock

	closeOnce sync.Once
}

// NewLoopback opens the default loopback (render-monitor) device,
// requesting targetSampleRate. If the host mix format differs, the
// capturer records the host's actual rate instead of resampling.
func NewLoopback(targetSampleRate int) (*Capturer, error) {
	return newCapturer(SourceLoopback, targetSampleRate, true)
}

// NewMicrophone opens the default capture device, preferring 48 kHz and
// falling back to the device default if unsupported.
func NewMicrophone(preferredSampleRate int) (*Capturer, error) {
	return newCapturer(SourceMicrophone, preferredSampleRate, false)
}

func newCapturer(source Source, targetSampleRate int, loopback bool) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrCaptureUnavailable, err)
	}

	deviceType := malgo.Capture
	if loopback {
		deviceType = malgo.Loopback
	}

	const channels = 2 // request stereo; downmix takes channel 0 regardless of device's native count

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = uint32(targetSampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 32

	c := &Capturer{
		ctx:    ctx,
		source: source,
		blocks: make(chan AudioBlock, queueCapacity),
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		samples := downmixToMono(pInputSamples, channels)
		if len(samples) == 0 {
			return
		}
		block := AudioBlock{Samples: samples, SampleRate: c.sampleRate}
		select {
		case c.blocks <- block:
		default:
			// queue full: drop the oldest block to keep up with real time
			select {
			case <-c.blocks:
			default:
			}
			select {
			case c.blocks <- block:
			default:
			}
		}
	}

	callbacks := malgo.DeviceCallbacks{Data: onRecvFrames}
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: init device: %v", ErrCaptureUnavailable, err)
	}

	c.device = device
	c.sampleRate = int(device.SampleRate())

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: start device: %v", ErrCaptureUnavailable, err)
	}

	return c, nil
}

// Blocks returns the channel of produced AudioBlocks. It is closed when
// the capturer is closed.
func (c *Capturer) Blocks() <-chan AudioBlock {
	return c.blocks
}

// SampleRate is the device's actual running sample rate.
func (c *Capturer) SampleRate() int {
	return c.sampleRate
}

// Close stops the device and closes Blocks.
func (c *Capturer) Close() {
	c.closeOnce.Do(func() {
		if c.device != nil {
			c.device.Stop()
			c.device.Uninit()
		}
		if c.ctx != nil {
			_ = c.ctx.Uninit()
			c.ctx.Free()
		}
		close(c.blocks)
	})
}

// downmixToMono converts interleaved little-endian float32 PCM to mono by
// taking the first channel of each frame.
func downmixToMono(data []byte, channels int) []float32 {
	frameBytes := 4 * channels
	if frameBytes == 0 || len(data) < frameBytes {
		return nil
	}
	n := len(data) / frameBytes
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*frameBytes:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
