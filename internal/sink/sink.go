// Package sink drains a capturer's AudioBlock channel into its ring
// buffer, one goroutine per source.
package sink

import (
	"github.com/agalue/sonar-presence/internal/capture"
	"github.com/agalue/sonar-presence/internal/ringbuffer"
)

// Run dequeues blocks from blocks and appends their samples to buf until
// blocks is closed, then returns. Intended to run as its own goroutine,
// one per capturer.
func Run(blocks <-chan capture.AudioBlock, buf *ringbuffer.Buffer) {
	for block := range blocks {
		buf.Append(block.Samples)
	}
}
