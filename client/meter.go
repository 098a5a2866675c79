package client

import (
	"math"
	"sync/atomic"

	"github.com/bosley/flowlab/recorder"
)

// meterDevice wraps a capture device and tracks the input level of the most
// recent chunk for the status line.
type meterDevice struct {
	recorder.Device
	level atomic.Uint64 // float64 bits
}

func newMeterDevice(d recorder.Device) *meterDevice {
	return &meterDevice{Device: d}
}

func (m *meterDevice) Open(onChunk func([]int16)) (recorder.Stream, error) {
	return m.Device.Open(func(chunk []int16) {
		m.level.Store(math.Float64bits(calculateChunkAmplitude(chunk)))
		onChunk(chunk)
	})
}

// Level returns the last chunk's mean amplitude scaled to 0..1.
func (m *meterDevice) Level() float64 {
	return math.Float64frombits(m.level.Load()) / math.MaxInt16
}

func calculateChunkAmplitude(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var totalAmplitude float64
	for _, sample := range chunk {
		totalAmplitude += math.Abs(float64(sample))
	}
	return totalAmplitude / float64(len(chunk))
}
