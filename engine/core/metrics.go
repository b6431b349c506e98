package core

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a rolling average of tick durations and a ticks-per-second
// counter. Owned by the consumer goroutine.
type FrameMetrics struct {
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	tps                float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

func (m *FrameMetrics) Update(frameElapsedSeconds float64) {
	frameMS := frameElapsedSeconds * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.tps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.frames++
}

// TicksPerSecond is refreshed once per accumulated second.
func (m *FrameMetrics) TicksPerSecond() float64 {
	return m.tps
}

// AverageMS is refreshed every AVG_COUNT ticks.
func (m *FrameMetrics) AverageMS() float64 {
	return m.msAvg
}
