package core

import "time"

const AVG_COUNT uint8 = 30

// Metrics keeps a rolling frame time average and the frames per second of the
// last full second. One instance per frame loop.
type Metrics struct {
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	totalFrames uint64
	minMS       float64
	maxMS       float64
	totalMS     float64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Update(frameElapsed time.Duration) {
	// Calculate frame ms average
	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++

	if m.totalFrames == 0 || frameMS < m.minMS {
		m.minMS = frameMS
	}
	if frameMS > m.maxMS {
		m.maxMS = frameMS
	}
	m.totalMS += frameMS
	m.totalFrames++
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

// FrameTime is the rolling average over the last AVG_COUNT frames, in ms.
func (m *Metrics) FrameTime() float64 {
	return m.msAvg
}

type MetricsSummary struct {
	Frames  uint64
	MinMS   float64
	MaxMS   float64
	MeanMS  float64
	FPS     float64
	Rolling float64
}

func (m *Metrics) Summary() MetricsSummary {
	s := MetricsSummary{
		Frames:  m.totalFrames,
		MinMS:   m.minMS,
		MaxMS:   m.maxMS,
		FPS:     m.fps,
		Rolling: m.msAvg,
	}
	if m.totalFrames > 0 {
		s.MeanMS = m.totalMS / float64(m.totalFrames)
	}
	return s
}
