// Package perfstats accumulates frame processing times for pipeline
// throughput reporting.
package perfstats

import "time"

// FrameTimer accumulates per-frame durations.
type FrameTimer struct {
	Frames int64
	Total  time.Duration
}

func (t *FrameTimer) Add(d time.Duration) {
	t.Frames++
	t.Total += d
}

// AverageMS is the mean time per frame in milliseconds.
func (t *FrameTimer) AverageMS() float64 {
	if t.Frames == 0 {
		return 0
	}
	return float64(t.Total.Milliseconds()) / float64(t.Frames)
}

// PerSecond is the effective frame rate of the pipeline.
func (t *FrameTimer) PerSecond() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Frames) / t.Total.Seconds()
}
