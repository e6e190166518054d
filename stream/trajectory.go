package stream

import (
	"sync"

	"github.com/kwv/steadyframe/stabilizer"
)

// TrajectorySample is the camera path at one frame
type TrajectorySample struct {
	Frame      uint64                `json:"frame"`
	Status     stabilizer.Status     `json:"status"`
	Raw        stabilizer.Components `json:"raw"`
	Smoothed   stabilizer.Components `json:"smoothed"`
	Correction stabilizer.Components `json:"correction"`
}

// TrajectoryRecorder keeps the most recent samples of a stream's raw and
// smoothed camera path in a ring buffer
type TrajectoryRecorder struct {
	mu      sync.RWMutex
	samples []TrajectorySample
	start   int
	count   int
}

// NewTrajectoryRecorder creates a recorder holding up to capacity samples
func NewTrajectoryRecorder(capacity int) *TrajectoryRecorder {
	if capacity <= 0 {
		capacity = DefaultTrajectoryLength
	}
	return &TrajectoryRecorder{samples: make([]TrajectorySample, capacity)}
}

// Record appends the trajectory from a frame's metrics. Frames that did not
// go through the pipeline are skipped.
func (tr *TrajectoryRecorder) Record(m stabilizer.Metrics) {
	switch m.Status {
	case stabilizer.StatusUninitialized, stabilizer.StatusReady, stabilizer.StatusDisabled:
		return
	}
	s := TrajectorySample{
		Frame:      m.FrameIndex,
		Status:     m.Status,
		Raw:        stabilizer.Decompose(m.Pose),
		Smoothed:   stabilizer.Decompose(m.Smoothed),
		Correction: stabilizer.Decompose(m.Correction),
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := len(tr.samples)
	tr.samples[(tr.start+tr.count)%n] = s
	if tr.count < n {
		tr.count++
	} else {
		tr.start = (tr.start + 1) % n
	}
}

// Samples returns a copy of the recorded samples, oldest first
func (tr *TrajectoryRecorder) Samples() []TrajectorySample {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]TrajectorySample, tr.count)
	for i := range out {
		out[i] = tr.samples[(tr.start+i)%len(tr.samples)]
	}
	return out
}

// Len returns the number of recorded samples
func (tr *TrajectoryRecorder) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.count
}

// Reset drops every sample
func (tr *TrajectoryRecorder) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.start, tr.count = 0, 0
}
