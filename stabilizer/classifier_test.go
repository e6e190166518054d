package stabilizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feed(mc *MotionClassifier, motions []Transform) MotionType {
	var label MotionType
	for _, m := range motions {
		label = mc.Add(m)
	}
	return label
}

func repeat(t Transform, n int) []Transform {
	out := make([]Transform, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func TestClassify(t *testing.T) {
	oscillating := make([]Transform, 20)
	accelerating := make([]Transform, 10)
	for i := range oscillating {
		if i%2 == 0 {
			oscillating[i] = Translation(10, 0)
		} else {
			oscillating[i] = Translation(-10, 0)
		}
	}
	for i := range accelerating {
		accelerating[i] = Translation(10*float64(i+1), 0)
	}

	tests := []struct {
		name    string
		motions []Transform
		want    MotionType
	}{
		{"too few samples", repeat(Translation(50, 0), 4), MotionUnknown},
		{"still camera", repeat(Identity(), 10), MotionStatic},
		{"sub-pixel jitter", repeat(Translation(0.5, -0.5), 10), MotionStatic},
		{"hand shake", oscillating, MotionCameraShake},
		{"steady pan", repeat(Translation(20, 0), 10), MotionPanZoom},
		{"slow drift", repeat(Translation(0, 8), 10), MotionSlow},
		{"accelerating", accelerating, MotionFast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feed(NewMotionClassifier(1), tt.motions))
		})
	}
}

func TestClassify_SensitivityLowersThresholds(t *testing.T) {
	drift := repeat(Translation(0, 8), 10)
	assert.Equal(t, MotionSlow, feed(NewMotionClassifier(1), drift))
	assert.Equal(t, MotionPanZoom, feed(NewMotionClassifier(2), drift))
}

func TestClassify_SlidingWindow(t *testing.T) {
	mc := NewMotionClassifier(1)
	assert.Equal(t, MotionStatic, feed(mc, repeat(Identity(), classifierWindow)))
	assert.Equal(t, MotionPanZoom, feed(mc, repeat(Translation(25, 0), classifierWindow)))

	mc.Reset()
	assert.Equal(t, MotionUnknown, mc.Classify())
}

func TestHighFrequencyRatio(t *testing.T) {
	assert.Equal(t, 0.0, highFrequencyRatio([]float64{1, 2}))
	assert.Equal(t, 0.0, highFrequencyRatio([]float64{1, 2, 3, 4, 5}))
	assert.Equal(t, 1.0, highFrequencyRatio([]float64{1, -1, 1, -1, 1}))
}
