package stabilizer

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MotionType is a coarse label for recent camera motion
type MotionType string

const (
	MotionUnknown     MotionType = "unknown"
	MotionStatic      MotionType = "static"
	MotionSlow        MotionType = "slow"
	MotionFast        MotionType = "fast"
	MotionCameraShake MotionType = "camera_shake"
	MotionPanZoom     MotionType = "pan_zoom"
)

// Classification thresholds at sensitivity 1
const (
	staticThreshold       = 6.0
	slowThreshold         = 15.0
	fastThreshold         = 40.0
	shakeVariance         = 3.0
	shakeHighFrequency    = 0.70
	panConsistency        = 0.96
	panDirectionalSpread  = 2.0
	classifierWindow      = 30
	minClassifierSamples  = 5
	rotationMagnitudeGain = 200.0
	scaleMagnitudeGain    = 100.0
)

// MotionClassifier labels the inter-frame motions of a sliding window. It
// only reports; it never changes the session configuration.
type MotionClassifier struct {
	history     *TransformHistory
	sensitivity float64
}

// NewMotionClassifier creates a classifier; higher sensitivity lowers every
// threshold.
func NewMotionClassifier(sensitivity float64) *MotionClassifier {
	if sensitivity <= 0 {
		sensitivity = 1
	}
	return &MotionClassifier{
		history:     NewTransformHistory(classifierWindow),
		sensitivity: sensitivity,
	}
}

// Add records one inter-frame motion and returns the updated label
func (mc *MotionClassifier) Add(motion Transform) MotionType {
	mc.history.Push(motion)
	return mc.Classify()
}

// Reset clears the window
func (mc *MotionClassifier) Reset() {
	mc.history.Reset()
}

// magnitude folds translation, scale change and rotation into one number
func magnitude(t Transform) float64 {
	c := Decompose(t)
	return math.Hypot(c.Tx, c.Ty) + math.Abs(c.Scale-1)*scaleMagnitudeGain + math.Abs(c.Angle)*rotationMagnitudeGain
}

// Classify labels the current window
func (mc *MotionClassifier) Classify() MotionType {
	n := mc.history.Len()
	if n < minClassifierSamples {
		return MotionUnknown
	}

	mags := make([]float64, n)
	dxs := make([]float64, n)
	dys := make([]float64, n)
	for i := 0; i < n; i++ {
		t := mc.history.At(i)
		mags[i] = magnitude(t)
		dxs[i], dys[i] = t.Tx, t.Ty
	}
	mean := stat.Mean(mags, nil)
	variance := stat.Variance(dxs, nil) + stat.Variance(dys, nil)
	hf := math.Max(highFrequencyRatio(dxs), highFrequencyRatio(dys))
	s := mc.sensitivity

	if mean < staticThreshold/s {
		return MotionStatic
	}
	if hf > shakeHighFrequency && variance > shakeVariance/s {
		return MotionCameraShake
	}
	if directionalConsistency(dxs, dys) > panConsistency &&
		variance < panDirectionalSpread*mean &&
		mean >= slowThreshold/s {
		return MotionPanZoom
	}
	if mean < fastThreshold/s {
		return MotionSlow
	}
	return MotionFast
}

// directionalConsistency is the mean cosine between consecutive translations
func directionalConsistency(dxs, dys []float64) float64 {
	var sum float64
	count := 0
	for i := 1; i < len(dxs); i++ {
		n0 := math.Hypot(dxs[i-1], dys[i-1])
		n1 := math.Hypot(dxs[i], dys[i])
		if n0 < 1e-9 || n1 < 1e-9 {
			continue
		}
		sum += (dxs[i-1]*dxs[i] + dys[i-1]*dys[i]) / (n0 * n1)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// highFrequencyRatio is the share of samples whose second difference
// dominates the slower two-step trend, i.e. motion that reverses quickly.
func highFrequencyRatio(series []float64) float64 {
	if len(series) < 3 {
		return 0
	}
	hits := 0
	for i := 2; i < len(series); i++ {
		second := math.Abs(series[i] - 2*series[i-1] + series[i-2])
		trend := math.Abs(series[i]-series[i-2]) * 0.5
		if second > trend {
			hits++
		}
	}
	return float64(hits) / float64(len(series)-2)
}
