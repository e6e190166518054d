package stabilizer

import (
	"math"
	"time"
)

// Metrics is a per-frame snapshot of the pipeline. It is never persisted by
// the stabilizer itself.
type Metrics struct {
	FrameIndex uint64 `json:"frameIndex"`
	Status     Status `json:"status"`

	TrackedFeatures      int     `json:"trackedFeatures"`
	ValidCorrespondences int     `json:"validCorrespondences"`
	Inliers              int     `json:"inliers"`
	Confidence           float64 `json:"confidence"`
	FeaturesLost         int     `json:"featuresLost"`
	FeaturesRefreshed    int     `json:"featuresRefreshed"`
	Generation           uint64  `json:"generation"`
	TrackingSuccessRate  float64 `json:"trackingSuccessRate"`

	Motion     Transform `json:"motion"`     // inter-frame motion, previous to current
	Pose       Transform `json:"pose"`       // accumulated camera trajectory
	Smoothed   Transform `json:"smoothed"`   // low-pass filtered trajectory
	Correction Transform `json:"correction"` // applied warp, input to output

	TransformStability  float64    `json:"transformStability"`
	CropScale           float64    `json:"cropScale"`
	MotionType          MotionType `json:"motionType"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	ErrorCount          int        `json:"errorCount"`
	LastError           string     `json:"lastError,omitempty"`

	ProcessingTimeMs   float64 `json:"processingTimeMs"`
	DetectionTimeMs    float64 `json:"detectionTimeMs"`
	TrackingTimeMs     float64 `json:"trackingTimeMs"`
	EstimationTimeMs   float64 `json:"estimationTimeMs"`
	SmoothingTimeMs    float64 `json:"smoothingTimeMs"`
	CompensationTimeMs float64 `json:"compensationTimeMs"`
}

// transformStability maps the correction's translation to (0, 1]; 1 means
// no correction was needed.
func transformStability(correction Transform) float64 {
	return math.Max(0, 1-math.Hypot(correction.Tx, correction.Ty)/100)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
