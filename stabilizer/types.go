package stabilizer

import (
	"fmt"
	"strings"
)

// Point represents a 2D coordinate in pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform for 2D motion: x' = ax + by + tx, y' = cx + dy + ty
type Transform struct {
	A  float64 `json:"a" yaml:"a"`
	B  float64 `json:"b" yaml:"b"`
	Tx float64 `json:"tx" yaml:"tx"`
	C  float64 `json:"c" yaml:"c"`
	D  float64 `json:"d" yaml:"d"`
	Ty float64 `json:"ty" yaml:"ty"`
}

// Identity returns an identity transform (no motion)
func Identity() Transform {
	return Transform{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// FeaturePoint is a trackable corner in a reference frame.
type FeaturePoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Response   float64 `json:"response"`
	Generation uint64  `json:"generation"`
}

// Point returns the feature location
func (f FeaturePoint) Point() Point {
	return Point{X: f.X, Y: f.Y}
}

// FeatureSet is the current set of tracked features. A re-detection replaces
// the whole set and bumps Generation.
type FeatureSet struct {
	Generation uint64         `json:"generation"`
	Points     []FeaturePoint `json:"points"`
}

// Len returns the number of features in the set
func (s FeatureSet) Len() int {
	return len(s.Points)
}

// Correspondence pairs a feature in the reference frame with its tracked
// location in the current frame.
type Correspondence struct {
	Prev       Point   `json:"prev"`
	Curr       Point   `json:"curr"`
	Valid      bool    `json:"valid"`
	Error      float64 `json:"error"`
	Generation uint64  `json:"generation"`
}

// Status is the orchestrator lifecycle state
type Status int

const (
	StatusUninitialized Status = iota
	StatusReady
	StatusProcessing
	StatusDegraded
	StatusDisabled
)

var statusNames = map[Status]string{
	StatusUninitialized: "uninitialized",
	StatusReady:         "ready",
	StatusProcessing:    "processing",
	StatusDegraded:      "degraded",
	StatusDisabled:      "disabled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status as its lowercase name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name
func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// MotionModel selects the degrees of freedom fitted by the estimator
type MotionModel string

const (
	ModelTranslation MotionModel = "translation"
	ModelSimilarity  MotionModel = "similarity"
	ModelAffine      MotionModel = "affine"
)

// sampleSize is the minimal number of correspondences that determine the model
func (m MotionModel) sampleSize() int {
	switch m {
	case ModelTranslation:
		return 1
	case ModelAffine:
		return 3
	default:
		return 2
	}
}

// Weighting selects how history entries are weighted by the smoother
type Weighting string

const (
	WeightUniform     Weighting = "uniform"
	WeightLinear      Weighting = "linear"
	WeightExponential Weighting = "exponential"
)

// BorderMode controls how exposed borders are handled after warping
type BorderMode string

const (
	BorderCrop     BorderMode = "crop"
	BorderPad      BorderMode = "pad"
	BorderScaleFit BorderMode = "scale_fit"
)

// Interpolation selects the resampling kernel
type Interpolation string

const (
	InterpNearest    Interpolation = "nearest"
	InterpBilinear   Interpolation = "bilinear"
	InterpCatmullRom Interpolation = "catmullrom"
)
