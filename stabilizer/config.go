package stabilizer

import (
	"fmt"
	"sort"
	"strings"
)

// Frame size limits accepted by the pipeline
const (
	MinFrameSize   = 32
	MaxFrameWidth  = 7680
	MaxFrameHeight = 4320
)

// Config holds per-session stabilizer settings. A Config is never mutated
// after Initialize; a new session is started by calling Initialize again.
type Config struct {
	EnableStabilization bool `yaml:"enable_stabilization" json:"enable_stabilization"`
	SmoothingRadius     int  `yaml:"smoothing_radius" json:"smoothing_radius"`
	MaxFeatures         int  `yaml:"max_features" json:"max_features"`

	// Detection
	MinFeatures     int     `yaml:"min_features" json:"min_features"`
	QualityLevel    float64 `yaml:"quality_level" json:"quality_level"`
	MinDistance     float64 `yaml:"min_distance" json:"min_distance"`
	BlockSize       int     `yaml:"block_size" json:"block_size"`
	RefreshFraction float64 `yaml:"refresh_fraction" json:"refresh_fraction"`
	RefreshInterval int     `yaml:"refresh_interval" json:"refresh_interval"` // frames; 0 disables periodic refresh

	// Tracking
	PyramidLevels      int     `yaml:"pyramid_levels" json:"pyramid_levels"`
	WindowSize         int     `yaml:"window_size" json:"window_size"`
	MaxIterations      int     `yaml:"max_iterations" json:"max_iterations"`
	Epsilon            float64 `yaml:"epsilon" json:"epsilon"`
	ErrorThreshold     float64 `yaml:"error_threshold" json:"error_threshold"`
	MinCorrespondences int     `yaml:"min_correspondences" json:"min_correspondences"`

	// Estimation
	MotionModel      MotionModel `yaml:"motion_model" json:"motion_model"`
	RansacThreshold  float64     `yaml:"ransac_threshold" json:"ransac_threshold"`
	RansacIterations int         `yaml:"ransac_iterations" json:"ransac_iterations"`
	RansacConfidence float64     `yaml:"ransac_confidence" json:"ransac_confidence"`
	Seed             int64       `yaml:"seed" json:"seed"`

	// Smoothing
	ConfidenceGate float64   `yaml:"confidence_gate" json:"confidence_gate"`
	Weighting      Weighting `yaml:"weighting" json:"weighting"`
	DecayFactor    float64   `yaml:"decay_factor" json:"decay_factor"`

	// Compensation
	Border        BorderMode    `yaml:"border" json:"border"`
	MaxCorrection float64       `yaml:"max_correction" json:"max_correction"` // percent of frame size
	MaxCropScale  float64       `yaml:"max_crop_scale" json:"max_crop_scale"`
	Interpolation Interpolation `yaml:"interpolation" json:"interpolation"`

	// Failure handling
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	DegenerateTolerance    int `yaml:"degenerate_tolerance" json:"degenerate_tolerance"`

	MotionSensitivity float64 `yaml:"motion_sensitivity" json:"motion_sensitivity"`
	Backend           string  `yaml:"backend" json:"backend"`
}

// DefaultConfig returns the streaming-oriented defaults
func DefaultConfig() Config {
	return Config{
		EnableStabilization: true,
		SmoothingRadius:     30,
		MaxFeatures:         200,

		MinFeatures:     4,
		QualityLevel:    0.01,
		MinDistance:     10,
		BlockSize:       3,
		RefreshFraction: 0.5,
		RefreshInterval: 25,

		PyramidLevels:      3,
		WindowSize:         21,
		MaxIterations:      30,
		Epsilon:            0.01,
		ErrorThreshold:     30,
		MinCorrespondences: 4,

		MotionModel:      ModelSimilarity,
		RansacThreshold:  3.0,
		RansacIterations: 2000,
		RansacConfidence: 0.995,
		Seed:             1,

		ConfidenceGate: 0.3,
		Weighting:      WeightUniform,
		DecayFactor:    0.9,

		Border:        BorderCrop,
		MaxCorrection: 20,
		MaxCropScale:  1.25,
		Interpolation: InterpBilinear,

		MaxConsecutiveFailures: 10,
		DegenerateTolerance:    5,

		MotionSensitivity: 1.0,
		Backend:           BackendNative,
	}
}

// Validate checks every field against its allowed range. All failures wrap
// ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.SmoothingRadius <= 0 || c.SmoothingRadius > 200 {
		return invalid("smoothing_radius must be in [1, 200], got %d", c.SmoothingRadius)
	}
	if c.MaxFeatures <= 0 || c.MaxFeatures > 2000 {
		return invalid("max_features must be in [1, 2000], got %d", c.MaxFeatures)
	}
	if c.MinFeatures < 1 || c.MinFeatures > c.MaxFeatures {
		return invalid("min_features must be in [1, max_features], got %d", c.MinFeatures)
	}
	if c.QualityLevel <= 0 || c.QualityLevel >= 1 {
		return invalid("quality_level must be in (0, 1), got %g", c.QualityLevel)
	}
	if c.MinDistance < 0 {
		return invalid("min_distance must not be negative, got %g", c.MinDistance)
	}
	if c.BlockSize < 3 || c.BlockSize > 31 || c.BlockSize%2 == 0 {
		return invalid("block_size must be odd and in [3, 31], got %d", c.BlockSize)
	}
	if c.RefreshFraction < 0 || c.RefreshFraction > 1 {
		return invalid("refresh_fraction must be in [0, 1], got %g", c.RefreshFraction)
	}
	if c.RefreshInterval < 0 {
		return invalid("refresh_interval must not be negative, got %d", c.RefreshInterval)
	}
	if c.PyramidLevels < 1 || c.PyramidLevels > 8 {
		return invalid("pyramid_levels must be in [1, 8], got %d", c.PyramidLevels)
	}
	if c.WindowSize < 5 || c.WindowSize > 63 || c.WindowSize%2 == 0 {
		return invalid("window_size must be odd and in [5, 63], got %d", c.WindowSize)
	}
	if c.MaxIterations < 1 {
		return invalid("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.Epsilon <= 0 {
		return invalid("epsilon must be positive, got %g", c.Epsilon)
	}
	if c.ErrorThreshold <= 0 {
		return invalid("error_threshold must be positive, got %g", c.ErrorThreshold)
	}
	if c.MinCorrespondences < 4 {
		return invalid("min_correspondences must be at least 4, got %d", c.MinCorrespondences)
	}
	if c.MinCorrespondences > c.MinFeatures {
		return invalid("min_correspondences (%d) must not exceed min_features (%d)", c.MinCorrespondences, c.MinFeatures)
	}
	switch c.MotionModel {
	case ModelTranslation, ModelSimilarity, ModelAffine:
	default:
		return invalid("unknown motion_model %q", c.MotionModel)
	}
	if c.RansacThreshold <= 0 {
		return invalid("ransac_threshold must be positive, got %g", c.RansacThreshold)
	}
	if c.RansacIterations < 1 {
		return invalid("ransac_iterations must be positive, got %d", c.RansacIterations)
	}
	if c.RansacConfidence <= 0 || c.RansacConfidence >= 1 {
		return invalid("ransac_confidence must be in (0, 1), got %g", c.RansacConfidence)
	}
	if c.ConfidenceGate < 0 || c.ConfidenceGate > 1 {
		return invalid("confidence_gate must be in [0, 1], got %g", c.ConfidenceGate)
	}
	switch c.Weighting {
	case WeightUniform, WeightLinear:
	case WeightExponential:
		if c.DecayFactor <= 0 || c.DecayFactor > 1 {
			return invalid("decay_factor must be in (0, 1], got %g", c.DecayFactor)
		}
	default:
		return invalid("unknown weighting %q", c.Weighting)
	}
	switch c.Border {
	case BorderCrop, BorderPad, BorderScaleFit:
	default:
		return invalid("unknown border %q", c.Border)
	}
	if c.MaxCorrection <= 0 || c.MaxCorrection > 50 {
		return invalid("max_correction must be in (0, 50] percent, got %g", c.MaxCorrection)
	}
	if c.MaxCropScale < 1 || c.MaxCropScale > 2 {
		return invalid("max_crop_scale must be in [1, 2], got %g", c.MaxCropScale)
	}
	switch c.Interpolation {
	case InterpNearest, InterpBilinear, InterpCatmullRom:
	default:
		return invalid("unknown interpolation %q", c.Interpolation)
	}
	if c.MaxConsecutiveFailures < 1 {
		return invalid("max_consecutive_failures must be positive, got %d", c.MaxConsecutiveFailures)
	}
	if c.DegenerateTolerance < 1 {
		return invalid("degenerate_tolerance must be positive, got %d", c.DegenerateTolerance)
	}
	if c.MotionSensitivity <= 0 {
		return invalid("motion_sensitivity must be positive, got %g", c.MotionSensitivity)
	}
	if _, ok := lookupBackend(c.Backend); !ok {
		return invalid("unknown backend %q (available: %s)", c.Backend, strings.Join(Backends(), ", "))
	}
	return nil
}

// Preset names
const (
	PresetCustom    = "custom"
	PresetGaming    = "gaming"
	PresetStreaming = "streaming"
	PresetRecording = "recording"
)

// GamingConfig favours low latency: short window, fewer features, eager refresh
func GamingConfig() Config {
	c := DefaultConfig()
	c.SmoothingRadius = 25
	c.MaxFeatures = 150
	c.QualityLevel = 0.015
	c.RefreshFraction = 0.6
	c.MaxCropScale = 1.15
	return c
}

// StreamingConfig is the balanced default
func StreamingConfig() Config {
	return DefaultConfig()
}

// RecordingConfig favours quality: long window, dense features, wider search
func RecordingConfig() Config {
	c := DefaultConfig()
	c.SmoothingRadius = 50
	c.MaxFeatures = 400
	c.QualityLevel = 0.005
	c.RefreshFraction = 0.4
	c.WindowSize = 31
	c.PyramidLevels = 4
	c.Interpolation = InterpCatmullRom
	return c
}

var presets = map[string]func() Config{
	PresetCustom:    DefaultConfig,
	PresetGaming:    GamingConfig,
	PresetStreaming: StreamingConfig,
	PresetRecording: RecordingConfig,
}

// PresetConfig returns the built-in preset with the given name
func PresetConfig(name string) (Config, error) {
	factory, ok := presets[strings.ToLower(name)]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset %q", name)
	}
	return factory(), nil
}

// PresetNames lists the built-in presets in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
