package stabilizer

import "errors"

var (
	// ErrInsufficientFeatures is returned when the detector finds too few corners
	ErrInsufficientFeatures = errors.New("insufficient features")
	// ErrTrackingFailure is returned when too many features are lost between frames
	ErrTrackingFailure = errors.New("tracking failure")
	// ErrDegenerateMotion is returned when no reliable transform can be estimated
	ErrDegenerateMotion = errors.New("degenerate motion")
	// ErrInvalidConfig is returned by Initialize for out-of-range settings
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidFrame is returned for frames whose geometry or buffers are inconsistent
	ErrInvalidFrame = errors.New("invalid frame")
)
