package stabilizer

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is returned for every processed frame. Frame is either the input
// itself (pass-through) or the stabilizer's output buffer, which is reused
// by the next call.
type Result struct {
	Frame   *Frame
	Status  Status
	Metrics Metrics
}

// Option configures a Stabilizer at construction
type Option func(*Stabilizer)

// WithLogger routes state transitions and per-frame diagnostics to l
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Stabilizer) {
		if l != nil {
			s.log = l
		}
	}
}

// Stabilizer runs the per-frame pipeline for a single stream: detect,
// track, estimate, smooth, compensate. It is not safe for concurrent use;
// callers serialise access per stream.
type Stabilizer struct {
	cfg    Config
	status Status
	log    logrus.FieldLogger

	detector   FeatureDetector
	tracker    MotionTracker
	estimator  *Estimator
	smoother   *Smoother
	comp       *Compensator
	classifier *MotionClassifier

	prev          *Gray
	features      FeatureSet
	generation    uint64
	detectedCount int
	sinceDetect   int

	pose       Transform
	correction Transform
	motionType MotionType

	frameCount            uint64
	consecutiveFailures   int
	consecutiveDegenerate int
	errorCount            int
	metrics               Metrics
}

// New creates an uninitialized stabilizer; call Initialize before use
func New(opts ...Option) *Stabilizer {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := &Stabilizer{log: l}
	for _, opt := range opts {
		opt(s)
	}
	s.reset(Config{})
	return s
}

// Initialize validates cfg and starts a fresh session. Calling it again
// with the same config yields a stabilizer indistinguishable from a new
// one. An invalid config leaves the stabilizer Uninitialized with no
// session state and returns an error wrapping ErrInvalidConfig.
func (s *Stabilizer) Initialize(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		s.reset(Config{})
		s.log.WithError(err).Warn("Rejected stabilizer config")
		return err
	}
	factory, _ := lookupBackend(cfg.Backend)

	s.reset(cfg)
	s.detector, s.tracker = factory(cfg)
	s.estimator = NewEstimator(cfg)
	s.smoother = NewSmoother(cfg)
	s.comp = NewCompensator(cfg)
	s.classifier = NewMotionClassifier(cfg.MotionSensitivity)

	if !cfg.EnableStabilization {
		s.setStatus(StatusDisabled, "stabilization disabled in config")
	} else {
		s.setStatus(StatusReady, "initialized")
	}
	s.metrics.Status = s.status
	return nil
}

// Reset restarts the current session with its existing config
func (s *Stabilizer) Reset() error {
	if s.status == StatusUninitialized {
		return nil
	}
	return s.Initialize(s.cfg)
}

// reset wipes all session state
func (s *Stabilizer) reset(cfg Config) {
	s.cfg = cfg
	s.status = StatusUninitialized
	s.detector, s.tracker = nil, nil
	s.estimator, s.smoother, s.comp, s.classifier = nil, nil, nil, nil
	s.prev = nil
	s.features = FeatureSet{}
	s.generation = 0
	s.detectedCount = 0
	s.sinceDetect = 0
	s.pose = Identity()
	s.correction = Identity()
	s.motionType = MotionUnknown
	s.frameCount = 0
	s.consecutiveFailures = 0
	s.consecutiveDegenerate = 0
	s.errorCount = 0
	s.metrics = Metrics{Status: StatusUninitialized, Pose: Identity(), Smoothed: Identity(), Correction: Identity(), CropScale: 1, TransformStability: 1, MotionType: MotionUnknown}
}

// Status returns the current lifecycle state
func (s *Stabilizer) Status() Status {
	return s.status
}

// Metrics returns the snapshot of the most recent frame
func (s *Stabilizer) Metrics() Metrics {
	return s.metrics
}

// Config returns the active session config
func (s *Stabilizer) Config() Config {
	return s.cfg
}

// Features returns a copy of the current reference feature set
func (s *Stabilizer) Features() FeatureSet {
	pts := make([]FeaturePoint, len(s.features.Points))
	copy(pts, s.features.Points)
	return FeatureSet{Generation: s.features.Generation, Points: pts}
}

func (s *Stabilizer) setStatus(next Status, reason string) {
	if s.status == next {
		return
	}
	s.log.WithFields(logrus.Fields{
		"from":   s.status.String(),
		"to":     next.String(),
		"reason": reason,
		"frame":  s.frameCount,
	}).Info("Stabilizer status changed")
	s.status = next
}

// ProcessFrame stabilizes one frame. Per-frame problems never surface as
// errors; they are reflected in the returned status and metrics and the
// frame is passed through unmodified.
func (s *Stabilizer) ProcessFrame(f *Frame) Result {
	start := time.Now()
	s.frameCount++
	m := Metrics{FrameIndex: s.frameCount}

	if s.status == StatusUninitialized || s.status == StatusDisabled {
		return s.finish(f, Identity(), &m, start)
	}
	if err := f.Validate(); err != nil {
		s.errorCount++
		m.LastError = err.Error()
		s.log.WithError(err).Debug("Passing through invalid frame")
		return s.finish(f, Identity(), &m, start)
	}

	gray := LumaFromFrame(f)
	if s.prev != nil && (s.prev.Width != gray.Width || s.prev.Height != gray.Height) {
		s.log.WithFields(logrus.Fields{
			"from": [2]int{s.prev.Width, s.prev.Height},
			"to":   [2]int{gray.Width, gray.Height},
		}).Info("Frame size changed, resetting reference")
		s.prev = nil
		s.features = FeatureSet{Generation: s.features.Generation}
		s.correction = Identity()
		s.comp.Reset()
	}

	// No reference yet: this frame becomes the reference and passes through.
	if s.prev == nil || s.features.Len() == 0 {
		t0 := time.Now()
		err := s.redetect(gray, &m)
		m.DetectionTimeMs = millis(time.Since(t0))
		s.prev = gray
		if err != nil {
			s.degrade(err, &m)
			return s.finish(f, Identity(), &m, start)
		}
		if s.status == StatusReady {
			s.setStatus(StatusProcessing, "reference features detected")
		}
		return s.finish(f, Identity(), &m, start)
	}

	t1 := time.Now()
	corrs, err := s.tracker.Track(s.prev, gray, s.features.Points)
	m.TrackingTimeMs = millis(time.Since(t1))
	s.prev = gray

	survivors := make([]FeaturePoint, 0, len(corrs))
	for i, c := range corrs {
		if !c.Valid {
			continue
		}
		fp := FeaturePoint{X: c.Curr.X, Y: c.Curr.Y, Generation: c.Generation}
		if i < len(s.features.Points) {
			fp.Response = s.features.Points[i].Response
		}
		survivors = append(survivors, fp)
	}
	m.TrackedFeatures = len(survivors)
	m.ValidCorrespondences = len(survivors)
	m.FeaturesLost = len(corrs) - len(survivors)
	if len(corrs) > 0 {
		m.TrackingSuccessRate = float64(len(survivors)) / float64(len(corrs))
	}

	if err != nil {
		// Scene cut or heavy occlusion: start over from this frame.
		s.features = FeatureSet{Generation: s.features.Generation}
		s.degrade(err, &m)
		return s.finish(f, Identity(), &m, start)
	}

	t2 := time.Now()
	est, err := s.estimator.Estimate(corrs)
	m.EstimationTimeMs = millis(time.Since(t2))
	m.Inliers = est.Inliers
	m.Confidence = est.Confidence

	s.features = FeatureSet{Generation: s.features.Generation, Points: survivors}
	s.sinceDetect++

	switch {
	case err != nil:
		s.consecutiveDegenerate++
		s.countFailure(err, &m)
		if s.status != StatusDisabled && s.consecutiveDegenerate >= s.cfg.DegenerateTolerance {
			s.setStatus(StatusDegraded, "repeated degenerate motion")
			s.features = FeatureSet{Generation: s.features.Generation}
		}
	case est.Confidence < s.cfg.ConfidenceGate:
		s.log.WithFields(logrus.Fields{
			"confidence": est.Confidence,
			"gate":       s.cfg.ConfidenceGate,
		}).Debug("Low confidence motion, keeping previous correction")
	default:
		t3 := time.Now()
		s.pose = Compose(est.Transform, s.pose)
		smoothed, _ := s.smoother.Update(s.pose, est.Confidence)
		s.correction = s.comp.Correction(s.pose, smoothed, f.Width, f.Height)
		s.motionType = s.classifier.Add(est.Transform)
		m.SmoothingTimeMs = millis(time.Since(t3))
		m.Motion = est.Transform
		s.consecutiveFailures = 0
		s.consecutiveDegenerate = 0
		if s.status != StatusProcessing {
			s.setStatus(StatusProcessing, "tracking recovered")
		}
	}

	if s.status != StatusDisabled && s.needsRefresh() {
		t4 := time.Now()
		if err := s.redetect(gray, &m); err != nil {
			s.log.WithError(err).Debug("Feature refresh failed, keeping survivors")
		}
		m.DetectionTimeMs = millis(time.Since(t4))
	}

	if s.status == StatusDisabled || s.status == StatusDegraded {
		return s.finish(f, Identity(), &m, start)
	}

	t5 := time.Now()
	out, err := s.comp.Apply(f, s.correction)
	m.CompensationTimeMs = millis(time.Since(t5))
	if err != nil {
		s.errorCount++
		m.LastError = err.Error()
		s.log.WithError(err).Warn("Warp failed, passing frame through")
		return s.finish(f, Identity(), &m, start)
	}
	return s.finish(out, s.correction, &m, start)
}

// needsRefresh reports whether the reference features should be re-detected
func (s *Stabilizer) needsRefresh() bool {
	if float64(s.features.Len()) < s.cfg.RefreshFraction*float64(s.detectedCount) {
		return true
	}
	return s.cfg.RefreshInterval > 0 && s.sinceDetect >= s.cfg.RefreshInterval
}

// redetect replaces the reference feature set with a fresh generation.
// On failure the current set is left untouched.
func (s *Stabilizer) redetect(gray *Gray, m *Metrics) error {
	pts, err := s.detector.Detect(gray, s.cfg.MaxFeatures)
	if err != nil {
		return err
	}
	s.generation++
	for i := range pts {
		pts[i].Generation = s.generation
	}
	s.features = FeatureSet{Generation: s.generation, Points: pts}
	s.detectedCount = len(pts)
	s.sinceDetect = 0
	m.FeaturesRefreshed = len(pts)
	return nil
}

// degrade records a detection or tracking failure and drops to Degraded
func (s *Stabilizer) degrade(err error, m *Metrics) {
	s.countFailure(err, m)
	if s.status != StatusDisabled {
		s.setStatus(StatusDegraded, err.Error())
	}
}

// countFailure tracks consecutive failures and escalates to Disabled once
// the configured limit is exceeded.
func (s *Stabilizer) countFailure(err error, m *Metrics) {
	s.consecutiveFailures++
	s.errorCount++
	m.LastError = err.Error()
	s.log.WithError(err).WithField("consecutive", s.consecutiveFailures).Debug("Frame failed")
	if s.consecutiveFailures > s.cfg.MaxConsecutiveFailures {
		s.setStatus(StatusDisabled, "too many consecutive failures")
	}
}

// finish fills the session-wide fields of m and records it as the latest
// snapshot.
func (s *Stabilizer) finish(out *Frame, applied Transform, m *Metrics, start time.Time) Result {
	m.Status = s.status
	m.Generation = s.features.Generation
	m.Pose = s.pose
	m.Smoothed = Identity()
	if s.smoother != nil {
		m.Smoothed = s.smoother.Smoothed()
	}
	m.Correction = applied
	m.TransformStability = transformStability(applied)
	m.CropScale = 1
	if s.comp != nil && applied != Identity() {
		m.CropScale = s.comp.CropScale()
	}
	m.MotionType = s.motionType
	m.ConsecutiveFailures = s.consecutiveFailures
	m.ErrorCount = s.errorCount
	m.ProcessingTimeMs = millis(time.Since(start))
	s.metrics = *m
	return Result{Frame: out, Status: s.status, Metrics: *m}
}
