//go:build withcv

package stabilizer

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// BackendOpenCV runs detection and tracking through OpenCV. It is only
// compiled with the withcv build tag.
const BackendOpenCV = "opencv"

func init() {
	RegisterBackend(BackendOpenCV, func(cfg Config) (FeatureDetector, MotionTracker) {
		return &cvDetector{cfg: cfg}, &cvTracker{cfg: cfg}
	})
}

// grayMat copies img into a new single-channel 8-bit Mat
func grayMat(img *Gray) (gocv.Mat, error) {
	buf := make([]byte, len(img.Pix))
	for i, v := range img.Pix {
		buf[i] = uint8(math.Max(0, math.Min(255, float64(v)+0.5)))
	}
	return gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8U, buf)
}

// pointsMat packs pts into an N x 1 CV_32FC2 Mat
func pointsMat(pts []FeaturePoint) (gocv.Mat, error) {
	buf := make([]byte, len(pts)*8)
	for i, p := range pts {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(float32(p.Y)))
	}
	return gocv.NewMatFromBytes(len(pts), 1, gocv.MatTypeCV32FC2, buf)
}

type cvDetector struct {
	cfg Config
}

func (d *cvDetector) Detect(img *Gray, max int) ([]FeaturePoint, error) {
	m, err := grayMat(img)
	if err != nil {
		return nil, fmt.Errorf("opencv detect: %w", err)
	}
	defer m.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(m, &corners, max, d.cfg.QualityLevel, d.cfg.MinDistance)

	pts := make([]FeaturePoint, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		// OpenCV returns corners strongest first; keep that order as the response
		pts = append(pts, FeaturePoint{X: float64(v[0]), Y: float64(v[1]), Response: float64(corners.Rows() - i)})
	}
	if len(pts) < d.cfg.MinFeatures {
		return pts, fmt.Errorf("%w: found %d, need %d", ErrInsufficientFeatures, len(pts), d.cfg.MinFeatures)
	}
	return pts, nil
}

type cvTracker struct {
	cfg Config
}

func (t *cvTracker) Track(prev, curr *Gray, pts []FeaturePoint) ([]Correspondence, error) {
	if prev.Width != curr.Width || prev.Height != curr.Height {
		return nil, fmt.Errorf("%w: frame size changed", ErrTrackingFailure)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: no features to track", ErrTrackingFailure)
	}

	pm, err := grayMat(prev)
	if err != nil {
		return nil, fmt.Errorf("opencv track: %w", err)
	}
	defer pm.Close()
	cm, err := grayMat(curr)
	if err != nil {
		return nil, fmt.Errorf("opencv track: %w", err)
	}
	defer cm.Close()
	prevPts, err := pointsMat(pts)
	if err != nil {
		return nil, fmt.Errorf("opencv track: %w", err)
	}
	defer prevPts.Close()

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, t.cfg.MaxIterations, t.cfg.Epsilon)
	win := image.Pt(t.cfg.WindowSize, t.cfg.WindowSize)
	gocv.CalcOpticalFlowPyrLKWithParams(pm, cm, prevPts, nextPts, &status, &errMat, win, t.cfg.PyramidLevels-1, criteria, 0, minEigenPerPixel)

	out := make([]Correspondence, len(pts))
	valid := 0
	for i, p := range pts {
		out[i] = Correspondence{Prev: p.Point(), Generation: p.Generation}
		if i >= status.Rows() || status.GetUCharAt(i, 0) != 1 {
			continue
		}
		v := nextPts.GetVecfAt(i, 0)
		out[i].Curr = Point{X: float64(v[0]), Y: float64(v[1])}
		out[i].Error = float64(errMat.GetFloatAt(i, 0))
		out[i].Valid = out[i].Error <= t.cfg.ErrorThreshold && curr.InBounds(out[i].Curr.X, out[i].Curr.Y)
		if out[i].Valid {
			valid++
		}
	}
	if valid < t.cfg.MinCorrespondences {
		return out, fmt.Errorf("%w: %d valid correspondences, need %d", ErrTrackingFailure, valid, t.cfg.MinCorrespondences)
	}
	return out, nil
}
