package stabilizer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeCorrespondences maps n random points in a 320x240 frame through truth.
// The first outliers of them are instead displaced 20-60px in a random
// direction; inliers get uniform noise of +-noise.
func makeCorrespondences(rng *rand.Rand, n, outliers int, truth Transform, noise float64) []Correspondence {
	corrs := make([]Correspondence, n)
	for i := range corrs {
		p := Point{X: rng.Float64() * 320, Y: rng.Float64() * 240}
		q := TransformPoint(p, truth)
		if i < outliers {
			angle := rng.Float64() * 2 * math.Pi
			r := 20 + rng.Float64()*40
			q.X += r * math.Cos(angle)
			q.Y += r * math.Sin(angle)
		} else {
			q.X += (rng.Float64()*2 - 1) * noise
			q.Y += (rng.Float64()*2 - 1) * noise
		}
		corrs[i] = Correspondence{Prev: p, Curr: q, Valid: true}
	}
	return corrs
}

// maxReprojection is the largest distance between where got and want send
// the corners of a 320x240 frame.
func maxReprojection(got, want Transform) float64 {
	var worst float64
	for _, c := range [...]Point{{0, 0}, {320, 0}, {0, 240}, {320, 240}} {
		worst = math.Max(worst, Distance(TransformPoint(c, got), TransformPoint(c, want)))
	}
	return worst
}

func TestEstimate_RecoversSimilarity(t *testing.T) {
	truth := About(Compose(Rotation(0.02), Scale(1.01, 1.01)), Point{X: 160, Y: 120})
	truth = Compose(Translation(5, -3), truth)
	corrs := makeCorrespondences(rand.New(rand.NewSource(1)), 100, 0, truth, 0)

	est, err := NewEstimator(DefaultConfig()).Estimate(corrs)
	require.NoError(t, err)
	assert.Equal(t, 100, est.Inliers)
	assert.InDelta(t, 1.0, est.Confidence, 1e-9)
	assert.Less(t, maxReprojection(est.Transform, truth), 1e-6)
}

func TestEstimate_EightyPercentOutliers(t *testing.T) {
	truth := Compose(Translation(6, 2), About(Rotation(0.01), Point{X: 160, Y: 120}))
	corrs := makeCorrespondences(rand.New(rand.NewSource(2)), 100, 80, truth, 0.3)

	est, err := NewEstimator(DefaultConfig()).Estimate(corrs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, est.Inliers, 20)
	assert.InDelta(t, 0.2, est.Confidence, 0.03)
	assert.Less(t, maxReprojection(est.Transform, truth), 1.0)

	for i := 0; i < 80; i++ {
		assert.False(t, est.InlierMask[i], "outlier %d marked as inlier", i)
	}
}

func TestEstimate_Models(t *testing.T) {
	tests := []struct {
		name  string
		model MotionModel
		truth Transform
	}{
		{"translation", ModelTranslation, Translation(-4.5, 7.25)},
		{"similarity", ModelSimilarity, Compose(Translation(3, 1), Compose(Rotation(-0.03), Scale(0.98, 0.98)))},
		{"affine", ModelAffine, Transform{A: 1.02, B: 0.03, Tx: 2, C: -0.01, D: 0.97, Ty: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MotionModel = tt.model
			corrs := makeCorrespondences(rand.New(rand.NewSource(3)), 60, 15, tt.truth, 0.1)

			est, err := NewEstimator(cfg).Estimate(corrs)
			require.NoError(t, err)
			assert.Less(t, maxReprojection(est.Transform, tt.truth), 0.5)
			assert.GreaterOrEqual(t, est.Inliers, 45)
		})
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	corrs := makeCorrespondences(rand.New(rand.NewSource(4)), 80, 40, Translation(3, 3), 0.5)

	a, errA := NewEstimator(DefaultConfig()).Estimate(corrs)
	b, errB := NewEstimator(DefaultConfig()).Estimate(corrs)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestEstimate_IgnoresInvalid(t *testing.T) {
	corrs := makeCorrespondences(rand.New(rand.NewSource(5)), 40, 0, Translation(2, 0), 0)
	// invalid entries carry garbage that must not influence the fit
	for i := 0; i < 10; i++ {
		corrs = append(corrs, Correspondence{Prev: Point{X: 1, Y: 1}, Curr: Point{X: 200, Y: 200}})
	}

	est, err := NewEstimator(DefaultConfig()).Estimate(corrs)
	require.NoError(t, err)
	assert.Equal(t, 40, est.Valid)
	assert.Equal(t, 40, est.Inliers)
}

// ---------------------------------------------------------------------------
// Degenerate input
// ---------------------------------------------------------------------------

func TestEstimate_Degenerate(t *testing.T) {
	same := make([]Correspondence, 20)
	for i := range same {
		same[i] = Correspondence{Prev: Point{X: 50, Y: 50}, Curr: Point{X: 52, Y: 50}, Valid: true}
	}
	line := make([]Correspondence, 20)
	for i := range line {
		x := float64(i * 10)
		line[i] = Correspondence{Prev: Point{X: x, Y: x}, Curr: Point{X: x + 1, Y: x}, Valid: true}
	}
	mirrored := make([]Correspondence, 30)
	rng := rand.New(rand.NewSource(6))
	for i := range mirrored {
		p := Point{X: rng.Float64() * 320, Y: rng.Float64() * 240}
		mirrored[i] = Correspondence{Prev: p, Curr: Point{X: 320 - p.X, Y: p.Y}, Valid: true}
	}

	tests := []struct {
		name  string
		model MotionModel
		corrs []Correspondence
	}{
		{"too few", ModelSimilarity, makeCorrespondences(rng, 3, 0, Identity(), 0)},
		{"coincident points", ModelSimilarity, same},
		{"collinear affine", ModelAffine, line},
		{"mirrored affine", ModelAffine, mirrored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MotionModel = tt.model
			_, err := NewEstimator(cfg).Estimate(tt.corrs)
			assert.ErrorIs(t, err, ErrDegenerateMotion)
		})
	}
}

func TestAdaptiveIterations(t *testing.T) {
	assert.Equal(t, 1, adaptiveIterations(1, 2, 0.995, 2000))
	assert.Equal(t, 2000, adaptiveIterations(0, 2, 0.995, 2000))
	// 20% inliers, pairs: log(0.005)/log(0.96) ~ 130
	assert.InDelta(t, 130, adaptiveIterations(0.2, 2, 0.995, 2000), 2)
}
