package stabilizer

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Plausible range for the uniform scale of an inter-frame motion
const (
	minPlausibleScale = 0.5
	maxPlausibleScale = 2.0
)

// minEstimatePairs is the smallest number of valid correspondences the
// estimator will work with regardless of model.
const minEstimatePairs = 4

// Estimate is the result of a robust motion fit
type Estimate struct {
	Transform  Transform `json:"transform"`
	Inliers    int       `json:"inliers"`
	Valid      int       `json:"valid"`
	Confidence float64   `json:"confidence"` // inliers / valid
	InlierMask []bool    `json:"-"`          // parallel to the valid pairs
}

// Estimator fits a global motion model to correspondences with RANSAC and
// a least-squares refit on the consensus set.
type Estimator struct {
	model      MotionModel
	threshold  float64
	maxIter    int
	confidence float64
	rng        *rand.Rand
}

// NewEstimator creates an estimator. The random source is seeded from
// cfg.Seed so identical input yields identical output.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{
		model:      cfg.MotionModel,
		threshold:  cfg.RansacThreshold,
		maxIter:    cfg.RansacIterations,
		confidence: cfg.RansacConfidence,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Estimate fits the configured model mapping Prev to Curr over the valid
// correspondences.
func (e *Estimator) Estimate(corrs []Correspondence) (Estimate, error) {
	var src, dst []Point
	for _, c := range corrs {
		if c.Valid {
			src = append(src, c.Prev)
			dst = append(dst, c.Curr)
		}
	}
	n := len(src)
	if n < minEstimatePairs {
		return Estimate{Valid: n}, fmt.Errorf("%w: %d valid correspondences, need %d", ErrDegenerateMotion, n, minEstimatePairs)
	}

	m := e.model.sampleSize()
	thrSq := e.threshold * e.threshold
	sample := make([]int, m)

	bestCount := 0
	bestErr := math.Inf(1)
	var best Transform
	needed := e.maxIter
	for iter := 0; iter < needed && iter < e.maxIter; iter++ {
		e.drawSample(sample, n)
		cand, ok := e.fitMinimal(src, dst, sample)
		if !ok {
			continue
		}
		count, sumErr := countInliers(src, dst, cand, thrSq, nil)
		if count > bestCount || (count == bestCount && sumErr < bestErr) {
			bestCount, bestErr, best = count, sumErr, cand
			needed = adaptiveIterations(float64(count)/float64(n), m, e.confidence, e.maxIter)
		}
	}
	if bestCount <= m {
		return Estimate{Valid: n}, fmt.Errorf("%w: no consensus among %d correspondences", ErrDegenerateMotion, n)
	}

	mask := make([]bool, n)
	count, _ := countInliers(src, dst, best, thrSq, mask)
	for round := 0; round < 2; round++ {
		refit, err := e.fitLeastSquares(src, dst, mask)
		if err != nil {
			break
		}
		refitMask := make([]bool, n)
		refitCount, _ := countInliers(src, dst, refit, thrSq, refitMask)
		if refitCount < count {
			break
		}
		best, mask, count = refit, refitMask, refitCount
	}

	if err := e.checkPlausible(best, src, mask); err != nil {
		return Estimate{Valid: n, Inliers: count}, err
	}

	return Estimate{
		Transform:  best,
		Inliers:    count,
		Valid:      n,
		Confidence: float64(count) / float64(n),
		InlierMask: mask,
	}, nil
}

// drawSample fills idx with distinct random indices below n
func (e *Estimator) drawSample(idx []int, n int) {
	for i := range idx {
	retry:
		for {
			v := e.rng.Intn(n)
			for j := 0; j < i; j++ {
				if idx[j] == v {
					continue retry
				}
			}
			idx[i] = v
			break
		}
	}
}

// adaptiveIterations returns the number of draws needed to hit an all-inlier
// sample with the given confidence at inlier ratio w.
func adaptiveIterations(w float64, m int, confidence float64, maxIter int) int {
	if w <= 0 {
		return maxIter
	}
	pm := math.Pow(w, float64(m))
	if pm >= 1 {
		return 1
	}
	k := math.Log(1-confidence) / math.Log(1-pm)
	if math.IsNaN(k) || k > float64(maxIter) {
		return maxIter
	}
	return int(math.Ceil(k))
}

// countInliers counts pairs whose reprojection error is within threshold and
// optionally records them in mask.
func countInliers(src, dst []Point, t Transform, thrSq float64, mask []bool) (int, float64) {
	count := 0
	var sumErr float64
	for i := range src {
		p := TransformPoint(src[i], t)
		dx, dy := p.X-dst[i].X, p.Y-dst[i].Y
		d := dx*dx + dy*dy
		in := d <= thrSq
		if mask != nil {
			mask[i] = in
		}
		if in {
			count++
			sumErr += d
		}
	}
	return count, sumErr
}

// fitMinimal solves the model exactly from a minimal sample
func (e *Estimator) fitMinimal(src, dst []Point, idx []int) (Transform, bool) {
	switch e.model {
	case ModelTranslation:
		s, d := src[idx[0]], dst[idx[0]]
		return Translation(d.X-s.X, d.Y-s.Y), true
	case ModelAffine:
		s := [3]Point{src[idx[0]], src[idx[1]], src[idx[2]]}
		d := [3]Point{dst[idx[0]], dst[idx[1]], dst[idx[2]]}
		return affineFromTriangle(s, d)
	default:
		return similarityFromPair(src[idx[0]], src[idx[1]], dst[idx[0]], dst[idx[1]])
	}
}

// similarityFromPair solves z' = s*z + t over the complex plane
func similarityFromPair(s1, s2, d1, d2 Point) (Transform, bool) {
	sx, sy := s2.X-s1.X, s2.Y-s1.Y
	dx, dy := d2.X-d1.X, d2.Y-d1.Y
	den := sx*sx + sy*sy
	if den < 1e-6 {
		return Transform{}, false
	}
	a := (dx*sx + dy*sy) / den
	b := (dy*sx - dx*sy) / den
	tx := d1.X - (a*s1.X - b*s1.Y)
	ty := d1.Y - (b*s1.X + a*s1.Y)
	return Transform{A: a, B: -b, Tx: tx, C: b, D: a, Ty: ty}, true
}

// affineFromTriangle solves the six affine coefficients by Cramer's rule
func affineFromTriangle(s, d [3]Point) (Transform, bool) {
	det := s[0].X*(s[1].Y-s[2].Y) - s[0].Y*(s[1].X-s[2].X) + (s[1].X*s[2].Y - s[2].X*s[1].Y)
	if math.Abs(det) < 1e-6 {
		return Transform{}, false
	}
	solve := func(v0, v1, v2 float64) (float64, float64, float64) {
		p := (v0*(s[1].Y-s[2].Y) - s[0].Y*(v1-v2) + (v1*s[2].Y - v2*s[1].Y)) / det
		q := (s[0].X*(v1-v2) - v0*(s[1].X-s[2].X) + (s[1].X*v2 - s[2].X*v1)) / det
		r := (s[0].X*(s[1].Y*v2-s[2].Y*v1) - s[0].Y*(s[1].X*v2-s[2].X*v1) + v0*(s[1].X*s[2].Y-s[2].X*s[1].Y)) / det
		return p, q, r
	}
	a, b, tx := solve(d[0].X, d[1].X, d[2].X)
	c, dd, ty := solve(d[0].Y, d[1].Y, d[2].Y)
	return Transform{A: a, B: b, Tx: tx, C: c, D: dd, Ty: ty}, true
}

// fitLeastSquares refits the model over the masked pairs
func (e *Estimator) fitLeastSquares(src, dst []Point, mask []bool) (Transform, error) {
	var s, d []Point
	for i, in := range mask {
		if in {
			s = append(s, src[i])
			d = append(d, dst[i])
		}
	}
	if len(s) < e.model.sampleSize() {
		return Transform{}, fmt.Errorf("%d inliers is below the minimal sample", len(s))
	}

	switch e.model {
	case ModelTranslation:
		var tx, ty float64
		for i := range s {
			tx += d[i].X - s[i].X
			ty += d[i].Y - s[i].Y
		}
		k := float64(len(s))
		return Translation(tx/k, ty/k), nil

	case ModelAffine:
		// [x y 1 0 0 0] . [a b tx c d ty] = x'
		// [0 0 0 x y 1] . [a b tx c d ty] = y'
		rows := 2 * len(s)
		A := mat.NewDense(rows, 6, nil)
		bv := mat.NewVecDense(rows, nil)
		for i := range s {
			A.SetRow(2*i, []float64{s[i].X, s[i].Y, 1, 0, 0, 0})
			A.SetRow(2*i+1, []float64{0, 0, 0, s[i].X, s[i].Y, 1})
			bv.SetVec(2*i, d[i].X)
			bv.SetVec(2*i+1, d[i].Y)
		}
		var x mat.VecDense
		if err := x.SolveVec(A, bv); err != nil {
			return Transform{}, fmt.Errorf("solving affine least squares: %w", err)
		}
		return Transform{A: x.AtVec(0), B: x.AtVec(1), Tx: x.AtVec(2), C: x.AtVec(3), D: x.AtVec(4), Ty: x.AtVec(5)}, nil

	default:
		// [x -y 1 0] . [a b tx ty] = x'
		// [y  x 0 1] . [a b tx ty] = y'
		rows := 2 * len(s)
		A := mat.NewDense(rows, 4, nil)
		bv := mat.NewVecDense(rows, nil)
		for i := range s {
			A.SetRow(2*i, []float64{s[i].X, -s[i].Y, 1, 0})
			A.SetRow(2*i+1, []float64{s[i].Y, s[i].X, 0, 1})
			bv.SetVec(2*i, d[i].X)
			bv.SetVec(2*i+1, d[i].Y)
		}
		var x mat.VecDense
		if err := x.SolveVec(A, bv); err != nil {
			return Transform{}, fmt.Errorf("solving similarity least squares: %w", err)
		}
		a, b := x.AtVec(0), x.AtVec(1)
		return Transform{A: a, B: -b, Tx: x.AtVec(2), C: b, D: a, Ty: x.AtVec(3)}, nil
	}
}

// checkPlausible rejects non-finite or implausible transforms and inlier
// sets too poorly spread to constrain the model.
func (e *Estimator) checkPlausible(t Transform, src []Point, mask []bool) error {
	if !t.IsFinite() {
		return fmt.Errorf("%w: non-finite transform", ErrDegenerateMotion)
	}
	if scale := math.Sqrt(math.Abs(t.Det())); scale < minPlausibleScale || scale > maxPlausibleScale {
		return fmt.Errorf("%w: implausible scale %.3f", ErrDegenerateMotion, scale)
	}
	if t.Det() <= 0 {
		return fmt.Errorf("%w: transform flips orientation", ErrDegenerateMotion)
	}
	if e.model == ModelTranslation {
		return nil
	}

	var in []Point
	for i, ok := range mask {
		if ok {
			in = append(in, src[i])
		}
	}
	minor, major := spread(in)
	if major < 1 {
		return fmt.Errorf("%w: inliers are clustered", ErrDegenerateMotion)
	}
	if e.model == ModelAffine && minor < 1e-3*major {
		return fmt.Errorf("%w: inliers are collinear", ErrDegenerateMotion)
	}
	return nil
}

// spread returns the eigenvalues (minor, major) of the point covariance
func spread(pts []Point) (float64, float64) {
	if len(pts) < 2 {
		return 0, 0
	}
	c := Centroid(pts)
	var sxx, syy, sxy float64
	for _, p := range pts {
		dx, dy := p.X-c.X, p.Y-c.Y
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	k := float64(len(pts))
	sxx, syy, sxy = sxx/k, syy/k, sxy/k
	half := (sxx - syy) / 2
	r := math.Sqrt(half*half + sxy*sxy)
	mean := (sxx + syy) / 2
	return mean - r, mean + r
}
