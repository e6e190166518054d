package stabilizer

import (
	"fmt"
	"math"
)

// minEigenPerPixel rejects windows whose gradient matrix is too weak to
// solve, averaged per window pixel.
const minEigenPerPixel = 1e-3

// Tracker implements pyramidal Lucas-Kanade sparse optical flow. It keeps
// the pyramids of the last two images it saw so a frame is only decomposed
// once when it moves from current to reference.
type Tracker struct {
	levels             int
	halfWin            int
	maxIterations      int
	epsilon            float64
	errorThreshold     float64
	minCorrespondences int

	cache [2]struct {
		src *Gray
		pyr *Pyramid
	}
}

// NewTracker creates a tracker from the tracking fields of cfg
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		levels:             cfg.PyramidLevels,
		halfWin:            cfg.WindowSize / 2,
		maxIterations:      cfg.MaxIterations,
		epsilon:            cfg.Epsilon,
		errorThreshold:     cfg.ErrorThreshold,
		minCorrespondences: cfg.MinCorrespondences,
	}
}

// pyramid returns the cached pyramid for img or builds one
func (t *Tracker) pyramid(img *Gray) *Pyramid {
	for _, c := range t.cache {
		if c.src == img {
			return c.pyr
		}
	}
	return NewPyramid(img, t.levels)
}

// Track follows pts from prev into curr. The result has one entry per input
// point in the same order. When fewer than the configured minimum survive,
// the correspondences are still returned together with ErrTrackingFailure.
func (t *Tracker) Track(prev, curr *Gray, pts []FeaturePoint) ([]Correspondence, error) {
	if prev.Width != curr.Width || prev.Height != curr.Height {
		return nil, fmt.Errorf("%w: frame size changed from %dx%d to %dx%d",
			ErrTrackingFailure, prev.Width, prev.Height, curr.Width, curr.Height)
	}
	pp := t.pyramid(prev)
	cp := t.pyramid(curr)
	t.cache[0].src, t.cache[0].pyr = prev, pp
	t.cache[1].src, t.cache[1].pyr = curr, cp

	levels := minInt(pp.Levels(), cp.Levels())
	out := make([]Correspondence, len(pts))
	valid := 0
	for i, fp := range pts {
		c := t.trackPoint(pp, cp, levels, fp)
		out[i] = c
		if c.Valid {
			valid++
		}
	}
	if valid < t.minCorrespondences {
		return out, fmt.Errorf("%w: %d of %d features tracked, need %d",
			ErrTrackingFailure, valid, len(pts), t.minCorrespondences)
	}
	return out, nil
}

// trackPoint runs coarse-to-fine LK for a single feature
func (t *Tracker) trackPoint(pp, cp *Pyramid, levels int, fp FeaturePoint) Correspondence {
	c := Correspondence{
		Prev:       fp.Point(),
		Curr:       fp.Point(),
		Generation: fp.Generation,
	}

	win := 2*t.halfWin + 1
	n := win * win
	patch := make([]float32, n)
	gradX := make([]float32, n)
	gradY := make([]float32, n)

	var gx, gy float64 // displacement guess at the current level
	for l := levels - 1; l >= 0; l-- {
		prevL := pp.levels[l]
		currImg := cp.levels[l].img
		scale := 1 / float64(int(1)<<uint(l))
		ux, uy := fp.X*scale, fp.Y*scale

		var a, b, cc float64
		k := 0
		for wy := -t.halfWin; wy <= t.halfWin; wy++ {
			for wx := -t.halfWin; wx <= t.halfWin; wx++ {
				x, y := ux+float64(wx), uy+float64(wy)
				patch[k] = prevL.img.Sample(x, y)
				ix := prevL.ix.Sample(x, y)
				iy := prevL.iy.Sample(x, y)
				gradX[k], gradY[k] = ix, iy
				a += float64(ix * ix)
				b += float64(ix * iy)
				cc += float64(iy * iy)
				k++
			}
		}
		det := a*cc - b*b
		half := (a - cc) / 2
		minEig := (a+cc)/2 - math.Sqrt(half*half+b*b)
		if minEig/float64(n) < minEigenPerPixel || det < 1e-12 {
			return c
		}

		var vx, vy float64
		for iter := 0; iter < t.maxIterations; iter++ {
			var bx, by float64
			k = 0
			for wy := -t.halfWin; wy <= t.halfWin; wy++ {
				for wx := -t.halfWin; wx <= t.halfWin; wx++ {
					j := currImg.Sample(ux+gx+vx+float64(wx), uy+gy+vy+float64(wy))
					diff := float64(patch[k] - j)
					bx += diff * float64(gradX[k])
					by += diff * float64(gradY[k])
					k++
				}
			}
			ex := (cc*bx - b*by) / det
			ey := (a*by - b*bx) / det
			vx += ex
			vy += ey
			if math.IsNaN(vx) || math.IsNaN(vy) {
				return c
			}
			if ex*ex+ey*ey < t.epsilon*t.epsilon {
				break
			}
		}

		if !currImg.InBounds(ux+gx+vx, uy+gy+vy) {
			return c
		}
		if l > 0 {
			gx, gy = 2*(gx+vx), 2*(gy+vy)
		} else {
			gx, gy = gx+vx, gy+vy
		}
	}

	c.Curr = Point{X: fp.X + gx, Y: fp.Y + gy}
	c.Error = t.patchError(pp.levels[0].img, cp.levels[0].img, c.Prev, c.Curr)
	c.Valid = c.Error <= t.errorThreshold
	return c
}

// patchError is the mean absolute difference between the windows around p
// in prev and q in curr.
func (t *Tracker) patchError(prev, curr *Gray, p, q Point) float64 {
	var sum float64
	n := 0
	for wy := -t.halfWin; wy <= t.halfWin; wy++ {
		for wx := -t.halfWin; wx <= t.halfWin; wx++ {
			a := prev.Sample(p.X+float64(wx), p.Y+float64(wy))
			b := curr.Sample(q.X+float64(wx), q.Y+float64(wy))
			sum += math.Abs(float64(a - b))
			n++
		}
	}
	return sum / float64(n)
}
