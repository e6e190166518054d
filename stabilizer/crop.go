package stabilizer

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	cropSearchSteps = 20
	// cropRelease is the fraction of the gap closed per frame when the
	// required zoom drops; increases are applied immediately.
	cropRelease = 0.05
)

// frameRing returns the closed outline of a w x h frame in pixel-center
// coordinates, grown by a hair so corners on the edge count as inside.
func frameRing(w, h int) orb.Ring {
	const eps = 1e-6
	x1, y1 := float64(w-1)+eps, float64(h-1)+eps
	return orb.Ring{{-eps, -eps}, {x1, -eps}, {x1, y1}, {-eps, y1}, {-eps, -eps}}
}

// covers reports whether every output corner, after undoing the zoom and
// the correction, samples from inside the input frame.
func covers(inv Transform, zoom float64, w, h int, ring orb.Ring) bool {
	cx, cy := float64(w-1)/2, float64(h-1)/2
	corners := [...]Point{{0, 0}, {float64(w - 1), 0}, {float64(w - 1), float64(h - 1)}, {0, float64(h - 1)}}
	for _, q := range corners {
		unzoomed := Point{X: cx + (q.X-cx)/zoom, Y: cy + (q.Y-cy)/zoom}
		p := TransformPoint(unzoomed, inv)
		if !planar.RingContains(ring, orb.Point{p.X, p.Y}) {
			return false
		}
	}
	return true
}

// requiredZoom finds the smallest centred zoom in [1, max] that hides every
// exposed border of correction. When even max is not enough, max is
// returned and the remainder is padded.
func requiredZoom(correction Transform, w, h int, max float64) float64 {
	ring := frameRing(w, h)
	inv := Invert(correction)
	if covers(inv, 1, w, h, ring) {
		return 1
	}
	if !covers(inv, max, w, h, ring) {
		return max
	}
	lo, hi := 1.0, max
	for i := 0; i < cropSearchSteps; i++ {
		mid := (lo + hi) / 2
		if covers(inv, mid, w, h, ring) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}
