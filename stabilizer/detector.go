package stabilizer

import (
	"fmt"
	"math"
	"sort"
)

// minCornerResponse is the absolute floor on the Shi-Tomasi score. Flat
// regions and straight edges score at or near zero and never pass it.
const minCornerResponse = 1.0

// Detector finds Shi-Tomasi corners: pixels whose structure tensor has a
// large minimum eigenvalue.
type Detector struct {
	quality     float64
	minDistance float64
	blockSize   int
	minFeatures int
}

// NewDetector creates a detector from the detection fields of cfg
func NewDetector(cfg Config) *Detector {
	return &Detector{
		quality:     cfg.QualityLevel,
		minDistance: cfg.MinDistance,
		blockSize:   cfg.BlockSize,
		minFeatures: cfg.MinFeatures,
	}
}

type corner struct {
	x, y  int
	score float32
}

// Detect returns at most max corners, strongest first, no two closer than
// the configured minimum distance. Fewer than the configured minimum yields
// ErrInsufficientFeatures along with whatever was found.
func (d *Detector) Detect(img *Gray, max int) ([]FeaturePoint, error) {
	if max <= 0 {
		return nil, fmt.Errorf("%w: max features must be positive", ErrInsufficientFeatures)
	}
	w, h := img.Width, img.Height
	resp := d.response(img)

	var maxScore float32
	for _, v := range resp {
		if v > maxScore {
			maxScore = v
		}
	}
	threshold := float32(math.Max(d.quality*float64(maxScore), minCornerResponse))

	margin := d.blockSize/2 + 1
	var candidates []corner
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			v := resp[y*w+x]
			if v < threshold || !isLocalMax(resp, w, x, y, v) {
				continue
			}
			candidates = append(candidates, corner{x: x, y: y, score: v})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	points := d.selectSeparated(candidates, w, h, max)
	if len(points) < d.minFeatures {
		return points, fmt.Errorf("%w: found %d corners, need %d", ErrInsufficientFeatures, len(points), d.minFeatures)
	}
	return points, nil
}

// response computes the minimum eigenvalue of the structure tensor summed
// over a blockSize window at every pixel.
func (d *Detector) response(img *Gray) []float32 {
	w, h := img.Width, img.Height
	ix, iy := scharr(img)
	n := w * h
	xx := make([]float32, n)
	yy := make([]float32, n)
	xy := make([]float32, n)
	for i := 0; i < n; i++ {
		gx, gy := ix.Pix[i], iy.Pix[i]
		xx[i] = gx * gx
		yy[i] = gy * gy
		xy[i] = gx * gy
	}
	r := d.blockSize / 2
	xx = boxSum(xx, w, h, r)
	yy = boxSum(yy, w, h, r)
	xy = boxSum(xy, w, h, r)

	resp := make([]float32, n)
	for i := 0; i < n; i++ {
		a, b, c := float64(xx[i]), float64(xy[i]), float64(yy[i])
		half := (a - c) / 2
		lambda := (a+c)/2 - math.Sqrt(half*half+b*b)
		if lambda > 0 {
			resp[i] = float32(lambda)
		}
	}
	return resp
}

// boxSum sums src over a (2r+1)^2 window, ignoring samples outside the image
func boxSum(src []float32, w, h, r int) []float32 {
	tmp := make([]float32, len(src))
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var s float32
			for k := x - r; k <= x+r; k++ {
				if k >= 0 && k < w {
					s += row[k]
				}
			}
			tmp[y*w+x] = s
		}
	}
	dst := make([]float32, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float32
			for k := y - r; k <= y+r; k++ {
				if k >= 0 && k < h {
					s += tmp[k*w+x]
				}
			}
			dst[y*w+x] = s
		}
	}
	return dst
}

// isLocalMax reports whether v is not exceeded by any 8-neighbour
func isLocalMax(resp []float32, w, x, y int, v float32) bool {
	for dy := -1; dy <= 1; dy++ {
		row := (y + dy) * w
		for dx := -1; dx <= 1; dx++ {
			if (dx != 0 || dy != 0) && resp[row+x+dx] > v {
				return false
			}
		}
	}
	return true
}

// selectSeparated greedily accepts candidates in order, skipping any within
// minDistance of an accepted one. A grid of minDistance-sized cells limits
// each check to the 3x3 neighbouring cells.
func (d *Detector) selectSeparated(candidates []corner, w, h, max int) []FeaturePoint {
	points := make([]FeaturePoint, 0, minInt(max, len(candidates)))
	if d.minDistance <= 0 {
		for _, c := range candidates {
			if len(points) == max {
				break
			}
			points = append(points, FeaturePoint{X: float64(c.x), Y: float64(c.y), Response: float64(c.score)})
		}
		return points
	}

	cell := d.minDistance
	gw := int(math.Ceil(float64(w)/cell)) + 1
	gh := int(math.Ceil(float64(h)/cell)) + 1
	grid := make([][]Point, gw*gh)
	minSq := d.minDistance * d.minDistance

	for _, c := range candidates {
		if len(points) == max {
			break
		}
		p := Point{X: float64(c.x), Y: float64(c.y)}
		cx, cy := int(p.X/cell), int(p.Y/cell)
		ok := true
	search:
		for gy := cy - 1; gy <= cy+1; gy++ {
			if gy < 0 || gy >= gh {
				continue
			}
			for gx := cx - 1; gx <= cx+1; gx++ {
				if gx < 0 || gx >= gw {
					continue
				}
				for _, q := range grid[gy*gw+gx] {
					dx, dy := p.X-q.X, p.Y-q.Y
					if dx*dx+dy*dy < minSq {
						ok = false
						break search
					}
				}
			}
		}
		if !ok {
			continue
		}
		grid[cy*gw+cx] = append(grid[cy*gw+cx], p)
		points = append(points, FeaturePoint{X: p.X, Y: p.Y, Response: float64(c.score)})
	}
	return points
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
