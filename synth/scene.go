// Package synth renders procedural test footage: a textured plane viewed
// through a moving camera. Rendering is analytic, so a frame shifted by a
// sub-pixel amount is exact rather than resampled.
package synth

import (
	"image"
	"image/color"
	"math"
)

// cellSize is the spacing of the jittered blob grid in scene units
const cellSize = 20.0

// Pose is the camera displacement applied to the scene: content is rotated
// and scaled about the frame center, then translated by (Tx, Ty).
type Pose struct {
	Tx    float64
	Ty    float64
	Angle float64 // radians
	Scale float64 // 0 is treated as 1
}

// Scene is an unbounded textured plane derived from a seed
type Scene struct {
	seed uint64
}

// NewScene creates a scene; equal seeds render identical frames
func NewScene(seed int64) *Scene {
	return &Scene{seed: uint64(seed)}
}

// splitmix64 finaliser
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// cellRand returns the k-th uniform [0,1) value of grid cell (i, j)
func (s *Scene) cellRand(i, j int, k uint64) float64 {
	h := mix(s.seed ^ mix(uint64(int64(i))*0x632be59bd9b4e019^mix(uint64(int64(j))+k)))
	return float64(h>>11) / float64(1<<53)
}

// Intensity evaluates the scene at (x, y), in [0, 255]
func (s *Scene) Intensity(x, y float64) float64 {
	v := 128.0 + 10*math.Sin(x*0.045+y*0.02) + 8*math.Sin(y*0.07-x*0.013)

	ci := int(math.Floor(x / cellSize))
	cj := int(math.Floor(y / cellSize))
	for j := cj - 1; j <= cj+1; j++ {
		for i := ci - 1; i <= ci+1; i++ {
			bx := (float64(i) + 0.2 + 0.6*s.cellRand(i, j, 1)) * cellSize
			by := (float64(j) + 0.2 + 0.6*s.cellRand(i, j, 2)) * cellSize
			sigma := 2.5 + 2*s.cellRand(i, j, 3)
			amp := 40 + 50*s.cellRand(i, j, 4)
			if s.cellRand(i, j, 5) < 0.5 {
				amp = -amp
			}
			dx, dy := x-bx, y-by
			d2 := dx*dx + dy*dy
			if d2 > 36*sigma*sigma {
				continue
			}
			v += amp * math.Exp(-d2/(2*sigma*sigma))
		}
	}
	return math.Max(0, math.Min(255, v))
}

// sceneToFrame returns the mapping frame -> scene for pose p
func sceneToFrame(w, h int, p Pose) func(u, v float64) (float64, float64) {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	cx, cy := float64(w-1)/2, float64(h-1)/2
	cos, sin := math.Cos(-p.Angle)/scale, math.Sin(-p.Angle)/scale
	return func(u, v float64) (float64, float64) {
		dx, dy := u-cx-p.Tx, v-cy-p.Ty
		return cos*dx - sin*dy + cx, sin*dx + cos*dy + cy
	}
}

// Render draws the scene as seen under pose p
func (s *Scene) Render(w, h int, p Pose) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	toScene := sceneToFrame(w, h, p)
	for v := 0; v < h; v++ {
		row := img.Pix[v*img.Stride : v*img.Stride+w]
		for u := range row {
			x, y := toScene(float64(u), float64(v))
			row[u] = uint8(s.Intensity(x, y) + 0.5)
		}
	}
	return img
}

// RenderRGBA draws the scene with a fixed tint so the channels differ
func (s *Scene) RenderRGBA(w, h int, p Pose) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	toScene := sceneToFrame(w, h, p)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			x, y := toScene(float64(u), float64(v))
			l := s.Intensity(x, y)
			img.SetRGBA(u, v, color.RGBA{
				R: uint8(math.Min(255, l*1.1) + 0.5),
				G: uint8(l + 0.5),
				B: uint8(l*0.8 + 0.5),
				A: 255,
			})
		}
	}
	return img
}

// Flat returns a uniform frame
func Flat(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// VerticalEdge returns a frame that is dark left of center and bright
// right of it. It has gradients in one direction only.
func VerticalEdge(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= w/2 {
				img.Pix[y*img.Stride+x] = 220
			} else {
				img.Pix[y*img.Stride+x] = 30
			}
		}
	}
	return img
}

// Dots scatters n bright 3x3 squares on a black frame, on a jittered grid
// so no two squares touch.
func Dots(w, h, n int, seed int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	s := NewScene(seed)
	cols := int(math.Ceil(math.Sqrt(float64(n) * float64(w) / float64(h))))
	rows := (n + cols - 1) / cols
	cw := float64(w-8) / float64(cols)
	ch := float64(h-8) / float64(rows)
	placed := 0
	for j := 0; j < rows && placed < n; j++ {
		for i := 0; i < cols && placed < n; i++ {
			jx := 0.5
			jy := 0.5
			if cw > 6 {
				jx = s.cellRand(i, j, 7)
			}
			if ch > 6 {
				jy = s.cellRand(i, j, 8)
			}
			x := 4 + int(float64(i)*cw+1+jx*math.Max(0, cw-5))
			y := 4 + int(float64(j)*ch+1+jy*math.Max(0, ch-5))
			for dy := 0; dy < 3; dy++ {
				for dx := 0; dx < 3; dx++ {
					if x+dx < w && y+dy < h {
						img.Pix[(y+dy)*img.Stride+x+dx] = 255
					}
				}
			}
			placed++
		}
	}
	return img
}
