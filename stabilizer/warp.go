package stabilizer

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// interpolator maps the configured kernel onto x/image/draw for packed
// RGB planes.
func interpolator(i Interpolation) draw.Interpolator {
	switch i {
	case InterpNearest:
		return draw.NearestNeighbor
	case InterpCatmullRom:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// warpPacked resamples a 4-byte-per-pixel plane. Channel order does not
// matter to the kernel, so BGRA and BGRX go through image.RGBA unchanged.
func warpPacked(dst, src []byte, dstStride, srcStride, w, h int, correction Transform, interp draw.Interpolator, fill []byte) {
	bounds := image.Rect(0, 0, w, h)
	srcImg := &image.RGBA{Pix: src, Stride: srcStride, Rect: bounds}
	dstImg := &image.RGBA{Pix: dst, Stride: dstStride, Rect: bounds}

	bg := color.RGBA{R: fill[0], G: fill[1], B: fill[2], A: fill[3]}
	draw.Draw(dstImg, bounds, &image.Uniform{C: bg}, image.Point{}, draw.Src)

	// x/image/draw places pixel centers at +0.5
	m := Compose(Translation(0.5, 0.5), Compose(correction, Translation(-0.5, -0.5)))
	s2d := f64.Aff3{m.A, m.B, m.Tx, m.C, m.D, m.Ty}
	interp.Transform(dstImg, s2d, srcImg, bounds, draw.Src, nil)
}

// warpPlanar resamples a planar 1- or 2-channel plane. inv maps output
// luma coordinates to input luma coordinates; the plane's subsampling is
// folded in so the inner loop works in plane coordinates.
func warpPlanar(dst, src []byte, dstStride, srcStride int, p planeLayout, inv Transform, nearest bool) {
	offX := float64(p.subX-1) / 2
	offY := float64(p.subY-1) / 2
	fromPlane := Transform{A: float64(p.subX), Tx: offX, D: float64(p.subY), Ty: offY}
	m := Compose(Invert(fromPlane), Compose(inv, fromPlane))

	w, h, ch := p.width, p.height, p.channels
	maxX, maxY := float64(w-1), float64(h-1)
	for v := 0; v < h; v++ {
		row := dst[v*dstStride : v*dstStride+w*ch]
		x := m.B*float64(v) + m.Tx
		y := m.D*float64(v) + m.Ty
		for u := 0; u < w; u++ {
			out := row[u*ch : u*ch+ch]
			if x < -0.5 || y < -0.5 || x > maxX+0.5 || y > maxY+0.5 {
				copy(out, p.fill)
			} else {
				sx := math.Min(math.Max(x, 0), maxX)
				sy := math.Min(math.Max(y, 0), maxY)
				if nearest {
					off := int(sy+0.5)*srcStride + int(sx+0.5)*ch
					copy(out, src[off:off+ch])
				} else {
					sampleBilinear(out, src, srcStride, ch, w, h, sx, sy)
				}
			}
			x += m.A
			y += m.C
		}
	}
}

// sampleBilinear writes the interpolated value of each channel at (x, y),
// which must already be clamped to the plane.
func sampleBilinear(out, src []byte, stride, ch, w, h int, x, y float64) {
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	r0 := y0 * stride
	r1 := y1 * stride
	for c := 0; c < ch; c++ {
		p00 := float64(src[r0+x0*ch+c])
		p10 := float64(src[r0+x1*ch+c])
		p01 := float64(src[r1+x0*ch+c])
		p11 := float64(src[r1+x1*ch+c])
		top := p00 + (p10-p00)*fx
		bot := p01 + (p11-p01)*fx
		out[c] = uint8(top + (bot-top)*fy + 0.5)
	}
}
