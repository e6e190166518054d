package stabilizer

// minPyramidSide stops downsampling once a level would get smaller than this
const minPyramidSide = 16

// pyramidLevel is one scale of a Gaussian pyramid with its gradients
type pyramidLevel struct {
	img *Gray
	ix  *Gray
	iy  *Gray
}

// Pyramid is a Gaussian image pyramid; level 0 is full resolution
type Pyramid struct {
	levels []pyramidLevel
}

// NewPyramid builds up to n levels from img. Fewer levels are produced
// when the image is too small to halve again.
func NewPyramid(img *Gray, n int) *Pyramid {
	p := &Pyramid{}
	cur := img
	for l := 0; l < n; l++ {
		ix, iy := scharr(cur)
		p.levels = append(p.levels, pyramidLevel{img: cur, ix: ix, iy: iy})
		if l == n-1 || cur.Width/2 < minPyramidSide || cur.Height/2 < minPyramidSide {
			break
		}
		cur = downsample(blur5(cur))
	}
	return p
}

// Levels returns the number of levels actually built
func (p *Pyramid) Levels() int {
	return len(p.levels)
}

// Level returns the image at level l
func (p *Pyramid) Level(l int) *Gray {
	return p.levels[l].img
}

// blur5 applies the separable binomial kernel [1 4 6 4 1]/16 with clamped borders
func blur5(src *Gray) *Gray {
	w, h := src.Width, src.Height
	tmp := NewGray(w, h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*w : (y+1)*w]
		out := tmp.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			out[x] = (row[clampInt(x-2, w)] + 4*row[clampInt(x-1, w)] + 6*row[x] +
				4*row[clampInt(x+1, w)] + row[clampInt(x+2, w)]) / 16
		}
	}
	dst := NewGray(w, h)
	for y := 0; y < h; y++ {
		r0 := tmp.Pix[clampInt(y-2, h)*w:]
		r1 := tmp.Pix[clampInt(y-1, h)*w:]
		r2 := tmp.Pix[y*w:]
		r3 := tmp.Pix[clampInt(y+1, h)*w:]
		r4 := tmp.Pix[clampInt(y+2, h)*w:]
		out := dst.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			out[x] = (r0[x] + 4*r1[x] + 6*r2[x] + 4*r3[x] + r4[x]) / 16
		}
	}
	return dst
}

// downsample keeps every other pixel of an already smoothed image
func downsample(src *Gray) *Gray {
	w, h := (src.Width+1)/2, (src.Height+1)/2
	dst := NewGray(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*w+x] = src.Pix[(2*y)*src.Width+2*x]
		}
	}
	return dst
}

// scharr computes horizontal and vertical derivatives with the normalised
// 3x3 Scharr operator, so a unit ramp yields a unit gradient.
func scharr(src *Gray) (*Gray, *Gray) {
	w, h := src.Width, src.Height
	ix := NewGray(w, h)
	iy := NewGray(w, h)
	for y := 0; y < h; y++ {
		up := src.Pix[clampInt(y-1, h)*w:]
		mid := src.Pix[y*w:]
		dn := src.Pix[clampInt(y+1, h)*w:]
		for x := 0; x < w; x++ {
			l, r := clampInt(x-1, w), clampInt(x+1, w)
			ix.Pix[y*w+x] = (3*(up[r]-up[l]) + 10*(mid[r]-mid[l]) + 3*(dn[r]-dn[l])) / 32
			iy.Pix[y*w+x] = (3*(dn[l]-up[l]) + 10*(dn[x]-up[x]) + 3*(dn[r]-up[r])) / 32
		}
	}
	return ix, iy
}

func clampInt(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
