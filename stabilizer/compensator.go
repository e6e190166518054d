package stabilizer

import (
	"math"

	"golang.org/x/image/draw"
)

// identityTolerance is the largest corner displacement (pixels) still
// treated as no correction at all.
const identityTolerance = 1e-3

// Compensator turns the observed and smoothed camera poses into a
// corrective warp and applies it to frames. It owns the output buffer.
type Compensator struct {
	border        BorderMode
	maxCorrection float64
	maxCropScale  float64
	nearest       bool
	interp        draw.Interpolator

	cropScale float64 // crop policy state
	zoom      float64 // zoom applied by the last Correction
	out       *Frame
}

// NewCompensator creates a compensator from the compensation fields of cfg
func NewCompensator(cfg Config) *Compensator {
	return &Compensator{
		border:        cfg.Border,
		maxCorrection: cfg.MaxCorrection,
		maxCropScale:  cfg.MaxCropScale,
		nearest:       cfg.Interpolation == InterpNearest,
		interp:        interpolator(cfg.Interpolation),
		cropScale:     1,
		zoom:          1,
	}
}

// Correction returns the transform that moves input pixels to stabilized
// output pixels: smoothed * observed^-1, limited to the configured maximum
// displacement and combined with the border policy's zoom. Near-identity
// results snap to exactly Identity.
func (c *Compensator) Correction(observed, smoothed Transform, w, h int) Transform {
	corr := Compose(smoothed, Invert(observed))
	corr = clampCorrection(corr, w, h, c.maxCorrection)

	zoom := 1.0
	switch c.border {
	case BorderScaleFit:
		zoom = c.maxCropScale
	case BorderCrop:
		target := requiredZoom(corr, w, h, c.maxCropScale)
		if target >= c.cropScale {
			c.cropScale = target
		} else {
			c.cropScale += (target - c.cropScale) * cropRelease
		}
		if c.cropScale-1 < 1e-4 {
			c.cropScale = 1
		}
		zoom = c.cropScale
	}

	c.zoom = zoom
	if zoom != 1 {
		center := Point{X: float64(w-1) / 2, Y: float64(h-1) / 2}
		corr = Compose(About(Scale(zoom, zoom), center), corr)
	}
	if NearIdentity(corr, w, h, identityTolerance) {
		return Identity()
	}
	return corr
}

// clampCorrection limits how far the frame center may be moved, as a
// percentage of the frame dimensions.
func clampCorrection(corr Transform, w, h int, maxPercent float64) Transform {
	center := Point{X: float64(w-1) / 2, Y: float64(h-1) / 2}
	moved := TransformPoint(center, corr)
	dx, dy := moved.X-center.X, moved.Y-center.Y
	lx := maxPercent / 100 * float64(w)
	ly := maxPercent / 100 * float64(h)
	cdx := math.Max(-lx, math.Min(lx, dx))
	cdy := math.Max(-ly, math.Min(ly, dy))
	corr.Tx += cdx - dx
	corr.Ty += cdy - dy
	return corr
}

// CropScale returns the zoom applied by the most recent Correction
func (c *Compensator) CropScale() float64 {
	return c.zoom
}

// Reset forgets the crop state
func (c *Compensator) Reset() {
	c.cropScale = 1
	c.zoom = 1
}

// Apply warps f by correction into the compensator's output buffer. The
// returned frame is only valid until the next call.
func (c *Compensator) Apply(f *Frame, correction Transform) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if !c.out.SameGeometry(f) {
		out, err := NewFrame(f.Width, f.Height, f.Format)
		if err != nil {
			return nil, err
		}
		c.out = out
	}

	if correction == Identity() {
		copyFrame(c.out, f)
		return c.out, nil
	}

	layout, err := f.Format.layout(f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	inv := Invert(correction)
	for i, p := range layout {
		if p.channels == 4 {
			warpPacked(c.out.Planes[i], f.Planes[i], c.out.Strides[i], f.Strides[i], f.Width, f.Height, correction, c.interp, p.fill)
			continue
		}
		warpPlanar(c.out.Planes[i], f.Planes[i], c.out.Strides[i], f.Strides[i], p, inv, c.nearest)
	}
	return c.out, nil
}
