package stabilizer

import (
	"fmt"
	"math"
	"strings"
)

// PixelFormat identifies the plane layout of a Frame
type PixelFormat string

const (
	FormatGray8 PixelFormat = "gray8"
	FormatI420  PixelFormat = "i420" // Y, U, V planes; chroma subsampled 2x2
	FormatNV12  PixelFormat = "nv12" // Y plane, interleaved UV plane subsampled 2x2
	FormatRGBA  PixelFormat = "rgba"
	FormatBGRA  PixelFormat = "bgra"
	FormatBGRX  PixelFormat = "bgrx"
)

// ParsePixelFormat maps a format name to a PixelFormat
func ParsePixelFormat(s string) (PixelFormat, error) {
	f := PixelFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatGray8, FormatI420, FormatNV12, FormatRGBA, FormatBGRA, FormatBGRX:
		return f, nil
	}
	return "", fmt.Errorf("unknown pixel format %q", s)
}

// planeLayout describes one plane of a format
type planeLayout struct {
	width    int // samples per row
	height   int
	channels int // bytes per sample
	subX     int // horizontal subsampling relative to luma
	subY     int
	fill     []byte // border fill value per channel
}

func (p planeLayout) rowBytes() int {
	return p.width * p.channels
}

// layout returns the planes of format f for a w x h frame
func (f PixelFormat) layout(w, h int) ([]planeLayout, error) {
	cw, ch := (w+1)/2, (h+1)/2
	switch f {
	case FormatGray8:
		return []planeLayout{{w, h, 1, 1, 1, []byte{0}}}, nil
	case FormatI420:
		return []planeLayout{
			{w, h, 1, 1, 1, []byte{16}},
			{cw, ch, 1, 2, 2, []byte{128}},
			{cw, ch, 1, 2, 2, []byte{128}},
		}, nil
	case FormatNV12:
		return []planeLayout{
			{w, h, 1, 1, 1, []byte{16}},
			{cw, ch, 2, 2, 2, []byte{128, 128}},
		}, nil
	case FormatRGBA, FormatBGRA, FormatBGRX:
		return []planeLayout{{w, h, 4, 1, 1, []byte{0, 0, 0, 255}}}, nil
	}
	return nil, fmt.Errorf("%w: unknown pixel format %q", ErrInvalidFrame, f)
}

// Frame is a raw video frame. Frames handed to the stabilizer are treated
// as read-only; output frames are owned by the stabilizer and reused on
// the next call.
type Frame struct {
	Width   int
	Height  int
	Format  PixelFormat
	Planes  [][]byte
	Strides []int
}

// NewFrame allocates a tightly packed frame
func NewFrame(w, h int, format PixelFormat) (*Frame, error) {
	layout, err := format.layout(w, h)
	if err != nil {
		return nil, err
	}
	f := &Frame{Width: w, Height: h, Format: format}
	for _, p := range layout {
		f.Planes = append(f.Planes, make([]byte, p.rowBytes()*p.height))
		f.Strides = append(f.Strides, p.rowBytes())
	}
	return f, nil
}

// NewGray8Frame wraps an 8-bit luma buffer without copying
func NewGray8Frame(w, h int, pix []byte, stride int) *Frame {
	return &Frame{Width: w, Height: h, Format: FormatGray8, Planes: [][]byte{pix}, Strides: []int{stride}}
}

// NewFrameFromBytes splits a tightly packed buffer into planes. The planes
// alias data.
func NewFrameFromBytes(w, h int, format PixelFormat, data []byte) (*Frame, error) {
	layout, err := format.layout(w, h)
	if err != nil {
		return nil, err
	}
	need := 0
	for _, p := range layout {
		need += p.rowBytes() * p.height
	}
	if len(data) != need {
		return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrInvalidFrame, format, w, h, need, len(data))
	}
	f := &Frame{Width: w, Height: h, Format: format}
	off := 0
	for _, p := range layout {
		n := p.rowBytes() * p.height
		f.Planes = append(f.Planes, data[off:off+n:off+n])
		f.Strides = append(f.Strides, p.rowBytes())
		off += n
	}
	return f, nil
}

// Validate checks dimensions and that every plane is large enough
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.Width < MinFrameSize || f.Height < MinFrameSize {
		return fmt.Errorf("%w: %dx%d is below the %dx%d minimum", ErrInvalidFrame, f.Width, f.Height, MinFrameSize, MinFrameSize)
	}
	if f.Width > MaxFrameWidth || f.Height > MaxFrameHeight {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrInvalidFrame, f.Width, f.Height, MaxFrameWidth, MaxFrameHeight)
	}
	layout, err := f.Format.layout(f.Width, f.Height)
	if err != nil {
		return err
	}
	if len(f.Planes) != len(layout) || len(f.Strides) != len(layout) {
		return fmt.Errorf("%w: %s needs %d planes, got %d", ErrInvalidFrame, f.Format, len(layout), len(f.Planes))
	}
	for i, p := range layout {
		if f.Strides[i] < p.rowBytes() {
			return fmt.Errorf("%w: plane %d stride %d < row size %d", ErrInvalidFrame, i, f.Strides[i], p.rowBytes())
		}
		need := f.Strides[i]*(p.height-1) + p.rowBytes()
		if len(f.Planes[i]) < need {
			return fmt.Errorf("%w: plane %d has %d bytes, need %d", ErrInvalidFrame, i, len(f.Planes[i]), need)
		}
	}
	return nil
}

// SameGeometry reports whether two frames share size and format
func (f *Frame) SameGeometry(o *Frame) bool {
	return f != nil && o != nil && f.Width == o.Width && f.Height == o.Height && f.Format == o.Format
}

// Bytes packs all planes into a single tightly packed buffer
func (f *Frame) Bytes() []byte {
	layout, err := f.Format.layout(f.Width, f.Height)
	if err != nil {
		return nil
	}
	var out []byte
	for i, p := range layout {
		rb := p.rowBytes()
		for y := 0; y < p.height; y++ {
			off := y * f.Strides[i]
			out = append(out, f.Planes[i][off:off+rb]...)
		}
	}
	return out
}

// Clone returns a tightly packed deep copy
func (f *Frame) Clone() *Frame {
	out, err := NewFrame(f.Width, f.Height, f.Format)
	if err != nil {
		return nil
	}
	copyFrame(out, f)
	return out
}

// copyFrame copies pixel rows from src into dst; both must share geometry
func copyFrame(dst, src *Frame) {
	layout, _ := src.Format.layout(src.Width, src.Height)
	for i, p := range layout {
		rb := p.rowBytes()
		for y := 0; y < p.height; y++ {
			copy(dst.Planes[i][y*dst.Strides[i]:y*dst.Strides[i]+rb], src.Planes[i][y*src.Strides[i]:y*src.Strides[i]+rb])
		}
	}
}

// Gray is a single-channel float32 luma image used by detection and tracking
type Gray struct {
	Width  int
	Height int
	Pix    []float32
}

// NewGray allocates a zeroed luma image
func NewGray(w, h int) *Gray {
	return &Gray{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// At returns the pixel at (x, y), clamping coordinates to the image
func (g *Gray) At(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= g.Width {
		x = g.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= g.Height {
		y = g.Height - 1
	}
	return g.Pix[y*g.Width+x]
}

// Sample bilinearly interpolates at a sub-pixel location, clamping to the
// image border.
func (g *Gray) Sample(x, y float64) float32 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := float32(x - x0)
	fy := float32(y - y0)
	ix, iy := int(x0), int(y0)

	if ix >= 0 && iy >= 0 && ix+1 < g.Width && iy+1 < g.Height {
		i := iy*g.Width + ix
		p00, p10 := g.Pix[i], g.Pix[i+1]
		p01, p11 := g.Pix[i+g.Width], g.Pix[i+g.Width+1]
		top := p00 + (p10-p00)*fx
		bot := p01 + (p11-p01)*fx
		return top + (bot-top)*fy
	}

	p00, p10 := g.At(ix, iy), g.At(ix+1, iy)
	p01, p11 := g.At(ix, iy+1), g.At(ix+1, iy+1)
	top := p00 + (p10-p00)*fx
	bot := p01 + (p11-p01)*fx
	return top + (bot-top)*fy
}

// InBounds reports whether (x, y) lies inside the image
func (g *Gray) InBounds(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= float64(g.Width-1) && y <= float64(g.Height-1)
}

// LumaFromFrame converts any supported format into the canonical luma image.
// YUV formats use the Y plane directly; packed RGB uses Rec. 601 weights.
func LumaFromFrame(f *Frame) *Gray {
	g := NewGray(f.Width, f.Height)
	switch f.Format {
	case FormatGray8, FormatI420, FormatNV12:
		plane, stride := f.Planes[0], f.Strides[0]
		for y := 0; y < f.Height; y++ {
			row := plane[y*stride : y*stride+f.Width]
			dst := g.Pix[y*f.Width : (y+1)*f.Width]
			for x, v := range row {
				dst[x] = float32(v)
			}
		}
	case FormatRGBA, FormatBGRA, FormatBGRX:
		ri, bi := 0, 2
		if f.Format != FormatRGBA {
			ri, bi = 2, 0
		}
		plane, stride := f.Planes[0], f.Strides[0]
		for y := 0; y < f.Height; y++ {
			row := plane[y*stride : y*stride+4*f.Width]
			dst := g.Pix[y*f.Width : (y+1)*f.Width]
			for x := range dst {
				px := row[4*x : 4*x+4]
				dst[x] = float32(299*int(px[ri])+587*int(px[1])+114*int(px[bi])) / 1000
			}
		}
	}
	return g
}
