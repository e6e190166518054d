package stabilizer

import (
	"image"
	"testing"

	"github.com/kwv/steadyframe/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grayFrame wraps a rendered image as a gray8 frame without copying
func grayFrame(img *image.Gray) *Frame {
	b := img.Bounds()
	return NewGray8Frame(b.Dx(), b.Dy(), img.Pix, img.Stride)
}

// lumaOf converts a rendered image straight to the tracking representation
func lumaOf(img *image.Gray) *Gray {
	return LumaFromFrame(grayFrame(img))
}

func TestNewFrame_PlaneSizes(t *testing.T) {
	tests := []struct {
		format  PixelFormat
		w, h    int
		strides []int
		sizes   []int
	}{
		{FormatGray8, 64, 48, []int{64}, []int{64 * 48}},
		{FormatI420, 64, 48, []int{64, 32, 32}, []int{64 * 48, 32 * 24, 32 * 24}},
		{FormatI420, 65, 49, []int{65, 33, 33}, []int{65 * 49, 33 * 25, 33 * 25}},
		{FormatNV12, 64, 48, []int{64, 64}, []int{64 * 48, 64 * 24}},
		{FormatRGBA, 64, 48, []int{256}, []int{256 * 48}},
		{FormatBGRX, 64, 48, []int{256}, []int{256 * 48}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFrame(tt.w, tt.h, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.strides, f.Strides)
			sizes := make([]int, len(f.Planes))
			for i, p := range f.Planes {
				sizes[i] = len(p)
			}
			assert.Equal(t, tt.sizes, sizes)
			assert.NoError(t, f.Validate())
		})
	}
}

func TestNewFrameFromBytes(t *testing.T) {
	data := make([]byte, 64*48*3/2)
	f, err := NewFrameFromBytes(64, 48, FormatI420, data)
	require.NoError(t, err)
	assert.Len(t, f.Planes, 3)

	// planes alias the input
	data[0] = 9
	assert.Equal(t, uint8(9), f.Planes[0][0])
	assert.Equal(t, data, f.Bytes())

	_, err = NewFrameFromBytes(64, 48, FormatI420, data[:100])
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestFrameValidate(t *testing.T) {
	ok, err := NewFrame(64, 48, FormatGray8)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame *Frame
	}{
		{"nil", nil},
		{"too small", NewGray8Frame(16, 16, make([]byte, 256), 16)},
		{"too wide", &Frame{Width: MaxFrameWidth + 2, Height: 64, Format: FormatGray8}},
		{"short plane", NewGray8Frame(64, 48, make([]byte, 64*47), 64)},
		{"short stride", NewGray8Frame(64, 48, make([]byte, 64*48), 32)},
		{"missing planes", &Frame{Width: 64, Height: 48, Format: FormatI420, Planes: ok.Planes, Strides: ok.Strides}},
		{"unknown format", &Frame{Width: 64, Height: 48, Format: "yuyv", Planes: ok.Planes, Strides: ok.Strides}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.frame.Validate(), ErrInvalidFrame)
		})
	}
}

func TestFrameClone_Independent(t *testing.T) {
	img := synth.NewScene(1).Render(64, 48, synth.Pose{})
	f := grayFrame(img)
	c := f.Clone()
	require.Equal(t, f.Bytes(), c.Bytes())

	c.Planes[0][0]++
	assert.NotEqual(t, f.Planes[0][0], c.Planes[0][0])
}

func TestParsePixelFormat(t *testing.T) {
	f, err := ParsePixelFormat(" NV12 ")
	require.NoError(t, err)
	assert.Equal(t, FormatNV12, f)

	_, err = ParsePixelFormat("yuyv")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Luma extraction
// ---------------------------------------------------------------------------

func TestLumaFromFrame_ChannelOrder(t *testing.T) {
	rgba, err := NewFrame(32, 32, FormatRGBA)
	require.NoError(t, err)
	bgra, err := NewFrame(32, 32, FormatBGRA)
	require.NoError(t, err)

	// pure red in both layouts
	for i := 0; i < 32*32; i++ {
		copy(rgba.Planes[0][4*i:], []byte{255, 0, 0, 255})
		copy(bgra.Planes[0][4*i:], []byte{0, 0, 255, 255})
	}

	a := LumaFromFrame(rgba)
	b := LumaFromFrame(bgra)
	assert.InDelta(t, 76.245, a.Pix[0], 1e-3)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestLumaFromFrame_UsesYPlane(t *testing.T) {
	f, err := NewFrame(32, 32, FormatNV12)
	require.NoError(t, err)
	for i := range f.Planes[0] {
		f.Planes[0][i] = 100
	}
	for i := range f.Planes[1] {
		f.Planes[1][i] = 250
	}
	g := LumaFromFrame(f)
	for _, v := range g.Pix {
		require.Equal(t, float32(100), v)
	}
}

func TestGraySample(t *testing.T) {
	g := NewGray(2, 2)
	copy(g.Pix, []float32{0, 10, 20, 30})

	assert.InDelta(t, 15, g.Sample(0.5, 0.5), 1e-6)
	assert.InDelta(t, 5, g.Sample(0.5, 0), 1e-6)
	// clamped outside the image
	assert.InDelta(t, 30, g.Sample(5, 5), 1e-6)
	assert.True(t, g.InBounds(1, 1))
	assert.False(t, g.InBounds(1.01, 0))
}
