package stream

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwv/steadyframe/stabilizer"
	"github.com/kwv/steadyframe/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameFileRoundTrip(t *testing.T) {
	img := synth.NewScene(5).Render(64, 48, synth.Pose{})
	frame, err := FrameFromImage(img, stabilizer.FormatGray8)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, frame.Bytes())

	for _, ext := range []string{".png", ".bmp", ".tiff"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "frame"+ext)
			require.NoError(t, WriteFrameFile(path, frame))

			back, err := ReadFrameFile(path, stabilizer.FormatGray8)
			require.NoError(t, err)
			assert.Equal(t, frame.Bytes(), back.Bytes())
		})
	}
}

func TestFrameFromImage_PackedOrder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 255
	}

	rgba, err := FrameFromImage(img, stabilizer.FormatRGBA)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255}, rgba.Planes[0][:4])

	bgra, err := FrameFromImage(img, stabilizer.FormatBGRA)
	require.NoError(t, err)
	assert.Equal(t, []byte{30, 20, 10, 255}, bgra.Planes[0][:4])

	back, err := ImageFromFrame(bgra)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, back.At(5, 5))
}

func TestFrameFromImage_YUV(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 33, 35)) // odd sizes round chroma up
	for y := 0; y < 35; y++ {
		for x := 0; x < 33; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	wantY, wantCb, wantCr := color.RGBToYCbCr(200, 100, 50)

	for _, format := range []stabilizer.PixelFormat{stabilizer.FormatI420, stabilizer.FormatNV12} {
		t.Run(string(format), func(t *testing.T) {
			frame, err := FrameFromImage(img, format)
			require.NoError(t, err)
			require.NoError(t, frame.Validate())
			assert.Equal(t, wantY, frame.Planes[0][0])

			back, err := ImageFromFrame(frame)
			require.NoError(t, err)
			ycc, ok := back.(*image.YCbCr)
			require.True(t, ok)
			assert.Equal(t, wantY, ycc.Y[ycc.YOffset(32, 34)])
			assert.Equal(t, wantCb, ycc.Cb[ycc.COffset(32, 34)])
			assert.Equal(t, wantCr, ycc.Cr[ycc.COffset(32, 34)])
		})
	}
}

func TestReadFrameFile_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadFrameFile(filepath.Join(dir, "missing.png"), stabilizer.FormatGray8)
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("not a png"), 0644))
	_, err = ReadFrameFile(junk, stabilizer.FormatGray8)
	assert.ErrorContains(t, err, "decoding")

	txt := filepath.Join(dir, "frame.txt")
	require.NoError(t, os.WriteFile(txt, nil, 0644))
	_, err = ReadFrameFile(txt, stabilizer.FormatGray8)
	assert.ErrorContains(t, err, "unsupported")

	_, err = FrameFromImage(image.NewGray(image.Rect(0, 0, 8, 8)), stabilizer.PixelFormat("yuyv"))
	assert.ErrorIs(t, err, stabilizer.ErrInvalidFrame)
}

func TestListFrameFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002.png", "0001.png", "0003.BMP", "notes.txt", "0004.tif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	files, err := ListFrameFiles(dir)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"0001.png", "0002.png", "0003.BMP", "0004.tif"}, names)

	_, err = ListFrameFiles(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
