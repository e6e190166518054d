package stream

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kwv/steadyframe/stabilizer"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

var frameExts = map[string]bool{
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsFrameFile reports whether path has an extension ReadFrameFile decodes
func IsFrameFile(path string) bool {
	return frameExts[strings.ToLower(filepath.Ext(path))]
}

// ListFrameFiles returns the frame images in dir, sorted by name
func ListFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsFrameFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadFrameFile decodes a png, bmp or tiff file into a frame of the given
// pixel format
func ReadFrameFile(path string, format stabilizer.PixelFormat) (*stabilizer.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err = png.Decode(f)
	case ".bmp":
		img, err = bmp.Decode(f)
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported frame file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return FrameFromImage(img, format)
}

// WriteFrameFile encodes a frame, choosing the codec from the extension
func WriteFrameFile(path string, frame *stabilizer.Frame) error {
	img, err := ImageFromFrame(frame)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating frame file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(out, img)
	case ".bmp":
		err = bmp.Encode(out, img)
	case ".tif", ".tiff":
		err = tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("unsupported frame file %s", path)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

// FrameFromImage converts a decoded image into a tightly packed frame
func FrameFromImage(img image.Image, format stabilizer.PixelFormat) (*stabilizer.Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	frame, err := stabilizer.NewFrame(w, h, format)
	if err != nil {
		return nil, err
	}

	if format == stabilizer.FormatGray8 {
		gray := &image.Gray{Pix: frame.Planes[0], Stride: frame.Strides[0], Rect: image.Rect(0, 0, w, h)}
		draw.Draw(gray, gray.Rect, img, b.Min, draw.Src)
		return frame, nil
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)

	switch format {
	case stabilizer.FormatRGBA:
		copy(frame.Planes[0], rgba.Pix)
	case stabilizer.FormatBGRA, stabilizer.FormatBGRX:
		dst := frame.Planes[0]
		for i := 0; i < len(rgba.Pix); i += 4 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = rgba.Pix[i+2], rgba.Pix[i+1], rgba.Pix[i], rgba.Pix[i+3]
		}
	case stabilizer.FormatI420, stabilizer.FormatNV12:
		fillYUV(frame, rgba)
	}
	return frame, nil
}

// fillYUV converts rgba into the luma and 2x2 averaged chroma planes of a
// YUV 4:2:0 frame
func fillYUV(frame *stabilizer.Frame, rgba *image.RGBA) {
	w, h := frame.Width, frame.Height
	cw, ch := (w+1)/2, (h+1)/2
	cb := make([]int, cw*ch)
	cr := make([]int, cw*ch)
	n := make([]int, cw*ch)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := rgba.Pix[y*rgba.Stride+4*x:]
			yy, u, v := color.RGBToYCbCr(px[0], px[1], px[2])
			frame.Planes[0][y*frame.Strides[0]+x] = yy
			ci := (y/2)*cw + x/2
			cb[ci] += int(u)
			cr[ci] += int(v)
			n[ci]++
		}
	}

	for i := range n {
		u := uint8((cb[i] + n[i]/2) / n[i])
		v := uint8((cr[i] + n[i]/2) / n[i])
		cx, cy := i%cw, i/cw
		if frame.Format == stabilizer.FormatI420 {
			frame.Planes[1][cy*frame.Strides[1]+cx] = u
			frame.Planes[2][cy*frame.Strides[2]+cx] = v
		} else {
			frame.Planes[1][cy*frame.Strides[1]+2*cx] = u
			frame.Planes[1][cy*frame.Strides[1]+2*cx+1] = v
		}
	}
}

// ImageFromFrame wraps or converts a frame into an image.Image
func ImageFromFrame(frame *stabilizer.Frame) (image.Image, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	w, h := frame.Width, frame.Height
	rect := image.Rect(0, 0, w, h)

	switch frame.Format {
	case stabilizer.FormatGray8:
		return &image.Gray{Pix: frame.Planes[0], Stride: frame.Strides[0], Rect: rect}, nil
	case stabilizer.FormatRGBA:
		return &image.RGBA{Pix: frame.Planes[0], Stride: frame.Strides[0], Rect: rect}, nil
	case stabilizer.FormatBGRA, stabilizer.FormatBGRX:
		out := image.NewRGBA(rect)
		for y := 0; y < h; y++ {
			src := frame.Planes[0][y*frame.Strides[0]:]
			dst := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				a := src[4*x+3]
				if frame.Format == stabilizer.FormatBGRX {
					a = 255
				}
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = src[4*x+2], src[4*x+1], src[4*x], a
			}
		}
		return out, nil
	case stabilizer.FormatI420, stabilizer.FormatNV12:
		out := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		cw, ch := (w+1)/2, (h+1)/2
		for y := 0; y < h; y++ {
			copy(out.Y[y*out.YStride:y*out.YStride+w], frame.Planes[0][y*frame.Strides[0]:])
		}
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				var u, v uint8
				if frame.Format == stabilizer.FormatI420 {
					u = frame.Planes[1][y*frame.Strides[1]+x]
					v = frame.Planes[2][y*frame.Strides[2]+x]
				} else {
					u = frame.Planes[1][y*frame.Strides[1]+2*x]
					v = frame.Planes[1][y*frame.Strides[1]+2*x+1]
				}
				out.Cb[y*out.CStride+x] = u
				out.Cr[y*out.CStride+x] = v
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported pixel format %s", frame.Format)
}
