package stream

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// TrajectoryRenderer draws the raw and smoothed camera path of a stream as
// two stacked plots: horizontal translation on top, vertical below.
type TrajectoryRenderer struct {
	Width         float64 // canvas units (mm)
	PanelHeight   float64
	Padding       float64
	Resolution    canvas.Resolution // PNG output only
	RawColor      color.RGBA
	SmoothedColor color.RGBA
}

// NewTrajectoryRenderer creates a renderer with default settings
func NewTrajectoryRenderer() *TrajectoryRenderer {
	return &TrajectoryRenderer{
		Width:         240,
		PanelHeight:   80,
		Padding:       8,
		Resolution:    canvas.DPMM(4),
		RawColor:      color.RGBA{R: 220, G: 60, B: 60, A: 255},
		SmoothedColor: color.RGBA{R: 30, G: 90, B: 200, A: 255},
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *TrajectoryRenderer) size() (float64, float64) {
	return r.Width + 2*r.Padding, 2*r.PanelHeight + 3*r.Padding
}

// RenderToSVG writes the trajectory as an SVG
func (r *TrajectoryRenderer) RenderToSVG(w io.Writer, samples []TrajectorySample) error {
	if len(samples) == 0 {
		return fmt.Errorf("no trajectory samples to render")
	}
	width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, samples, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the trajectory as a PNG
func (r *TrajectoryRenderer) RenderToPNG(w io.Writer, samples []TrajectorySample) error {
	if len(samples) == 0 {
		return fmt.Errorf("no trajectory samples to render")
	}
	width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, samples, width, height)
	return png.Encode(w, rast)
}

func (r *TrajectoryRenderer) renderToCanvas(renderer canvasRenderer, samples []TrajectorySample, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// canvas y grows upwards, so the top panel sits higher
	top := r.Padding*2 + r.PanelHeight
	r.renderPanel(renderer, samples, top, func(s TrajectorySample) (float64, float64) {
		return s.Raw.Tx, s.Smoothed.Tx
	})
	r.renderPanel(renderer, samples, r.Padding, func(s TrajectorySample) (float64, float64) {
		return s.Raw.Ty, s.Smoothed.Ty
	})
}

// renderPanel plots one axis of the trajectory in a panel whose bottom edge
// is at y0
func (r *TrajectoryRenderer) renderPanel(renderer canvasRenderer, samples []TrajectorySample, y0 float64, axis func(TrajectorySample) (float64, float64)) {
	minV, maxV := math.MaxFloat64, -math.MaxFloat64
	for _, s := range samples {
		raw, smoothed := axis(s)
		minV = math.Min(minV, math.Min(raw, smoothed))
		maxV = math.Max(maxV, math.Max(raw, smoothed))
	}
	if maxV-minV < 1 {
		mid := (maxV + minV) / 2
		minV, maxV = mid-0.5, mid+0.5
	}
	first := float64(samples[0].Frame)
	span := float64(samples[len(samples)-1].Frame) - first
	if span <= 0 {
		span = 1
	}

	toCanvas := func(frame uint64, v float64) (float64, float64) {
		x := r.Padding + (float64(frame)-first)/span*r.Width
		y := y0 + (v-minV)/(maxV-minV)*r.PanelHeight
		return x, y
	}

	frameStyle := canvas.DefaultStyle
	frameStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	frameStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	frameStyle.StrokeWidth = 0.3
	renderer.RenderPath(canvas.Rectangle(r.Width, r.PanelHeight).Translate(r.Padding, y0), frameStyle, canvas.Identity)

	if minV < 0 && maxV > 0 {
		zeroStyle := frameStyle
		zeroStyle.Dashes = []float64{2.0, 2.0}
		zero := &canvas.Path{}
		_, zy := toCanvas(samples[0].Frame, 0)
		zero.MoveTo(r.Padding, zy)
		zero.LineTo(r.Padding+r.Width, zy)
		renderer.RenderPath(zero, zeroStyle, canvas.Identity)
	}

	rawPath, smoothedPath := &canvas.Path{}, &canvas.Path{}
	for i, s := range samples {
		raw, smoothed := axis(s)
		rx, ry := toCanvas(s.Frame, raw)
		sx, sy := toCanvas(s.Frame, smoothed)
		if i == 0 {
			rawPath.MoveTo(rx, ry)
			smoothedPath.MoveTo(sx, sy)
		} else {
			rawPath.LineTo(rx, ry)
			smoothedPath.LineTo(sx, sy)
		}
	}

	lineStyle := canvas.DefaultStyle
	lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	lineStyle.StrokeWidth = 0.4
	lineStyle.Stroke = canvas.Paint{Color: r.RawColor}
	renderer.RenderPath(rawPath, lineStyle, canvas.Identity)

	lineStyle.StrokeWidth = 0.8
	lineStyle.Stroke = canvas.Paint{Color: r.SmoothedColor}
	renderer.RenderPath(smoothedPath, lineStyle, canvas.Identity)
}
