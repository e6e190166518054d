package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kwv/steadyframe/stabilizer"
	"github.com/kwv/steadyframe/stream"
	"github.com/kwv/steadyframe/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newTestApp returns an app configured from configYAML with logging muted
func newTestApp(t *testing.T, configYAML string, opts AppOptions) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	opts.ConfigFile = writeFile(t, filepath.Join(dir, "config.yaml"), configYAML)

	var out bytes.Buffer
	app := NewApp(&out)
	require.NoError(t, app.ApplyOptions(opts))
	app.Log.SetOutput(io.Discard)
	return app, &out
}

func writePanFrames(t *testing.T, dir string, n int) {
	t.Helper()
	scene := synth.NewScene(9)
	for i, p := range synth.Shaky(n, 1, 2, 9) {
		img := scene.Render(160, 120, p)
		f := stabilizer.NewGray8Frame(160, 120, img.Pix, img.Stride)
		require.NoError(t, stream.WriteFrameFile(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)), f))
	}
}

// ---------------------------------------------------------------------------
// Config loading
// ---------------------------------------------------------------------------

func TestApp_ApplyOptions_DefaultConfigOptional(t *testing.T) {
	t.Chdir(t.TempDir())

	app := NewApp(io.Discard)
	require.NoError(t, app.ApplyOptions(AppOptions{ConfigFile: "config.yaml"}))
	assert.Equal(t, stream.DefaultServiceConfig(), app.Config)
}

func TestApp_ApplyOptions_ExplicitConfigMustExist(t *testing.T) {
	app := NewApp(io.Discard)
	err := app.ApplyOptions(AppOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestApp_ApplyOptions_InvalidConfig(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "sf.yaml"), "stabilizer:\n  smoothing_radius: -1\n")
	app := NewApp(io.Discard)
	assert.ErrorIs(t, app.ApplyOptions(AppOptions{ConfigFile: path}), stabilizer.ErrInvalidConfig)
}

func TestApp_ApplyOptions_Debug(t *testing.T) {
	app, _ := newTestApp(t, "", AppOptions{Debug: true})
	assert.Equal(t, "debug", app.Log.GetLevel().String())
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestApp_RunStabilize(t *testing.T) {
	in, outDir := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writePanFrames(t, in, 8)
	report := filepath.Join(t.TempDir(), "trajectory.svg")

	app, out := newTestApp(t, "", AppOptions{InputDir: in, OutputDir: outDir, Format: "gray8", Report: report})
	require.NoError(t, app.RunStabilize())

	written, err := stream.ListFrameFiles(outDir)
	require.NoError(t, err)
	assert.Len(t, written, 8)

	f, err := stream.ReadFrameFile(written[0], stabilizer.FormatGray8)
	require.NoError(t, err)
	assert.Equal(t, 160, f.Width)
	assert.Equal(t, 120, f.Height)

	assert.Contains(t, out.String(), "Frames: 8")
	assert.Contains(t, out.String(), "Trajectory report")
	svg, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestApp_RunStabilize_Errors(t *testing.T) {
	empty := t.TempDir()
	frames := t.TempDir()
	writePanFrames(t, frames, 2)

	tests := []struct {
		name string
		opts AppOptions
		want string
	}{
		{"missing dirs", AppOptions{}, "--input and --output are required"},
		{"no frames", AppOptions{InputDir: empty, OutputDir: t.TempDir()}, "no png, bmp or tiff frames"},
		{"bad format", AppOptions{InputDir: frames, OutputDir: t.TempDir(), Format: "yuyv"}, "unknown pixel format"},
		{"bad preset", AppOptions{InputDir: frames, OutputDir: t.TempDir(), Preset: "nope"}, "nope"},
		{"bad report", AppOptions{InputDir: frames, OutputDir: t.TempDir(), Report: filepath.Join(t.TempDir(), "t.gif")}, "unsupported report format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t, "", tt.opts)
			err := app.RunStabilize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// ---------------------------------------------------------------------------
// bench
// ---------------------------------------------------------------------------

func TestApp_RunBench(t *testing.T) {
	report := filepath.Join(t.TempDir(), "bench.png")
	app, out := newTestApp(t, "", AppOptions{
		Frames: 24, Width: 160, Height: 120, Amplitude: 3, Pan: 1, Seed: 4, Report: report,
	})
	require.NoError(t, app.RunBench())

	assert.Contains(t, out.String(), "Benchmark: 24 frames 160x120 gray8")
	assert.Contains(t, out.String(), "Throughput:")
	assert.Contains(t, out.String(), "Jitter: raw")
	info, err := os.Stat(report)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestApp_RunBench_PackedFormat(t *testing.T) {
	app, out := newTestApp(t, "", AppOptions{Frames: 6, Width: 128, Height: 96, Amplitude: 1, Seed: 2, Format: "nv12"})
	require.NoError(t, app.RunBench())
	assert.Contains(t, out.String(), "nv12")
}

func TestApp_RunBench_TooFewFrames(t *testing.T) {
	app, _ := newTestApp(t, "", AppOptions{Frames: 2, Width: 64, Height: 64})
	assert.Error(t, app.RunBench())
}

func TestPathJitter(t *testing.T) {
	line := make([]stream.TrajectorySample, 10)
	zigzag := make([]stream.TrajectorySample, 10)
	for i := range line {
		line[i].Raw = stabilizer.Components{Tx: float64(i) * 2, Ty: 1, Scale: 1}
		zigzag[i].Raw = stabilizer.Components{Tx: float64(i%2) * 4, Scale: 1}
	}
	raw := func(s stream.TrajectorySample) stabilizer.Components { return s.Raw }

	assert.InDelta(t, 0, pathJitter(line, raw), 1e-12, "a steady pan has no jitter")
	assert.InDelta(t, 8, pathJitter(zigzag, raw), 1e-12)
	assert.Zero(t, pathJitter(line[:2], raw))
}

// ---------------------------------------------------------------------------
// presets
// ---------------------------------------------------------------------------

func TestApp_RunPresets(t *testing.T) {
	presetDir := t.TempDir()
	app, out := newTestApp(t, "presetDir: "+presetDir+"\n", AppOptions{})

	require.NoError(t, app.RunPresets("list", ""))
	assert.Equal(t, "custom\ngaming\nrecording\nstreaming\n", out.String())

	assert.ErrorContains(t, app.RunPresets("save", "handheld"), "--file is required")

	app.opts.File = writeFile(t, filepath.Join(t.TempDir(), "handheld.yaml"), "smoothing_radius: 9\n")
	require.NoError(t, app.RunPresets("save", "handheld"))
	_, err := os.Stat(filepath.Join(presetDir, "handheld.yaml"))
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, app.RunPresets("show", "handheld"))
	assert.Contains(t, out.String(), "smoothing_radius: 9")

	out.Reset()
	require.NoError(t, app.RunPresets("", ""))
	assert.Contains(t, out.String(), "handheld")

	require.NoError(t, app.RunPresets("delete", "handheld"))
	assert.ErrorIs(t, app.RunPresets("show", "handheld"), stream.ErrPresetNotFound)
	assert.Error(t, app.RunPresets("delete", "gaming"), "built-ins cannot be deleted")
	assert.ErrorContains(t, app.RunPresets("rename", "x"), "unknown presets action")
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func TestApp_Serve(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	configYAML := "http:\n  listen: 127.0.0.1:0\nstreams:\n  - id: cam\n    preset: gaming\n"
	app, out := newTestApp(t, configYAML, AppOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	require.Eventually(t, func() bool { return app.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	base := "http://" + app.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/streams/cam")
	require.NoError(t, err)
	var info stream.StreamInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "gaming", info.Preset)

	// a stream added to the config file is picked up without a restart
	writeFile(t, app.opts.ConfigFile, configYAML+"  - id: late\n")
	require.Eventually(t, func() bool {
		_, ok := app.Registry.Get("late")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Nil(t, app.MQTTClient, "MQTT stays off without a broker")
	assert.Contains(t, out.String(), "Service Running")
}

func TestApp_Serve_BadStream(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app, _ := newTestApp(t, "http:\n  listen: 127.0.0.1:0\nstreams:\n  - id: cam\n    preset: missing\n", AppOptions{})
	err := app.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating stream cam")
}
