package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/steadyframe/stabilizer"
	"github.com/kwv/steadyframe/stream"
	"github.com/kwv/steadyframe/synth"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *stream.Config
	Registry   *stream.Registry
	MQTTClient *stream.MQTTClient
	Publisher  *stream.Publisher
	Watcher    *stream.ConfigWatcher
	Log        *logrus.Logger

	opts AppOptions
	out  io.Writer

	// set once the HTTP listener is bound
	addrMu sync.Mutex
	addr   net.Addr
}

// NewApp creates a new App instance writing reports to out
func NewApp(out io.Writer) *App {
	if out == nil {
		out = os.Stdout
	}
	return &App{
		Config: stream.DefaultServiceConfig(),
		Log:    initLogger(false),
		out:    out,
	}
}

// ApplyOptions applies CLI options and loads the config file
func (a *App) ApplyOptions(opts AppOptions) error {
	a.opts = opts
	a.Log = initLogger(opts.Debug)

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.Config = cfg
	return nil
}

// loadConfig reads the config file. The default path is optional; an
// explicitly named file must exist.
func (a *App) loadConfig() (*stream.Config, error) {
	path := a.opts.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigFile {
		a.Log.Debug("No config.yaml found, using defaults")
		return stream.DefaultServiceConfig(), nil
	}

	cfg, err := stream.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	a.Log.WithField("path", path).Info("Loaded config")
	return cfg, nil
}

func (a *App) presetStore() (*stream.PresetStore, error) {
	return stream.NewPresetStore(a.Config.PresetDir)
}

func (a *App) newRegistry() (*stream.Registry, error) {
	presets, err := a.presetStore()
	if err != nil {
		return nil, err
	}
	return stream.NewRegistry(a.Config.Stabilizer, presets, a.Config.TrajectoryLength, a.Log), nil
}

func (a *App) pixelFormat(fallback stabilizer.PixelFormat) (stabilizer.PixelFormat, error) {
	if a.opts.Format == "" {
		return fallback, nil
	}
	return stabilizer.ParsePixelFormat(a.opts.Format)
}

// ---------------------------------------------------------------------------
// Offline stabilization
// ---------------------------------------------------------------------------

// runSummary accumulates per-frame metrics for the closing report
type runSummary struct {
	frames     int
	statuses   map[stabilizer.Status]int
	confidence float64
	processing float64
	stages     [5]float64
	maxMs      float64
}

func newRunSummary() *runSummary {
	return &runSummary{statuses: make(map[stabilizer.Status]int)}
}

func (s *runSummary) add(m stabilizer.Metrics) {
	s.frames++
	s.statuses[m.Status]++
	s.confidence += m.Confidence
	s.processing += m.ProcessingTimeMs
	s.stages[0] += m.DetectionTimeMs
	s.stages[1] += m.TrackingTimeMs
	s.stages[2] += m.EstimationTimeMs
	s.stages[3] += m.SmoothingTimeMs
	s.stages[4] += m.CompensationTimeMs
	s.maxMs = math.Max(s.maxMs, m.ProcessingTimeMs)
}

func (s *runSummary) print(w io.Writer) {
	if s.frames == 0 {
		fmt.Fprintln(w, "No frames processed")
		return
	}
	n := float64(s.frames)
	fmt.Fprintf(w, "Frames: %d\n", s.frames)
	for _, st := range []stabilizer.Status{stabilizer.StatusProcessing, stabilizer.StatusDegraded, stabilizer.StatusDisabled} {
		if c := s.statuses[st]; c > 0 {
			fmt.Fprintf(w, "  %-11s %d\n", st.String()+":", c)
		}
	}
	fmt.Fprintf(w, "Mean confidence: %.3f\n", s.confidence/n)
	fmt.Fprintf(w, "Processing: mean %.2f ms, max %.2f ms\n", s.processing/n, s.maxMs)
	fmt.Fprintf(w, "  detect %.2f / track %.2f / estimate %.2f / smooth %.2f / compensate %.2f ms\n",
		s.stages[0]/n, s.stages[1]/n, s.stages[2]/n, s.stages[3]/n, s.stages[4]/n)
}

// RunStabilize stabilizes the image sequence in InputDir and writes the
// output frames to OutputDir under the same names
func (a *App) RunStabilize() error {
	if a.opts.InputDir == "" || a.opts.OutputDir == "" {
		return fmt.Errorf("--input and --output are required")
	}
	files, err := stream.ListFrameFiles(a.opts.InputDir)
	if err != nil {
		return fmt.Errorf("listing frames: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no png, bmp or tiff frames found in %s", a.opts.InputDir)
	}
	format, err := a.pixelFormat(stabilizer.FormatRGBA)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(a.opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	a.Registry = reg
	st, err := reg.Create("file", a.opts.Preset)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Stabilizing %d frame(s) from %s\n", len(files), a.opts.InputDir)
	summary := newRunSummary()
	for _, path := range files {
		frame, err := stream.ReadFrameFile(path, format)
		if err != nil {
			return err
		}
		res, err := reg.Process(st.ID, frame)
		if err != nil {
			return err
		}
		summary.add(res.Metrics)
		a.Log.WithFields(logrus.Fields{
			"frame":      res.Metrics.FrameIndex,
			"status":     res.Status,
			"inliers":    res.Metrics.Inliers,
			"confidence": res.Metrics.Confidence,
		}).Debug("Frame processed")

		outPath := filepath.Join(a.opts.OutputDir, filepath.Base(path))
		if err := stream.WriteFrameFile(outPath, res.Frame); err != nil {
			return err
		}
	}
	summary.print(a.out)
	fmt.Fprintf(a.out, "Wrote %d frame(s) to %s\n", summary.frames, a.opts.OutputDir)

	return a.writeReport(st.Trajectory().Samples())
}

// writeReport renders the trajectory plot if --report was given. The file
// extension picks the format.
func (a *App) writeReport(samples []stream.TrajectorySample) error {
	if a.opts.Report == "" {
		return nil
	}
	if len(samples) == 0 {
		a.Log.Warn("No trajectory recorded, skipping report")
		return nil
	}

	renderer := stream.NewTrajectoryRenderer()
	var render func(io.Writer, []stream.TrajectorySample) error
	switch ext := strings.ToLower(filepath.Ext(a.opts.Report)); ext {
	case ".png":
		render = renderer.RenderToPNG
	case ".svg":
		render = renderer.RenderToSVG
	default:
		return fmt.Errorf("unsupported report format %q (use .svg or .png)", ext)
	}

	f, err := os.Create(a.opts.Report)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer f.Close()
	if err := render(f, samples); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	fmt.Fprintf(a.out, "Trajectory report: %s\n", a.opts.Report)
	return nil
}

// ---------------------------------------------------------------------------
// Benchmark
// ---------------------------------------------------------------------------

// pathJitter is the mean magnitude of the second difference of a
// translation path. A steady pan scores zero.
func pathJitter(samples []stream.TrajectorySample, pick func(stream.TrajectorySample) stabilizer.Components) float64 {
	if len(samples) < 3 {
		return 0
	}
	var sum float64
	for i := 2; i < len(samples); i++ {
		a, b, c := pick(samples[i-2]), pick(samples[i-1]), pick(samples[i])
		sum += math.Hypot(c.Tx-2*b.Tx+a.Tx, c.Ty-2*b.Ty+a.Ty)
	}
	return sum / float64(len(samples)-2)
}

// RunBench stabilizes a synthetic shaky sequence and reports throughput and
// how much of the shake was removed
func (a *App) RunBench() error {
	o := a.opts
	if o.Frames < 3 {
		return fmt.Errorf("--frames must be at least 3")
	}
	format, err := a.pixelFormat(stabilizer.FormatGray8)
	if err != nil {
		return err
	}

	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	a.Registry = reg
	st, err := reg.Create("bench", o.Preset)
	if err != nil {
		return err
	}

	scene := synth.NewScene(o.Seed)
	poses := synth.Shaky(o.Frames, o.Pan, o.Amplitude, o.Seed)
	frames := make([]*stabilizer.Frame, len(poses))
	for i, p := range poses {
		if format == stabilizer.FormatGray8 {
			img := scene.Render(o.Width, o.Height, p)
			frames[i] = stabilizer.NewGray8Frame(o.Width, o.Height, img.Pix, img.Stride)
			continue
		}
		if frames[i], err = stream.FrameFromImage(scene.RenderRGBA(o.Width, o.Height, p), format); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.out, "Benchmark: %d frames %dx%d %s, shake %.1f px, pan %.1f px/frame\n",
		o.Frames, o.Width, o.Height, format, o.Amplitude, o.Pan)

	summary := newRunSummary()
	start := time.Now()
	for _, f := range frames {
		res, err := reg.Process(st.ID, f)
		if err != nil {
			return err
		}
		summary.add(res.Metrics)
	}
	elapsed := time.Since(start)

	summary.print(a.out)
	fmt.Fprintf(a.out, "Throughput: %.1f fps\n", float64(o.Frames)/elapsed.Seconds())

	samples := st.Trajectory().Samples()
	raw := pathJitter(samples, func(s stream.TrajectorySample) stabilizer.Components { return s.Raw })
	smoothed := pathJitter(samples, func(s stream.TrajectorySample) stabilizer.Components { return s.Smoothed })
	fmt.Fprintf(a.out, "Jitter: raw %.3f px, stabilized %.3f px", raw, smoothed)
	if raw > 0 {
		fmt.Fprintf(a.out, " (%.0f%% reduction)", 100*(1-smoothed/raw))
	}
	fmt.Fprintln(a.out)

	return a.writeReport(samples)
}

// ---------------------------------------------------------------------------
// Presets
// ---------------------------------------------------------------------------

// RunPresets lists, shows, saves or deletes stabilizer presets
func (a *App) RunPresets(action, name string) error {
	store, err := a.presetStore()
	if err != nil {
		return err
	}

	switch action {
	case "", "list":
		names, err := store.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(a.out, n)
		}
		return nil

	case "show":
		cfg, err := store.Load(name)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()

	case "save":
		if a.opts.File == "" {
			return fmt.Errorf("--file is required to save a preset")
		}
		data, err := os.ReadFile(a.opts.File)
		if err != nil {
			return fmt.Errorf("reading preset file: %w", err)
		}
		cfg := stabilizer.DefaultConfig()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing preset YAML: %w", err)
		}
		if err := store.Save(name, cfg); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Saved preset %s\n", name)
		return nil

	case "delete":
		if err := store.Delete(name); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted preset %s\n", name)
		return nil
	}
	return fmt.Errorf("unknown presets action %q (use list, show, save or delete)", action)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// RunService runs the stream service until SIGINT or SIGTERM
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Addr returns the bound HTTP address once Serve is listening
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Serve runs the HTTP API, the optional MQTT control and metrics channel and
// the config watcher until ctx is cancelled
func (a *App) Serve(ctx context.Context) error {
	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	a.Registry = reg
	for _, sc := range a.Config.Streams {
		if _, err := reg.Create(sc.ID, sc.Preset); err != nil {
			return fmt.Errorf("creating stream %s: %w", sc.ID, err)
		}
	}

	// MQTT is optional
	mqttClient, err := stream.InitMQTT(a.Config, a.commandHandler(reg), a.Log)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if mqttClient != nil {
		a.MQTTClient = mqttClient
		a.Publisher = stream.NewPublisher(mqttClient.GetClient(), stream.PublishPrefix(a.Config), a.Log)
		reg.Subscribe(a.Publisher.Listener())
		defer mqttClient.Disconnect()
	}

	hub := newMetricsHub()
	reg.Subscribe(hub.Listener())

	listen := a.Config.HTTP.Listen
	if a.opts.Listen != "" {
		listen = a.opts.Listen
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	server := &http.Server{
		Handler:           newHTTPServer(reg, hub, a.Log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.Log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := a.startWatcher(reg); err != nil {
		a.Log.WithError(err).Warn("Config hot reload disabled")
	}

	a.printServiceInfo(ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	a.Log.Info("Shutting down service")
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

// commandHandler applies control messages to the registry. Failures are
// logged; there is no reply channel.
func (a *App) commandHandler(reg *stream.Registry) stream.CommandHandler {
	return func(id string, cmd stream.Command) {
		if err := reg.Execute(id, cmd); err != nil {
			a.Log.WithError(err).WithFields(logrus.Fields{"stream": id, "command": cmd.String()}).Warn("Control command failed")
		}
	}
}

// startWatcher reloads stabilizer defaults and adds newly listed streams
// when the config file changes
func (a *App) startWatcher(reg *stream.Registry) error {
	path := a.opts.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	w, err := stream.NewConfigWatcher(path, func(cfg *stream.Config) {
		if err := reg.Reconfigure(cfg.Stabilizer); err != nil {
			a.Log.WithError(err).Warn("Reconfigure incomplete")
		}
		for _, sc := range cfg.Streams {
			if _, ok := reg.Get(sc.ID); ok {
				continue
			}
			if _, err := reg.Create(sc.ID, sc.Preset); err != nil {
				a.Log.WithError(err).WithField("stream", sc.ID).Warn("Error creating stream from reloaded config")
			}
		}
	}, a.Log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	a.Watcher = w
	return nil
}

func (a *App) printServiceInfo(addr string) {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	if a.MQTTClient != nil {
		prefix := stream.PublishPrefix(a.Config)
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Control: %s/{streamID}/control\n", prefix)
		fmt.Fprintf(a.out, "  Metrics: %s/{streamID}/metrics\n", prefix)
		fmt.Fprintf(a.out, "  Combined: %s/streams\n", prefix)
	}
	fmt.Fprintf(a.out, "\nHTTP endpoints (%s):\n", addr)
	fmt.Fprintln(a.out, "  GET  /health                       - Health check")
	fmt.Fprintln(a.out, "  GET  /streams                      - List streams")
	fmt.Fprintln(a.out, "  POST /streams                      - Create stream {id, preset}")
	fmt.Fprintln(a.out, "  POST /streams/{id}/frames          - Stabilize a raw frame (?width=&height=&format=)")
	fmt.Fprintln(a.out, "  POST /streams/{id}/commands        - reset, enable, disable, preset:<name>")
	fmt.Fprintln(a.out, "  GET  /streams/{id}/trajectory.svg  - Camera path plot")
	fmt.Fprintln(a.out, "  GET  /streams/{id}/ws              - Live metrics")
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
