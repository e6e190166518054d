package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kwv/steadyframe/stabilizer"
	"github.com/sirupsen/logrus"
)

var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrStreamExists   = errors.New("stream already exists")
)

// MetricsListener is called after every processed frame
type MetricsListener func(streamID string, m stabilizer.Metrics)

// Stream is one stabilizer session plus its recorded trajectory. All access
// to the stabilizer goes through the stream's mutex.
type Stream struct {
	ID      string
	Created time.Time

	mu         sync.Mutex
	preset     string
	cfg        stabilizer.Config
	stab       *stabilizer.Stabilizer
	trajectory *TrajectoryRecorder
	frames     uint64
	last       stabilizer.Metrics
}

// StreamInfo is a point-in-time summary of a stream
type StreamInfo struct {
	ID      string             `json:"id"`
	Preset  string             `json:"preset,omitempty"`
	Status  stabilizer.Status  `json:"status"`
	Enabled bool               `json:"enabled"`
	Frames  uint64             `json:"frames"`
	Created time.Time          `json:"created"`
	Metrics stabilizer.Metrics `json:"metrics"`
}

// Info returns a summary of the stream
func (s *Stream) Info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamInfo{
		ID:      s.ID,
		Preset:  s.preset,
		Status:  s.stab.Status(),
		Enabled: s.cfg.EnableStabilization,
		Frames:  s.frames,
		Created: s.Created,
		Metrics: s.last,
	}
}

// Config returns the stabilizer config of the current session
func (s *Stream) Config() stabilizer.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Trajectory returns the stream's recorded camera path
func (s *Stream) Trajectory() *TrajectoryRecorder {
	return s.trajectory
}

// process runs one frame. The returned frame is a copy, so it stays valid
// after the next call.
func (s *Stream) process(f *stabilizer.Frame) stabilizer.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.stab.ProcessFrame(f)
	if res.Frame != nil {
		res.Frame = res.Frame.Clone()
	}
	s.frames++
	s.last = res.Metrics
	s.trajectory.Record(res.Metrics)
	return res
}

// reinitialize starts a fresh session with cfg
func (s *Stream) reinitialize(cfg stabilizer.Config, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stab.Initialize(cfg); err != nil {
		// keep the previous session running
		if rerr := s.stab.Initialize(s.cfg); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	s.cfg = cfg
	s.preset = preset
	s.last = s.stab.Metrics()
	s.trajectory.Reset()
	return nil
}

// Registry owns every stream served by the process
type Registry struct {
	mu               sync.RWMutex
	streams          map[string]*Stream
	defaults         stabilizer.Config
	presets          *PresetStore
	trajectoryLength int
	listeners        []MetricsListener
	log              logrus.FieldLogger
}

// NewRegistry creates an empty registry. Streams created without a preset
// use defaults.
func NewRegistry(defaults stabilizer.Config, presets *PresetStore, trajectoryLength int, log logrus.FieldLogger) *Registry {
	if presets == nil {
		presets = &PresetStore{}
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Registry{
		streams:          make(map[string]*Stream),
		defaults:         defaults,
		presets:          presets,
		trajectoryLength: trajectoryLength,
		log:              log,
	}
}

func (r *Registry) resolve(preset string) (stabilizer.Config, error) {
	if preset == "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.defaults, nil
	}
	return r.presets.Load(preset)
}

// Create starts a new stream. An empty id is replaced by a random UUID.
func (r *Registry) Create(id, preset string) (*Stream, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := ValidateStreamID(id); err != nil {
		return nil, err
	}
	cfg, err := r.resolve(preset)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		ID:         id,
		Created:    time.Now(),
		preset:     preset,
		cfg:        cfg,
		stab:       stabilizer.New(stabilizer.WithLogger(r.log.WithField("stream", id))),
		trajectory: NewTrajectoryRecorder(r.trajectoryLength),
	}
	if err := s.stab.Initialize(cfg); err != nil {
		return nil, err
	}
	s.last = s.stab.Metrics()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, id)
	}
	r.streams[id] = s
	r.log.WithFields(logrus.Fields{"stream": id, "preset": preset}).Info("Stream created")
	return s, nil
}

// Get returns the stream with the given id
func (r *Registry) Get(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

func (r *Registry) mustGet(id string) (*Stream, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return s, nil
}

// List returns a summary of every stream sorted by id
func (r *Registry) List() []StreamInfo {
	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	infos := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Remove drops a stream
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	delete(r.streams, id)
	r.log.WithField("stream", id).Info("Stream removed")
	return nil
}

// Subscribe registers a listener for per-frame metrics
func (r *Registry) Subscribe(l MetricsListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Process runs a frame through the stream and notifies listeners
func (r *Registry) Process(id string, f *stabilizer.Frame) (stabilizer.Result, error) {
	s, err := r.mustGet(id)
	if err != nil {
		return stabilizer.Result{}, err
	}
	res := s.process(f)

	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, l := range listeners {
		l(id, res.Metrics)
	}
	return res, nil
}

// Execute applies a control command to a stream
func (r *Registry) Execute(id string, cmd Command) error {
	s, err := r.mustGet(id)
	if err != nil {
		return err
	}

	cfg := s.Config()
	preset := s.Info().Preset
	switch cmd.Action {
	case ActionReset:
	case ActionEnable, ActionDisable:
		cfg.EnableStabilization = cmd.Action == ActionEnable
	case ActionPreset:
		if cfg, err = r.presets.Load(cmd.Arg); err != nil {
			return err
		}
		preset = cmd.Arg
	default:
		return fmt.Errorf("unknown command %q", cmd.Action)
	}

	if err := s.reinitialize(cfg, preset); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"stream": id, "command": cmd.String()}).Info("Stream command applied")
	return nil
}

// Reconfigure replaces the defaults and restarts every stream with its
// re-resolved config. Streams whose preset no longer resolves keep their
// current session and the first error is returned.
func (r *Registry) Reconfigure(defaults stabilizer.Config) error {
	if err := defaults.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.defaults = defaults
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		preset := s.Info().Preset
		cfg, err := r.resolve(preset)
		if err == nil {
			err = s.reinitialize(cfg, preset)
		}
		if err != nil {
			r.log.WithError(err).WithField("stream", s.ID).Warn("Failed to reconfigure stream")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.log.WithField("streams", len(streams)).Info("Streams reconfigured")
	return firstErr
}

// Presets returns the store used to resolve preset names
func (r *Registry) Presets() *PresetStore {
	return r.presets
}
