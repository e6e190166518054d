package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kwv/steadyframe/stabilizer"
	"github.com/kwv/steadyframe/stream"
	"github.com/sirupsen/logrus"
)

// maxFrameBody bounds uploaded frames: 7680x4320 packed RGBA plus slack
const maxFrameBody = stabilizer.MaxFrameWidth*stabilizer.MaxFrameHeight*4 + 1024

// metricsHub fans per-frame metrics out to websocket clients watching a
// stream
type metricsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	stream string
	send   chan []byte
}

func newMetricsHub() *metricsHub {
	return &metricsHub{clients: make(map[*wsClient]struct{})}
}

func (h *metricsHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *metricsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *metricsHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Listener broadcasts metrics to the stream's clients. Slow clients miss
// frames rather than block processing.
func (h *metricsHub) Listener() stream.MetricsListener {
	return func(streamID string, m stabilizer.Metrics) {
		h.mu.RLock()
		defer h.mu.RUnlock()
		if len(h.clients) == 0 {
			return
		}

		payload, err := json.Marshal(stream.StreamMetrics{StreamID: streamID, Metrics: m, Timestamp: time.Now().Unix()})
		if err != nil {
			return
		}
		for c := range h.clients {
			if c.stream != streamID {
				continue
			}
			select {
			case c.send <- payload:
			default:
			}
		}
	}
}

type apiServer struct {
	registry *stream.Registry
	hub      *metricsHub
	renderer *stream.TrajectoryRenderer
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// newHTTPServer creates the HTTP API
func newHTTPServer(registry *stream.Registry, hub *metricsHub, log logrus.FieldLogger) http.Handler {
	s := &apiServer{
		registry: registry,
		hub:      hub,
		renderer: stream.NewTrajectoryRenderer(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/streams", s.handleListStreams).Methods("GET")
	router.HandleFunc("/streams", s.handleCreateStream).Methods("POST")
	router.HandleFunc("/streams/{id}", s.handleGetStream).Methods("GET")
	router.HandleFunc("/streams/{id}", s.handleDeleteStream).Methods("DELETE")
	router.HandleFunc("/streams/{id}/frames", s.handleFrame).Methods("POST")
	router.HandleFunc("/streams/{id}/reset", s.handleReset).Methods("POST")
	router.HandleFunc("/streams/{id}/commands", s.handleCommand).Methods("POST")
	router.HandleFunc("/streams/{id}/trajectory", s.handleTrajectoryJSON).Methods("GET")
	router.HandleFunc("/streams/{id}/trajectory.svg", s.handleTrajectorySVG).Methods("GET")
	router.HandleFunc("/streams/{id}/trajectory.png", s.handleTrajectoryPNG).Methods("GET")
	router.HandleFunc("/streams/{id}/ws", s.handleWebSocket).Methods("GET")

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr}).Debug("HTTP request")
			next.ServeHTTP(w, r)
		})
	})
	return router
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("Error encoding response")
	}
}

// writeError maps registry errors to HTTP status codes
func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, stream.ErrStreamNotFound):
		status = http.StatusNotFound
	case errors.Is(err, stream.ErrStreamExists):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func (s *apiServer) stream(w http.ResponseWriter, r *http.Request) (*stream.Stream, bool) {
	id := mux.Vars(r)["id"]
	st, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("%s: %s", stream.ErrStreamNotFound, id), http.StatusNotFound)
	}
	return st, ok
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Streams   int       `json:"streams"`
		Watchers  int       `json:"watchers"`
	}{
		Status:    "ok",
		Timestamp: time.Now(),
		Streams:   len(s.registry.List()),
		Watchers:  s.hub.clientCount(),
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleListStreams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *apiServer) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req stream.StreamConfig
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	st, err := s.registry.Create(req.ID, req.Preset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/streams/"+st.ID)
	s.writeJSON(w, http.StatusCreated, st.Info())
}

func (s *apiServer) handleGetStream(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.stream(w, r); ok {
		s.writeJSON(w, http.StatusOK, st.Info())
	}
}

func (s *apiServer) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFrame takes a tightly packed frame as the body. Geometry comes from
// the width, height and format query parameters; format defaults to gray8.
func (s *apiServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	width, errW := strconv.Atoi(q.Get("width"))
	height, errH := strconv.Atoi(q.Get("height"))
	if errW != nil || errH != nil {
		http.Error(w, "width and height query parameters are required", http.StatusBadRequest)
		return
	}
	format := stabilizer.FormatGray8
	if f := q.Get("format"); f != "" {
		parsed, err := stabilizer.ParsePixelFormat(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = parsed
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		http.Error(w, "reading frame: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	frame, err := stabilizer.NewFrameFromBytes(width, height, format, body)
	if err == nil {
		err = frame.Validate()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.registry.Process(id, frame)
	if err != nil {
		s.writeError(w, err)
		return
	}

	m := res.Metrics
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Frame-Index", strconv.FormatUint(m.FrameIndex, 10))
	h.Set("X-Stabilizer-Status", m.Status.String())
	h.Set("X-Stabilizer-Confidence", strconv.FormatFloat(m.Confidence, 'f', 3, 64))
	h.Set("X-Crop-Scale", strconv.FormatFloat(m.CropScale, 'f', 4, 64))
	h.Set("X-Motion-Type", string(m.MotionType))
	h.Set("X-Processing-Time-Ms", strconv.FormatFloat(m.ProcessingTimeMs, 'f', 2, 64))
	if _, err := w.Write(res.Frame.Bytes()); err != nil {
		s.log.WithError(err).WithField("stream", id).Debug("Client went away before the frame was written")
	}
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Execute(id, stream.Command{Action: stream.ActionReset}); err != nil {
		s.writeError(w, err)
		return
	}
	st, _ := s.registry.Get(id)
	s.writeJSON(w, http.StatusOK, st.Info())
}

// handleCommand accepts the same payloads as the MQTT control topic
func (s *apiServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := stream.ParseCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.Execute(id, cmd); err != nil {
		s.writeError(w, err)
		return
	}
	st, _ := s.registry.Get(id)
	s.writeJSON(w, http.StatusOK, st.Info())
}

func (s *apiServer) handleTrajectoryJSON(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.stream(w, r); ok {
		s.writeJSON(w, http.StatusOK, st.Trajectory().Samples())
	}
}

func (s *apiServer) trajectory(w http.ResponseWriter, r *http.Request) ([]stream.TrajectorySample, bool) {
	st, ok := s.stream(w, r)
	if !ok {
		return nil, false
	}
	samples := st.Trajectory().Samples()
	if len(samples) == 0 {
		http.Error(w, "No trajectory recorded yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return samples, true
}

func (s *apiServer) handleTrajectorySVG(w http.ResponseWriter, r *http.Request) {
	samples, ok := s.trajectory(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	if err := s.renderer.RenderToSVG(w, samples); err != nil {
		s.log.WithError(err).Warn("Error rendering trajectory SVG")
	}
}

func (s *apiServer) handleTrajectoryPNG(w http.ResponseWriter, r *http.Request) {
	samples, ok := s.trajectory(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := s.renderer.RenderToPNG(w, samples); err != nil {
		s.log.WithError(err).Warn("Error rendering trajectory PNG")
	}
}

// handleWebSocket streams the metrics of every frame processed on the
// stream until the client disconnects
func (s *apiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stream(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{stream: st.ID, send: make(chan []byte, 16)}
	s.hub.register(client)
	s.log.WithField("stream", st.ID).Info("WebSocket client connected")

	go func() {
		defer conn.Close()
		for msg := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// reads only detect the client going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.unregister(client)
	s.log.WithField("stream", st.ID).Info("WebSocket client disconnected")
}
