package stabilizer

import "math"

// TransformHistory is a fixed-capacity FIFO of transforms. Pushing into a
// full history overwrites exactly the oldest entry.
type TransformHistory struct {
	entries  []Transform
	capacity int
	head     int // next write position
	size     int
}

// NewTransformHistory creates a history holding at most capacity entries
func NewTransformHistory(capacity int) *TransformHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &TransformHistory{
		entries:  make([]Transform, capacity),
		capacity: capacity,
	}
}

// Push appends t. When the history is full the evicted entry is returned
// with ok set.
func (h *TransformHistory) Push(t Transform) (evicted Transform, ok bool) {
	if h.size == h.capacity {
		evicted, ok = h.entries[h.head], true
	}
	h.entries[h.head] = t
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
	return evicted, ok
}

// Len returns the number of stored entries
func (h *TransformHistory) Len() int {
	return h.size
}

// Cap returns the capacity
func (h *TransformHistory) Cap() int {
	return h.capacity
}

// At returns the i-th entry counting from the oldest (0) to the newest (Len-1)
func (h *TransformHistory) At(i int) Transform {
	if i < 0 || i >= h.size {
		return Identity()
	}
	start := (h.head - h.size + h.capacity) % h.capacity
	return h.entries[(start+i)%h.capacity]
}

// Previous returns the entry n steps back; Previous(1) is the newest
func (h *TransformHistory) Previous(n int) (Transform, bool) {
	if n < 1 || n > h.size {
		return Transform{}, false
	}
	return h.entries[(h.head-n+h.capacity)%h.capacity], true
}

// Slice returns a copy of the entries ordered oldest first
func (h *TransformHistory) Slice() []Transform {
	out := make([]Transform, h.size)
	for i := range out {
		out[i] = h.At(i)
	}
	return out
}

// Reset empties the history without releasing storage
func (h *TransformHistory) Reset() {
	h.head = 0
	h.size = 0
}

// Smoother low-pass filters the camera trajectory. It keeps the last
// SmoothingRadius accepted poses and returns their weighted average.
type Smoother struct {
	history   *TransformHistory
	weighting Weighting
	decay     float64
	gate      float64
	smoothed  Transform
}

// NewSmoother creates a smoother from the smoothing fields of cfg
func NewSmoother(cfg Config) *Smoother {
	return &Smoother{
		history:   NewTransformHistory(cfg.SmoothingRadius),
		weighting: cfg.Weighting,
		decay:     cfg.DecayFactor,
		gate:      cfg.ConfidenceGate,
		smoothed:  Identity(),
	}
}

// Update offers a new camera pose. Poses below the confidence gate are not
// recorded and the previous smoothed pose is returned with accepted=false.
func (s *Smoother) Update(pose Transform, confidence float64) (smoothed Transform, accepted bool) {
	if confidence < s.gate || !pose.IsFinite() {
		return s.smoothed, false
	}
	s.history.Push(pose)
	s.smoothed = s.average()
	return s.smoothed, true
}

// Smoothed returns the current smoothed pose (identity before any update)
func (s *Smoother) Smoothed() Transform {
	return s.smoothed
}

// History exposes the underlying ring buffer
func (s *Smoother) History() *TransformHistory {
	return s.history
}

// Reset clears the history and the smoothed pose
func (s *Smoother) Reset() {
	s.history.Reset()
	s.smoothed = Identity()
}

// weight returns the weight of entry i of n (oldest first); never
// decreasing toward newer entries.
func (s *Smoother) weight(i, n int) float64 {
	switch s.weighting {
	case WeightLinear:
		return float64(i + 1)
	case WeightExponential:
		return math.Pow(s.decay, float64(n-1-i))
	default:
		return 1
	}
}

// average computes the weighted mean of the decomposed history entries.
// Angles are unwrapped around the newest entry and scales are averaged in
// log space.
func (s *Smoother) average() Transform {
	n := s.history.Len()
	newest, _ := s.history.Previous(1)
	ref := Decompose(newest).Angle

	var sumW, tx, ty, angle, logScale float64
	for i := 0; i < n; i++ {
		c := Decompose(s.history.At(i))
		w := s.weight(i, n)
		sumW += w
		tx += w * c.Tx
		ty += w * c.Ty
		angle += w * (ref + wrapAngle(c.Angle-ref))
		logScale += w * math.Log(c.Scale)
	}
	return Components{
		Tx:    tx / sumW,
		Ty:    ty / sumW,
		Angle: angle / sumW,
		Scale: math.Exp(logScale / sumW),
	}.Transform()
}
