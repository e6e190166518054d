package stabilizer

import (
	"sort"
	"sync"
)

// FeatureDetector finds trackable corners in a luma image
type FeatureDetector interface {
	Detect(img *Gray, max int) ([]FeaturePoint, error)
}

// MotionTracker follows feature points from prev into curr. The returned
// slice is ordered 1:1 with pts; lost points are kept with Valid=false.
type MotionTracker interface {
	Track(prev, curr *Gray, pts []FeaturePoint) ([]Correspondence, error)
}

// BackendNative is the pure Go detector and tracker
const BackendNative = "native"

// BackendFactory builds a detector/tracker pair for a session
type BackendFactory func(cfg Config) (FeatureDetector, MotionTracker)

var (
	backendsMu sync.RWMutex
	backends   = map[string]BackendFactory{
		BackendNative: func(cfg Config) (FeatureDetector, MotionTracker) {
			return NewDetector(cfg), NewTracker(cfg)
		},
	}
)

// RegisterBackend makes an alternative detector/tracker implementation
// selectable through Config.Backend.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// Backends lists registered backend names
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(name string) (BackendFactory, bool) {
	if name == "" {
		name = BackendNative
	}
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	f, ok := backends[name]
	return f, ok
}
