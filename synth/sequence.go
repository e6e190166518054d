package synth

import (
	"math"
	"math/rand"
)

// Pan returns n poses drifting by (dx, dy) per frame, starting at rest
func Pan(n int, dx, dy float64) []Pose {
	poses := make([]Pose, n)
	for i := range poses {
		poses[i] = Pose{Tx: dx * float64(i), Ty: dy * float64(i), Scale: 1}
	}
	return poses
}

// Shaky returns n poses of a slow pan overlaid with random hand shake of
// the given amplitude in pixels. Rotation jitter is amplitude/400 radians.
func Shaky(n int, pan, amplitude float64, seed int64) []Pose {
	rng := rand.New(rand.NewSource(seed))
	poses := make([]Pose, n)
	var jx, jy, ja float64
	for i := range poses {
		// first-order lag so the shake has some correlation between frames
		jx = 0.4*jx + 0.6*(rng.Float64()*2-1)*amplitude
		jy = 0.4*jy + 0.6*(rng.Float64()*2-1)*amplitude
		ja = 0.4*ja + 0.6*(rng.Float64()*2-1)*amplitude/400
		poses[i] = Pose{
			Tx:    pan*float64(i) + jx,
			Ty:    jy,
			Angle: ja,
			Scale: 1,
		}
	}
	return poses
}

// Oscillate returns n poses alternating between +amp and -amp horizontally
func Oscillate(n int, amp float64) []Pose {
	poses := make([]Pose, n)
	for i := range poses {
		poses[i] = Pose{Tx: amp * math.Pow(-1, float64(i)), Scale: 1}
	}
	return poses
}
