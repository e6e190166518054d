package stabilizer

import "math"

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m Transform) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m Transform) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// Compose combines two transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func Compose(m1, m2 Transform) Transform {
	return Transform{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Det returns the determinant of the linear part
func (m Transform) Det() float64 {
	return m.A*m.D - m.B*m.C
}

// Invert computes the inverse of an affine transform
// Returns identity if matrix is singular (determinant ~= 0)
func Invert(m Transform) Transform {
	det := m.Det()
	if math.Abs(det) < 1e-10 {
		return Identity()
	}

	invDet := 1.0 / det
	return Transform{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) Transform {
	return Transform{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) Transform {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return Transform{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// Scale creates a scaling transform
func Scale(sx, sy float64) Transform {
	return Transform{A: sx, B: 0, Tx: 0, C: 0, D: sy, Ty: 0}
}

// About conjugates m so that it acts around center instead of the origin
func About(m Transform, center Point) Transform {
	return Compose(Translation(center.X, center.Y), Compose(m, Translation(-center.X, -center.Y)))
}

// Components is the similarity decomposition of a transform
type Components struct {
	Tx    float64 `json:"tx"`
	Ty    float64 `json:"ty"`
	Angle float64 `json:"angle"` // radians
	Scale float64 `json:"scale"`
}

// Decompose extracts translation, rotation and uniform scale.
// Shear and anisotropic scale are folded into the closest similarity.
func Decompose(m Transform) Components {
	scale := math.Sqrt(math.Abs(m.Det()))
	if scale == 0 {
		scale = 1
	}
	return Components{
		Tx:    m.Tx,
		Ty:    m.Ty,
		Angle: math.Atan2(m.C-m.B, m.A+m.D),
		Scale: scale,
	}
}

// Transform rebuilds the similarity described by the components
func (c Components) Transform() Transform {
	cos := math.Cos(c.Angle) * c.Scale
	sin := math.Sin(c.Angle) * c.Scale
	return Transform{A: cos, B: -sin, Tx: c.Tx, C: sin, D: cos, Ty: c.Ty}
}

// IsFinite reports whether every coefficient is a finite number
func (m Transform) IsFinite() bool {
	for _, v := range [...]float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// NearIdentity reports whether m moves no point of a w x h frame by more
// than tol pixels.
func NearIdentity(m Transform, w, h int, tol float64) bool {
	corners := [...]Point{{0, 0}, {float64(w), 0}, {0, float64(h)}, {float64(w), float64(h)}}
	for _, c := range corners {
		if Distance(c, TransformPoint(c, m)) > tol {
			return false
		}
	}
	return true
}

// Centroid returns the centroid of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}

// Distance returns the Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	return math.Hypot(p2.X-p1.X, p2.Y-p1.Y)
}

// wrapAngle maps an angle into (-pi, pi]
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
