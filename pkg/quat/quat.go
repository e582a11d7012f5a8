// Package quat implements the quaternion algebra used by the AHRS filter.
package quat

import (
	"fmt"
	"math"
)

// Quaternion is a value type holding w + xi + yj + zk.
type Quaternion struct {
	W, X, Y, Z float64
}

// Euler holds roll, pitch and yaw in radians.
type Euler struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ShapeError is returned when a raw vector can't be used as a quaternion.
type ShapeError struct {
	Len int
}

// Error implements error.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("expecting a 4-element vector, got %d elements", e.Len)
}

// angleEpsilon is the smallest sin(θ/2) accepted when extracting an axis.
const angleEpsilon = 1e-8

// Identity returns (1, 0, 0, 0).
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// New creates a quaternion from its components.
func New(w, x, y, z float64) Quaternion {
	return Quaternion{W: w, X: x, Y: y, Z: z}
}

// FromSlice creates a quaternion from a 4-element vector.
func FromSlice(v []float64) (Quaternion, error) {
	if len(v) != 4 {
		return Quaternion{}, &ShapeError{Len: len(v)}
	}
	return Quaternion{W: v[0], X: v[1], Y: v[2], Z: v[3]}, nil
}

// FromAngleAxis creates the rotation of rad radians around (x, y, z).
func FromAngleAxis(rad, x, y, z float64) Quaternion {
	s := math.Sin(rad / 2)
	return Quaternion{W: math.Cos(rad / 2), X: x * s, Y: y * s, Z: z * s}
}

// Slice returns the components as [w, x, y, z].
func (q Quaternion) Slice() []float64 {
	return []float64{q.W, q.X, q.Y, q.Z}
}

// Mul returns the Hamilton product q⊗o.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Scale multiplies every component by s.
func (q Quaternion) Scale(s float64) Quaternion {
	return Quaternion{W: q.W * s, X: q.X * s, Y: q.Y * s, Z: q.Z * s}
}

// Add adds two quaternions componentwise.
func (q Quaternion) Add(o Quaternion) Quaternion {
	return Quaternion{W: q.W + o.W, X: q.X + o.X, Y: q.Y + o.Y, Z: q.Z + o.Z}
}

// Sub subtracts o componentwise.
func (q Quaternion) Sub(o Quaternion) Quaternion {
	return Quaternion{W: q.W - o.W, X: q.X - o.X, Y: q.Y - o.Y, Z: q.Z - o.Z}
}

// AddVec adds a raw [w, x, y, z] vector componentwise.
func (q Quaternion) AddVec(v []float64) (Quaternion, error) {
	o, err := FromSlice(v)
	if err != nil {
		return q, err
	}
	return q.Add(o), nil
}

// Conj returns the conjugate.
func (q Quaternion) Conj() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Norm returns the Euclidean norm.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit length. The zero quaternion is returned as-is.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return q.Scale(1 / n)
}

// IsIdentity reports whether q is exactly (1, 0, 0, 0).
func (q Quaternion) IsIdentity() bool {
	return q.W == 1 && q.X == 0 && q.Y == 0 && q.Z == 0
}

// ToAngleAxis returns the rotation angle in radians and the rotation axis.
// The identity and rotations too small to define an axis yield (0, 1, 0, 0).
func (q Quaternion) ToAngleAxis() (rad, x, y, z float64) {
	if q.IsIdentity() {
		return 0, 1, 0, 0
	}
	w := math.Max(-1, math.Min(1, q.W))
	rad = math.Acos(w) * 2
	s := math.Sin(rad / 2)
	if math.Abs(s) < angleEpsilon {
		return 0, 1, 0, 0
	}
	return rad, q.X / s, q.Y / s, q.Z / s
}

// Euler converts q to roll (x), pitch (y) and yaw (z) in radians using the
// aerospace sequence.
func (q Quaternion) Euler() Euler {
	t0 := 2 * (q.W*q.X + q.Y*q.Z)
	t1 := 1 - 2*(q.X*q.X+q.Y*q.Y)

	// round-off can push |t2| slightly above 1 near gimbal lock.
	t2 := 2 * (q.W*q.Y - q.Z*q.X)
	if t2 > 1 {
		t2 = 1
	} else if t2 < -1 {
		t2 = -1
	}

	t3 := 2 * (q.W*q.Z + q.X*q.Y)
	t4 := 1 - 2*(q.Y*q.Y+q.Z*q.Z)

	return Euler{
		Roll:  math.Atan2(t0, t1),
		Pitch: math.Asin(t2),
		Yaw:   math.Atan2(t3, t4),
	}
}

// Degrees converts the angles to degrees.
func (e Euler) Degrees() Euler {
	const k = 180 / math.Pi
	return Euler{Roll: e.Roll * k, Pitch: e.Pitch * k, Yaw: e.Yaw * k}
}

// String implements fmt.Stringer.
func (q Quaternion) String() string {
	return fmt.Sprintf("(%.6f, %.6f, %.6f, %.6f)", q.W, q.X, q.Y, q.Z)
}
