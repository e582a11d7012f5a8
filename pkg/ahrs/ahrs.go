// Package ahrs implements the attitude and heading reference system used to
// estimate a controller's orientation from its inertial sensors.
//
// The estimator is Madgwick's gradient descent filter. Without a
// magnetometer sample it runs the IMU variant (gyroscope + accelerometer,
// relative heading); with one it runs the MARG variant and the heading
// becomes absolute.
package ahrs

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/robotalks/etee.go/pkg/quat"
)

// Sensor sensitivities of the controller's IMU.
const (
	// AccelSensitivity converts raw accelerometer LSB to g.
	AccelSensitivity = 4.0 / 32768.0
	// GyroSensitivity converts raw gyroscope LSB to rad/s.
	GyroSensitivity = (2000.0 / 32768.0) * (math.Pi / 180)
)

// MagSensitivity converts raw magnetometer LSB per axis.
var MagSensitivity = [3]float64{0.38, 0.38, 0.61}

// Defaults.
const (
	DefaultBeta         = 0.0315
	DefaultSamplePeriod = time.Second / 97
)

var (
	// ErrZeroAccel indicates an accelerometer sample with zero magnitude.
	// The update is skipped.
	ErrZeroAccel = errors.New("accelerometer is zero")
	// ErrZeroMag indicates a magnetometer sample with zero magnitude.
	// The update is skipped.
	ErrZeroMag = errors.New("magnetometer is zero")
)

// Vector is a 3-axis sample.
type Vector [3]float64

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Scale multiplies each axis by s.
func (v Vector) Scale(s float64) Vector {
	return Vector{v[0] * s, v[1] * s, v[2] * s}
}

// Sample holds raw sensor readings as reported by the controller.
// Mag is nil when the magnetometer is not used.
type Sample struct {
	Gyro  [3]int64
	Accel [3]int64
	Mag   *[3]int64
}

// Config defines the parameters of a Filter.
type Config struct {
	// Beta is the gain of the gradient descent step.
	Beta float64
	// SamplePeriod is used until the period estimator has a full window.
	SamplePeriod time.Duration
	// Now supplies wall-clock read timestamps, defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default filter parameters.
func DefaultConfig() Config {
	return Config{
		Beta:         DefaultBeta,
		SamplePeriod: DefaultSamplePeriod,
	}
}

// Filter is the orientation state of one controller.
// It is safe for concurrent use.
type Filter struct {
	beta   float64
	period float64 // seconds
	now    func() time.Time

	q          quat.Quaternion
	euler      quat.Euler
	gyroOffset Vector
	magOffset  Vector
	periods    periodEstimator
	lock       sync.RWMutex
}

// New creates a Filter at the identity orientation.
func New(conf Config) *Filter {
	f := &Filter{
		beta:   conf.Beta,
		period: conf.SamplePeriod.Seconds(),
		now:    conf.Now,
		q:      quat.Identity(),
	}
	if f.beta == 0 {
		f.beta = DefaultBeta
	}
	if f.period <= 0 {
		f.period = DefaultSamplePeriod.Seconds()
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// NewDefault creates a Filter with DefaultConfig.
func NewDefault() *Filter {
	return New(DefaultConfig())
}

// Beta returns the filter gain.
func (f *Filter) Beta() float64 {
	return f.beta
}

// Quaternion returns the current orientation.
func (f *Filter) Quaternion() quat.Quaternion {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.q
}

// Euler returns the Euler angles derived after the last update.
func (f *Filter) Euler() quat.Euler {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.euler
}

// SamplePeriod returns the current sample period.
func (f *Filter) SamplePeriod() time.Duration {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return time.Duration(f.period * float64(time.Second))
}

// SetGyroOffset sets the raw gyroscope offset subtracted before scaling.
func (f *Filter) SetGyroOffset(v Vector) {
	f.lock.Lock()
	f.gyroOffset = v
	f.lock.Unlock()
}

// SetMagOffset sets the raw magnetometer offset subtracted before scaling.
func (f *Filter) SetMagOffset(v Vector) {
	f.lock.Lock()
	f.magOffset = v
	f.lock.Unlock()
}

// Offsets returns the gyroscope and magnetometer offsets.
func (f *Filter) Offsets() (gyro, mag Vector) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.gyroOffset, f.magOffset
}

// Reset restores the identity orientation and drops the period window.
// Offsets are kept.
func (f *Filter) Reset() {
	f.lock.Lock()
	f.q, f.euler = quat.Identity(), quat.Euler{}
	f.periods.Reset()
	f.lock.Unlock()
}

// Update is the entry point for raw controller readings: it records the
// read timestamp for period estimation, calibrates and scales the sample,
// runs the MARG update when a magnetometer reading is present (IMU update
// otherwise) and refreshes the Euler angles.
// ErrZeroAccel or ErrZeroMag is returned when the sample was skipped.
func (f *Filter) Update(s Sample) (quat.Quaternion, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if period, ok := f.periods.Push(f.now()); ok && period > 0 {
		f.period = period.Seconds()
	}

	var gyro, accel Vector
	for i := 0; i < 3; i++ {
		gyro[i] = (float64(s.Gyro[i]) - f.gyroOffset[i]) * GyroSensitivity
		accel[i] = float64(s.Accel[i]) * AccelSensitivity
	}

	var err error
	if s.Mag == nil {
		err = f.updateIMU(gyro, accel)
	} else {
		var mag Vector
		for i := 0; i < 3; i++ {
			mag[i] = (float64(s.Mag[i]) - f.magOffset[i]) * MagSensitivity[i]
		}
		err = f.updateMARG(gyro, accel, mag)
	}
	if err == nil {
		f.euler = f.q.Euler()
	}
	return f.q, err
}

// UpdateIMU runs one IMU update with gyroscope in rad/s and accelerometer in
// any unit.
func (f *Filter) UpdateIMU(gyro, accel Vector) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.updateIMU(gyro, accel); err != nil {
		return err
	}
	f.euler = f.q.Euler()
	return nil
}

// UpdateMARG runs one MARG update with gyroscope in rad/s, accelerometer and
// magnetometer in any unit.
func (f *Filter) UpdateMARG(gyro, accel, mag Vector) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.updateMARG(gyro, accel, mag); err != nil {
		return err
	}
	f.euler = f.q.Euler()
	return nil
}

func (f *Filter) updateIMU(gyro, accel Vector) error {
	n := accel.Norm()
	if n == 0 {
		return ErrZeroAccel
	}
	a := accel.Scale(1 / n)
	q := f.q

	fv := [3]float64{
		2*(q.X*q.Z-q.W*q.Y) - a[0],
		2*(q.W*q.X+q.Y*q.Z) - a[1],
		2*(0.5-q.X*q.X-q.Y*q.Y) - a[2],
	}
	j := [3][4]float64{
		{-2 * q.Y, 2 * q.Z, -2 * q.W, 2 * q.X},
		{2 * q.X, 2 * q.W, 2 * q.Z, 2 * q.Y},
		{0, -4 * q.X, -4 * q.Y, 0},
	}
	f.integrate(gyro, gradient(j[:], fv[:]))
	return nil
}

func (f *Filter) updateMARG(gyro, accel, mag Vector) error {
	n := accel.Norm()
	if n == 0 {
		return ErrZeroAccel
	}
	a := accel.Scale(1 / n)
	if n = mag.Norm(); n == 0 {
		return ErrZeroMag
	}
	m := mag.Scale(1 / n)
	q := f.q

	// reference direction of the earth's field: the measurement rotated
	// into the earth frame, collapsed onto the x-z plane.
	h := q.Mul(quat.New(0, m[0], m[1], m[2])).Mul(q.Conj())
	bx, bz := math.Hypot(h.X, h.Y), h.Z

	fv := [6]float64{
		2*(q.X*q.Z-q.W*q.Y) - a[0],
		2*(q.W*q.X+q.Y*q.Z) - a[1],
		2*(0.5-q.X*q.X-q.Y*q.Y) - a[2],
		2*bx*(0.5-q.Y*q.Y-q.Z*q.Z) + 2*bz*(q.X*q.Z-q.W*q.Y) - m[0],
		2*bx*(q.X*q.Y-q.W*q.Z) + 2*bz*(q.W*q.X+q.Y*q.Z) - m[1],
		2*bx*(q.W*q.Y+q.X*q.Z) + 2*bz*(0.5-q.X*q.X-q.Y*q.Y) - m[2],
	}
	j := [6][4]float64{
		{-2 * q.Y, 2 * q.Z, -2 * q.W, 2 * q.X},
		{2 * q.X, 2 * q.W, 2 * q.Z, 2 * q.Y},
		{0, -4 * q.X, -4 * q.Y, 0},
		{-2 * bz * q.Y, 2 * bz * q.Z, -4*bx*q.Y - 2*bz*q.W, -4*bx*q.Z + 2*bz*q.X},
		{-2*bx*q.Z + 2*bz*q.X, 2*bx*q.Y + 2*bz*q.W, 2*bx*q.X + 2*bz*q.Z, -2*bx*q.W + 2*bz*q.Y},
		{2 * bx * q.Y, 2*bx*q.Z - 4*bz*q.X, 2*bx*q.W - 4*bz*q.Y, 2 * bx * q.X},
	}
	f.integrate(gyro, gradient(j[:], fv[:]))
	return nil
}

// gradient computes the normalized step Jᵀf. A zero step (estimate already
// consistent with the measurement) stays zero.
func gradient(j [][4]float64, fv []float64) quat.Quaternion {
	var s [4]float64
	for r := range j {
		for c := 0; c < 4; c++ {
			s[c] += j[r][c] * fv[r]
		}
	}
	step := quat.New(s[0], s[1], s[2], s[3])
	return step.Normalize()
}

func (f *Filter) integrate(gyro Vector, step quat.Quaternion) {
	q := f.q
	qdot := q.Mul(quat.New(0, gyro[0], gyro[1], gyro[2])).Scale(0.5).Sub(step.Scale(f.beta))
	q = q.Add(qdot.Scale(f.period)).Normalize()
	if isFinite(q) {
		f.q = q
	}
}

func isFinite(q quat.Quaternion) bool {
	for _, v := range [4]float64{q.W, q.X, q.Y, q.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return q.Norm() != 0
}
