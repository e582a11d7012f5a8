package ahrs

import (
	"math"
	"testing"
	"time"

	"github.com/robotalks/etee.go/pkg/quat"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestFilter(beta float64) *Filter {
	clock := &fakeClock{t: time.Unix(1000, 0), step: 10 * time.Millisecond}
	return New(Config{Beta: beta, SamplePeriod: 10 * time.Millisecond, Now: clock.Now})
}

func TestDefaults(t *testing.T) {
	f := New(Config{})
	require.Equal(t, DefaultBeta, f.Beta())
	require.Equal(t, quat.Identity(), f.Quaternion())
	require.InDelta(t, DefaultSamplePeriod.Seconds(), f.SamplePeriod().Seconds(), 1e-9)
}

func TestSteadyState(t *testing.T) {
	f := NewDefault()
	for i := 0; i < 50; i++ {
		q, err := f.Update(Sample{Accel: [3]int64{0, 0, 16384}})
		require.NoError(t, err)
		require.Equal(t, quat.Identity(), q)
	}
	require.Equal(t, quat.Euler{}, f.Euler())
}

func TestUnitNorm(t *testing.T) {
	f := newTestFilter(DefaultBeta)
	mag := [3]int64{120, -40, 300}
	samples := []Sample{
		{Gyro: [3]int64{100, -250, 30}, Accel: [3]int64{500, 1200, 16000}},
		{Gyro: [3]int64{-3000, 0, 1500}, Accel: [3]int64{-8000, 0, 8000}},
		{Gyro: [3]int64{32767, 32767, -32768}, Accel: [3]int64{1, 1, 1}},
		{Gyro: [3]int64{10, 20, 30}, Accel: [3]int64{0, 16384, 0}, Mag: &mag},
	}
	for n := 0; n < 20; n++ {
		for _, s := range samples {
			q, err := f.Update(s)
			require.NoError(t, err)
			require.InDelta(t, 1, q.Norm(), 1e-9)
		}
	}
}

func TestZeroVectors(t *testing.T) {
	f := newTestFilter(DefaultBeta)
	require.NoError(t, f.UpdateIMU(Vector{0.1, 0.2, 0.3}, Vector{0, 0.5, 1}))
	before, euler := f.Quaternion(), f.Euler()

	_, err := f.Update(Sample{Gyro: [3]int64{100, 100, 100}})
	require.Equal(t, ErrZeroAccel, err)
	require.Equal(t, before, f.Quaternion())

	require.Equal(t, ErrZeroAccel, f.UpdateMARG(Vector{1, 1, 1}, Vector{}, Vector{1, 0, 0}))
	require.Equal(t, ErrZeroMag, f.UpdateMARG(Vector{1, 1, 1}, Vector{0, 0, 1}, Vector{}))
	require.Equal(t, before, f.Quaternion())
	require.Equal(t, euler, f.Euler())
}

func TestSamplePeriodEstimate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0), step: 4 * time.Millisecond}
	f := New(Config{Now: clock.Now})
	s := Sample{Accel: [3]int64{0, 0, 16384}}
	for i := 0; i < PeriodWindow; i++ {
		_, err := f.Update(s)
		require.NoError(t, err)
	}
	require.InDelta(t, DefaultSamplePeriod.Seconds(), f.SamplePeriod().Seconds(), 1e-9)

	_, err := f.Update(s)
	require.NoError(t, err)
	require.InDelta(t, 0.004, f.SamplePeriod().Seconds(), 1e-9)

	f.Reset()
	_, err = f.Update(s)
	require.NoError(t, err)
	require.InDelta(t, 0.004, f.SamplePeriod().Seconds(), 1e-9)
}

func TestPeriodEstimatorWindow(t *testing.T) {
	var e periodEstimator
	base := time.Unix(0, 0)
	for i := 0; i < PeriodWindow; i++ {
		_, ok := e.Push(base.Add(time.Duration(i) * time.Millisecond))
		require.False(t, ok)
	}
	// the 101st timestamp is measured against the first one.
	p, ok := e.Push(base.Add(200 * time.Millisecond))
	require.True(t, ok)
	require.Equal(t, 2*time.Millisecond, p)
	// then against the second one.
	p, ok = e.Push(base.Add(301 * time.Millisecond))
	require.True(t, ok)
	require.Equal(t, 3*time.Millisecond, p)
}

func TestIMUConvergesToGravity(t *testing.T) {
	f := newTestFilter(0.1)
	roll := 0.3
	accel := Vector{0, math.Sin(roll), math.Cos(roll)}
	for i := 0; i < 2000; i++ {
		require.NoError(t, f.UpdateIMU(Vector{}, accel))
	}
	e := f.Euler()
	require.InDelta(t, roll, e.Roll, 0.01)
	require.InDelta(t, 0, e.Pitch, 1e-9)
	require.InDelta(t, 0, e.Yaw, 1e-9)
	require.InDelta(t, 1, f.Quaternion().Norm(), 1e-9)
}

func TestMARGConvergesToHeading(t *testing.T) {
	f := newTestFilter(0.1)
	accel, mag := Vector{0, 0, 1}, Vector{0, 1, 0}
	for i := 0; i < 3000; i++ {
		require.NoError(t, f.UpdateMARG(Vector{}, accel, mag))
	}
	e := f.Euler()
	require.InDelta(t, -math.Pi/2, e.Yaw, 0.01)
	require.InDelta(t, 0, e.Roll, 0.01)
	require.InDelta(t, 0, e.Pitch, 0.01)
}

func TestGyroIntegration(t *testing.T) {
	f := newTestFilter(DefaultBeta)
	// level and spinning around z at 1 rad/s for one second.
	for i := 0; i < 100; i++ {
		require.NoError(t, f.UpdateIMU(Vector{0, 0, 1}, Vector{0, 0, 1}))
	}
	require.InDelta(t, 1, f.Euler().Yaw, 0.01)
}

func TestOffsets(t *testing.T) {
	f := newTestFilter(DefaultBeta)
	f.SetGyroOffset(Vector{100, 200, 300})
	f.SetMagOffset(Vector{1, 2, 3})
	gyro, mag := f.Offsets()
	require.Equal(t, Vector{100, 200, 300}, gyro)
	require.Equal(t, Vector{1, 2, 3}, mag)

	// a raw gyro reading equal to its offset is no rotation.
	q, err := f.Update(Sample{Gyro: [3]int64{100, 200, 300}, Accel: [3]int64{0, 0, 16384}})
	require.NoError(t, err)
	require.Equal(t, quat.Identity(), q)

	// the magnetometer offset applies before the zero check.
	_, err = f.Update(Sample{Accel: [3]int64{0, 0, 16384}, Mag: &[3]int64{1, 2, 3}})
	require.Equal(t, ErrZeroMag, err)
}
