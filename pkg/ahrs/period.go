package ahrs

import "time"

// PeriodWindow is the number of timestamps the period estimator averages over.
const PeriodWindow = 100

// periodEstimator keeps the last PeriodWindow read timestamps in a ring.
type periodEstimator struct {
	ring  [PeriodWindow]time.Time
	next  int
	count int
}

// Push records t and returns the per-sample period averaged over the
// window. ok is false until the window is full.
func (e *periodEstimator) Push(t time.Time) (period time.Duration, ok bool) {
	if e.count == PeriodWindow {
		oldest := e.ring[e.next]
		period, ok = t.Sub(oldest)/PeriodWindow, true
	} else {
		e.count++
	}
	e.ring[e.next] = t
	e.next = (e.next + 1) % PeriodWindow
	return
}

// Reset empties the window.
func (e *periodEstimator) Reset() {
	*e = periodEstimator{}
}
