package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// TimeSource provides the time for time-sensitive logic.
type TimeSource interface {
	Time() time.Time
}

// TimeFunc is the func form of TimeSource.
type TimeFunc func() time.Time

// Time implements TimeSource.
func (f TimeFunc) Time() time.Time {
	return f()
}

// SystemTime is the TimeSource of wall-clock.
var SystemTime TimeSource = TimeFunc(time.Now)

// Ticker is invoked by Loop on every iteration.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) error
}

// TickFunc is the func form of Ticker.
type TickFunc func(context.Context, time.Time) error

// Tick implements Ticker.
func (f TickFunc) Tick(ctx context.Context, now time.Time) error {
	return f(ctx, now)
}
