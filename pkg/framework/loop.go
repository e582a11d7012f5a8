package framework

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultLoopInterval is used when Loop.Interval is not set.
const DefaultLoopInterval = 100 * time.Millisecond

// Loop invokes Tickers periodically, or immediately when triggered.
type Loop struct {
	Interval time.Duration
	Time     TimeSource

	tickers  []Ticker
	lock     sync.Mutex
	wakeUpCh chan struct{}
	once     sync.Once
}

// NewLoop creates a Loop.
func NewLoop(interval time.Duration, tickers ...Ticker) *Loop {
	return &Loop{Interval: interval, tickers: tickers}
}

// Add appends tickers, invoked in order from the next iteration.
func (l *Loop) Add(tickers ...Ticker) *Loop {
	l.lock.Lock()
	l.tickers = append(l.tickers, tickers...)
	l.lock.Unlock()
	return l
}

func (l *Loop) init() {
	l.once.Do(func() {
		l.wakeUpCh = make(chan struct{}, 1)
	})
}

// TriggerNext schedules an iteration immediately.
func (l *Loop) TriggerNext() {
	l.init()
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	l.init()
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultLoopInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-l.wakeUpCh:
		}
		if err := l.runIteration(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) runIteration(ctx context.Context) error {
	ts := l.Time
	if ts == nil {
		ts = SystemTime
	}
	now := ts.Time()
	l.lock.Lock()
	tickers := l.tickers
	l.lock.Unlock()
	for _, t := range tickers {
		if err := t.Tick(ctx, now); err != nil {
			if err == context.Canceled {
				return err
			}
			glog.Warningf("loop: tick error: %v", err)
		}
	}
	return nil
}
