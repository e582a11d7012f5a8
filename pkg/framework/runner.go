package framework

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
)

// ErrForcedExit is returned by Wait when a second stop signal arrived before
// everything stopped.
var ErrForcedExit = errors.New("forced exit")

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// NamedFunc wraps a func with a name.
func NamedFunc(name string, fn func(context.Context) error) Runnable {
	return NamedRun(name, RunFunc(fn))
}

func nameOf(runnable Runnable, index int) string {
	if named, ok := runnable.(Named); ok {
		return named.Name()
	}
	return strconv.Itoa(index)
}

type result struct {
	name string
	err  error
}

// Runner runs the parts of a process side by side, e.g. the dongle session
// and the telemetry outputs, and reports their failures by name.
type Runner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	started int
	results chan result
	forced  chan struct{}
}

// NewRunner creates a runner with a background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner stopped when ctx is canceled.
func NewRunnerWith(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan result),
		forced:  make(chan struct{}),
	}
}

// Context returns the context passed to the runnables.
func (r *Runner) Context() context.Context {
	return r.ctx
}

// HandleSignals stops the runner on Ctrl-C or SIGTERM. A second signal makes
// Wait return without waiting.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("stop requested")
		r.Stop()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.forced)
	}()
	return r
}

// Stop cancels the context of all runnables.
func (r *Runner) Stop() {
	r.cancel()
}

// Go starts runnables.
func (r *Runner) Go(runnables ...Runnable) *Runner {
	for _, runnable := range runnables {
		r.start(runnable, false)
	}
	return r
}

// GoCritical starts runnables the others can't live without: when any of
// them returns, the runner stops.
func (r *Runner) GoCritical(runnables ...Runnable) *Runner {
	for _, runnable := range runnables {
		r.start(runnable, true)
	}
	return r
}

func (r *Runner) start(runnable Runnable, critical bool) {
	name := nameOf(runnable, r.started)
	r.started++
	glog.V(4).Infof("runner: start %s", name)
	go func() {
		err := runnable.Run(r.ctx)
		if critical {
			glog.V(1).Infof("runner: %s exited, stopping", name)
			r.Stop()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("runner: %s failed: %v", name, err)
		}
		r.results <- result{name: name, err: err}
		glog.V(4).Infof("runner: %s stopped", name)
	}()
}

// Wait waits for all runnables to return. Failures are aggregated under
// the runnable names, cancellation isn't a failure.
func (r *Runner) Wait() error {
	defer r.Stop()
	var errs AggregatedError
	for n := 0; n < r.started; n++ {
		select {
		case <-r.forced:
			return ErrForcedExit
		case res := <-r.results:
			if !errors.Is(res.err, context.Canceled) {
				errs.Add(res.name, "", res.err)
			}
		}
	}
	return errs.Aggregate()
}

// RunWithContextCancel runs fn which doesn't accept a context. onCancel is
// called only when ctx is canceled before fn returns, and must make fn
// return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return context.Canceled
	case err := <-errCh:
		return err
	}
}

// RunWithContextCloser runs fn until ctx is canceled, closing closer either
// to stop fn or after it returns.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var closed bool
	err := RunWithContextCancel(ctx, func() {
		closer.Close()
		closed = true
	}, fn)
	if !closed {
		closer.Close()
	}
	return err
}
