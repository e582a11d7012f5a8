// Package driver runs the read loop over the dongle's serial channel and
// lets commands borrow the channel in between.
//
// The loop owns the channel by default. SendCommand pauses the loop with a
// sleep/wake handshake: it raises the sleep request and polls until the loop
// is between iterations, then holds the iteration lock for the whole
// command transaction so no streaming read can interleave with it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/comm"
	"github.com/robotalks/etee.go/pkg/framework"
	"github.com/robotalks/etee.go/pkg/widget"
)

var (
	// ErrNoResponse indicates a command failed, the cause is wrapped.
	ErrNoResponse = errors.New("no response")
	// ErrBusy indicates the loop didn't pause in time for a command.
	ErrBusy = errors.New("loop busy")
	// ErrAlreadyRunning is returned when the loop is started twice.
	ErrAlreadyRunning = errors.New("already running")
)

// State is the state of the loop.
type State int32

// Loop states.
const (
	Stopped State = iota
	Running
	Sleeping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	}
	return "unknown"
}

// Config defines the parameters of the loop.
type Config struct {
	// ReadTimeout bounds a single read of the loop.
	ReadTimeout time.Duration
	// MaxFrameLen caps a single read, 0 for no limit.
	MaxFrameLen int
	// SleepTimeout bounds the wait for the loop to pause.
	SleepTimeout time.Duration
	// SleepPoll is the polling interval of the handshake and the yield
	// interval of a sleeping loop.
	SleepPoll time.Duration
	// FaultBackoff is the pause after a transport fault.
	FaultBackoff time.Duration
	// KeepAlivePeriod is how long the connection is considered alive
	// without receiving anything.
	KeepAlivePeriod time.Duration
	// TransportTimeout is set if the transport's Read returns on its own
	// timeout, see comm.Channel.
	TransportTimeout bool
	// Time is the clock of liveness, wall-clock by default.
	Time framework.TimeSource
}

// DefaultConfig returns the default loop parameters.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     time.Second,
		SleepTimeout:    3 * time.Second,
		SleepPoll:       10 * time.Millisecond,
		FaultBackoff:    100 * time.Millisecond,
		KeepAlivePeriod: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.SleepTimeout <= 0 {
		c.SleepTimeout = def.SleepTimeout
	}
	if c.SleepPoll <= 0 {
		c.SleepPoll = def.SleepPoll
	}
	if c.FaultBackoff <= 0 {
		c.FaultBackoff = def.FaultBackoff
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = def.KeepAlivePeriod
	}
	if c.Time == nil {
		c.Time = framework.SystemTime
	}
	return c
}

// Driver reads and dispatches frames of one schema from one channel.
type Driver struct {
	conf   Config
	schema *widget.Schema
	ch     *comm.Channel
	delims [][]byte

	running  int32
	sleepReq int32
	paused   int32
	holding  int32
	iterLock sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	err      error

	frames    int64
	lastAlive int64 // unix nano
	keepAlive int64 // time.Duration
	current   widget.Frame
	lock      sync.RWMutex

	handlers handlers
}

// New creates a Driver with a closed channel.
func New(schema *widget.Schema, conf Config) *Driver {
	conf = conf.withDefaults()
	d := &Driver{
		conf:   conf,
		schema: schema,
		ch:     comm.NewChannel(nil, conf.TransportTimeout),
		delims: comm.Delimiters(schema),
		doneCh: make(chan struct{}),
	}
	d.keepAlive = int64(conf.KeepAlivePeriod)
	close(d.doneCh)
	return d
}

// Schema returns the frame schema.
func (d *Driver) Schema() *widget.Schema {
	return d.schema
}

// Channel returns the underlying channel.
func (d *Driver) Channel() *comm.Channel {
	return d.ch
}

// Connect attaches the transport.
func (d *Driver) Connect(rw io.ReadWriter) {
	d.ch.Open(rw)
	d.touch()
	glog.Info("driver: connected")
	d.emitConnection(Connected)
}

// ConnectWith attaches the transport created by open.
func (d *Driver) ConnectWith(open func() (io.ReadWriter, error)) error {
	rw, err := open()
	if err != nil {
		glog.Errorf("driver: connect failed: %v", err)
		d.emitConnection(ConnectFailed)
		return err
	}
	d.Connect(rw)
	return nil
}

// Disconnect stops the loop and closes the transport.
func (d *Driver) Disconnect() error {
	d.Stop()
	err := d.ch.Close()
	glog.Info("driver: disconnected")
	d.emitConnection(Disconnected)
	return err
}

// IsConnected reports whether a transport is attached.
func (d *Driver) IsConnected() bool {
	return d.ch.IsOpen()
}

// Start launches the loop in the background.
func (d *Driver) Start() error {
	if err := d.begin(); err != nil {
		return err
	}
	go d.loop(context.Background())
	return nil
}

// Run runs the loop until Stop is called or ctx is canceled.
// It implements framework.Runnable. A schema error stops the loop and is
// returned.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.begin(); err != nil {
		return err
	}
	d.loop(ctx)
	if d.err != nil {
		return d.err
	}
	return ctx.Err()
}

// Stop requests the loop to exit at the next iteration boundary.
func (d *Driver) Stop() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if atomic.CompareAndSwapInt32(&d.running, 1, 0) {
		close(d.stopCh)
	}
}

// Done is closed when the loop exits.
func (d *Driver) Done() <-chan struct{} {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.doneCh
}

// Err returns the error which stopped the loop.
func (d *Driver) Err() error {
	<-d.Done()
	return d.err
}

// State returns the state of the loop.
func (d *Driver) State() State {
	if atomic.LoadInt32(&d.running) == 0 {
		return Stopped
	}
	if atomic.LoadInt32(&d.holding) != 0 || atomic.LoadInt32(&d.paused) != 0 {
		return Sleeping
	}
	return Running
}

func (d *Driver) begin() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
		return ErrAlreadyRunning
	}
	select {
	case <-d.doneCh:
	default:
		// the previous loop is still finishing its last iteration.
		atomic.StoreInt32(&d.running, 0)
		return ErrAlreadyRunning
	}
	d.stopCh, d.doneCh, d.err = make(chan struct{}), make(chan struct{}), nil
	return nil
}

func (d *Driver) loop(ctx context.Context) {
	d.lock.RLock()
	stopCh, doneCh := d.stopCh, d.doneCh
	d.lock.RUnlock()
	defer close(doneCh)
	defer atomic.StoreInt32(&d.paused, 0)

	glog.V(1).Info("driver: loop started")
	for atomic.LoadInt32(&d.running) != 0 {
		if ctx.Err() != nil {
			d.Stop()
			break
		}
		if atomic.LoadInt32(&d.sleepReq) != 0 {
			atomic.StoreInt32(&d.paused, 1)
			d.yield(ctx, stopCh, d.conf.SleepPoll)
			continue
		}
		atomic.StoreInt32(&d.paused, 0)

		d.iterLock.Lock()
		backoff, err := d.next()
		d.iterLock.Unlock()
		if err != nil {
			glog.Errorf("driver: %v", err)
			d.err = err
			d.Stop()
			break
		}
		if backoff {
			d.yield(ctx, stopCh, d.conf.FaultBackoff)
		}
	}
	glog.V(1).Info("driver: loop stopped")
}

func (d *Driver) yield(ctx context.Context, stopCh <-chan struct{}, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stopCh:
	case <-ctx.Done():
	}
}

// next performs one read and dispatches it. Only schema errors are
// returned, transport faults are reported to fault handlers.
func (d *Driver) next() (backoff bool, err error) {
	data, err := d.ch.ReadUntil(d.delims, d.conf.MaxFrameLen, d.conf.ReadTimeout)
	if err != nil {
		if errors.Is(err, comm.ErrNotOpen) || atomic.LoadInt32(&d.running) == 0 {
			// not connected yet, or disconnected while stopping.
			return true, nil
		}
		glog.Warningf("driver: read failed: %v", err)
		d.emitFault(err)
		return true, nil
	}

	f := comm.Classify(data, d.schema)
	switch f.Kind {
	case comm.Binary:
		frame, err := d.schema.Decode(f.Data)
		if err != nil {
			return false, fmt.Errorf("decode: %w", err)
		}
		d.touch()
		frameNo := atomic.AddInt64(&d.frames, 1) - 1
		d.lock.Lock()
		d.current = frame
		d.lock.Unlock()
		if glog.V(4) {
			glog.Infof("driver: frame %d %v", frameNo, frame)
		}
		d.emitData(frameNo, frame)
	case comm.Text:
		d.touch()
		glog.V(2).Infof("driver: print %q", f.Data)
		d.emitPrint(f.Data)
	default:
		if len(f.Data) > 0 {
			glog.V(2).Infof("driver: unrecognized %q", f.Data)
		}
		d.emitRest(f.Data)
	}
	return false, nil
}

// SendCommand pauses the loop, performs the transaction and resumes the
// loop on every path. Failures are reported as ErrNoResponse wrapping the
// cause: comm.ErrNotOpen, ErrBusy or the transport fault.
// Concurrent commands are serialized.
func (d *Driver) SendCommand(req comm.Request) (*comm.Response, error) {
	if err := d.sleep(); err != nil {
		glog.Warningf("driver: command %q: %v", req.Command, err)
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	defer d.wake()

	glog.V(2).Infof("driver: command %q", req.Command)
	resp, err := d.ch.Transact(req)
	if err != nil {
		glog.Warningf("driver: command %q failed: %v", req.Command, err)
		return resp, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	glog.V(2).Infof("driver: command %q response %q", req.Command, resp.Data)
	return resp, nil
}

// Write passes raw bytes to the transport without reading a response.
func (d *Driver) Write(p []byte) error {
	return d.ch.Write(p)
}

func (d *Driver) sleep() error {
	atomic.AddInt32(&d.sleepReq, 1)
	deadline := time.Now().Add(d.conf.SleepTimeout)
	for !d.iterLock.TryLock() {
		if !time.Now().Before(deadline) {
			atomic.AddInt32(&d.sleepReq, -1)
			return ErrBusy
		}
		time.Sleep(d.conf.SleepPoll)
	}
	atomic.StoreInt32(&d.holding, 1)
	return nil
}

func (d *Driver) wake() {
	atomic.StoreInt32(&d.holding, 0)
	d.iterLock.Unlock()
	atomic.AddInt32(&d.sleepReq, -1)
}

func (d *Driver) touch() {
	atomic.StoreInt64(&d.lastAlive, d.conf.Time.Time().UnixNano())
}

// FrameNo returns the number of the last data frame, -1 if none.
// Frames are numbered from 0.
func (d *Driver) FrameNo() int64 {
	return atomic.LoadInt64(&d.frames) - 1
}

// CurrentFrame returns the last decoded data frame.
func (d *Driver) CurrentFrame() widget.Frame {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.current
}

// LastAlive returns when anything was last received.
func (d *Driver) LastAlive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&d.lastAlive))
}

// SinceAlive returns how long ago anything was received.
func (d *Driver) SinceAlive() time.Duration {
	return d.conf.Time.Time().Sub(d.LastAlive())
}

// IsAlive reports whether something was received within the keep alive
// period.
func (d *Driver) IsAlive() bool {
	return atomic.LoadInt64(&d.lastAlive) != 0 &&
		d.SinceAlive() < time.Duration(atomic.LoadInt64(&d.keepAlive))
}

// SetKeepAlivePeriod changes the keep alive period.
func (d *Driver) SetKeepAlivePeriod(period time.Duration) {
	atomic.StoreInt64(&d.keepAlive, int64(period))
}
