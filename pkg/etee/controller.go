// Package etee implements a session with the etee dongle: data of both
// controllers, their orientation and the dongle commands.
package etee

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/ahrs"
	"github.com/robotalks/etee.go/pkg/driver"
	"github.com/robotalks/etee.go/pkg/framework"
	"github.com/robotalks/etee.go/pkg/quat"
	"github.com/robotalks/etee.go/pkg/widget"
)

// Defaults.
const (
	DefaultHandLostTimeout = 100 * time.Millisecond
	DefaultOffsetSettle    = 2 * time.Second
	DefaultMaxFaults       = 3
)

// Config defines the session parameters.
type Config struct {
	Driver driver.Config
	AHRS   ahrs.Config
	// HandLostTimeout is how long a hand may stay silent before it's lost.
	HandLostTimeout time.Duration
	// OffsetSettle is the wait before UpdateIMUOffsets queries the offsets.
	OffsetSettle time.Duration
	// MaxFaults is the number of consecutive transport faults before the
	// dongle is considered disconnected.
	MaxFaults int
	// Absolute enables the magnetometer in the orientation filter.
	Absolute bool
	Time     framework.TimeSource
}

// DefaultConfig returns the default session parameters.
func DefaultConfig() Config {
	return Config{
		Driver:          driver.DefaultConfig(),
		AHRS:            ahrs.DefaultConfig(),
		HandLostTimeout: DefaultHandLostTimeout,
		OffsetSettle:    DefaultOffsetSettle,
		MaxFaults:       DefaultMaxFaults,
	}
}

type handState struct {
	frame    widget.Frame
	frameNo  int64
	lastSeen time.Time
	filter   *ahrs.Filter
	q        quat.Quaternion
	euler    quat.Euler
}

// Controller is a session with the dongle and both controllers.
type Controller struct {
	conf     Config
	drv      *driver.Driver
	hands    [2]*handState
	absolute int32
	faults   int32
	lock     sync.RWMutex

	handlers     []EventHandler
	handlersLock sync.RWMutex
}

// New creates a session decoding frames with schema.
func New(schema *widget.Schema, conf Config) *Controller {
	if conf.HandLostTimeout <= 0 {
		conf.HandLostTimeout = DefaultHandLostTimeout
	}
	if conf.OffsetSettle < 0 {
		conf.OffsetSettle = 0
	}
	if conf.MaxFaults <= 0 {
		conf.MaxFaults = DefaultMaxFaults
	}
	if conf.Time == nil {
		conf.Time = framework.SystemTime
	}
	if conf.Driver.Time == nil {
		conf.Driver.Time = conf.Time
	}
	c := &Controller{conf: conf, drv: driver.New(schema, conf.Driver)}
	for n := range c.hands {
		c.hands[n] = &handState{
			frameNo: -1,
			filter:  ahrs.New(conf.AHRS),
			q:       quat.Identity(),
		}
	}
	c.SetAbsolute(conf.Absolute)
	c.drv.AddDataHandler(driver.HandleDataFunc(c.handleData)).
		AddPrintHandler(driver.HandlePrintFunc(c.handlePrint)).
		AddRestHandler(driver.HandleRestFunc(c.handleRest)).
		AddFaultHandler(driver.HandleFaultFunc(c.handleFault))
	return c
}

// NewDefault creates a session with the built-in schema.
func NewDefault(conf Config) *Controller {
	return New(DefaultSchema(), conf)
}

// Driver returns the underlying driver.
func (c *Controller) Driver() *driver.Driver {
	return c.drv
}

// AddEventHandler registers event handlers.
func (c *Controller) AddEventHandler(hs ...EventHandler) *Controller {
	c.handlersLock.Lock()
	c.handlers = append(c.handlers[:len(c.handlers):len(c.handlers)], hs...)
	c.handlersLock.Unlock()
	return c
}

func (c *Controller) emit(ev Event, hand Hand) {
	glog.V(3).Infof("etee: %s %s", hand, ev)
	c.handlersLock.RLock()
	hs := c.handlers
	c.handlersLock.RUnlock()
	for _, h := range hs {
		h.HandleEvent(ev, hand)
	}
}

// Connect attaches the dongle transport.
func (c *Controller) Connect(rw io.ReadWriter) {
	atomic.StoreInt32(&c.faults, 0)
	c.drv.Connect(rw)
}

// ConnectWith attaches the transport created by open.
func (c *Controller) ConnectWith(open func() (io.ReadWriter, error)) error {
	atomic.StoreInt32(&c.faults, 0)
	return c.drv.ConnectWith(open)
}

// Disconnect stops the loop and closes the transport.
func (c *Controller) Disconnect() error {
	return c.drv.Disconnect()
}

// IsConnected reports whether the dongle is attached.
func (c *Controller) IsConnected() bool {
	return c.drv.IsConnected()
}

// Start launches the data loop in the background.
func (c *Controller) Start() error {
	return c.drv.Start()
}

// Stop stops the data loop.
func (c *Controller) Stop() {
	c.drv.Stop()
}

// Run runs the data loop until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	return c.drv.Run(ctx)
}

// SetAbsolute switches between absolute (gyro, accel and mag) and relative
// (gyro and accel) orientation.
func (c *Controller) SetAbsolute(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&c.absolute, v)
}

// Absolute reports whether absolute orientation is enabled.
func (c *Controller) Absolute() bool {
	return atomic.LoadInt32(&c.absolute) != 0
}

func (c *Controller) handleData(frameNo int64, frame widget.Frame) {
	atomic.StoreInt32(&c.faults, 0)
	v, ok := frame.Int(KeyHand)
	hand := Hand(v)
	if !ok || !hand.Valid() {
		glog.Warningf("etee: frame %d: invalid hand %d", frameNo, v)
		return
	}
	now := c.conf.Time.Time()
	c.lock.Lock()
	st := c.hands[hand]
	st.frame = frame
	st.lastSeen = now
	st.frameNo++
	c.updateOrientation(hand, st)
	c.lock.Unlock()

	c.emit(HandReceived, hand)
	c.checkLost(now)
}

func (c *Controller) updateOrientation(hand Hand, st *handState) {
	accel, ok := st.frame.Ints(accelKeys...)
	if !ok {
		return
	}
	gyro, ok := st.frame.Ints(gyroKeys...)
	if !ok {
		return
	}
	var s ahrs.Sample
	copy(s.Accel[:], accel)
	copy(s.Gyro[:], gyro)
	if c.Absolute() {
		// absolute orientation needs all three sensors, no fallback to
		// the relative estimate.
		mag, ok := st.frame.Ints(magKeys...)
		if !ok {
			return
		}
		s.Mag = new([3]int64)
		copy(s.Mag[:], mag)
	}
	if _, err := st.filter.Update(s); err != nil {
		glog.V(2).Infof("etee: %s orientation: %v", hand, err)
	}
	st.q, st.euler = st.filter.Quaternion(), st.filter.Euler()
}

// checkLost clears hands not heard of within the threshold and reports
// whether both are lost by this check.
func (c *Controller) checkLost(now time.Time) bool {
	var lost [2]bool
	c.lock.Lock()
	for n, st := range c.hands {
		if st.frame != nil && now.Sub(st.lastSeen) > c.conf.HandLostTimeout {
			st.frame = nil
			lost[n] = true
		}
	}
	c.lock.Unlock()
	for n, l := range lost {
		if l {
			c.emit(HandLost, Hand(n))
		}
	}
	return lost[Left] && lost[Right]
}

func (c *Controller) handleRest(raw []byte) {
	if raw != nil {
		return
	}
	if c.checkLost(c.conf.Time.Time()) {
		c.emit(DataLost, Left)
	}
}

var (
	msgConnected    = []byte(" connection complete\r\n")
	msgDisconnected = []byte(" disconnected\r\n")
)

func (c *Controller) handlePrint(line []byte) {
	atomic.StoreInt32(&c.faults, 0)
	if len(line) < 2 {
		return
	}
	var hand Hand
	switch line[0] {
	case 'L':
		hand = Left
	case 'R':
		hand = Right
	default:
		return
	}
	switch msg := line[1:]; {
	case bytes.Equal(msg, msgConnected):
		glog.Infof("etee: %s controller connected", hand)
		c.emit(HandConnected, hand)
	case bytes.Equal(msg, msgDisconnected):
		glog.Infof("etee: %s controller disconnected", hand)
		c.lock.Lock()
		c.hands[hand].frame = nil
		c.lock.Unlock()
		c.emit(HandDisconnected, hand)
	}
}

func (c *Controller) handleFault(err error) {
	if atomic.AddInt32(&c.faults, 1) < int32(c.conf.MaxFaults) {
		return
	}
	glog.Errorf("etee: dongle lost: %v", err)
	c.drv.Disconnect()
	c.emit(DongleDisconnected, Left)
}

// Frame returns the last frame of the hand, nil if the hand is not on.
func (c *Controller) Frame(hand Hand) widget.Frame {
	if !hand.Valid() {
		return nil
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.hands[hand].frame
}

// Get returns a value of the hand's last frame by widget name.
func (c *Controller) Get(hand Hand, key string) (widget.Value, bool) {
	v, ok := c.Frame(hand)[key]
	return v, ok
}

// GetInt returns a scalar value of the hand's last frame.
func (c *Controller) GetInt(hand Hand, key string) (int64, bool) {
	return c.Frame(hand).Int(key)
}

// FrameNo returns the number of frames received from the hand minus one.
func (c *Controller) FrameNo(hand Hand) int64 {
	if !hand.Valid() {
		return -1
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.hands[hand].frameNo
}

// IsOn reports whether the hand has recent data.
func (c *Controller) IsOn(hand Hand) bool {
	return c.Frame(hand) != nil
}

// AllOn reports whether both hands have recent data.
func (c *Controller) AllOn() bool {
	return c.IsOn(Left) && c.IsOn(Right)
}

// AnyOn reports whether either hand has recent data.
func (c *Controller) AnyOn() bool {
	return c.IsOn(Left) || c.IsOn(Right)
}

// Quaternion returns the orientation of the hand.
func (c *Controller) Quaternion(hand Hand) quat.Quaternion {
	if !hand.Valid() {
		return quat.Identity()
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.hands[hand].q
}

// Euler returns the orientation of the hand as Euler angles.
func (c *Controller) Euler(hand Hand) quat.Euler {
	if !hand.Valid() {
		return quat.Euler{}
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.hands[hand].euler
}

// Accel returns the raw accelerometer reading.
func (c *Controller) Accel(hand Hand) ([]int64, bool) {
	return c.Frame(hand).Ints(accelKeys...)
}

// Gyro returns the raw gyroscope reading.
func (c *Controller) Gyro(hand Hand) ([]int64, bool) {
	return c.Frame(hand).Ints(gyroKeys...)
}

// Mag returns the raw magnetometer reading.
func (c *Controller) Mag(hand Hand) ([]int64, bool) {
	return c.Frame(hand).Ints(magKeys...)
}

// Filter returns the orientation filter of the hand.
func (c *Controller) Filter(hand Hand) *ahrs.Filter {
	if !hand.Valid() {
		return nil
	}
	return c.hands[hand].filter
}

// Snapshot is the state of one hand at a time.
type Snapshot struct {
	Hand       string                 `json:"hand"`
	On         bool                   `json:"on"`
	FrameNo    int64                  `json:"frame_no"`
	LastSeen   time.Time              `json:"last_seen"`
	Quaternion [4]float64             `json:"quaternion"`
	Euler      quat.Euler             `json:"euler"`
	Values     map[string]interface{} `json:"values,omitempty"`
}

// Snapshot captures the state of the hand.
func (c *Controller) Snapshot(hand Hand) Snapshot {
	s := Snapshot{Hand: hand.String(), FrameNo: -1}
	if !hand.Valid() {
		return s
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	st := c.hands[hand]
	s.On = st.frame != nil
	s.FrameNo = st.frameNo
	s.LastSeen = st.lastSeen
	s.Quaternion = [4]float64{st.q.W, st.q.X, st.q.Y, st.q.Z}
	s.Euler = st.euler
	if st.frame != nil {
		s.Values = st.frame.Map()
	}
	return s
}
