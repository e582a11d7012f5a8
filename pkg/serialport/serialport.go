// Package serialport opens the dongle's serial port.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
)

// Defaults.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

// ErrTimeout is returned by Read when no byte arrived within the read
// timeout. It implements Timeout() bool so comm.IsTimeout recognizes it.
var ErrTimeout error = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "serial read timeout" }
func (timeoutError) Timeout() bool { return true }

// ErrClosed is returned after Close.
var ErrClosed = errors.New("serial port closed")

// ErrHangup is returned by Read when the port reports end of input long
// before the read timeout, which is how an unplugged dongle looks.
var ErrHangup = fmt.Errorf("serial port hung up: %w", io.ErrUnexpectedEOF)

// Config defines how to open a port.
type Config struct {
	Name        string        `json:"name" yaml:"name" mapstructure:"name"`
	Baud        int           `json:"baud" yaml:"baud" mapstructure:"baud"`
	ReadTimeout time.Duration `json:"read-timeout" yaml:"read-timeout" mapstructure:"read-timeout"`
}

// Port is an opened serial port. Reads return ErrTimeout instead of the
// zero-length reads the underlying driver reports on timeout, and
// ErrHangup when such a read comes back well before the timeout.
type Port struct {
	name        string
	port        io.ReadWriteCloser
	readTimeout time.Duration
	lock        sync.RWMutex
}

func newPort(name string, port io.ReadWriteCloser, readTimeout time.Duration) *Port {
	return &Port{name: name, port: port, readTimeout: readTimeout}
}

// Open opens a port.
func Open(conf Config) (*Port, error) {
	if conf.Baud == 0 {
		conf.Baud = DefaultBaudRate
	}
	if conf.ReadTimeout <= 0 {
		conf.ReadTimeout = DefaultReadTimeout
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        conf.Name,
		Baud:        conf.Baud,
		ReadTimeout: conf.ReadTimeout,
	})
	if err != nil {
		glog.Warningf("serialport: open %s: %v", conf.Name, err)
		return nil, err
	}
	if err = port.Flush(); err != nil {
		port.Close()
		return nil, err
	}
	glog.Infof("serialport: opened %s at %d", conf.Name, conf.Baud)
	return newPort(conf.Name, port, conf.ReadTimeout), nil
}

// Name returns the port name.
func (p *Port) Name() string {
	return p.name
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	p.lock.RLock()
	port := p.port
	p.lock.RUnlock()
	if port == nil {
		return 0, ErrClosed
	}
	start := time.Now()
	n, err := port.Read(b)
	if n == 0 && (err == nil || err == io.EOF) {
		// both a timeout and a hangup come back as an empty read.
		if time.Since(start) < p.readTimeout/2 {
			return 0, ErrHangup
		}
		return 0, ErrTimeout
	}
	return n, err
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	p.lock.RLock()
	port := p.port
	p.lock.RUnlock()
	if port == nil {
		return 0, ErrClosed
	}
	return port.Write(b)
}

// Close implements io.Closer.
func (p *Port) Close() error {
	p.lock.Lock()
	port := p.port
	p.port = nil
	p.lock.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// Opener returns a func opening the port, for driver.ConnectWith.
func Opener(conf Config) func() (io.ReadWriter, error) {
	return func() (io.ReadWriter, error) {
		p, err := Open(conf)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
