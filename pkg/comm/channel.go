package comm

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Channel is the framed reader/writer over a byte transport, usually a
// serial port. All reads, writes and transactions are mutually exclusive.
type Channel struct {
	// ReadTimeout is set to true if the transport's Read already returns on
	// its own timeout (serial ports opened with a read timeout). Otherwise a
	// pump goroutine reads the transport and timeouts are enforced with
	// timers.
	ReadTimeout bool

	rw   io.ReadWriter
	pump *pump
	lock sync.RWMutex

	ioLock sync.Mutex
}

type pump struct {
	byteCh chan byte
	failed chan struct{}
	done   chan struct{}
	err    error
}

// NewChannel creates a Channel over rw. A nil rw creates a closed channel.
func NewChannel(rw io.ReadWriter, readTimeout bool) *Channel {
	c := &Channel{ReadTimeout: readTimeout}
	if rw != nil {
		c.Open(rw)
	}
	return c
}

// Open attaches the transport, closing the previous one.
func (c *Channel) Open(rw io.ReadWriter) {
	c.Close()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.rw = rw
	c.pump = nil
	if !c.ReadTimeout {
		c.pump = &pump{
			byteCh: make(chan byte),
			failed: make(chan struct{}),
			done:   make(chan struct{}),
		}
		go c.pump.run(rw)
	}
}

// Close detaches and closes the transport if it implements io.Closer.
// An in-flight read returns ErrClosed or the transport's error.
func (c *Channel) Close() error {
	c.lock.Lock()
	rw, p := c.rw, c.pump
	c.rw, c.pump = nil, nil
	c.lock.Unlock()
	if p != nil {
		close(p.done)
	}
	if closer, ok := rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// IsOpen reports whether a transport is attached.
func (c *Channel) IsOpen() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.rw != nil
}

func (c *Channel) transport() (io.ReadWriter, *pump, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.rw == nil {
		return nil, nil, ErrNotOpen
	}
	return c.rw, c.pump, nil
}

// Write passes p to the transport verbatim.
func (c *Channel) Write(p []byte) error {
	c.ioLock.Lock()
	defer c.ioLock.Unlock()
	return c.write(p)
}

func (c *Channel) write(p []byte) error {
	rw, _, err := c.transport()
	if err != nil {
		return err
	}
	glog.V(3).Infof("comm write %q", p)
	_, err = rw.Write(p)
	return err
}

// ReadUntil reads byte by byte until the tail of the accumulated bytes
// matches any of delims, maxLen bytes are read (no limit if maxLen <= 0) or
// timeout elapses. On timeout, the bytes read so far are returned with a nil
// error. Transport faults are returned with the bytes read so far.
func (c *Channel) ReadUntil(delims [][]byte, maxLen int, timeout time.Duration) ([]byte, error) {
	c.ioLock.Lock()
	defer c.ioLock.Unlock()
	return c.readUntil(delims, maxLen, time.Now().Add(timeout))
}

func (c *Channel) readUntil(delims [][]byte, maxLen int, deadline time.Time) (line []byte, err error) {
	rw, p, err := c.transport()
	if err != nil {
		return nil, err
	}

	var next func() (byte, bool, error)
	if p == nil {
		buf := make([]byte, 1)
		next = func() (byte, bool, error) {
			for time.Now().Before(deadline) {
				n, err := rw.Read(buf)
				if err != nil {
					if IsTimeout(err) {
						continue
					}
					return 0, false, err
				}
				if n > 0 {
					return buf[0], true, nil
				}
			}
			return 0, false, nil
		}
	} else {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		next = func() (byte, bool, error) {
			select {
			case b := <-p.byteCh:
				return b, true, nil
			case <-p.failed:
				return 0, false, p.err
			case <-p.done:
				return 0, false, ErrClosed
			case <-timer.C:
				return 0, false, nil
			}
		}
	}

	for {
		b, ok, err := next()
		if err != nil || !ok {
			return line, err
		}
		line = append(line, b)
		if (maxLen > 0 && len(line) >= maxLen) || HasSuffixAny(line, delims) {
			return line, nil
		}
	}
}

// HasSuffixAny reports whether data ends with any of delims.
func HasSuffixAny(data []byte, delims [][]byte) bool {
	for _, delim := range delims {
		if len(delim) > 0 && bytes.HasSuffix(data, delim) {
			return true
		}
	}
	return false
}

func (p *pump) run(r io.Reader) {
	buf := make([]byte, 1)
	for {
		select {
		case <-p.done:
			return
		default:
		}
		n, err := r.Read(buf)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			p.err = err
			close(p.failed)
			return
		}
		if n == 0 {
			continue
		}
		select {
		case p.byteCh <- buf[0]:
		case <-p.done:
			return
		}
	}
}
