// Package commtest provides an in-memory transport for testing code on top
// of comm.Channel.
package commtest

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// TimeoutError is returned by Read in read-timeout mode when no data is
// available.
type TimeoutError struct{}

// Error implements error.
func (TimeoutError) Error() string { return "read timeout" }

// Timeout reports this is a timeout.
func (TimeoutError) Timeout() bool { return true }

// Transport is an io.ReadWriteCloser fed by the test.
type Transport struct {
	// ReadTimeout makes Read return TimeoutError after PollInterval instead
	// of blocking when no data is available.
	ReadTimeout  bool
	PollInterval time.Duration

	// OnWrite is called with every written buffer after it is recorded.
	OnWrite func(t *Transport, p []byte)

	lock      sync.Mutex
	data      []byte
	written   bytes.Buffer
	readErr   error
	writeErr  error
	reads     int
	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Transport.
func New(readTimeout bool) *Transport {
	return &Transport{
		ReadTimeout:  readTimeout,
		PollInterval: 5 * time.Millisecond,
		notify:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

// Feed appends bytes to be read.
func (t *Transport) Feed(p ...[]byte) {
	t.lock.Lock()
	for _, b := range p {
		t.data = append(t.data, b...)
	}
	t.lock.Unlock()
	t.wake()
}

// FeedString appends a string to be read.
func (t *Transport) FeedString(s string) {
	t.Feed([]byte(s))
}

// SetReadError makes subsequent reads fail, nil restores reading.
func (t *Transport) SetReadError(err error) {
	t.lock.Lock()
	t.readErr = err
	t.lock.Unlock()
	t.wake()
}

// SetWriteError makes subsequent writes fail, nil restores writing.
func (t *Transport) SetWriteError(err error) {
	t.lock.Lock()
	t.writeErr = err
	t.lock.Unlock()
}

// Written returns everything written so far.
func (t *Transport) Written() []byte {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]byte{}, t.written.Bytes()...)
}

// Pending returns the number of bytes not read yet.
func (t *Transport) Pending() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.data)
}

// Reads returns the number of successful one-byte reads.
func (t *Transport) Reads() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.reads
}

func (t *Transport) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Read implements io.Reader, returning at most one byte.
func (t *Transport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		t.lock.Lock()
		if err := t.readErr; err != nil {
			t.lock.Unlock()
			return 0, err
		}
		if len(t.data) > 0 {
			p[0] = t.data[0]
			t.data = t.data[1:]
			t.reads++
			t.lock.Unlock()
			return 1, nil
		}
		t.lock.Unlock()

		if t.ReadTimeout {
			select {
			case <-t.notify:
			case <-t.closed:
				return 0, io.EOF
			case <-time.After(t.PollInterval):
				return 0, TimeoutError{}
			}
			continue
		}
		select {
		case <-t.notify:
		case <-t.closed:
			return 0, io.EOF
		}
	}
}

// Write implements io.Writer.
func (t *Transport) Write(p []byte) (int, error) {
	t.lock.Lock()
	if err := t.writeErr; err != nil {
		t.lock.Unlock()
		return 0, err
	}
	t.written.Write(p)
	fn := t.OnWrite
	t.lock.Unlock()
	if fn != nil {
		fn(t, p)
	}
	return len(p), nil
}

// Close implements io.Closer.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
