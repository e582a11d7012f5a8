package comm

import (
	"errors"
	"os"
)

var (
	// ErrNotOpen indicates the channel has no transport.
	ErrNotOpen = errors.New("not open")
	// ErrClosed indicates the transport was closed while reading.
	ErrClosed = errors.New("closed")
)

// IsTimeout reports whether err is a transport read timeout rather than a
// fault.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
