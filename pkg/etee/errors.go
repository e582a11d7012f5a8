package etee

import "errors"

var (
	// ErrInvalidHand indicates a hand other than left or right.
	ErrInvalidHand = errors.New("invalid hand")
	// ErrMalformedResponse indicates a command response can't be parsed.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNoVersion indicates the firmware version is not reported.
	ErrNoVersion = errors.New("version unavailable")
)
