package etee

import (
	"fmt"
	"strings"
)

// Hand identifies a controller.
type Hand int

// Hands, matching the value of the hand widget.
const (
	Left Hand = iota
	Right
)

// Hands lists both hands.
var Hands = []Hand{Left, Right}

func (h Hand) String() string {
	switch h {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("hand(%d)", int(h))
}

// Valid reports whether h is Left or Right.
func (h Hand) Valid() bool {
	return h == Left || h == Right
}

// ParseHand parses "left"/"l" or "right"/"r", case insensitive.
func ParseHand(s string) (Hand, error) {
	switch strings.ToLower(s) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	}
	return Left, fmt.Errorf("%w: %q", ErrInvalidHand, s)
}

// Event is a session event.
type Event int

// Events.
const (
	// HandReceived: a data frame of the hand was received.
	HandReceived Event = iota
	// HandLost: no data from the hand within the lost threshold.
	HandLost
	// DataLost: both hands are lost.
	DataLost
	// HandConnected: the dongle reported the controller connected.
	HandConnected
	// HandDisconnected: the dongle reported the controller disconnected.
	HandDisconnected
	// DongleDisconnected: the serial transport failed.
	DongleDisconnected
)

var eventNames = []string{
	"hand-received",
	"hand-lost",
	"data-lost",
	"hand-connected",
	"hand-disconnected",
	"dongle-disconnected",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// EventHandler receives session events. For DataLost and
// DongleDisconnected, hand is meaningless.
type EventHandler interface {
	HandleEvent(ev Event, hand Hand)
}

// HandleEventFunc is func type of EventHandler.
type HandleEventFunc func(Event, Hand)

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(ev Event, hand Hand) {
	f(ev, hand)
}

// OnEvent wraps fn to receive only the selected event.
func OnEvent(sel Event, fn func(Hand)) EventHandler {
	return HandleEventFunc(func(ev Event, hand Hand) {
		if ev == sel {
			fn(hand)
		}
	})
}
