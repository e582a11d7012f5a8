package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/etee"
)

// Topics relative to the queue prefix.
const (
	PoseSuffix  = "/pose"
	EventsTopic = "events"
	PosePattern = "+" + PoseSuffix
	AllPattern  = "#"
)

// ErrTimeout indicates the broker didn't acknowledge in time.
var ErrTimeout = errors.New("mqtt timeout")

// PoseTopic returns the topic of a hand's snapshots.
func PoseTopic(hand etee.Hand) string {
	return hand.String() + PoseSuffix
}

// HandOfTopic parses the hand from a pose topic.
func HandOfTopic(topic string) (etee.Hand, bool) {
	if !strings.HasSuffix(topic, PoseSuffix) {
		return etee.Left, false
	}
	hand, err := etee.ParseHand(strings.TrimSuffix(topic, PoseSuffix))
	return hand, err == nil
}

// Sink publishes snapshots to the pose topics, implementing
// telemetry.Sink.
type Sink struct {
	Queue  *Queue
	Retain bool
}

// NewSink creates a Sink.
func NewSink(q *Queue) *Sink {
	return &Sink{Queue: q}
}

// Publish implements telemetry.Sink. It doesn't wait for the broker.
func (s *Sink) Publish(hand etee.Hand, payload []byte) error {
	if !s.Queue.Client.IsConnected() {
		return nil
	}
	s.Queue.PubWith(PoseTopic(hand), payload, 0, s.Retain)
	return nil
}

// EventMessage is the payload on EventsTopic.
type EventMessage struct {
	Event string    `json:"event"`
	Hand  string    `json:"hand,omitempty"`
	Time  time.Time `json:"time"`
}

// EventPublisher forwards session events, implementing etee.EventHandler.
// HandReceived is not forwarded.
type EventPublisher struct {
	Queue *Queue
	Now   func() time.Time
}

// HandleEvent implements etee.EventHandler.
func (p *EventPublisher) HandleEvent(ev etee.Event, hand etee.Hand) {
	if ev == etee.HandReceived || !p.Queue.Client.IsConnected() {
		return
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	msg := EventMessage{Event: ev.String(), Time: now()}
	if ev != etee.DataLost && ev != etee.DongleDisconnected {
		msg.Hand = hand.String()
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		glog.Errorf("mqtt: encode event: %v", err)
		return
	}
	p.Queue.PubWith(EventsTopic, payload, 1, false)
}
