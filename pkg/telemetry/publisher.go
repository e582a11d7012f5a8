package telemetry

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/etee"
	"github.com/robotalks/etee.go/pkg/framework"
)

// DefaultInterval is the default publishing interval.
const DefaultInterval = 20 * time.Millisecond

// Source provides hand snapshots, implemented by etee.Controller.
type Source interface {
	Snapshot(hand etee.Hand) etee.Snapshot
}

// Sink receives encoded snapshots.
type Sink interface {
	Publish(hand etee.Hand, payload []byte) error
}

// SinkFunc is func type of Sink.
type SinkFunc func(etee.Hand, []byte) error

// Publish implements Sink.
func (f SinkFunc) Publish(hand etee.Hand, payload []byte) error {
	return f(hand, payload)
}

// Publisher periodically encodes snapshots of both hands and passes them to
// the sinks. A hand which is not on is published once when it goes off.
type Publisher struct {
	Source Source
	Format Format
	Sinks  []Sink

	wasOn [2]bool
}

// NewPublisher creates a Publisher.
func NewPublisher(src Source, format Format, sinks ...Sink) *Publisher {
	return &Publisher{Source: src, Format: format, Sinks: sinks}
}

// Tick implements framework.Ticker.
func (p *Publisher) Tick(ctx context.Context, now time.Time) error {
	var errs framework.AggregatedError
	for _, hand := range etee.Hands {
		s := p.Source.Snapshot(hand)
		if !s.On && !p.wasOn[hand] {
			continue
		}
		p.wasOn[hand] = s.On
		payload, err := Encode(s, p.Format)
		if err != nil {
			errs.Add(hand.String(), "encode", err)
			continue
		}
		for _, sink := range p.Sinks {
			errs.Add(hand.String(), "publish", sink.Publish(hand, payload))
		}
	}
	return errs.Aggregate()
}

// Run publishes at the interval until ctx is canceled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	glog.Infof("telemetry: publishing %s every %s", p.Format, interval)
	return framework.NewLoop(interval, p).Run(ctx)
}
