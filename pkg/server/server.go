// Package server runs the daemon: the dongle session, reconnecting when the
// dongle goes away, and the telemetry outputs.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/config"
	"github.com/robotalks/etee.go/pkg/etee"
	"github.com/robotalks/etee.go/pkg/framework"
	"github.com/robotalks/etee.go/pkg/telemetry"
	"github.com/robotalks/etee.go/pkg/telemetry/mqtt"
	"github.com/robotalks/etee.go/pkg/telemetry/ws"
)

// DefaultRetryInterval is the wait before reopening the dongle.
const DefaultRetryInterval = time.Second

// Server is the daemon.
type Server struct {
	Config        *config.Config
	Ctrl          *etee.Controller
	Hub           *ws.Hub
	Queue         *mqtt.Queue
	RetryInterval time.Duration
	// Open opens the dongle transport, the configured serial port by
	// default.
	Open func() (io.ReadWriter, error)

	publishers []*telemetry.Publisher
	listener   net.Listener
}

// New creates the server from the configuration.
func New(conf *config.Config) (*Server, error) {
	ctrl, err := conf.NewController()
	if err != nil {
		return nil, err
	}
	s := &Server{
		Config:        conf,
		Ctrl:          ctrl,
		RetryInterval: DefaultRetryInterval,
		Open:          conf.Opener(),
	}

	if conf.WebSocket.Listen != "" {
		format, err := telemetry.ParseFormat(conf.WebSocket.Format)
		if err != nil {
			return nil, err
		}
		s.Hub = ws.NewHub(format == telemetry.JSON)
		s.publishers = append(s.publishers, telemetry.NewPublisher(ctrl, format, s.Hub))
	}
	if conf.MQTT.URL != "" {
		format, err := telemetry.ParseFormat(conf.MQTT.Format)
		if err != nil {
			return nil, err
		}
		if s.Queue, err = mqtt.NewQueueFromURL(conf.MQTT.URL, conf.ClientID()); err != nil {
			return nil, err
		}
		sink := mqtt.NewSink(s.Queue)
		sink.Retain = conf.MQTT.Retain
		s.publishers = append(s.publishers, telemetry.NewPublisher(ctrl, format, sink))
		if conf.MQTT.Events {
			ctrl.AddEventHandler(&mqtt.EventPublisher{Queue: s.Queue})
		}
	}
	return s, nil
}

// Listen binds the websocket endpoint, called by Run if not yet done.
func (s *Server) Listen() (net.Addr, error) {
	if s.Hub == nil {
		return nil, nil
	}
	if s.listener == nil {
		l, err := net.Listen("tcp", s.Config.WebSocket.Listen)
		if err != nil {
			return nil, err
		}
		s.listener = l
	}
	return s.listener.Addr(), nil
}

// Run runs everything until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	// the dongle session exiting on its own is fatal and stops the rest.
	runner := framework.NewRunnerWith(ctx)
	runner.GoCritical(framework.NamedFunc("dongle", s.runDongle))
	for _, p := range s.publishers {
		runner.Go(framework.NamedFunc("telemetry", func(p *telemetry.Publisher) func(context.Context) error {
			return func(ctx context.Context) error {
				return p.Run(ctx, s.Config.MQTT.Interval)
			}
		}(p)))
	}
	if s.Queue != nil {
		runner.Go(framework.NamedFunc("mqtt", s.runMQTT))
	}
	if s.Hub != nil {
		runner.Go(framework.NamedFunc("websocket", s.runHTTP))
	}
	err := runner.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) runDongle(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.Ctrl.ConnectWith(s.Open); err != nil {
			glog.Warningf("server: open dongle: %v", err)
			if !sleep(ctx, s.RetryInterval) {
				break
			}
			continue
		}
		if err := s.runSession(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		glog.Warning("server: dongle disconnected")
		if !sleep(ctx, s.RetryInterval) {
			break
		}
	}
	return ctx.Err()
}

// runSession runs one connection to the dongle. The offsets update belongs
// to the session and is canceled when the dongle goes away.
func (s *Server) runSession(ctx context.Context) error {
	if err := s.Ctrl.StartData(); err != nil {
		glog.Warningf("server: start data: %v", err)
	}
	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if s.Config.UpdateOffsets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Ctrl.UpdateIMUOffsets(sessCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				glog.Warningf("server: update offsets: %v", err)
			}
		}()
	}
	err := s.Ctrl.Run(sessCtx)
	cancel()
	s.Ctrl.Disconnect()
	wg.Wait()
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) runMQTT(ctx context.Context) error {
	for {
		err := s.Queue.Connect()
		if err == nil {
			break
		}
		glog.Warningf("server: mqtt connect: %v", err)
		if !sleep(ctx, s.RetryInterval) {
			return ctx.Err()
		}
	}
	return framework.RunWithContextCloser(ctx, s.Queue, func() error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func (s *Server) runHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.Config.WebSocket.Path, s.Hub)
	srv := &http.Server{Handler: mux}
	glog.Infof("server: websocket on %s%s", s.listener.Addr(), s.Config.WebSocket.Path)
	return framework.RunWithContextCloser(ctx, srv, func() error {
		err := srv.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	})
}
