package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/etee.go/pkg/comm/commtest"
	"github.com/robotalks/etee.go/pkg/config"
	"github.com/robotalks/etee.go/pkg/etee"
)

func rightFrame() []byte {
	schema := etee.DefaultSchema()
	raw := make([]byte, schema.FrameLen())
	raw[0] = byte(etee.Right)
	raw[29] = 0x10 // accel_z
	copy(raw[len(raw)-2:], schema.EndMarker())
	return raw
}

func testConfig(t *testing.T) *config.Config {
	t.Setenv("HOME", t.TempDir())
	conf := config.NewConfig()
	conf.UpdateOffsets = false
	conf.HandLostTimeout = time.Second
	conf.MQTT.URL = ""
	conf.MQTT.Interval = 10 * time.Millisecond
	conf.WebSocket.Listen = "127.0.0.1:0"
	return conf
}

func TestServerStreamsToWebSocket(t *testing.T) {
	conf := testConfig(t)
	s, err := New(conf)
	require.NoError(t, err)
	require.Nil(t, s.Queue)
	require.NotNil(t, s.Hub)

	tr := commtest.New(true)
	tr.OnWrite = func(tr *commtest.Transport, p []byte) {
		tr.FeedString("OK\r\nEND\r\n")
	}
	s.Open = func() (io.ReadWriter, error) { return tr, nil }
	addr, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.Ctrl.IsConnected, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return string(tr.Written()) != ""
	}, time.Second, time.Millisecond)
	require.Contains(t, string(tr.Written()), etee.CmdStartData)

	conn, err := websocket.Dial("ws://"+addr.String()+conf.WebSocket.Path+"?hand=right", "", "http://localhost/")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub.Clients() == 1 }, time.Second, time.Millisecond)

	tr.Feed(rightFrame())
	var msg string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, websocket.Message.Receive(conn, &msg))
	var snapshot etee.Snapshot
	require.NoError(t, json.Unmarshal([]byte(msg), &snapshot))
	require.Equal(t, "right", snapshot.Hand)
	require.True(t, snapshot.On)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server didn't stop")
	}
	require.False(t, s.Ctrl.IsConnected())
}

func TestServerRetriesOpen(t *testing.T) {
	conf := testConfig(t)
	conf.WebSocket.Listen = ""
	s, err := New(conf)
	require.NoError(t, err)
	require.Nil(t, s.Hub)
	s.RetryInterval = 5 * time.Millisecond

	var attempts int32
	tr := commtest.New(true)
	s.Open = func() (io.ReadWriter, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.New("no such port")
		}
		return tr, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, s.Ctrl.IsConnected, time.Second, time.Millisecond)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	cancel()
	require.NoError(t, <-done)
}

func TestServerBadFormat(t *testing.T) {
	conf := testConfig(t)
	conf.WebSocket.Format = "xml"
	_, err := New(conf)
	require.Error(t, err)
}

func TestServerReconnectsDuringOffsetSettle(t *testing.T) {
	conf := testConfig(t)
	conf.WebSocket.Listen = ""
	conf.UpdateOffsets = true
	s, err := New(conf)
	require.NoError(t, err)
	s.RetryInterval = 5 * time.Millisecond

	var opens int32
	first, second := commtest.New(true), commtest.New(true)
	s.Open = func() (io.ReadWriter, error) {
		if atomic.AddInt32(&opens, 1) == 1 {
			return first, nil
		}
		return second, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, s.Ctrl.IsConnected, time.Second, time.Millisecond)

	// unplugged while the offsets update still waits for the IMUs to
	// settle: the session ends without waiting for it.
	first.SetReadError(errors.New("device not configured"))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&opens) == 2
	}, etee.DefaultOffsetSettle/2, time.Millisecond)
	require.Eventually(t, s.Ctrl.IsConnected, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server didn't stop")
	}
}
