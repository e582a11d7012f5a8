package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/etee.go/pkg/etee"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	return conn
}

func TestHubStreams(t *testing.T) {
	hub := NewHub(true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	right := dial(t, srv, "?hand=right")
	defer right.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Publish(etee.Left, []byte(`{"hand":"left"}`)))
	require.NoError(t, hub.Publish(etee.Right, []byte(`{"hand":"right"}`)))

	var msg string
	require.NoError(t, websocket.Message.Receive(all, &msg))
	require.Equal(t, `{"hand":"left"}`, msg)
	require.NoError(t, websocket.Message.Receive(all, &msg))
	require.Equal(t, `{"hand":"right"}`, msg)
	require.NoError(t, websocket.Message.Receive(right, &msg))
	require.Equal(t, `{"hand":"right"}`, msg)

	all.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)
}

func TestHubBinary(t *testing.T) {
	hub := NewHub(false)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv, "?hand=l")
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Publish(etee.Left, []byte{1, 2, 3}))
	var payload []byte
	require.NoError(t, websocket.Message.Receive(conn, &payload))
	require.Equal(t, []byte{1, 2, 3}, payload)
}

func TestHubBadHand(t *testing.T) {
	hub := NewHub(true)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?hand=both"
	_, err := websocket.Dial(url, "", srv.URL)
	require.Error(t, err)
}
