// Package ws streams hand snapshots to WebSocket clients.
package ws

import (
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/etee.go/pkg/etee"
)

// DefaultBacklog is the number of payloads queued per client.
const DefaultBacklog = 16

type client struct {
	hands  [2]bool
	sendCh chan []byte
}

// Hub fans snapshots out to connected clients. It implements
// telemetry.Sink and http.Handler. Clients select hands with the query
// parameter hand=left|right, both by default. Payloads are sent as text
// frames when Text is set, binary otherwise. A client too slow to keep up
// loses payloads.
type Hub struct {
	Text    bool
	Backlog int

	clients map[*client]struct{}
	lock    sync.RWMutex
}

// NewHub creates a Hub.
func NewHub(text bool) *Hub {
	return &Hub{Text: text, Backlog: DefaultBacklog}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// Publish implements telemetry.Sink.
func (h *Hub) Publish(hand etee.Hand, payload []byte) error {
	h.lock.RLock()
	defer h.lock.RUnlock()
	for c := range h.clients {
		if !c.hands[hand] {
			continue
		}
		select {
		case c.sendCh <- payload:
		default:
			glog.V(2).Infof("ws: client backlog full, %s payload dropped", hand)
		}
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{hands: [2]bool{true, true}}
	if sel := r.URL.Query().Get("hand"); sel != "" {
		hand, err := etee.ParseHand(sel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.hands = [2]bool{}
		c.hands[hand] = true
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, c)
	}).ServeHTTP(w, r)
}

func (h *Hub) serve(conn *websocket.Conn, c *client) {
	backlog := h.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	c.sendCh = make(chan []byte, backlog)
	h.lock.Lock()
	if h.clients == nil {
		h.clients = make(map[*client]struct{})
	}
	h.clients[c] = struct{}{}
	h.lock.Unlock()
	glog.Infof("ws: client %s connected", conn.Request().RemoteAddr)

	defer func() {
		h.lock.Lock()
		delete(h.clients, c)
		h.lock.Unlock()
		conn.Close()
		glog.Infof("ws: client %s disconnected", conn.Request().RemoteAddr)
	}()

	// the reader only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var discard []byte
		for websocket.Message.Receive(conn, &discard) == nil {
		}
	}()

	for {
		select {
		case payload := <-c.sendCh:
			var err error
			if h.Text {
				err = websocket.Message.Send(conn, string(payload))
			} else {
				err = websocket.Message.Send(conn, payload)
			}
			if err != nil {
				glog.V(1).Infof("ws: send: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
