package driver

import (
	"sync"

	"github.com/robotalks/etee.go/pkg/widget"
)

// DataHandler is called with every decoded data frame.
type DataHandler interface {
	HandleData(frameNo int64, frame widget.Frame)
}

// HandleDataFunc is func type of DataHandler.
type HandleDataFunc func(int64, widget.Frame)

// HandleData implements DataHandler.
func (f HandleDataFunc) HandleData(frameNo int64, frame widget.Frame) {
	f(frameNo, frame)
}

// PrintHandler is called with every text line printed by the dongle,
// including CRLF.
type PrintHandler interface {
	HandlePrint(line []byte)
}

// HandlePrintFunc is func type of PrintHandler.
type HandlePrintFunc func([]byte)

// HandlePrint implements PrintHandler.
func (f HandlePrintFunc) HandlePrint(line []byte) {
	f(line)
}

// FaultHandler is called when the transport fails in the loop.
type FaultHandler interface {
	HandleFault(err error)
}

// HandleFaultFunc is func type of FaultHandler.
type HandleFaultFunc func(error)

// HandleFault implements FaultHandler.
func (f HandleFaultFunc) HandleFault(err error) {
	f(err)
}

// RestHandler is called with reads which are neither data frames nor text
// lines: partial reads, or nil when the read timed out.
type RestHandler interface {
	HandleRest(raw []byte)
}

// HandleRestFunc is func type of RestHandler.
type HandleRestFunc func([]byte)

// HandleRest implements RestHandler.
func (f HandleRestFunc) HandleRest(raw []byte) {
	f(raw)
}

// ConnectionState is reported to ConnectionHandler.
type ConnectionState int

// Connection states.
const (
	Disconnected ConnectionState = iota
	Connected
	ConnectFailed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case ConnectFailed:
		return "connect-failed"
	}
	return "unknown"
}

// ConnectionHandler is called when the transport is attached or detached.
type ConnectionHandler interface {
	HandleConnection(ConnectionState)
}

// HandleConnectionFunc is func type of ConnectionHandler.
type HandleConnectionFunc func(ConnectionState)

// HandleConnection implements ConnectionHandler.
func (f HandleConnectionFunc) HandleConnection(state ConnectionState) {
	f(state)
}

// handlers are observer lists invoked in registration order. Appending
// never reuses the backing array so emitters can iterate without the lock.
type handlers struct {
	data  []DataHandler
	print []PrintHandler
	fault []FaultHandler
	rest  []RestHandler
	conn  []ConnectionHandler
	lock  sync.RWMutex
}

// AddDataHandler registers data frame handlers.
func (d *Driver) AddDataHandler(hs ...DataHandler) *Driver {
	d.handlers.lock.Lock()
	d.handlers.data = append(d.handlers.data[:len(d.handlers.data):len(d.handlers.data)], hs...)
	d.handlers.lock.Unlock()
	return d
}

// AddPrintHandler registers text line handlers.
func (d *Driver) AddPrintHandler(hs ...PrintHandler) *Driver {
	d.handlers.lock.Lock()
	d.handlers.print = append(d.handlers.print[:len(d.handlers.print):len(d.handlers.print)], hs...)
	d.handlers.lock.Unlock()
	return d
}

// AddFaultHandler registers transport fault handlers.
func (d *Driver) AddFaultHandler(hs ...FaultHandler) *Driver {
	d.handlers.lock.Lock()
	d.handlers.fault = append(d.handlers.fault[:len(d.handlers.fault):len(d.handlers.fault)], hs...)
	d.handlers.lock.Unlock()
	return d
}

// AddRestHandler registers handlers for everything else.
func (d *Driver) AddRestHandler(hs ...RestHandler) *Driver {
	d.handlers.lock.Lock()
	d.handlers.rest = append(d.handlers.rest[:len(d.handlers.rest):len(d.handlers.rest)], hs...)
	d.handlers.lock.Unlock()
	return d
}

// AddConnectionHandler registers connection state handlers.
func (d *Driver) AddConnectionHandler(hs ...ConnectionHandler) *Driver {
	d.handlers.lock.Lock()
	d.handlers.conn = append(d.handlers.conn[:len(d.handlers.conn):len(d.handlers.conn)], hs...)
	d.handlers.lock.Unlock()
	return d
}

// ClearDataHandlers removes all data frame handlers.
func (d *Driver) ClearDataHandlers() {
	d.handlers.lock.Lock()
	d.handlers.data = nil
	d.handlers.lock.Unlock()
}

func (d *Driver) emitData(frameNo int64, frame widget.Frame) {
	d.handlers.lock.RLock()
	hs := d.handlers.data
	d.handlers.lock.RUnlock()
	for _, h := range hs {
		h.HandleData(frameNo, frame)
	}
}

func (d *Driver) emitPrint(line []byte) {
	d.handlers.lock.RLock()
	hs := d.handlers.print
	d.handlers.lock.RUnlock()
	for _, h := range hs {
		h.HandlePrint(line)
	}
}

func (d *Driver) emitFault(err error) {
	d.handlers.lock.RLock()
	hs := d.handlers.fault
	d.handlers.lock.RUnlock()
	for _, h := range hs {
		h.HandleFault(err)
	}
}

func (d *Driver) emitRest(raw []byte) {
	d.handlers.lock.RLock()
	hs := d.handlers.rest
	d.handlers.lock.RUnlock()
	for _, h := range hs {
		h.HandleRest(raw)
	}
}

func (d *Driver) emitConnection(state ConnectionState) {
	d.handlers.lock.RLock()
	hs := d.handlers.conn
	d.handlers.lock.RUnlock()
	for _, h := range hs {
		h.HandleConnection(state)
	}
}
