package comm

import (
	"bytes"
	"time"

	"github.com/golang/glog"
)

// Defaults of a command transaction.
const (
	DefaultResponseTimeout = time.Second
	DefaultLineTimeout     = time.Second
)

// Default response brackets.
var (
	DefaultStart = []byte("OK")
	DefaultEnd   = []byte("END")
)

// Request is a command and the description of its response.
type Request struct {
	// Command is written verbatim, including its CRLF.
	Command []byte
	// Start is the line opening the response. Lines before it are dropped
	// and never match End or Keys. If nil, lines are accumulated from the
	// first one.
	Start []byte
	// End is the line closing the response. If nil, only Keys or the
	// timeout complete the response.
	End []byte
	// Keys are looked up in the lines after Start. Without End, the response
	// completes when all of them have been observed.
	Keys [][]byte
	// Timeout bounds the whole exchange, DefaultResponseTimeout if zero.
	Timeout time.Duration
	// LineTimeout bounds reading a single line, DefaultLineTimeout if zero.
	LineTimeout time.Duration
}

// NewRequest creates a request for an OK/END bracketed response.
func NewRequest(cmd string) Request {
	return Request{
		Command: []byte(cmd),
		Start:   DefaultStart,
		End:     DefaultEnd,
	}
}

// WithKeys returns a copy expecting KEY=value lines.
func (r Request) WithKeys(keys ...string) Request {
	r.Keys = make([][]byte, len(keys))
	for n, key := range keys {
		r.Keys[n] = []byte(key)
	}
	return r
}

// WithTimeout returns a copy with the exchange timeout.
func (r Request) WithTimeout(timeout time.Duration) Request {
	r.Timeout = timeout
	return r
}

// Response is the accumulated response of a command.
type Response struct {
	// Data holds the lines from the start line on.
	Data []byte
	// Values maps each requested key to the bytes following it up to the
	// end of its line, or nil if the key was never observed.
	Values map[string][]byte
	// Complete is set when the end line arrived, or all keys were observed
	// for a request without End.
	Complete bool
}

// Value returns the value of a key, ok is false if it was never observed.
func (r *Response) Value(key string) (val []byte, ok bool) {
	if r == nil || r.Values == nil {
		return nil, false
	}
	val = r.Values[key]
	return val, val != nil
}

// String returns Data as a string.
func (r *Response) String() string {
	if r == nil {
		return ""
	}
	return string(r.Data)
}

// Transact writes the command and reads the response line by line, holding
// the channel for the whole exchange. An incomplete response after the
// timeout is returned without error. On a transport fault, the partial
// response is returned together with the error.
func (c *Channel) Transact(req Request) (*Response, error) {
	c.ioLock.Lock()
	defer c.ioLock.Unlock()

	if err := c.write(req.Command); err != nil {
		return nil, err
	}

	timeout, lineTimeout := req.Timeout, req.LineTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	if lineTimeout <= 0 {
		lineTimeout = DefaultLineTimeout
	}

	var startLine, endLine []byte
	if req.Start != nil {
		startLine = append(append([]byte{}, req.Start...), CRLF...)
	}
	if req.End != nil {
		endLine = append(append([]byte{}, req.End...), CRLF...)
	}

	resp := &Response{}
	if len(req.Keys) > 0 {
		resp.Values = make(map[string][]byte, len(req.Keys))
		for _, key := range req.Keys {
			resp.Values[string(key)] = nil
		}
	}
	started, observed := startLine == nil, 0

	delims := [][]byte{CRLF}
	deadline := time.Now().Add(timeout)
	for !resp.Complete && time.Now().Before(deadline) {
		lineDeadline := time.Now().Add(lineTimeout)
		if lineDeadline.After(deadline) {
			lineDeadline = deadline
		}
		line, err := c.readUntil(delims, 0, lineDeadline)
		if err != nil {
			return resp, err
		}
		if !bytes.HasSuffix(line, CRLF) {
			if len(line) > 0 {
				glog.V(2).Infof("comm %q: incomplete line %q", req.Command, line)
			}
			continue
		}
		glog.V(3).Infof("comm %q: read %q", req.Command, line)

		if startLine != nil && !started {
			if bytes.Contains(line, startLine) {
				resp.Data = append(resp.Data, startLine...)
				started = true
			}
			continue
		}
		resp.Data = append(resp.Data, line...)
		if endLine != nil && bytes.Contains(line, endLine) {
			resp.Complete = true
			break
		}
		for _, key := range req.Keys {
			if resp.Values[string(key)] != nil {
				continue
			}
			if pos := bytes.Index(line, key); pos >= 0 {
				val := line[pos+len(key) : len(line)-len(CRLF)]
				resp.Values[string(key)] = append([]byte{}, val...)
				observed++
			}
		}
		// with an end line, keys never complete the response so the end
		// line is consumed.
		if endLine == nil && len(req.Keys) > 0 && observed == len(req.Keys) {
			resp.Complete = true
		}
	}
	return resp, nil
}
