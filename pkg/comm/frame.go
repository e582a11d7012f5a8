package comm

import (
	"bytes"

	"github.com/robotalks/etee.go/pkg/widget"
)

// CRLF terminates text lines.
var CRLF = []byte("\r\n")

// FrameKind is the classification of a read.
type FrameKind int

// Frame kinds.
const (
	// Other is a partial read, or a timeout if no data was read.
	Other FrameKind = iota
	// Binary is a complete data frame.
	Binary
	// Text is a CRLF terminated line.
	Text
)

func (k FrameKind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Text:
		return "text"
	}
	return "other"
}

// RawFrame is the result of one read.
type RawFrame struct {
	Kind FrameKind
	// Data is the payload without end marker for Binary frames, the line
	// including CRLF for Text frames and whatever was read for Other, nil
	// on timeout.
	Data []byte
}

// IsTimeout reports whether nothing was read.
func (f RawFrame) IsTimeout() bool {
	return f.Kind == Other && len(f.Data) == 0
}

// Delimiters returns the terminators of both data frames and text lines.
func Delimiters(schema *widget.Schema) [][]byte {
	return [][]byte{schema.EndMarker(), CRLF}
}

// Classify determines what a read is. A data frame requires both the end
// marker and the exact frame length, and is checked before text lines.
func Classify(data []byte, schema *widget.Schema) RawFrame {
	if len(data) == schema.FrameLen() && bytes.HasSuffix(data, schema.EndMarker()) {
		return RawFrame{Kind: Binary, Data: data[:schema.DataBytes]}
	}
	if bytes.HasSuffix(data, CRLF) {
		return RawFrame{Kind: Text, Data: data}
	}
	if len(data) == 0 {
		return RawFrame{Kind: Other}
	}
	return RawFrame{Kind: Other, Data: data}
}
