package widget

import (
	"bytes"
	"fmt"
)

// EndByte is the value every end marker byte has.
const EndByte = 0xff

// Schema describes a binary data frame. It must not be modified after
// NewSchema returns and can be shared by concurrent decoders.
type Schema struct {
	DataBytes int
	EndBytes  int
	Widgets   []Spec

	endMarker []byte
	index     map[string]int
}

// NewSchema creates a Schema.
func NewSchema(dataBytes, endBytes int, widgets ...Spec) (*Schema, error) {
	if dataBytes <= 0 {
		return nil, fmt.Errorf("invalid data bytes %d", dataBytes)
	}
	if endBytes <= 0 {
		return nil, fmt.Errorf("invalid end bytes %d", endBytes)
	}
	s := &Schema{
		DataBytes: dataBytes,
		EndBytes:  endBytes,
		Widgets:   widgets,
		endMarker: bytes.Repeat([]byte{EndByte}, endBytes),
		index:     make(map[string]int),
	}
	for n, w := range widgets {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		if _, exist := s.index[w.Name]; exist {
			return nil, fmt.Errorf("duplicated widget %q", w.Name)
		}
		s.index[w.Name] = n
	}
	return s, nil
}

// MustSchema is NewSchema which panics on error.
func MustSchema(dataBytes, endBytes int, widgets ...Spec) *Schema {
	s, err := NewSchema(dataBytes, endBytes, widgets...)
	if err != nil {
		panic(err)
	}
	return s
}

// EndMarker returns the bytes terminating a data frame.
func (s *Schema) EndMarker() []byte {
	return s.endMarker
}

// FrameLen is the length of a data frame including the end marker.
func (s *Schema) FrameLen() int {
	return s.DataBytes + s.EndBytes
}

// Lookup finds a widget by name.
func (s *Schema) Lookup(name string) (Spec, bool) {
	if n, ok := s.index[name]; ok {
		return s.Widgets[n], true
	}
	return Spec{}, false
}

// Decode decodes the payload of a data frame, see Decode.
func (s *Schema) Decode(raw []byte) (Frame, error) {
	return Decode(s, raw)
}
