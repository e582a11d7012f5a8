// Package widget decodes the fixed-length binary data frames of the
// controller into named fields.
//
// A Schema describes the frame: the payload length, the length of the 0xFF
// end marker and an ordered list of widgets. Each widget (Spec) declares
// where its value lives in the payload and how it is encoded.
package widget

import (
	"fmt"
)

// Kind is the layout of a widget.
type Kind int

// Widget layouts.
const (
	// Byte reads one byte.
	Byte Kind = iota
	// ByteBit reads one bit of one byte, bit 0 is the least significant.
	ByteBit
	// Bytes reads a vector of bytes, one value per offset.
	Bytes
	// Combined reads a list of bytes as one little-endian integer.
	Combined
	// Bits reads bits addressed across the whole frame, most significant
	// bit first in list order.
	Bits
)

func (k Kind) String() string {
	switch k {
	case Byte:
		return "byte"
	case ByteBit:
		return "byte-bit"
	case Bytes:
		return "bytes"
	case Combined:
		return "combined"
	case Bits:
		return "bits"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Spec defines a single widget.
type Spec struct {
	Name   string
	Kind   Kind
	Signed bool
	// Offset is the byte offset of Byte and ByteBit widgets.
	Offset int
	// Bit is the in-byte bit index of ByteBit widgets.
	Bit int
	// Offsets are byte offsets (Bytes, Combined) or frame bit offsets (Bits).
	Offsets []int
}

// ByteField defines a single byte widget.
func ByteField(name string, offset int, signed bool) Spec {
	return Spec{Name: name, Kind: Byte, Offset: offset, Signed: signed}
}

// BitField defines a single bit widget.
func BitField(name string, offset, bit int) Spec {
	return Spec{Name: name, Kind: ByteBit, Offset: offset, Bit: bit}
}

// BytesField defines a vector widget with one value per byte.
func BytesField(name string, signed bool, offsets ...int) Spec {
	return Spec{Name: name, Kind: Bytes, Offsets: offsets, Signed: signed}
}

// CombinedField defines a multi-byte little-endian widget.
func CombinedField(name string, signed bool, offsets ...int) Spec {
	return Spec{Name: name, Kind: Combined, Offsets: offsets, Signed: signed}
}

// BitsField defines a bit-packed widget.
func BitsField(name string, bitOffsets ...int) Spec {
	return Spec{Name: name, Kind: Bits, Offsets: bitOffsets}
}

// Validate checks the parts of a widget which don't depend on the frame.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("widget without name")
	}
	switch s.Kind {
	case Byte, ByteBit:
	case Bytes:
		if len(s.Offsets) == 0 {
			return fmt.Errorf("widget %q: no byte offsets", s.Name)
		}
	case Combined:
		if n := len(s.Offsets); n == 0 || n > 8 {
			return fmt.Errorf("widget %q: %d bytes can't be combined into 64 bits", s.Name, n)
		}
	case Bits:
		if n := len(s.Offsets); n == 0 || n > 64 {
			return fmt.Errorf("widget %q: %d bits can't be packed into 64 bits", s.Name, n)
		}
	default:
		return fmt.Errorf("widget %q: unknown kind %v", s.Name, s.Kind)
	}
	return nil
}

// Value is the decoded value of a widget.
type Value struct {
	// Int is the scalar value, 0 or 1 for single bit widgets.
	Int int64
	// Ints holds the per-byte values of vector widgets.
	Ints []int64
}

// IsVector reports whether the value comes from a Bytes widget.
func (v Value) IsVector() bool {
	return v.Ints != nil
}

// Bool returns the value as a flag.
func (v Value) Bool() bool {
	return v.Int != 0
}

// Interface returns Int or Ints, whichever applies.
func (v Value) Interface() interface{} {
	if v.Ints != nil {
		return v.Ints
	}
	return v.Int
}

func (v Value) String() string {
	if v.Ints != nil {
		return fmt.Sprint(v.Ints)
	}
	return fmt.Sprint(v.Int)
}

// Frame maps widget names to decoded values.
type Frame map[string]Value

// Int returns the scalar value of a widget.
func (f Frame) Int(name string) (int64, bool) {
	v, ok := f[name]
	if !ok || v.IsVector() {
		return 0, false
	}
	return v.Int, true
}

// Ints returns the scalar values of a list of widgets, ok is false if any is
// missing.
func (f Frame) Ints(names ...string) ([]int64, bool) {
	vals := make([]int64, len(names))
	for n, name := range names {
		v, ok := f.Int(name)
		if !ok {
			return nil, false
		}
		vals[n] = v
	}
	return vals, true
}

// Map converts the frame to plain values, e.g. for serialization.
func (f Frame) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(f))
	for name, v := range f {
		m[name] = v.Interface()
	}
	return m
}
